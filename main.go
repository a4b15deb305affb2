package main

import "github.com/nextlevelbuilder/automator/cmd"

func main() {
	cmd.Execute()
}
