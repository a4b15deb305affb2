// Package cmd holds the CLI surface: one constructor per subcommand.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automator",
		Short: "Local-first task automation engine",
		Long: "automator schedules and runs scripted tasks against a local SQLite store,\n" +
			"with encrypted credentials and a sandboxed JavaScript executor.",
		SilenceUsage: true,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(tasksCmd())
	cmd.AddCommand(credentialsCmd())
	cmd.AddCommand(vaultCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
		},
	}
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
