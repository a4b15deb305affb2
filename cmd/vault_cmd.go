package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func vaultCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vault",
		Short: "Inspect the credential vault",
	}
	cmd.AddCommand(vaultVerifyCmd())
	return cmd
}

func vaultVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Round-trip a probe value through the vault",
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			if !sv.vault.Verify() {
				fmt.Fprintln(os.Stderr, "Vault verification FAILED")
				os.Exit(1)
			}
			fmt.Println("Vault OK")
		},
	}
}
