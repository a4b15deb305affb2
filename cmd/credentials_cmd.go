package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/automator/internal/store"
)

func credentialsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Manage encrypted credentials",
	}
	cmd.AddCommand(credentialsListCmd())
	cmd.AddCommand(credentialsSetCmd())
	cmd.AddCommand(credentialsRmCmd())
	return cmd
}

func credentialsListCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List credentials (metadata only, values never shown)",
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			credentials, err := sv.store.ListCredentials(context.Background())
			if err != nil {
				fatal(err)
			}

			if jsonOutput {
				out, _ := json.MarshalIndent(credentials, "", "  ")
				fmt.Println(string(out))
				return
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tTYPE\tHAS VALUE\tLAST USED")
			for _, c := range credentials {
				lastUsed := "-"
				if c.LastUsedAt != nil {
					lastUsed = c.LastUsedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%s\t%s\t%t\t%s\n", c.Name, c.Type, c.HasValue, lastUsed)
			}
			w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func credentialsSetCmd() *cobra.Command {
	var credType string
	var description string
	cmd := &cobra.Command{
		Use:   "set <NAME>",
		Short: "Create or update a credential; the value is prompted, never an argument",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			name := args[0]
			if !store.ValidCredentialName(name) {
				fatal(fmt.Errorf("invalid credential name %q: must match [A-Z0-9_]+", name))
			}

			value, err := promptSecret(fmt.Sprintf("Value for %s", name))
			if err != nil {
				fatal(err)
			}
			if value == "" {
				fatal(fmt.Errorf("empty value"))
			}

			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			blob, err := sv.vault.Encrypt([]byte(value))
			if err != nil {
				fatal(err)
			}

			ctx := context.Background()
			exists, err := sv.store.CredentialExists(ctx, name)
			if err != nil {
				fatal(err)
			}
			if exists {
				err = sv.store.UpdateCredentialValue(ctx, name, blob)
			} else {
				err = sv.store.CreateCredentialWithValue(ctx, &store.Credential{
					Name:        name,
					Type:        credType,
					Description: description,
				}, blob)
			}
			if err != nil {
				fatal(err)
			}
			fmt.Printf("Credential %s stored\n", name)
		},
	}
	cmd.Flags().StringVar(&credType, "type", store.CredentialSecret,
		"credential type (api_key, oauth_token, env_var, secret)")
	cmd.Flags().StringVar(&description, "description", "", "credential description")
	return cmd
}

func credentialsRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <NAME>",
		Short: "Delete a credential",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			sv, err := openServices()
			if err != nil {
				fatal(err)
			}
			defer sv.Close()

			ctx := context.Background()
			credential, err := sv.store.GetCredentialByName(ctx, args[0])
			if err != nil {
				fatal(err)
			}
			if err := sv.store.DeleteCredential(ctx, credential.ID); err != nil {
				fatal(err)
			}
			fmt.Printf("Credential %s deleted\n", args[0])
		},
	}
}

// promptSecret prompts for a hidden value using the huh TUI.
func promptSecret(title string) (string, error) {
	var value string
	input := huh.NewInput().
		Title(title).
		EchoMode(huh.EchoModePassword).
		Value(&value)
	if err := huh.NewForm(huh.NewGroup(input)).Run(); err != nil {
		return "", err
	}
	return value, nil
}
