// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"psqlm/cli/internal/auth"
)

// loginCmd stores the Anthropic API key in the OS keychain.
var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Save your Anthropic API key in the OS keychain",
	Long: `The login command asks for an Anthropic API key and stores it in the OS
keychain. ANTHROPIC_API_KEY, when set, still takes precedence over the saved key.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := auth.NewKeychainService()
		if !svc.HasStore() {
			pterm.Error.Println("Secure storage is not available on this system.")
			pterm.Println("   Set ANTHROPIC_API_KEY instead.")
			return errReported
		}
		if cred, err := svc.Resolve(); err == nil && cred.Source == auth.SourceKeychain {
			pterm.Info.Printfln("A key is already saved (%s); it will be replaced.", cred.Hint())
		}

		key, err := auth.PromptAPIKey(os.Stdin, os.Stdout)
		if err != nil {
			return err
		}
		if err := svc.Save(key); err != nil {
			return err
		}
		pterm.Success.Printfln("API key saved (%s).", auth.Fingerprint(key))
		if os.Getenv(auth.EnvAPIKey) != "" {
			pterm.Warning.Printfln("%s is set and takes precedence over the saved key.", auth.EnvAPIKey)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(loginCmd)
}

// promptForKey asks for a key when none is configured and offers to save it.
func promptForKey(svc *auth.Service) (auth.Credential, error) {
	pterm.Info.Println("psqlm needs an Anthropic API key to turn questions into SQL.")
	key, err := auth.PromptAPIKey(os.Stdin, os.Stdout)
	if err != nil {
		return auth.Credential{}, err
	}
	if svc.HasStore() && auth.AskYesNo(os.Stdin, os.Stdout, "Save the key in the OS keychain?") {
		if err := svc.Save(key); err != nil {
			pterm.Warning.Printfln("Could not save the key: %v", err)
		} else {
			pterm.Success.Println("Key saved. Remove it with: psqlm logout")
		}
	}
	return auth.Credential{Key: key, Source: auth.SourcePrompt}, nil
}
