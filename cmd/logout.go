// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"psqlm/cli/internal/auth"
	"psqlm/cli/internal/keychain"
)

var logoutAll bool

// logoutCmd removes saved secrets from the OS keychain.
var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Remove the saved API key (and with --all, the saved connection)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := auth.NewKeychainService().Logout(); err != nil {
			return err
		}
		if logoutAll {
			if km, err := keychain.GetManager(); err == nil {
				if err := km.ClearDB(); err != nil {
					return err
				}
			}
			pterm.Success.Println("The saved API key and connection have been removed.")
			return nil
		}
		pterm.Success.Println("The saved API key has been removed.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
	logoutCmd.Flags().BoolVar(&logoutAll, "all", false, "also remove the saved database connection")
}
