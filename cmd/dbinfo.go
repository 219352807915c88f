// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"psqlm/cli/internal/dsn"
	"psqlm/cli/internal/logging"
	"psqlm/cli/internal/sqlexec"
)

var dbinfoCheck bool

// dbinfoCmd shows which database psqlm would connect to, with the password masked.
var dbinfoCmd = &cobra.Command{
	Use:   "dbinfo [dbname [username]]",
	Short: "Show the database connection psqlm would use",
	Long: `The dbinfo command shows the connection string psqlm resolves from the flags,
the environment or the keychain, with the password masked, and where it came
from. With --check it also connects and reports the server version.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		_, log, err := settings()
		if err != nil {
			return err
		}
		conn, err := resolveConnection(args)
		if err != nil {
			return err
		}

		lines := []string{
			dsn.Mask(conn.dsn),
			"",
			fmt.Sprintf("Target: %s", conn.target),
			fmt.Sprintf("Source: %s", conn.source),
		}

		if dbinfoCheck {
			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()
			stop := startSpinner("Connecting")
			version, err := serverVersion(ctx, conn.dsn, sqlexec.Options{ApplicationName: "psqlm", Logger: log})
			stop()
			if err != nil {
				lines = append(lines, "Status: "+pterm.Red(logging.PresentError("unreachable", err)))
			} else {
				lines = append(lines, "Status: "+pterm.Green("reachable"), "Server: PostgreSQL "+version)
			}
		}

		pterm.DefaultBox.
			WithTitle(pterm.NewStyle(pterm.FgCyan, pterm.Bold).Sprint("Database Connection")).
			WithPadding(1).
			Println(strings.Join(lines, "\n"))
		pterm.Println()
		pterm.Println("To change the saved connection, run: psqlm connect")
		return nil
	},
}

func serverVersion(ctx context.Context, conn string, opts sqlexec.Options) (string, error) {
	drv, err := sqlexec.Connect(ctx, conn, opts)
	if err != nil {
		return "", err
	}
	defer drv.Close(context.WithoutCancel(ctx))
	res, err := drv.Query(ctx, "SHOW server_version")
	if err != nil {
		return "", err
	}
	rows := res.StringRows()
	if len(rows) == 0 || len(rows[0]) == 0 {
		return "unknown", nil
	}
	return rows[0][0], nil
}

func init() {
	rootCmd.AddCommand(dbinfoCmd)
	dbinfoCmd.Flags().BoolVar(&dbinfoCheck, "check", false, "connect and report the server version")
}
