// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"psqlm/cli/internal/logging"
	"psqlm/cli/internal/render"
	"psqlm/cli/internal/sqlexec"
)

var schemaTable string

// schemaCmd prints the schema snapshot psqlm gives the model as context.
var schemaCmd = &cobra.Command{
	Use:   "schema [dbname [username]]",
	Short: "Show the database schema psqlm works with",
	Long: `The schema command loads the same schema snapshot the shell sends to the model
and prints it. With --table it shows one table's columns, keys and indexes.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, err := settings()
		if err != nil {
			return err
		}
		conn, err := resolveConnection(args)
		if err != nil {
			return err
		}
		opts, err := conn.options(cfg, log)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		stop := startSpinner("Loading schema from " + conn.target)
		drv, err := sqlexec.Connect(ctx, conn.dsn, opts)
		if err != nil {
			stop()
			pterm.Error.Println(logging.PresentError("could not connect to "+conn.target, err))
			return errReported
		}
		defer drv.Close(context.WithoutCancel(ctx))
		snap, err := sqlexec.NewSchemaInspector(log).Snapshot(ctx, drv)
		stop()
		if err != nil {
			pterm.Error.Println(logging.PresentError("could not load the schema", err))
			return errReported
		}

		r := render.New(os.Stdout, cfg.OutputFormat, cfg.PreviewRowLimit)
		if schemaTable == "" {
			r.Schema(snap)
			return nil
		}
		t, ok := snap.Table(schemaTable)
		if !ok {
			return fmt.Errorf("table %q not found", schemaTable)
		}
		r.TableDetail(t)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(schemaCmd)
	schemaCmd.Flags().StringVarP(&schemaTable, "table", "t", "", "show a single table")
	schemaCmd.Flags().StringVar(&flagFormat, "format", "", "output format: table, plain or json")
}
