// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package cmd provides the command-line interface for psqlm. The root command
// is the interactive shell; subcommands manage the saved connection, the API
// key and inspect the database. Flags follow psql where they overlap.
package cmd

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"psqlm/cli/internal/auth"
	"psqlm/cli/internal/config"
	"psqlm/cli/internal/logging"
	"psqlm/cli/internal/render"
	"psqlm/cli/internal/repl"
	"psqlm/cli/internal/session"
	"psqlm/cli/internal/terminal"
	"psqlm/cli/internal/translate"
	"psqlm/cli/internal/xdg"
)

// errReported marks an error that was already shown to the user.
var errReported = errors.New("reported")

var (
	flagMode    string
	flagFormat  string
	flagCommand string
	flagModel   string
	flagStream  bool
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "psqlm [flags] [dbname [username]]",
	Short: "Ask PostgreSQL questions in plain language",
	Long: `psqlm is an interactive PostgreSQL shell that turns questions into SQL.

Read-only statements run directly. Anything that may change data or schema is
first executed inside a transaction, the effect is shown, and nothing is
committed until you choose Commit.

The connection is taken from --dsn, the psql-style flags (-h -p -U -d),
PSQLM_DSN, DATABASE_URL or the connection saved with 'psqlm connect'.
The Anthropic API key is taken from ANTHROPIC_API_KEY or the key saved with
'psqlm login'.`,
	Args:          cobra.MaximumNArgs(2),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runShell,
}

// Execute runs the CLI and exits with status 1 on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			pterm.Error.Println(logging.Mask(err.Error()))
		}
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(loadDotEnv)

	pf := rootCmd.PersistentFlags()
	pf.Bool("help", false, "show help")
	pf.BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging to stderr")
	addConnFlags(pf)

	f := rootCmd.Flags()
	f.StringVar(&flagMode, "mode", "", "execution mode: auto, confirm or show (default from config)")
	f.StringVar(&flagFormat, "format", "", "output format: table, plain or json (default from config)")
	f.StringVarP(&flagCommand, "command", "c", "", "handle one question or SQL statement, then exit")
	f.StringVar(&flagModel, "model", "", "Anthropic model (default from config)")
	f.BoolVar(&flagStream, "stream", false, "print generated SQL as it arrives")
}

func loadDotEnv() {
	// a missing .env is normal
	_ = godotenv.Load()
}

// settings merges the config file with command-line overrides.
func settings() (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	log := logging.New(cfg.LogLevel, flagVerbose)
	if err != nil {
		log.Warn("using default settings", "err", err)
	}
	if flagMode != "" {
		if cfg.ExecutionMode, err = config.ParseExecutionMode(flagMode); err != nil {
			return cfg, log, err
		}
	}
	if flagFormat != "" {
		if cfg.OutputFormat, err = config.ParseOutputFormat(flagFormat); err != nil {
			return cfg, log, err
		}
	}
	if flagModel != "" {
		cfg.Model = flagModel
	}
	return cfg, log, nil
}

func runShell(cmd *cobra.Command, args []string) error {
	cfg, log, err := settings()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
	defer stop()

	conn, err := resolveConnection(args)
	if err != nil {
		return err
	}
	connOpts, err := conn.options(cfg, log)
	if err != nil {
		return err
	}

	stopSpin := startSpinner("Connecting to " + conn.target)
	sess, err := session.Open(ctx, conn.dsn, connOpts, session.Options{Logger: log})
	stopSpin()
	if err != nil {
		pterm.Error.Println(logging.PresentError("could not connect to "+conn.target, err))
		return errReported
	}

	tr, err := newTranslator(cfg, log)
	if err != nil {
		_ = sess.Close(ctx)
		return err
	}

	r := render.New(os.Stdout, cfg.OutputFormat, cfg.PreviewRowLimit)
	opts := repl.Options{
		Mode:         cfg.ExecutionMode,
		HistoryTurns: cfg.HistoryTurns,
		Stream:       flagStream,
		Spinner:      startSpinner,
		Logger:       log,
		Reconnect: func(ctx context.Context) (repl.Session, error) {
			return session.Open(ctx, conn.dsn, connOpts, session.Options{Logger: log})
		},
	}

	if flagCommand != "" && !terminal.IsInteractive() {
		if opts.Mode == config.ModeConfirm {
			opts.Mode = config.ModeAuto
		}
		return finish(repl.New(sess, tr, repl.Unattended{}, r, opts).Exec(ctx, flagCommand))
	}

	history, err := xdg.HistoryFile()
	if err != nil {
		log.Warn("history disabled", "err", err)
		history = ""
	}
	con, err := repl.NewTerminal(history)
	if err != nil {
		_ = sess.Close(ctx)
		return err
	}
	defer con.Close()

	c := repl.New(sess, tr, con, r, opts)
	if flagCommand != "" {
		return finish(c.Exec(ctx, flagCommand))
	}

	pterm.Info.Printfln("Connected to %s (%d tables). Mode: %s. Type \\help for help.",
		conn.target, sess.Schema().Len(), cfg.ExecutionMode)
	return finish(c.Run(ctx))
}

func finish(err error) error {
	if errors.Is(err, repl.ErrSessionLost) {
		return errReported
	}
	return err
}

// newTranslator resolves the API key, prompting for it on a terminal.
func newTranslator(cfg config.Config, log *slog.Logger) (translate.Translator, error) {
	svc := auth.NewKeychainService()
	cred, err := svc.Resolve()
	if errors.Is(err, auth.ErrNoCredentials) && terminal.IsInteractive() {
		cred, err = promptForKey(svc)
	}
	if err != nil {
		if errors.Is(err, auth.ErrNoCredentials) {
			pterm.Warning.Println("No Anthropic API key found.")
			pterm.Println("   Set ANTHROPIC_API_KEY or run: psqlm login")
			return nil, errReported
		}
		return nil, err
	}
	log.Debug("api key resolved", "source", string(cred.Source), "key", cred.Hint())

	return translate.NewAnthropic(translate.AnthropicConfig{
		APIKey:    cred.Key,
		Model:     cfg.Model,
		MaxTokens: cfg.MaxTokens,
		Logger:    log,
	})
}
