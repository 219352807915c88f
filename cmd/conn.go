// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
	"golang.org/x/term"

	"psqlm/cli/internal/config"
	"psqlm/cli/internal/dsn"
	"psqlm/cli/internal/keychain"
	"psqlm/cli/internal/sqlexec"
	"psqlm/cli/internal/terminal"
)

var (
	flagDSN      string
	flagHost     string
	flagPort     string
	flagUser     string
	flagDBName   string
	flagPassword bool
)

func addConnFlags(fs *pflag.FlagSet) {
	fs.StringVar(&flagDSN, "dsn", "", "connection string (postgres:// URL or key=value)")
	fs.StringVarP(&flagHost, "host", "h", "", "database server host or socket directory")
	fs.StringVarP(&flagPort, "port", "p", "", "database server port")
	fs.StringVarP(&flagUser, "username", "U", "", "database user name")
	fs.StringVarP(&flagDBName, "dbname", "d", "", "database name to connect to")
	fs.BoolVarP(&flagPassword, "password", "W", false, "prompt for a password")
}

// connection is a resolved connection string and a printable description of it.
type connection struct {
	dsn    string
	target string
	source dsn.Source
}

// resolveConnection applies the lookup order of dsn.Resolve. Positional
// arguments are dbname and username, as with psql.
func resolveConnection(args []string) (connection, error) {
	parts := dsn.Parts{Host: flagHost, Port: flagPort, User: flagUser, Database: flagDBName}
	if len(args) > 0 && parts.Database == "" {
		parts.Database = args[0]
	}
	if len(args) > 1 && parts.User == "" {
		parts.User = args[1]
	}

	src := dsn.Sources{Flag: flagDSN, Parts: parts}
	if km, err := keychain.GetManager(); err == nil {
		src.Saved = km.LoadDBDSN
	}
	conn, from, err := dsn.Resolve(src)
	if err != nil {
		if errors.Is(err, dsn.ErrNotConfigured) {
			pterm.Warning.Println("No database connection configured.")
			pterm.Println("   Pass --dsn or -h/-d, set PSQLM_DSN or DATABASE_URL, or run: psqlm connect")
			return connection{}, errReported
		}
		return connection{}, err
	}

	if flagPassword {
		pw, err := promptPassword()
		if err != nil {
			return connection{}, err
		}
		if conn, err = dsn.WithPassword(conn, pw); err != nil {
			return connection{}, err
		}
	}

	c := connection{dsn: conn, source: from, target: "database"}
	if info, err := dsn.ParseInfo(conn); err == nil {
		c.target = info.Target()
	}
	return c, nil
}

func (c connection) options(cfg config.Config, log *slog.Logger) (sqlexec.Options, error) {
	timeout, err := cfg.Timeout()
	if err != nil {
		return sqlexec.Options{}, err
	}
	return sqlexec.Options{StatementTimeout: timeout, ApplicationName: "psqlm", Logger: log}, nil
}

func promptPassword() (string, error) {
	const prompt = "Password: "
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", errors.New("-W needs a terminal to read the password from")
	}
	fmt.Print(prompt)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Println()
	terminal.ClearPreviousLines(os.Stdout, len(prompt))
	if err != nil {
		return "", err
	}
	return string(b), nil
}
