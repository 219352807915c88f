// Package config loads and stores CLI configuration in the XDG config dir.
// Only non-secret settings are kept here; secrets go to OS keychain.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"psqlm/cli/internal/xdg"
)

// ExecutionMode decides what happens after SQL has been generated.
type ExecutionMode string

const (
	// ModeAuto runs generated SQL immediately (writes still go through preview).
	ModeAuto ExecutionMode = "auto"
	// ModeConfirm asks before running generated SQL.
	ModeConfirm ExecutionMode = "confirm"
	// ModeShow only displays generated SQL.
	ModeShow ExecutionMode = "show"
)

// ParseExecutionMode accepts a mode name case-insensitively.
func ParseExecutionMode(s string) (ExecutionMode, error) {
	switch m := ExecutionMode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeAuto, ModeConfirm, ModeShow:
		return m, nil
	default:
		return "", fmt.Errorf("unknown execution mode %q (want auto, confirm or show)", s)
	}
}

// OutputFormat selects how result sets are rendered.
type OutputFormat string

const (
	FormatTable OutputFormat = "table"
	FormatPlain OutputFormat = "plain"
	FormatJSON  OutputFormat = "json"
)

// ParseOutputFormat accepts a format name case-insensitively.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch f := OutputFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatPlain, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, plain or json)", s)
	}
}

// Config holds non-sensitive CLI settings.
type Config struct {
	LogLevel        string        `json:"log_level"`
	ExecutionMode   ExecutionMode `json:"execution_mode"`
	OutputFormat    OutputFormat  `json:"output_format"`
	Model           string        `json:"model"`
	MaxTokens       int64         `json:"max_tokens"`
	HistoryTurns    int           `json:"history_turns"`
	PreviewRowLimit int           `json:"preview_row_limit"`
	// StatementTimeout is a Go duration string passed to PostgreSQL as
	// statement_timeout. Empty keeps the server default.
	StatementTimeout string `json:"statement_timeout,omitempty"`
}

// Default returns the settings used when no config file exists.
func Default() Config {
	return Config{
		LogLevel:        "warn",
		ExecutionMode:   ModeConfirm,
		OutputFormat:    FormatTable,
		Model:           "claude-sonnet-4-5-20250929",
		MaxTokens:       1024,
		HistoryTurns:    10,
		PreviewRowLimit: 50,
	}
}

// Timeout parses StatementTimeout; zero means unset.
func (c Config) Timeout() (time.Duration, error) {
	if strings.TrimSpace(c.StatementTimeout) == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.StatementTimeout)
	if err != nil {
		return 0, fmt.Errorf("invalid statement_timeout %q: %w", c.StatementTimeout, err)
	}
	return d, nil
}

// path returns the path to the config file.
func path() (string, error) {
	dir, err := xdg.ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads configuration; missing file returns defaults.
// Fields absent from the file keep their default values.
func Load() (Config, error) {
	c := Default()
	p, err := path()
	if err != nil {
		return c, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return c, nil
		}
		return c, err
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("parse %s: %w", p, err)
	}
	if _, err := ParseExecutionMode(string(c.ExecutionMode)); err != nil {
		return c, err
	}
	if _, err := ParseOutputFormat(string(c.OutputFormat)); err != nil {
		return c, err
	}
	return c, nil
}

// Save writes configuration with 0600 permissions.
func Save(c Config) error {
	p, err := path()
	if err != nil {
		return err
	}
	b, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(p, b, 0o600)
}
