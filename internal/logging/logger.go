// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// ParseLevel maps a config level name to a slog level. Unknown names yield warn.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}

// New returns the CLI logger writing colored records to stderr.
// Verbose forces debug level regardless of the configured one.
func New(level string, verbose bool) *slog.Logger {
	lvl := ParseLevel(level)
	if verbose {
		lvl = slog.LevelDebug
	}
	return NewWithWriter(os.Stderr, lvl)
}

// NewWithWriter builds the tint-backed logger on an arbitrary writer.
// String attributes are masked so DSNs and keys never reach the terminal.
func NewWithWriter(w io.Writer, lvl slog.Level) *slog.Logger {
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      lvl,
		TimeFormat: time.TimeOnly,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Value.Kind() == slog.KindString {
				s := a.Value.String()
				if s == "" && a.Key != slog.MessageKey {
					return slog.Attr{}
				}
				a.Value = slog.StringValue(Mask(s))
			}
			return a
		},
	}))
}

// Discard returns a logger that drops everything; used by tests and library defaults.
func Discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
