// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import (
	"errors"
	"os"
	"strings"
)

// ErrNotConfigured is returned by Resolve when no source provides a connection string.
var ErrNotConfigured = errors.New("no database connection configured")

// Source tells where a connection string came from.
type Source string

const (
	SourceFlag     Source = "--dsn flag"
	SourceParts    Source = "connection flags"
	SourceEnv      Source = "PSQLM_DSN"
	SourceDBURL    Source = "DATABASE_URL"
	SourceKeychain Source = "keychain"
)

// Sources are the places a connection string is looked up, in order.
type Sources struct {
	Flag  string
	Parts Parts
	// Getenv defaults to os.Getenv.
	Getenv func(string) string
	// Saved loads the connection string stored by `psqlm connect`. May be nil.
	Saved func() (string, error)
}

// Resolve picks the first configured connection string: --dsn, psql-style
// flags, PSQLM_DSN, DATABASE_URL, then the keychain. The result is parsed
// and normalized.
func Resolve(s Sources) (string, Source, error) {
	getenv := s.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	raw, src := "", Source("")
	switch {
	case strings.TrimSpace(s.Flag) != "":
		raw, src = s.Flag, SourceFlag
	case !s.Parts.Empty():
		raw, src = FromParts(s.Parts), SourceParts
	case strings.TrimSpace(getenv("PSQLM_DSN")) != "":
		raw, src = getenv("PSQLM_DSN"), SourceEnv
	case strings.TrimSpace(getenv("DATABASE_URL")) != "":
		raw, src = getenv("DATABASE_URL"), SourceDBURL
	case s.Saved != nil:
		saved, err := s.Saved()
		if err != nil || strings.TrimSpace(saved) == "" {
			return "", "", ErrNotConfigured
		}
		raw, src = saved, SourceKeychain
	default:
		return "", "", ErrNotConfigured
	}

	normalized, err := Parse(raw)
	if err != nil {
		return "", src, err
	}
	return normalized, src, nil
}
