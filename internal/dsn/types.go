// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package dsn parses, builds and resolves PostgreSQL connection strings.
// Both URL (postgres://...) and keyword/value (host=... dbname=...) forms
// are accepted, as are psql-style connection flags.
package dsn

import "fmt"

// Format is the syntax a connection string was written in.
type Format string

const (
	FormatURL      Format = "url"
	FormatKeyValue Format = "keyvalue"
)

// Info is a parsed connection string.
type Info struct {
	Format   Format
	Host     string
	Port     string
	User     string
	Password string
	Database string
	Params   map[string]string
	Original string
}

// Target describes the connection without credentials, e.g. "ada@db:5432/shop".
func (i *Info) Target() string {
	s := i.Host
	if i.Port != "" {
		s += ":" + i.Port
	}
	if i.Database != "" {
		s += "/" + i.Database
	}
	if i.User != "" {
		s = i.User + "@" + s
	}
	return s
}

// ParseError explains why a connection string was rejected.
type ParseError struct {
	DSN    string
	Reason string
	Hint   string
}

func (e *ParseError) Error() string {
	if e.Hint != "" {
		return fmt.Sprintf("invalid connection string: %s\nHint: %s", e.Reason, e.Hint)
	}
	return fmt.Sprintf("invalid connection string: %s", e.Reason)
}

func parseError(dsn, reason, hint string) *ParseError {
	return &ParseError{DSN: dsn, Reason: reason, Hint: hint}
}
