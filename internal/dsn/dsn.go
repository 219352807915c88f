// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package dsn

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

const keyValueHint = "use host=... port=... user=... dbname=... or a postgres:// URL"

// Parse validates dsn and returns it normalized. URLs are re-encoded so
// special characters in passwords survive; keyword/value strings are
// returned unchanged once pgx accepts them.
func Parse(dsn string) (string, error) {
	info, err := ParseInfo(dsn)
	if err != nil {
		return "", err
	}
	if info.Format == FormatURL {
		return formatURL(info), nil
	}
	return info.Original, nil
}

// ParseInfo parses dsn into its components. For keyword/value strings the
// components include libpq defaults and PG* environment variables.
func ParseInfo(dsn string) (*Info, error) {
	dsn = strings.TrimSpace(dsn)
	switch {
	case dsn == "":
		return nil, parseError(dsn, "empty connection string", "provide a postgres:// URL or host=... dbname=...")
	case strings.Contains(dsn, "://"):
		return parseURL(dsn)
	case strings.Contains(dsn, "="):
		return parseKeyValue(dsn)
	}
	return nil, parseError(dsn, "unrecognized connection string", keyValueHint)
}

func parseKeyValue(dsn string) (*Info, error) {
	cfg, err := pgconn.ParseConfig(dsn)
	if err != nil {
		return nil, parseError(dsn, err.Error(), keyValueHint)
	}
	info := &Info{
		Format:   FormatKeyValue,
		Host:     cfg.Host,
		Port:     strconv.Itoa(int(cfg.Port)),
		User:     cfg.User,
		Password: cfg.Password,
		Database: cfg.Database,
		Params:   make(map[string]string, len(cfg.RuntimeParams)),
		Original: dsn,
	}
	for k, v := range cfg.RuntimeParams {
		info.Params[k] = v
	}
	return info, nil
}

// Parts are psql-style connection flags (-h, -p, -U, -d) plus a password.
type Parts struct {
	Host     string
	Port     string
	User     string
	Database string
	Password string
}

// Empty reports whether no flag was given.
func (p Parts) Empty() bool {
	return p.Host == "" && p.Port == "" && p.User == "" && p.Database == ""
}

// FromParts builds a keyword/value connection string from the given parts.
// Parts left empty fall back to PG* environment variables and libpq
// defaults when the string is parsed, as they do for psql.
func FromParts(p Parts) string {
	var kv []string
	add := func(k, v string) {
		if v != "" {
			kv = append(kv, k+"="+quote(v))
		}
	}
	add("host", p.Host)
	add("port", p.Port)
	add("user", p.User)
	add("dbname", p.Database)
	add("password", p.Password)
	return strings.Join(kv, " ")
}

// WithPassword sets the password of dsn, keeping its format.
func WithPassword(dsn, password string) (string, error) {
	info, err := ParseInfo(dsn)
	if err != nil {
		return "", err
	}
	if info.Format == FormatURL {
		info.Password = password
		return formatURL(info), nil
	}
	return info.Original + " password=" + quote(password), nil
}

func quote(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

var reKVPassword = regexp.MustCompile(`(?i)(password\s*=\s*)('(?:[^'\\]|\\.)*'|\S+)`)

// Mask hides the password of dsn for display.
func Mask(dsn string) string {
	info, err := ParseInfo(dsn)
	if err != nil {
		return reKVPassword.ReplaceAllString(dsn, "${1}***")
	}
	if info.Format == FormatURL {
		if info.Password != "" {
			info.Password = "***"
		}
		return strings.Replace(formatURL(info), "%2A%2A%2A", "***", 1)
	}
	return reKVPassword.ReplaceAllString(info.Original, "${1}***")
}
