// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package logging

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"

	perrors "psqlm/cli/internal/errors"
)

// PresentError formats an error for user display with masking.
func PresentError(context string, err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	if db := DatabaseMessage(err); db != "" {
		msg = db
	}
	if context == "" {
		return Mask(msg)
	}
	return fmt.Sprintf("%s: %s", context, Mask(msg))
}

// DatabaseMessage renders a PostgreSQL error the way psql prints it, with
// detail and hint lines. It is empty when err carries no server error.
func DatabaseMessage(err error) string {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s (SQLSTATE %s)", severity(pgErr), pgErr.Message, pgErr.Code)
	if pgErr.Detail != "" {
		fmt.Fprintf(&b, "\nDETAIL: %s", pgErr.Detail)
	}
	if pgErr.Hint != "" {
		fmt.Fprintf(&b, "\nHINT: %s", pgErr.Hint)
	}
	if pgErr.Where != "" {
		fmt.Fprintf(&b, "\nCONTEXT: %s", pgErr.Where)
	}
	return b.String()
}

func severity(e *pgconn.PgError) string {
	if e.SeverityUnlocalized != "" {
		return e.SeverityUnlocalized
	}
	if e.Severity != "" {
		return e.Severity
	}
	return "ERROR"
}

// CauseText is the innermost explanation of err, suitable for feeding back to
// the model when asking for a fix.
func CauseText(err error) string {
	if err == nil {
		return ""
	}
	if db := DatabaseMessage(err); db != "" {
		return db
	}
	if errors.Is(err, context.Canceled) {
		return "the statement was cancelled"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "the statement timed out"
	}
	var e *perrors.E
	if errors.As(err, &e) {
		if e.Err != nil {
			return Mask(e.Err.Error())
		}
		return e.Message
	}
	return Mask(err.Error())
}

// Headline is a one-line description of a typed error.
func Headline(err error) string {
	kind, ok := perrors.KindOf(err)
	if !ok {
		return "Error"
	}
	switch kind {
	case perrors.TranslationError:
		return "Could not generate SQL"
	case perrors.ClassificationError:
		return "Could not understand the generated SQL"
	case perrors.ExecutionError:
		return "The database rejected the statement"
	case perrors.ConnectionLost:
		return "Connection lost"
	}
	return "Error"
}
