// Package errors defines the typed error taxonomy of the shell.
// Every failure that reaches the read loop carries one of four kinds so the
// controller can decide whether the session is still usable and the presenter
// can show the generated SQL next to the cause.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Kind is a machine-readable error category.
type Kind string

const (
	// TranslationError indicates the model call failed or returned nothing usable.
	TranslationError Kind = "translation_error"
	// ClassificationError indicates the generated text could not be lexed or classified.
	ClassificationError Kind = "classification_error"
	// ExecutionError indicates the database rejected a statement, a commit or a timeout fired.
	ExecutionError Kind = "execution_error"
	// ConnectionLost indicates the database connection is gone; the session must be replaced.
	ConnectionLost Kind = "connection_lost"
)

// E wraps an error with kind, human-friendly message and the SQL it concerns.
type E struct {
	Kind    Kind
	Message string
	SQL     string
	Err     error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *E) Unwrap() error { return e.Err }

func Wrap(kind Kind, msg string, err error) *E { return &E{Kind: kind, Message: msg, Err: err} }
func New(kind Kind, msg string) *E             { return &E{Kind: kind, Message: msg} }

// WithSQL returns a copy of e that carries the statement text.
func (e *E) WithSQL(sql string) *E {
	c := *e
	c.SQL = sql
	return &c
}

// KindOf reports the kind of the first *E in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *E
	if stderrors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// SQLOf returns the statement text attached to err, if any.
func SQLOf(err error) string {
	var e *E
	if stderrors.As(err, &e) {
		return e.SQL
	}
	return ""
}
