// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package translate turns natural-language questions into PostgreSQL using a
// language model, with the database schema and recent conversation as context.
package translate

import (
	"context"
	"strings"
)

// Turn is one completed question/SQL exchange kept as conversation context.
// Result is a short text rendering of what the statement returned, if anything.
type Turn struct {
	Question string
	SQL      string
	Result   string
}

// Request asks for SQL answering Question.
type Request struct {
	Question string
	// Schema is the schema snapshot rendered for the prompt.
	Schema  string
	History []Turn
	// OnToken, when set, receives the response text as it streams in.
	OnToken func(string)
}

// FixRequest asks for a corrected version of SQL that failed with Error.
type FixRequest struct {
	Question string
	SQL      string
	Error    string
	Schema   string
	OnToken  func(string)
}

// Result is the SQL produced by the model.
type Result struct {
	SQL          string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Translator produces candidate SQL. Implementations never execute anything.
type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
	Fix(ctx context.Context, req FixRequest) (Result, error)
}

// History keeps the most recent turns, evicting the oldest beyond its limit.
type History struct {
	limit int
	turns []Turn
}

// NewHistory creates a History holding at most limit turns.
func NewHistory(limit int) *History {
	if limit < 0 {
		limit = 0
	}
	return &History{limit: limit}
}

// Add appends t.
func (h *History) Add(t Turn) {
	if h.limit == 0 {
		return
	}
	h.turns = append(h.turns, t)
	if over := len(h.turns) - h.limit; over > 0 {
		h.turns = append([]Turn(nil), h.turns[over:]...)
	}
}

// Turns returns a copy of the retained turns, oldest first.
func (h *History) Turns() []Turn {
	return append([]Turn(nil), h.turns...)
}

func (h *History) Len() int { return len(h.turns) }

func (h *History) Clear() { h.turns = nil }

// stripMarkdownSQL removes a surrounding ``` or ```sql fence.
func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```postgresql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
