// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package session owns the database connection of one shell session and the
// preview/commit protocol that runs on it.
//
// A Session is a small state machine:
//
//	Idle --BeginPreview--> PreviewOpen --Finalize/Abandon--> Idle
//	any  --connection failure--> Lost
//	any  --Close--> Closed
//
// At most one transaction is open at any time and no other statement runs on
// the connection while a preview awaits its decision. Every entry point is
// serialised by a mutex and checks the current state first.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"psqlm/cli/internal/classify"
	perrors "psqlm/cli/internal/errors"
	"psqlm/cli/internal/schema"
	"psqlm/cli/internal/sqlexec"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateIdle State = iota
	StatePreviewOpen
	StateLost
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreviewOpen:
		return "preview-open"
	case StateLost:
		return "lost"
	default:
		return "closed"
	}
}

var (
	// ErrNoPreview is returned by Finalize when no preview was ever opened.
	ErrNoPreview = errors.New("no preview to finalize")
	// ErrPreviewPending is returned when an operation needs the connection while a preview awaits its decision.
	ErrPreviewPending = errors.New("a preview is awaiting commit or discard")
	// ErrNotRead is returned when a non-read candidate is sent down the read path.
	ErrNotRead = errors.New("statement may modify data and must be previewed")
	// ErrNothingToPreview is returned when a read-only candidate is sent to BeginPreview.
	ErrNothingToPreview = errors.New("read-only statement does not need a preview")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session is closed")
)

// finishTimeout bounds COMMIT and ROLLBACK, which run even after the caller's
// context was cancelled.
const finishTimeout = 15 * time.Second

// Options configures a Session.
type Options struct {
	Logger    *slog.Logger
	Inspector *sqlexec.SchemaInspector
}

// Session is one database connection plus its preview state.
type Session struct {
	ID uuid.UUID

	drv       sqlexec.Driver
	inspector *sqlexec.SchemaInspector
	log       *slog.Logger

	mu      sync.Mutex
	state   State
	tx      sqlexec.Tx
	pending *PreviewResult
	last    *Outcome
	// reported is set once Finalize has returned last.
	reported bool
	schema   *schema.Snapshot
}

// New wraps an already connected driver. The session owns drv from now on.
func New(drv sqlexec.Driver, opts Options) *Session {
	id := uuid.New()
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("session", id.String()[:8])
	insp := opts.Inspector
	if insp == nil {
		insp = sqlexec.NewSchemaInspector(log)
	}
	return &Session{ID: id, drv: drv, inspector: insp, log: log}
}

// Open connects to dsn and takes the initial schema snapshot. A failed
// snapshot is logged and leaves the prompt context empty; a failed
// connection is returned.
func Open(ctx context.Context, dsn string, connOpts sqlexec.Options, opts Options) (*Session, error) {
	if connOpts.Logger == nil {
		connOpts.Logger = opts.Logger
	}
	drv, err := sqlexec.Connect(ctx, dsn, connOpts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	s := New(drv, opts)
	if _, err := s.RefreshSchema(ctx); err != nil {
		s.log.Warn("schema introspection failed", "err", err)
	}
	return s, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Schema returns the cached snapshot used as prompt context.
func (s *Session) Schema() *schema.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.schema
}

// Pending returns the preview awaiting a decision, if any.
func (s *Session) Pending() *PreviewResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// RefreshSchema re-introspects the database and replaces the cached snapshot.
func (s *Session) RefreshSchema(ctx context.Context) (*schema.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if s.state == StatePreviewOpen {
		return nil, ErrPreviewPending
	}
	snap, err := s.inspector.Snapshot(ctx, s.drv)
	if err != nil {
		if s.connectionFailed(err) {
			s.markLost()
			return nil, lostError(err)
		}
		return nil, err
	}
	s.schema = snap
	return snap, nil
}

// Query runs a read-only candidate directly, outside any transaction.
func (s *Session) Query(ctx context.Context, c *classify.Candidate) ([]*sqlexec.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil || c.Kind != classify.KindRead {
		return nil, ErrNotRead
	}
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if s.state == StatePreviewOpen {
		return nil, ErrPreviewPending
	}

	results := make([]*sqlexec.Result, 0, len(c.Statements))
	for _, st := range c.Statements {
		res, err := s.drv.Query(ctx, st.Text)
		if err != nil {
			if s.connectionFailed(err) {
				s.markLost()
				return nil, lostError(err).WithSQL(st.Text)
			}
			return nil, perrors.Wrap(perrors.ExecutionError, "query failed", err).WithSQL(st.Text)
		}
		results = append(results, res)
	}
	return results, nil
}

// Close abandons any pending preview and closes the connection.
func (s *Session) Close(ctx context.Context) error {
	abandonErr := s.Abandon(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return abandonErr
	}
	s.state = StateClosed
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	return errors.Join(abandonErr, s.drv.Close(closeCtx))
}

// checkAlive must be called with mu held.
func (s *Session) checkAlive() error {
	switch s.state {
	case StateClosed:
		return ErrClosed
	case StateLost:
		return lostError(nil)
	}
	if s.drv.IsClosed() {
		s.markLost()
		return lostError(nil)
	}
	return nil
}

// markLost moves to Lost. A pending preview is recorded as rolled back by the
// server, which is what PostgreSQL does with the transaction of a dead backend.
func (s *Session) markLost() {
	if s.pending != nil {
		s.setLast(Outcome{Kind: OutcomeRolledBackByServer, Decision: DecisionDiscard, PreviewID: s.pending.ID})
	}
	if s.state != StateLost {
		s.log.Warn("database connection lost", "state", s.state.String())
	}
	s.state = StateLost
	s.tx = nil
	s.pending = nil
}

func (s *Session) setLast(o Outcome) {
	s.last = &o
	s.reported = false
}

// replay returns the last outcome again without touching the database.
func (s *Session) replay() Outcome {
	o := *s.last
	o.Repeat = s.reported
	return o
}

func (s *Session) connectionFailed(err error) bool {
	return s.drv.IsClosed() || sqlexec.IsConnectionError(err)
}

func lostError(cause error) *perrors.E {
	msg := "connection to the database was lost; any pending preview was rolled back by the server"
	if cause == nil {
		return perrors.New(perrors.ConnectionLost, msg)
	}
	return perrors.Wrap(perrors.ConnectionLost, msg, cause)
}
