// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"psqlm/cli/internal/classify"
	perrors "psqlm/cli/internal/errors"
	"psqlm/cli/internal/schema"
	"psqlm/cli/internal/sqlexec"
)

// Decision is the user's verdict on a preview.
type Decision int

const (
	DecisionDiscard Decision = iota
	DecisionCommit
)

func (d Decision) String() string {
	if d == DecisionCommit {
		return "commit"
	}
	return "discard"
}

// OutcomeKind says what happened to a previewed transaction.
type OutcomeKind int

const (
	OutcomeCommitted OutcomeKind = iota
	OutcomeRolledBack
	// OutcomeRolledBackByServer means the connection died with the transaction open.
	OutcomeRolledBackByServer
	// OutcomeUnknown means the connection died while COMMIT was in flight.
	OutcomeUnknown
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeCommitted:
		return "committed"
	case OutcomeRolledBack:
		return "rolled back"
	case OutcomeRolledBackByServer:
		return "rolled back by server"
	default:
		return "unknown"
	}
}

// Outcome is the result of finalizing a preview. Repeat is set when an
// earlier Finalize call already returned this outcome.
type Outcome struct {
	Kind      OutcomeKind
	Decision  Decision
	PreviewID uuid.UUID
	Repeat    bool
}

// Effect is what one statement of a batch did inside the preview transaction.
type Effect struct {
	Statement classify.Statement
	// SQL is the text actually sent, which may carry an added RETURNING clause.
	SQL    string
	Result *sqlexec.Result
	// Captured reports that Result holds the rows the statement affected.
	Captured     bool
	RowsAffected int64
	Description  string
	// Cascaded lists tables a TRUNCATE ... CASCADE empties beyond the named ones.
	Cascaded []string
}

// HasOutput reports whether the statement returned a result set, affected
// rows or not: a read in a mixed batch, MERGE ... RETURNING, an unknown
// statement that produced rows.
func (e Effect) HasOutput() bool {
	return e.Result != nil && len(e.Result.Columns) > 0
}

// PreviewResult describes the effects of a candidate whose transaction is
// still open.
type PreviewResult struct {
	ID            uuid.UUID
	Candidate     *classify.Candidate
	Effects       []Effect
	SchemaDiff    string
	SchemaChanges []schema.Change
	Warnings      []string
	StartedAt     time.Time
}

// RowCount is the number of rows the writes of the batch affected.
func (p *PreviewResult) RowCount() int64 {
	var n int64
	for _, e := range p.Effects {
		if e.Statement.Kind != classify.KindRead {
			n += e.RowsAffected
		}
	}
	return n
}

// Rows returns the rows captured through RETURNING across the batch.
func (p *PreviewResult) Rows() []map[string]any {
	var rows []map[string]any
	for _, e := range p.Effects {
		if e.Captured {
			rows = append(rows, e.Result.Maps()...)
		}
	}
	return rows
}

// BeginPreview opens a transaction, runs the candidate inside it and leaves
// it open. A preview still awaiting a decision is rolled back first.
//
// On any statement failure the transaction is rolled back before the error
// is returned, so the session is Idle again (or Lost).
func (s *Session) BeginPreview(ctx context.Context, c *classify.Candidate) (*PreviewResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c == nil || !c.Kind.RequiresPreview() {
		return nil, ErrNothingToPreview
	}
	if err := s.checkAlive(); err != nil {
		return nil, err
	}
	if s.state == StatePreviewOpen {
		s.log.Info("discarding pending preview", "preview", s.pending.ID)
		if _, err := s.rollbackLocked(ctx); err != nil {
			return nil, err
		}
	}
	s.last = nil

	tx, err := s.drv.Begin(ctx)
	if err != nil {
		if s.connectionFailed(err) {
			s.markLost()
			return nil, lostError(err).WithSQL(c.SQL)
		}
		return nil, perrors.Wrap(perrors.ExecutionError, "could not open a transaction", err).WithSQL(c.SQL)
	}
	s.tx = tx
	s.state = StatePreviewOpen

	p := &PreviewResult{ID: uuid.New(), Candidate: c, StartedAt: time.Now()}
	s.log.Debug("preview started", "preview", p.ID, "statements", len(c.Statements), "kind", c.Kind.String())

	var before *schema.Snapshot
	for i, st := range c.Statements {
		if st.Class == classify.ClassDDL && before == nil {
			if before, err = s.inspector.Snapshot(ctx, tx); err != nil {
				return nil, s.abort(ctx, err, "could not inspect schema before DDL", st.Text)
			}
		}
		eff, err := s.run(ctx, tx, st)
		if err != nil {
			msg := "statement failed"
			if len(c.Statements) > 1 {
				msg = fmt.Sprintf("statement %d of %d failed", i+1, len(c.Statements))
			}
			return nil, s.abort(ctx, err, msg, st.Text)
		}
		p.Effects = append(p.Effects, eff)
		p.Warnings = append(p.Warnings, eff.Result.Notices...)
	}
	if before != nil {
		after, err := s.inspector.Snapshot(ctx, tx)
		if err != nil {
			return nil, s.abort(ctx, err, "could not inspect schema after DDL", c.SQL)
		}
		p.SchemaDiff = schema.Diff(before, after)
		p.SchemaChanges = schema.Changes(before, after)
	}

	s.pending = p
	s.log.Debug("preview ready", "preview", p.ID, "rows", p.RowCount())
	return p, nil
}

func (s *Session) run(ctx context.Context, tx sqlexec.Tx, st classify.Statement) (Effect, error) {
	eff := Effect{Statement: st, SQL: st.Text}

	if st.Class == classify.ClassTruncate {
		return s.truncate(ctx, tx, eff)
	}

	text, captured := sqlexec.PreviewSQL(st)
	res, err := tx.Query(ctx, text)
	if err != nil {
		return eff, err
	}
	eff.SQL = text
	eff.Result = res
	eff.Captured = captured
	eff.RowsAffected = res.RowsAffected
	eff.Description = res.Tag
	return eff, nil
}

// truncate counts the rows of every table the statement empties before
// running it. With CASCADE that includes the tables reached through foreign
// keys, resolved inside the transaction.
func (s *Session) truncate(ctx context.Context, tx sqlexec.Tx, eff Effect) (Effect, error) {
	st := eff.Statement
	tables := append([]string(nil), st.Tables...)
	if st.Cascade && len(st.Tables) > 0 {
		res, err := tx.Query(ctx, sqlexec.TruncateCascadeSQL, st.Tables)
		if err != nil {
			return eff, err
		}
		for _, row := range res.StringRows() {
			if len(row) > 0 {
				eff.Cascaded = append(eff.Cascaded, row[0])
			}
		}
		tables = append(tables, eff.Cascaded...)
	}

	var total int64
	for _, t := range tables {
		res, err := tx.Query(ctx, sqlexec.CountSQL(t))
		if err != nil {
			return eff, err
		}
		total += count(res)
	}
	res, err := tx.Query(ctx, st.Text)
	if err != nil {
		return eff, err
	}
	eff.Result = res
	eff.RowsAffected = total
	eff.Description = fmt.Sprintf("%d rows removed from %s", total, strings.Join(st.Tables, ", "))
	if len(eff.Cascaded) > 0 {
		eff.Description += fmt.Sprintf(" and, by CASCADE, from %s", strings.Join(eff.Cascaded, ", "))
	}
	return eff, nil
}

func count(res *sqlexec.Result) int64 {
	if res == nil || len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return 0
	}
	switch v := res.Rows[0][0].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case int:
		return int64(v)
	}
	return 0
}

// abort rolls back a failed preview and builds the error for the caller.
// Must be called with mu held and a transaction open.
func (s *Session) abort(ctx context.Context, cause error, msg, sql string) error {
	rbErr := s.finish(ctx, s.tx.Rollback)
	s.tx = nil
	if s.connectionFailed(cause) || (rbErr != nil && s.connectionFailed(rbErr)) {
		s.markLost()
		return lostError(cause).WithSQL(sql)
	}
	s.state = StateIdle
	if rbErr != nil {
		s.log.Warn("rollback after failed statement", "err", rbErr)
	}
	s.log.Debug("preview aborted", "err", cause)
	return perrors.Wrap(perrors.ExecutionError, msg, cause).WithSQL(sql)
}

// Finalize commits or discards the open preview. It is idempotent: once a
// preview is finalized (also by Abandon or a lost connection), further calls
// return the same outcome and never touch the database. Repeat marks an
// outcome an earlier Finalize already returned.
func (s *Session) Finalize(ctx context.Context, d Decision) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	defer func() {
		if s.last != nil {
			s.reported = true
		}
	}()

	switch s.state {
	case StateClosed:
		return Outcome{}, ErrClosed
	case StateLost:
		if s.last != nil {
			return s.replay(), lostError(nil)
		}
		return Outcome{}, lostError(nil)
	case StateIdle:
		if s.last == nil {
			return Outcome{}, ErrNoPreview
		}
		return s.replay(), nil
	}

	if s.drv.IsClosed() {
		s.markLost()
		return *s.last, lostError(nil)
	}
	if d == DecisionCommit {
		return s.commitLocked(ctx)
	}
	return s.rollbackLocked(ctx)
}

func (s *Session) commitLocked(ctx context.Context) (Outcome, error) {
	p := s.pending
	err := s.finish(ctx, s.tx.Commit)
	s.tx = nil
	s.pending = nil

	o := Outcome{Kind: OutcomeCommitted, Decision: DecisionCommit, PreviewID: p.ID}
	if err != nil {
		if s.connectionFailed(err) {
			s.markLost()
			o.Kind = OutcomeUnknown
			s.setLast(o)
			return o, perrors.Wrap(perrors.ConnectionLost,
				"connection lost during commit; the transaction was most likely rolled back, verify before retrying", err).WithSQL(p.Candidate.SQL)
		}
		s.state = StateIdle
		o.Kind = OutcomeRolledBack
		s.setLast(o)
		return o, perrors.Wrap(perrors.ExecutionError, "commit failed; the transaction was rolled back", err).WithSQL(p.Candidate.SQL)
	}

	s.state = StateIdle
	s.setLast(o)
	s.log.Info("preview committed", "preview", p.ID, "rows", p.RowCount())
	return o, nil
}

func (s *Session) rollbackLocked(ctx context.Context) (Outcome, error) {
	p := s.pending
	err := s.finish(ctx, s.tx.Rollback)
	s.tx = nil

	if err != nil && s.connectionFailed(err) {
		s.markLost()
		return *s.last, lostError(err)
	}
	s.pending = nil
	s.state = StateIdle
	o := Outcome{Kind: OutcomeRolledBack, Decision: DecisionDiscard, PreviewID: p.ID}
	s.setLast(o)
	if err != nil {
		return o, perrors.Wrap(perrors.ExecutionError, "rollback failed", err)
	}
	s.log.Debug("preview discarded", "preview", p.ID)
	return o, nil
}

// Abandon rolls back a pending preview, if any. It is what happens on a new
// question, on interrupt and on exit.
func (s *Session) Abandon(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StatePreviewOpen {
		return nil
	}
	if s.drv.IsClosed() {
		s.markLost()
		return lostError(nil)
	}
	_, err := s.rollbackLocked(ctx)
	return err
}

// finish runs COMMIT or ROLLBACK with a context the caller's interrupt
// cannot cancel.
func (s *Session) finish(ctx context.Context, fn func(context.Context) error) error {
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
	defer cancel()
	return fn(fctx)
}
