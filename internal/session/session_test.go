// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"psqlm/cli/internal/classify"
	perrors "psqlm/cli/internal/errors"
	"psqlm/cli/internal/sqlexec"
	"psqlm/cli/internal/sqlexec/sqlexectest"
)

func candidate(t *testing.T, sql string) *classify.Candidate {
	t.Helper()
	c, err := classify.Classify("question", sql)
	require.NoError(t, err)
	return c
}

func newSession(t *testing.T) (*Session, *sqlexectest.Driver) {
	t.Helper()
	drv := sqlexectest.New()
	return New(drv, Options{}), drv
}

func TestQueryRunsWithoutTransaction(t *testing.T) {
	s, drv := newSession(t)
	drv.On("SELECT", &sqlexec.Result{Columns: []string{"n"}, Rows: [][]any{{int64(1)}}}, nil)

	res, err := s.Query(context.Background(), candidate(t, "SELECT 1 AS n; SELECT 2;"))
	require.NoError(t, err)
	require.Len(t, res, 2)
	require.Equal(t, []string{"query: SELECT 1 AS n", "query: SELECT 2"}, drv.Calls())
	require.Zero(t, drv.MaxOpenTx())
}

func TestQueryRejectsWrites(t *testing.T) {
	s, drv := newSession(t)
	_, err := s.Query(context.Background(), candidate(t, "DELETE FROM t"))
	require.ErrorIs(t, err, ErrNotRead)
	require.Empty(t, drv.Calls())
}

func TestQueryExecutionError(t *testing.T) {
	s, drv := newSession(t)
	drv.On("SELECT", nil, errors.New(`relation "nope" does not exist`))

	_, err := s.Query(context.Background(), candidate(t, "SELECT * FROM nope"))
	require.True(t, perrors.Is(err, perrors.ExecutionError))
	require.Equal(t, "SELECT * FROM nope", perrors.SQLOf(err))
	require.Equal(t, StateIdle, s.State())
}

func TestBeginPreviewCapturesRows(t *testing.T) {
	s, drv := newSession(t)
	drv.On("DELETE", &sqlexec.Result{
		Columns:      []string{"id"},
		Rows:         [][]any{{int64(3)}, {int64(4)}},
		RowsAffected: 2,
		Tag:          "DELETE 2",
	}, nil)

	p, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM users WHERE id > 2;"))
	require.NoError(t, err)
	require.Equal(t, StatePreviewOpen, s.State())
	require.EqualValues(t, 2, p.RowCount())
	require.Len(t, p.Rows(), 2)
	require.Equal(t, "DELETE FROM users WHERE id > 2 RETURNING *", p.Effects[0].SQL)
	require.Equal(t, 1, drv.OpenTx())
	require.Same(t, p, s.Pending())
}

func TestBeginPreviewRejectsReads(t *testing.T) {
	s, drv := newSession(t)
	_, err := s.BeginPreview(context.Background(), candidate(t, "SELECT 1"))
	require.ErrorIs(t, err, ErrNothingToPreview)
	require.Empty(t, drv.Calls())
}

func TestPreviewTruncateCountsRows(t *testing.T) {
	s, drv := newSession(t)
	drv.On("SELECT count(*) FROM a", &sqlexec.Result{Rows: [][]any{{int64(5)}}}, nil)
	drv.On("SELECT count(*) FROM b", &sqlexec.Result{Rows: [][]any{{int64(2)}}}, nil)

	p, err := s.BeginPreview(context.Background(), candidate(t, "TRUNCATE a, b"))
	require.NoError(t, err)
	require.EqualValues(t, 7, p.RowCount())
	require.Equal(t, "7 rows removed from a, b", p.Effects[0].Description)
	require.Equal(t, []string{"BEGIN", "tx: SELECT count(*) FROM a", "tx: SELECT count(*) FROM b", "tx: TRUNCATE a, b"}, drv.Calls())
}

func TestPreviewTruncateCascadeCountsDependents(t *testing.T) {
	s, drv := newSession(t)
	drv.On(sqlexec.TruncateCascadeSQL, &sqlexec.Result{Columns: []string{"oid"}, Rows: [][]any{{"order_items"}, {"payments"}}}, nil)
	drv.On("SELECT count(*) FROM orders", &sqlexec.Result{Rows: [][]any{{int64(3)}}}, nil)
	drv.On("SELECT count(*) FROM order_items", &sqlexec.Result{Rows: [][]any{{int64(8)}}}, nil)
	drv.On("SELECT count(*) FROM payments", &sqlexec.Result{Rows: [][]any{{int64(2)}}}, nil)

	p, err := s.BeginPreview(context.Background(), candidate(t, "TRUNCATE orders CASCADE"))
	require.NoError(t, err)
	require.EqualValues(t, 13, p.RowCount())
	require.Equal(t, []string{"order_items", "payments"}, p.Effects[0].Cascaded)
	require.Equal(t, "13 rows removed from orders and, by CASCADE, from order_items, payments", p.Effects[0].Description)
	require.Equal(t, []string{
		"BEGIN",
		"tx: " + sqlexec.TruncateCascadeSQL,
		"tx: SELECT count(*) FROM orders",
		"tx: SELECT count(*) FROM order_items",
		"tx: SELECT count(*) FROM payments",
		"tx: TRUNCATE orders CASCADE",
	}, drv.Calls())
}

func TestPreviewKeepsExplicitReturning(t *testing.T) {
	s, drv := newSession(t)
	drv.On("DELETE", &sqlexec.Result{
		Columns:      []string{"id"},
		Rows:         [][]any{{int64(3)}, {int64(4)}},
		RowsAffected: 2,
		Tag:          "DELETE 2",
	}, nil)

	p, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM users WHERE id > 2 RETURNING id"))
	require.NoError(t, err)
	require.Equal(t, "DELETE FROM users WHERE id > 2 RETURNING id", p.Effects[0].SQL)
	require.True(t, p.Effects[0].Captured)
	require.EqualValues(t, 2, p.RowCount())
	require.Equal(t, []map[string]any{{"id": int64(3)}, {"id": int64(4)}}, p.Rows())
}

func TestPreviewMixedBatchKeepsQueryOutput(t *testing.T) {
	s, drv := newSession(t)
	drv.On("UPDATE", &sqlexec.Result{Columns: []string{"id"}, Rows: [][]any{{int64(1)}}, RowsAffected: 1, Tag: "UPDATE 1"}, nil)
	drv.On("SELECT", &sqlexec.Result{Columns: []string{"n"}, Rows: [][]any{{int64(9)}}, RowsAffected: 1, Tag: "SELECT 1"}, nil)

	p, err := s.BeginPreview(context.Background(), candidate(t, "UPDATE t SET a = 1 WHERE id = 1; SELECT count(*) AS n FROM t;"))
	require.NoError(t, err)
	require.Len(t, p.Effects, 2)
	require.True(t, p.Effects[1].HasOutput())
	require.False(t, p.Effects[1].Captured)
	require.EqualValues(t, 1, p.RowCount())
	require.Len(t, p.Rows(), 1)
}

func TestPreviewDDLProducesDiff(t *testing.T) {
	s, drv := newSession(t)
	created := false
	drv.Handler = func(sql string, inTx bool) (*sqlexec.Result, error) {
		switch {
		case strings.HasPrefix(sql, "CREATE TABLE"):
			created = true
			return &sqlexec.Result{Tag: "CREATE TABLE"}, nil
		case strings.Contains(sql, "information_schema.columns"):
			rows := [][]any{{"public.users", "id", "integer", "NO", nil}}
			if created {
				rows = append(rows, []any{"public.audit", "note", "text", "YES", nil})
			}
			return &sqlexec.Result{Rows: rows}, nil
		}
		return &sqlexec.Result{}, nil
	}

	p, err := s.BeginPreview(context.Background(), candidate(t, "CREATE TABLE audit (note text);"))
	require.NoError(t, err)
	require.Contains(t, p.SchemaDiff, "+Table: public.audit")
	require.Len(t, p.SchemaChanges, 1)
	require.Equal(t, "public.audit", p.SchemaChanges[0].Table)
}

func TestPreviewFailureRollsBack(t *testing.T) {
	s, drv := newSession(t)
	drv.On("INSERT", nil, errors.New("duplicate key value violates unique constraint"))

	_, err := s.BeginPreview(context.Background(), candidate(t, "UPDATE t SET a = 1; INSERT INTO t VALUES (1);"))
	require.True(t, perrors.Is(err, perrors.ExecutionError))
	require.Contains(t, err.Error(), "statement 2 of 2 failed")
	require.Equal(t, "INSERT INTO t VALUES (1)", perrors.SQLOf(err))
	require.Equal(t, StateIdle, s.State())
	require.Zero(t, drv.OpenTx())
	require.Equal(t, "ROLLBACK", drv.Calls()[len(drv.Calls())-1])

	_, err = s.Finalize(context.Background(), DecisionCommit)
	require.ErrorIs(t, err, ErrNoPreview)
}

func TestFinalizeCommitDoesNotRerun(t *testing.T) {
	s, drv := newSession(t)
	_, err := s.BeginPreview(context.Background(), candidate(t, "UPDATE t SET a = 1"))
	require.NoError(t, err)

	o, err := s.Finalize(context.Background(), DecisionCommit)
	require.NoError(t, err)
	require.Equal(t, OutcomeCommitted, o.Kind)
	require.False(t, o.Repeat)
	require.Equal(t, []string{"BEGIN", "tx: UPDATE t SET a = 1 RETURNING *", "COMMIT"}, drv.Calls())
	require.Equal(t, StateIdle, s.State())
}

func TestFinalizeIsIdempotent(t *testing.T) {
	for _, d := range []Decision{DecisionCommit, DecisionDiscard} {
		t.Run(d.String(), func(t *testing.T) {
			s, drv := newSession(t)
			_, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM t"))
			require.NoError(t, err)

			first, err := s.Finalize(context.Background(), d)
			require.NoError(t, err)
			calls := len(drv.Calls())

			second, err := s.Finalize(context.Background(), d)
			require.NoError(t, err)
			require.True(t, second.Repeat)
			require.Equal(t, first.Kind, second.Kind)
			require.Equal(t, first.PreviewID, second.PreviewID)
			require.Len(t, drv.Calls(), calls, "second finalize must not reach the database")
		})
	}
}

func TestFinalizeWithoutPreview(t *testing.T) {
	s, _ := newSession(t)
	_, err := s.Finalize(context.Background(), DecisionCommit)
	require.ErrorIs(t, err, ErrNoPreview)
}

func TestCommitFailureReportsRollback(t *testing.T) {
	s, drv := newSession(t)
	drv.CommitErr = errors.New("commit unexpectedly resulted in rollback")
	_, err := s.BeginPreview(context.Background(), candidate(t, "INSERT INTO t VALUES (1)"))
	require.NoError(t, err)

	o, err := s.Finalize(context.Background(), DecisionCommit)
	require.True(t, perrors.Is(err, perrors.ExecutionError))
	require.Equal(t, OutcomeRolledBack, o.Kind)
	require.Equal(t, StateIdle, s.State())
}

func TestNewPreviewDiscardsPending(t *testing.T) {
	s, drv := newSession(t)
	first, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)
	second, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM b"))
	require.NoError(t, err)
	require.NotEqual(t, first.ID, second.ID)

	require.Equal(t, 1, drv.MaxOpenTx())
	require.Equal(t, []string{
		"BEGIN", "tx: DELETE FROM a RETURNING *", "ROLLBACK",
		"BEGIN", "tx: DELETE FROM b RETURNING *",
	}, drv.Calls())
}

func TestQueryWhilePreviewPending(t *testing.T) {
	s, drv := newSession(t)
	_, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)

	_, err = s.Query(context.Background(), candidate(t, "SELECT 1"))
	require.ErrorIs(t, err, ErrPreviewPending)
	_, err = s.RefreshSchema(context.Background())
	require.ErrorIs(t, err, ErrPreviewPending)
	require.Equal(t, 1, drv.OpenTx())
}

func TestAbandon(t *testing.T) {
	s, drv := newSession(t)
	require.NoError(t, s.Abandon(context.Background()))
	require.Empty(t, drv.Calls())

	_, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)
	require.NoError(t, s.Abandon(context.Background()))
	require.Zero(t, drv.OpenTx())
	require.Equal(t, StateIdle, s.State())

	o, err := s.Finalize(context.Background(), DecisionCommit)
	require.NoError(t, err)
	require.Equal(t, OutcomeRolledBack, o.Kind)
	require.False(t, o.Repeat)

	again, err := s.Finalize(context.Background(), DecisionCommit)
	require.NoError(t, err)
	require.True(t, again.Repeat)
	require.NotContains(t, drv.Calls(), "COMMIT")
}

func TestFinalizeAfterLossNoticedElsewhere(t *testing.T) {
	s, drv := newSession(t)
	p, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)
	drv.Kill()

	require.True(t, perrors.Is(s.Abandon(context.Background()), perrors.ConnectionLost))
	require.Equal(t, StateLost, s.State())

	o, err := s.Finalize(context.Background(), DecisionCommit)
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
	require.Equal(t, OutcomeRolledBackByServer, o.Kind)
	require.Equal(t, p.ID, o.PreviewID)
	require.False(t, o.Repeat)

	again, err := s.Finalize(context.Background(), DecisionDiscard)
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
	require.True(t, again.Repeat)
}

func TestConnectionLostWhilePreviewOpen(t *testing.T) {
	s, drv := newSession(t)
	p, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)
	drv.Kill()

	o, err := s.Finalize(context.Background(), DecisionCommit)
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
	require.Equal(t, OutcomeRolledBackByServer, o.Kind)
	require.Equal(t, p.ID, o.PreviewID)
	require.Equal(t, StateLost, s.State())

	_, err = s.Query(context.Background(), candidate(t, "SELECT 1"))
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
	_, err = s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
}

func TestConnectionLostDuringStatement(t *testing.T) {
	s, drv := newSession(t)
	drv.On("UPDATE", nil, fmt.Errorf("read message: %w", io.ErrUnexpectedEOF))
	_, err := s.BeginPreview(context.Background(), candidate(t, "UPDATE t SET a = 1"))
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
	require.Equal(t, StateLost, s.State())
}

func TestConnectionLostDuringCommit(t *testing.T) {
	s, drv := newSession(t)
	drv.KillOnCommit = true
	_, err := s.BeginPreview(context.Background(), candidate(t, "UPDATE t SET a = 1"))
	require.NoError(t, err)

	o, err := s.Finalize(context.Background(), DecisionCommit)
	require.True(t, perrors.Is(err, perrors.ConnectionLost))
	require.Equal(t, OutcomeUnknown, o.Kind)
	require.Equal(t, StateLost, s.State())
}

func TestCloseAbandonsPreview(t *testing.T) {
	s, drv := newSession(t)
	_, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)

	require.NoError(t, s.Close(context.Background()))
	require.Equal(t, StateClosed, s.State())
	require.Contains(t, drv.Calls(), "ROLLBACK")
	require.NotContains(t, drv.Calls(), "COMMIT")

	_, err = s.Finalize(context.Background(), DecisionCommit)
	require.ErrorIs(t, err, ErrClosed)
}

func TestInterruptedContextStillRollsBack(t *testing.T) {
	s, drv := newSession(t)
	_, err := s.BeginPreview(context.Background(), candidate(t, "DELETE FROM a"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, s.Abandon(ctx))
	require.Zero(t, drv.OpenTx())
}
