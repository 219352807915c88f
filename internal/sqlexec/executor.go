// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlexec executes SQL over a single PostgreSQL connection.
//
// It defines the Driver and Tx abstractions the session engine runs on, a
// pgx-backed implementation of them, result normalization, the RETURNING
// rewrite used to capture affected rows, and schema introspection.
//
// Key features include:
//   - One exclusively owned pgx connection per driver
//   - Server notices collected per statement as warnings
//   - Statement cancellation through PostgreSQL cancel requests
//   - Support for PostgreSQL-specific data types (UUIDs, numerics, byte arrays)
package sqlexec

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgconn/ctxwatch"
)

// Querier runs one statement and collects its full result.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (*Result, error)
}

// Tx is an open database transaction.
type Tx interface {
	Querier
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Driver is an exclusively owned database connection.
// Statements sent through Query run in autocommit mode.
type Driver interface {
	Querier
	Begin(ctx context.Context) (Tx, error)
	Ping(ctx context.Context) error
	// IsClosed reports whether the connection is known to be unusable.
	IsClosed() bool
	Close(ctx context.Context) error
}

// Options configures Connect.
type Options struct {
	// StatementTimeout is sent as the statement_timeout runtime parameter when positive.
	StatementTimeout time.Duration
	ApplicationName  string
	Logger           *slog.Logger
}

// PgxDriver implements Driver on a *pgx.Conn.
type PgxDriver struct {
	conn *pgx.Conn
	log  *slog.Logger

	mu      sync.Mutex
	notices []string
}

// Connect opens a connection for dsn. Queries use the simple protocol so no
// prepared statement outlives a schema change made inside a preview.
func Connect(ctx context.Context, dsn string, opts Options) (*PgxDriver, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	d := &PgxDriver{log: opts.Logger}
	if d.log == nil {
		d.log = slog.New(slog.DiscardHandler)
	}

	cfg.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	cfg.OnNotice = d.onNotice
	cfg.BuildContextWatcherHandler = func(pgConn *pgconn.PgConn) ctxwatch.Handler {
		return &pgconn.CancelRequestContextWatcherHandler{
			Conn:               pgConn,
			CancelRequestDelay: 0,
			DeadlineDelay:      5 * time.Second,
		}
	}
	if cfg.RuntimeParams == nil {
		cfg.RuntimeParams = map[string]string{}
	}
	name := opts.ApplicationName
	if name == "" {
		name = "psqlm"
	}
	cfg.RuntimeParams["application_name"] = name
	if opts.StatementTimeout > 0 {
		cfg.RuntimeParams["statement_timeout"] = strconv.FormatInt(opts.StatementTimeout.Milliseconds(), 10)
	}

	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	d.conn = conn
	d.log.Debug("connected", "host", cfg.Host, "port", cfg.Port, "database", cfg.Database, "pid", conn.PgConn().PID())
	return d, nil
}

func (d *PgxDriver) onNotice(_ *pgconn.PgConn, n *pgconn.Notice) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.notices = append(d.notices, n.Severity+": "+n.Message)
}

func (d *PgxDriver) takeNotices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := d.notices
	d.notices = nil
	return out
}

// Query runs sql outside any transaction.
func (d *PgxDriver) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	d.takeNotices()
	rows, err := d.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	res, err := collect(rows)
	if err != nil {
		return nil, err
	}
	res.Notices = d.takeNotices()
	return res, nil
}

// Begin opens a transaction with default isolation.
func (d *PgxDriver) Begin(ctx context.Context) (Tx, error) {
	tx, err := d.conn.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgxTx{tx: tx, d: d}, nil
}

func (d *PgxDriver) Ping(ctx context.Context) error { return d.conn.Ping(ctx) }

func (d *PgxDriver) IsClosed() bool { return d.conn.IsClosed() }

func (d *PgxDriver) Close(ctx context.Context) error { return d.conn.Close(ctx) }

// PID returns the server backend process id of the connection.
func (d *PgxDriver) PID() uint32 { return d.conn.PgConn().PID() }

type pgxTx struct {
	tx pgx.Tx
	d  *PgxDriver
}

func (t *pgxTx) Query(ctx context.Context, sql string, args ...any) (*Result, error) {
	t.d.takeNotices()
	rows, err := t.tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	res, err := collect(rows)
	if err != nil {
		return nil, err
	}
	res.Notices = t.d.takeNotices()
	return res, nil
}

func (t *pgxTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgxTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// collect drains rows into a Result.
func collect(rows pgx.Rows) (*Result, error) {
	defer rows.Close()
	res := &Result{Columns: []string{}, Rows: [][]any{}}
	for _, fd := range rows.FieldDescriptions() {
		res.Columns = append(res.Columns, fd.Name)
	}
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, err
		}
		res.Rows = append(res.Rows, vals)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	tag := rows.CommandTag()
	res.Tag = tag.String()
	res.RowsAffected = tag.RowsAffected()
	return res, nil
}

// IsConnectionError reports whether err means the connection itself failed
// rather than the statement.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 08 connection exception, 57P01..57P03 server shutdown
		return strings.HasPrefix(pgErr.Code, "08") ||
			pgErr.Code == "57P01" || pgErr.Code == "57P02" || pgErr.Code == "57P03"
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
