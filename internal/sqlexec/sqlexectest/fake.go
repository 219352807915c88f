// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package sqlexectest provides a scriptable in-memory sqlexec.Driver.
package sqlexectest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"psqlm/cli/internal/sqlexec"
)

// ErrConnClosed mimics the error pgx returns on a dead connection.
var ErrConnClosed = errors.New("conn closed")

// Response is a scripted answer to a statement.
type Response struct {
	Result *sqlexec.Result
	Err    error
}

// Driver records every call and answers statements from scripted responses.
// Responses are matched by statement prefix; the longest matching prefix wins.
type Driver struct {
	mu        sync.Mutex
	responses map[string]Response
	calls     []string
	openTx    int
	maxOpenTx int
	closed    bool

	// Handler, when set, answers statements no response matches.
	Handler func(sql string, inTx bool) (*sqlexec.Result, error)

	BeginErr    error
	CommitErr   error
	RollbackErr error
	// KillOnCommit closes the connection when Commit is called.
	KillOnCommit bool
}

// New returns an empty fake driver.
func New() *Driver {
	return &Driver{responses: make(map[string]Response)}
}

// On scripts the answer for statements starting with prefix.
func (d *Driver) On(prefix string, res *sqlexec.Result, err error) *Driver {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.responses[prefix] = Response{Result: res, Err: err}
	return d
}

// Kill simulates a dropped connection.
func (d *Driver) Kill() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
}

// Calls returns the recorded calls: "BEGIN", "COMMIT", "ROLLBACK",
// "query: <sql>" for autocommit statements and "tx: <sql>" inside a transaction.
func (d *Driver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// OpenTx reports how many transactions are currently open.
func (d *Driver) OpenTx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.openTx
}

// MaxOpenTx reports the highest number of simultaneously open transactions seen.
func (d *Driver) MaxOpenTx() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpenTx
}

func (d *Driver) answer(sql string, inTx bool) (*sqlexec.Result, error) {
	best := ""
	found := false
	for p := range d.responses {
		if strings.HasPrefix(sql, p) && len(p) >= len(best) {
			best, found = p, true
		}
	}
	if found {
		r := d.responses[best]
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Result == nil {
			return &sqlexec.Result{Columns: []string{}, Rows: [][]any{}}, nil
		}
		cp := *r.Result
		return &cp, nil
	}
	if d.Handler != nil {
		return d.Handler(sql, inTx)
	}
	return &sqlexec.Result{Columns: []string{}, Rows: [][]any{}}, nil
}

func (d *Driver) Query(_ context.Context, sql string, _ ...any) (*sqlexec.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrConnClosed
	}
	d.calls = append(d.calls, "query: "+sql)
	return d.answer(sql, false)
}

func (d *Driver) Begin(context.Context) (sqlexec.Tx, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil, ErrConnClosed
	}
	if d.BeginErr != nil {
		return nil, d.BeginErr
	}
	d.calls = append(d.calls, "BEGIN")
	d.openTx++
	if d.openTx > d.maxOpenTx {
		d.maxOpenTx = d.openTx
	}
	return &tx{d: d}, nil
}

func (d *Driver) Ping(context.Context) error {
	if d.IsClosed() {
		return ErrConnClosed
	}
	return nil
}

func (d *Driver) IsClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Driver) Close(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.openTx > 0 {
		// the server rolls back whatever is left open
		d.openTx = 0
	}
	d.closed = true
	return nil
}

type tx struct {
	d    *Driver
	done bool
}

func (t *tx) Query(_ context.Context, sql string, _ ...any) (*sqlexec.Result, error) {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if t.d.closed {
		return nil, ErrConnClosed
	}
	t.d.calls = append(t.d.calls, "tx: "+sql)
	return t.d.answer(sql, true)
}

func (t *tx) Commit(context.Context) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if t.d.KillOnCommit {
		t.d.closed = true
	}
	if t.d.closed {
		t.d.openTx = 0
		return ErrConnClosed
	}
	t.finish()
	t.d.calls = append(t.d.calls, "COMMIT")
	return t.d.CommitErr
}

func (t *tx) Rollback(context.Context) error {
	t.d.mu.Lock()
	defer t.d.mu.Unlock()
	if t.d.closed {
		t.d.openTx = 0
		return ErrConnClosed
	}
	if t.d.RollbackErr != nil {
		return t.d.RollbackErr
	}
	t.finish()
	t.d.calls = append(t.d.calls, "ROLLBACK")
	return nil
}

func (t *tx) finish() {
	if !t.done {
		t.done = true
		t.d.openTx--
	}
}
