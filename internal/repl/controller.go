// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package repl implements the interactive read loop: questions are translated
// to SQL, classified, and then either run directly (reads) or previewed inside
// a transaction that the user commits or discards (everything else).
package repl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/pterm/pterm"

	"psqlm/cli/internal/classify"
	"psqlm/cli/internal/config"
	perrors "psqlm/cli/internal/errors"
	"psqlm/cli/internal/logging"
	"psqlm/cli/internal/render"
	"psqlm/cli/internal/schema"
	"psqlm/cli/internal/session"
	"psqlm/cli/internal/sqlexec"
	"psqlm/cli/internal/translate"
)

// Session is the part of *session.Session the controller drives.
type Session interface {
	Query(ctx context.Context, c *classify.Candidate) ([]*sqlexec.Result, error)
	BeginPreview(ctx context.Context, c *classify.Candidate) (*session.PreviewResult, error)
	Finalize(ctx context.Context, d session.Decision) (session.Outcome, error)
	Abandon(ctx context.Context) error
	RefreshSchema(ctx context.Context) (*schema.Snapshot, error)
	Schema() *schema.Snapshot
	Close(ctx context.Context) error
}

// Console is the interactive surface: line input, line editing and menus.
// Implementations return ErrInterrupt on Ctrl-C and io.EOF on Ctrl-D.
type Console interface {
	ReadLine(prompt string) (string, error)
	EditLine(prompt, initial string) (string, error)
	Select(title string, options []string) (int, error)
}

// ErrInterrupt is returned by a Console when the user presses Ctrl-C.
var ErrInterrupt = errors.New("interrupted")

// ErrSessionLost is returned by Run when the user leaves after losing the connection.
var ErrSessionLost = errors.New("database connection lost")

const (
	prompt            = "psqlm> "
	historyResultRows = 20
	defaultHistory    = 10
)

// Options configures a Controller.
type Options struct {
	Mode config.ExecutionMode
	// HistoryTurns is how many past exchanges are replayed to the model.
	HistoryTurns int
	// Stream prints model output as it arrives instead of showing a spinner.
	Stream bool
	// Reconnect opens a fresh session after the connection was lost. Nil disables reconnecting.
	Reconnect func(ctx context.Context) (Session, error)
	// Spinner shows progress text until the returned function is called.
	Spinner func(text string) (stop func())
	// Interrupts derives the context for one blocking operation; Ctrl-C cancels it.
	Interrupts func(ctx context.Context) (context.Context, context.CancelFunc)
	Logger     *slog.Logger
}

// Controller runs the read loop over one Session at a time.
type Controller struct {
	sess    Session
	tr      translate.Translator
	con     Console
	r       *render.Renderer
	history *translate.History
	mode    config.ExecutionMode
	opts    Options
	log     *slog.Logger
	lost    bool
}

// New creates a Controller. It takes ownership of sess and closes it when Run returns.
func New(sess Session, tr translate.Translator, con Console, r *render.Renderer, opts Options) *Controller {
	if opts.Mode == "" {
		opts.Mode = config.ModeConfirm
	}
	if opts.HistoryTurns <= 0 {
		opts.HistoryTurns = defaultHistory
	}
	if opts.Spinner == nil {
		opts.Spinner = func(string) func() { return func() {} }
	}
	if opts.Interrupts == nil {
		opts.Interrupts = func(ctx context.Context) (context.Context, context.CancelFunc) {
			return signal.NotifyContext(ctx, os.Interrupt)
		}
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Controller{
		sess:    sess,
		tr:      tr,
		con:     con,
		r:       r,
		history: translate.NewHistory(opts.HistoryTurns),
		mode:    opts.Mode,
		opts:    opts,
		log:     log,
	}
}

func (c *Controller) Mode() config.ExecutionMode { return c.mode }

// History returns the turns that will be replayed to the model.
func (c *Controller) History() []translate.Turn { return c.history.Turns() }

// Run reads input until EOF, \q or ctx is cancelled. Any pending preview is
// abandoned and the session closed before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	defer c.shutdown(ctx)
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := c.con.ReadLine(prompt)
		switch {
		case errors.Is(err, ErrInterrupt):
			c.r.Info("^C")
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if c.Handle(ctx, line) {
			if c.lost {
				return ErrSessionLost
			}
			return nil
		}
	}
}

// Exec handles a single line of input, then shuts down like Run.
func (c *Controller) Exec(ctx context.Context, line string) error {
	defer c.shutdown(ctx)
	c.Handle(ctx, strings.TrimSpace(line))
	if c.lost {
		return ErrSessionLost
	}
	return nil
}

func (c *Controller) shutdown(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	if err := c.sess.Abandon(ctx); err != nil {
		c.log.Warn("abandon on exit", "err", err)
	}
	if err := c.sess.Close(ctx); err != nil {
		c.log.Debug("close session", "err", err)
	}
}

// Handle processes one line of input and reports whether the loop should end.
func (c *Controller) Handle(ctx context.Context, line string) bool {
	if strings.HasPrefix(line, `\`) {
		return c.command(ctx, line)
	}
	if err := c.sess.Abandon(ctx); err != nil && c.recover(ctx, nil, err) == actQuit {
		return true
	}
	t := &turn{question: line}
	if classify.LooksLikeSQL(line) {
		t.sql = line
	}
	return c.runTurn(ctx, t) == actQuit
}

type action int

const (
	actDone action = iota
	actAgain
	actProceed
	actQuit
)

// turn is one question being worked on until it runs, is cancelled or fails.
type turn struct {
	question string
	sql      string
	// confirm asks before running sql
	confirm bool
}

func (c *Controller) runTurn(ctx context.Context, t *turn) action {
	for {
		if t.sql == "" {
			sql, ok := c.translate(ctx, t.question)
			if !ok {
				return actDone
			}
			t.sql = sql
			if c.mode == config.ModeShow {
				return actDone
			}
			t.confirm = c.mode == config.ModeConfirm
		}

		cand, err := classify.Classify(t.question, t.sql)
		if err != nil {
			if act := c.recover(ctx, t, err); act != actAgain {
				return act
			}
			continue
		}

		if t.confirm {
			switch c.confirm(t) {
			case actDone:
				return actDone
			case actAgain:
				continue
			}
		}

		act := c.execute(ctx, t, cand)
		if act != actAgain {
			return act
		}
	}
}

func (c *Controller) confirm(t *turn) action {
	idx, err := c.con.Select("Run this SQL?", []string{
		"Run",
		"Edit SQL",
		"Edit prompt",
		"Always run (auto mode)",
		"Cancel",
	})
	if err != nil {
		idx = 4
	}
	switch idx {
	case 0:
		t.confirm = false
		return actProceed
	case 1:
		if sql, ok := c.editSQL(t.sql); ok {
			t.sql = sql
			c.r.SQL(sql)
		}
		return actAgain
	case 2:
		q, err := c.con.ReadLine("New prompt: ")
		if err != nil || strings.TrimSpace(q) == "" {
			c.r.Info("Cancelled.")
			return actDone
		}
		t.question = strings.TrimSpace(q)
		t.sql = ""
		return actAgain
	case 3:
		c.mode = config.ModeAuto
		c.r.Info(`Auto-run enabled. Use \mode confirm to disable.`)
		t.confirm = false
		return actProceed
	}
	c.r.Info("Cancelled.")
	return actDone
}

func (c *Controller) execute(ctx context.Context, t *turn, cand *classify.Candidate) action {
	opCtx, cancel := c.opts.Interrupts(ctx)
	defer cancel()

	if cand.Kind == classify.KindRead {
		stop := c.opts.Spinner("Running")
		results, err := c.sess.Query(opCtx, cand)
		stop()
		if err != nil {
			return c.recover(ctx, t, err)
		}
		c.r.Results(results)
		c.history.Add(translate.Turn{Question: t.question, SQL: t.sql, Result: summary(results)})
		return actDone
	}

	c.r.Warn("This statement may change the database. Previewing it inside a transaction...")
	stop := c.opts.Spinner("Previewing")
	p, err := c.sess.BeginPreview(opCtx, cand)
	stop()
	if err != nil {
		return c.recover(ctx, t, err)
	}
	c.r.Preview(p)
	return c.decide(ctx, t, p)
}

func summary(results []*sqlexec.Result) string {
	parts := make([]string, 0, len(results))
	for _, res := range results {
		parts = append(parts, render.Summary(res, historyResultRows))
	}
	return strings.Join(parts, "\n")
}

func (c *Controller) decide(ctx context.Context, t *turn, p *session.PreviewResult) action {
	idx, err := c.con.Select("Commit these changes?", []string{
		"Commit",
		"Discard",
		"Edit SQL and preview again",
	})
	if err != nil {
		if aerr := c.sess.Abandon(ctx); aerr != nil {
			return c.recover(ctx, t, aerr)
		}
		c.r.Info("Discarded. Nothing was changed.")
		return actDone
	}

	switch idx {
	case 0:
		o, err := c.sess.Finalize(ctx, session.DecisionCommit)
		if err != nil {
			if o.PreviewID == p.ID {
				c.r.Outcome(o, p.RowCount())
			}
			return c.recover(ctx, t, err)
		}
		c.r.Outcome(o, p.RowCount())
		c.history.Add(translate.Turn{
			Question: t.question,
			SQL:      t.sql,
			Result:   fmt.Sprintf("COMMITTED: %d row(s) affected", p.RowCount()),
		})
		if p.Candidate.HasDDL() {
			c.r.Info(`The schema changed. Run \schema to refresh what the model knows about it.`)
		}
		return actDone
	case 2:
		if _, err := c.sess.Finalize(ctx, session.DecisionDiscard); err != nil {
			return c.recover(ctx, t, err)
		}
		if sql, ok := c.editSQL(t.sql); ok {
			t.sql = sql
		}
		t.confirm = false
		return actAgain
	}

	o, err := c.sess.Finalize(ctx, session.DecisionDiscard)
	if err != nil {
		return c.recover(ctx, t, err)
	}
	c.r.Outcome(o, 0)
	return actDone
}

// recover handles a failed step. t is nil when no turn is in progress.
func (c *Controller) recover(ctx context.Context, t *turn, err error) action {
	if perrors.Is(err, perrors.ConnectionLost) {
		return c.onLost(ctx, err)
	}
	if errors.Is(err, context.Canceled) {
		c.r.Info("Cancelled.")
		return actDone
	}
	c.r.Error(err)
	if t == nil {
		return actDone
	}

	idx, serr := c.con.Select("What would you like to do?", []string{
		"Ask the model to fix it",
		"Edit SQL",
		"Rephrase the question",
		"Cancel",
	})
	if serr != nil {
		idx = 3
	}
	switch idx {
	case 0:
		fixed, ok := c.fix(ctx, t, err)
		if !ok {
			return actDone
		}
		t.sql = fixed
		if c.mode == config.ModeShow {
			return actDone
		}
		t.confirm = c.mode != config.ModeAuto
		return actAgain
	case 1:
		sql, ok := c.editSQL(t.sql)
		if !ok {
			c.r.Info("Cancelled.")
			return actDone
		}
		t.sql = sql
		t.confirm = false
		return actAgain
	case 2:
		q, rerr := c.con.ReadLine("New prompt: ")
		if rerr != nil || strings.TrimSpace(q) == "" {
			c.r.Info("Cancelled.")
			return actDone
		}
		t.question = strings.TrimSpace(q)
		t.sql = ""
		return actAgain
	}
	c.r.Info("Cancelled.")
	return actDone
}

func (c *Controller) onLost(ctx context.Context, err error) action {
	c.r.Error(err)
	c.r.Warn("Changes that were still awaiting a decision were not committed.")
	if c.opts.Reconnect == nil {
		c.lost = true
		return actQuit
	}
	for {
		idx, serr := c.con.Select("The database connection was lost.", []string{"Reconnect", "Exit"})
		if serr != nil || idx != 0 {
			c.lost = true
			return actQuit
		}
		stop := c.opts.Spinner("Reconnecting")
		fresh, rerr := c.opts.Reconnect(ctx)
		stop()
		if rerr != nil {
			c.r.Warn("%s", logging.PresentError("reconnect failed", rerr))
			continue
		}
		_ = c.sess.Close(context.WithoutCancel(ctx))
		c.sess = fresh
		c.log.Info("reconnected")
		c.r.Info("Reconnected with a fresh session.")
		return actDone
	}
}

func (c *Controller) editSQL(sql string) (string, bool) {
	edited, err := c.con.EditLine("SQL> ", sql)
	if err != nil || strings.TrimSpace(edited) == "" {
		return sql, false
	}
	return strings.TrimSpace(edited), true
}

func (c *Controller) translate(ctx context.Context, question string) (string, bool) {
	return c.ask(ctx, "Generating SQL", func(ctx context.Context, onToken func(string)) (translate.Result, error) {
		return c.tr.Translate(ctx, translate.Request{
			Question: question,
			Schema:   c.schemaPrompt(),
			History:  c.history.Turns(),
			OnToken:  onToken,
		})
	})
}

func (c *Controller) fix(ctx context.Context, t *turn, cause error) (string, bool) {
	c.r.Info("-- Fixed SQL:")
	return c.ask(ctx, "Fixing SQL", func(ctx context.Context, onToken func(string)) (translate.Result, error) {
		return c.tr.Fix(ctx, translate.FixRequest{
			Question: t.question,
			SQL:      t.sql,
			Error:    logging.CauseText(cause),
			Schema:   c.schemaPrompt(),
			OnToken:  onToken,
		})
	})
}

// ask runs one model call and shows the SQL it produced.
func (c *Controller) ask(ctx context.Context, label string, call func(context.Context, func(string)) (translate.Result, error)) (string, bool) {
	opCtx, cancel := c.opts.Interrupts(ctx)
	defer cancel()

	var (
		res translate.Result
		err error
	)
	if c.opts.Stream {
		out := c.r.Out()
		fmt.Fprintln(out)
		res, err = call(opCtx, func(s string) { fmt.Fprint(out, pterm.FgGreen.Sprint(s)) })
		fmt.Fprintln(out)
		fmt.Fprintln(out)
	} else {
		stop := c.opts.Spinner(label)
		res, err = call(opCtx, nil)
		stop()
	}
	if err != nil {
		if errors.Is(err, context.Canceled) {
			c.r.Info("Cancelled.")
		} else {
			c.r.Error(err)
		}
		return "", false
	}
	c.log.Debug("sql generated", "model", res.Model, "input_tokens", res.InputTokens, "output_tokens", res.OutputTokens)
	if !c.opts.Stream {
		c.r.SQL(res.SQL)
	}
	return res.SQL, true
}

func (c *Controller) schemaPrompt() string {
	return c.sess.Schema().PromptString()
}
