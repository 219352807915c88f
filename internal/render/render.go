// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package render prints query results, previews and outcomes to the terminal.
// Table output is drawn with pterm, plain output is psql-like text produced
// with tablewriter, and json output is machine readable.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/pterm/pterm"

	"psqlm/cli/internal/classify"
	"psqlm/cli/internal/config"
	perrors "psqlm/cli/internal/errors"
	"psqlm/cli/internal/httperrors"
	"psqlm/cli/internal/logging"
	"psqlm/cli/internal/schema"
	"psqlm/cli/internal/session"
	"psqlm/cli/internal/sqlexec"
)

var (
	styleSQL     = pterm.NewStyle(pterm.FgGreen)
	styleLabel   = pterm.NewStyle(pterm.FgLightCyan)
	styleHeading = pterm.NewStyle(pterm.FgLightCyan, pterm.Bold)
	styleWarn    = pterm.NewStyle(pterm.FgYellow, pterm.Bold)
	styleOK      = pterm.NewStyle(pterm.FgGreen, pterm.Bold)
	styleFail    = pterm.NewStyle(pterm.FgRed, pterm.Bold)
	styleDim     = pterm.NewStyle(pterm.FgGray)
)

// Renderer writes everything the shell shows besides prompts and menus.
type Renderer struct {
	out      io.Writer
	format   config.OutputFormat
	rowLimit int
}

// New creates a Renderer. rowLimit bounds how many rows of a preview are shown.
func New(out io.Writer, format config.OutputFormat, rowLimit int) *Renderer {
	if rowLimit <= 0 {
		rowLimit = 50
	}
	return &Renderer{out: out, format: format, rowLimit: rowLimit}
}

func (r *Renderer) Format() config.OutputFormat { return r.format }

func (r *Renderer) SetFormat(f config.OutputFormat) { r.format = f }

// Out returns the underlying writer.
func (r *Renderer) Out() io.Writer { return r.out }

func (r *Renderer) println(a ...any) { fmt.Fprintln(r.out, a...) }

// SQL shows a candidate statement.
func (r *Renderer) SQL(sql string) {
	r.println()
	r.println(styleSQL.Sprint(sql))
	r.println()
}

// Info prints a neutral message.
func (r *Renderer) Info(format string, a ...any) {
	r.println(fmt.Sprintf(format, a...))
}

// Warn prints a highlighted message.
func (r *Renderer) Warn(format string, a ...any) {
	r.println(styleWarn.Sprint(fmt.Sprintf(format, a...)))
}

// Results prints the results of a read-only batch.
func (r *Renderer) Results(results []*sqlexec.Result) {
	if r.format == config.FormatJSON {
		r.json(results)
		return
	}
	for _, res := range results {
		r.result(res, 0)
		for _, n := range res.Notices {
			r.println(styleWarn.Sprint("NOTICE: ") + n)
		}
	}
}

// result prints one result; limit > 0 truncates the rows shown.
func (r *Renderer) result(res *sqlexec.Result, limit int) {
	if res == nil {
		return
	}
	if len(res.Columns) == 0 {
		if res.Tag != "" {
			r.println(res.Tag)
		}
		return
	}
	rows := res.StringRows()
	hidden := 0
	if limit > 0 && len(rows) > limit {
		hidden = len(rows) - limit
		rows = rows[:limit]
	}

	switch r.format {
	case config.FormatPlain:
		writePlain(r.out, res.Columns, rows)
	default:
		data := pterm.TableData{res.Columns}
		data = append(data, rows...)
		s, err := pterm.DefaultTable.WithHasHeader().WithBoxed().WithData(data).Srender()
		if err != nil {
			writePlain(r.out, res.Columns, rows)
		} else {
			r.println(s)
		}
	}
	if hidden > 0 {
		r.println(styleDim.Sprintf("... and %d more rows", hidden))
	}
	r.println(rowCount(len(res.Rows)))
}

func rowCount(n int) string {
	if n == 1 {
		return "(1 row)"
	}
	return fmt.Sprintf("(%d rows)", n)
}

// writePlain renders rows the way psql's aligned format does.
func writePlain(w io.Writer, columns []string, rows [][]string) {
	tw := tablewriter.NewWriter(w)
	tw.SetHeader(columns)
	tw.SetAutoFormatHeaders(false)
	tw.SetAutoWrapText(false)
	tw.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	tw.SetAlignment(tablewriter.ALIGN_LEFT)
	tw.SetBorder(false)
	tw.SetCenterSeparator("+")
	tw.SetColumnSeparator("|")
	tw.SetRowSeparator("-")
	tw.SetHeaderLine(true)
	tw.AppendBulk(rows)
	tw.Render()
}

func (r *Renderer) json(v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		r.println(styleFail.Sprint("could not encode result: ") + err.Error())
		return
	}
	r.println(string(b))
}

// Preview describes an open preview and what committing it would do.
func (r *Renderer) Preview(p *session.PreviewResult) {
	if r.format == config.FormatJSON {
		r.json(previewJSON(p))
		return
	}
	r.println(styleWarn.Sprint("Preview: the changes below are inside an open transaction and not yet committed."))
	r.println()
	for _, e := range p.Effects {
		r.println(styleLabel.Sprint("→ ") + effectLine(e))
		if e.HasOutput() && (len(e.Result.Rows) > 0 || !e.Captured) {
			r.result(e.Result, r.rowLimit)
		}
	}
	if p.SchemaDiff != "" {
		r.println()
		r.println(styleHeading.Sprint("Schema changes"))
		for _, c := range p.SchemaChanges {
			r.println(fmt.Sprintf("  %s %s", c.Op, c.Table))
		}
		r.println(ColorDiff(p.SchemaDiff))
	}
	for _, w := range p.Warnings {
		r.println(styleWarn.Sprint("warning: ") + w)
	}
	r.println()
	r.println(styleHeading.Sprint(fmt.Sprintf("%d row(s) would be affected", p.RowCount())))
}

func effectLine(e session.Effect) string {
	switch {
	case e.Statement.Class == classify.ClassTruncate:
		return e.Description
	case e.Description != "":
		return fmt.Sprintf("%s  %s", e.Description, styleDim.Sprint(abbreviate(e.Statement.Text)))
	default:
		return abbreviate(e.Statement.Text)
	}
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 72 {
		return s[:69] + "..."
	}
	return s
}

// ColorDiff colors added and removed lines of a unified diff.
func ColorDiff(diff string) string {
	lines := strings.Split(strings.TrimRight(diff, "\n"), "\n")
	for i, l := range lines {
		switch {
		case strings.HasPrefix(l, "+++"), strings.HasPrefix(l, "---"):
			lines[i] = styleDim.Sprint(l)
		case strings.HasPrefix(l, "+"):
			lines[i] = pterm.FgGreen.Sprint(l)
		case strings.HasPrefix(l, "-"):
			lines[i] = pterm.FgRed.Sprint(l)
		case strings.HasPrefix(l, "@@"):
			lines[i] = pterm.FgCyan.Sprint(l)
		}
	}
	return strings.Join(lines, "\n")
}

// Outcome reports how a preview ended.
func (r *Renderer) Outcome(o session.Outcome, rows int64) {
	prefix := ""
	if o.Repeat {
		prefix = "(already finalized) "
	}
	switch o.Kind {
	case session.OutcomeCommitted:
		r.println(prefix + styleOK.Sprint("✓ Committed") + fmt.Sprintf(" (%d row(s) affected)", rows))
	case session.OutcomeRolledBack:
		r.println(prefix + "Rolled back. Nothing was changed.")
	case session.OutcomeRolledBackByServer:
		r.println(prefix + styleFail.Sprint("Rolled back by the server: the connection was lost before a decision."))
	default:
		r.println(prefix + styleFail.Sprint("Commit outcome unknown: the connection dropped during COMMIT. Check the data before retrying."))
	}
	r.println()
}

// Error prints a typed error with the SQL it concerns.
func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	if perrors.Is(err, perrors.TranslationError) {
		var e *perrors.E
		if errors.As(err, &e) && e.Err != nil {
			httperrors.Fprint(r.out, httperrors.Describe(e.Err, "generating SQL"))
			r.println()
			return
		}
	}
	r.println(styleFail.Sprint("✗ " + logging.Headline(err)))
	var e *perrors.E
	if errors.As(err, &e) && e.Err != nil && e.Message != "" {
		r.println("  " + e.Message)
	}
	cause := logging.CauseText(err)
	for _, l := range strings.Split(cause, "\n") {
		if l != "" {
			r.println("  " + l)
		}
	}
	if sql := perrors.SQLOf(err); sql != "" {
		r.println(styleLabel.Sprint("  SQL:"))
		for _, l := range strings.Split(sql, "\n") {
			r.println("    " + styleSQL.Sprint(l))
		}
	}
	r.println()
}

// Schema prints the snapshot used as model context.
func (r *Renderer) Schema(s *schema.Snapshot) {
	if s == nil || len(s.Tables) == 0 {
		r.println("No tables found.")
		return
	}
	if r.format == config.FormatJSON {
		r.json(s)
		return
	}
	r.println(styleHeading.Sprint(fmt.Sprintf("Schema loaded (%d tables)", len(s.Tables))))
	r.println()
	r.println(s.PromptString())
}

// TableDetail prints the columns, keys and indexes of one table.
func (r *Renderer) TableDetail(t *schema.Table) {
	if r.format == config.FormatJSON {
		r.json(t)
		return
	}
	r.println(styleHeading.Sprint("Table " + t.Name))
	rows := make([][]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		nullable := "not null"
		if c.Nullable {
			nullable = ""
		}
		def := ""
		if c.Default != nil {
			def = *c.Default
		}
		rows = append(rows, []string{c.Name, c.DataType, nullable, def})
	}
	writePlain(r.out, []string{"Column", "Type", "Nullable", "Default"}, rows)

	if len(t.PrimaryKey) > 0 {
		r.println(styleLabel.Sprint("Primary key: ") + strings.Join(t.PrimaryKey, ", "))
	}
	for _, fk := range t.ForeignKeys {
		r.println(styleLabel.Sprint("Foreign key: ") + fmt.Sprintf("%s (%s) -> %s(%s)",
			fk.Name, strings.Join(fk.Columns, ", "), fk.ReferencesTable, strings.Join(fk.ReferencesColumns, ", ")))
	}
	for _, idx := range t.Indexes {
		kind := "index"
		if idx.Unique {
			kind = "unique index"
		}
		r.println(styleLabel.Sprint("Index: ") + fmt.Sprintf("%s %s (%s)", idx.Name, kind, strings.Join(idx.Columns, ", ")))
	}
	r.println()
}

// Summary renders res as short plain text for conversation history.
func Summary(res *sqlexec.Result, maxRows int) string {
	if res == nil {
		return ""
	}
	if len(res.Columns) == 0 {
		return res.Tag
	}
	rows := res.StringRows()
	more := 0
	if maxRows > 0 && len(rows) > maxRows {
		more = len(rows) - maxRows
		rows = rows[:maxRows]
	}
	var b strings.Builder
	writePlain(&b, res.Columns, rows)
	if more > 0 {
		fmt.Fprintf(&b, "... %d more rows\n", more)
	}
	b.WriteString(rowCount(len(res.Rows)))
	return b.String()
}

type effectJSON struct {
	Statement    string          `json:"statement"`
	Class        string          `json:"class"`
	RowsAffected int64           `json:"rows_affected"`
	Tag          string          `json:"tag,omitempty"`
	Rows         *sqlexec.Result `json:"rows,omitempty"`
	Output       *sqlexec.Result `json:"output,omitempty"`
	Cascaded     []string        `json:"cascaded,omitempty"`
}

func previewJSON(p *session.PreviewResult) any {
	effects := make([]effectJSON, 0, len(p.Effects))
	for _, e := range p.Effects {
		ej := effectJSON{
			Statement:    e.Statement.Text,
			Class:        e.Statement.Class.String(),
			RowsAffected: e.RowsAffected,
			Tag:          e.Description,
			Cascaded:     e.Cascaded,
		}
		switch {
		case e.Captured:
			ej.Rows = e.Result
		case e.HasOutput():
			ej.Output = e.Result
		}
		effects = append(effects, ej)
	}
	return struct {
		ID         string       `json:"preview_id"`
		RowCount   int64        `json:"row_count"`
		Effects    []effectJSON `json:"effects"`
		SchemaDiff string       `json:"schema_diff,omitempty"`
		Warnings   []string     `json:"warnings,omitempty"`
	}{p.ID.String(), p.RowCount(), effects, p.SchemaDiff, p.Warnings}
}
