// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package classify decides whether generated SQL reads or writes.
//
// Text is lexed with PostgreSQL quoting rules (strings, quoted identifiers,
// dollar-quoted bodies, nested comments), split into statements at top-level
// semicolons and each statement is classified from its leading keywords.
// Anything that cannot be recognised as a read is treated as a write so that
// it is always previewed inside a transaction.
package classify

import (
	"errors"
	"fmt"
	"strings"

	perrors "psqlm/cli/internal/errors"
)

// Kind is the read/write category of a statement or a batch.
type Kind int

const (
	KindRead Kind = iota
	KindWrite
	// KindMixed is a batch holding both reads and writes.
	KindMixed
	// KindUnknown is a statement whose effect cannot be determined from its text.
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "read"
	case KindWrite:
		return "write"
	case KindMixed:
		return "mixed"
	default:
		return "unknown"
	}
}

// RequiresPreview reports whether the statement must run inside a preview transaction.
func (k Kind) RequiresPreview() bool { return k != KindRead }

// Class is the execution shape of a single statement.
type Class int

const (
	ClassQuery Class = iota
	ClassDML
	ClassDDL
	ClassTruncate
	ClassOther
)

func (c Class) String() string {
	switch c {
	case ClassQuery:
		return "query"
	case ClassDML:
		return "dml"
	case ClassDDL:
		return "ddl"
	case ClassTruncate:
		return "truncate"
	default:
		return "other"
	}
}

// Statement is one classified statement of a batch.
type Statement struct {
	// Text is the statement without its terminator or trailing comments.
	Text string
	// Verb is the leading keyword, upper-cased.
	Verb string
	// MainVerb is the keyword that produces the result: the statement after a
	// WITH clause or after EXPLAIN. It equals Verb otherwise.
	MainVerb     string
	Class        Class
	Kind         Kind
	HasReturning bool
	// Tables lists TRUNCATE targets as written.
	Tables []string
	// Cascade is set for TRUNCATE ... CASCADE.
	Cascade bool
}

// Candidate is a classified unit of generated SQL. It is immutable once built.
type Candidate struct {
	Question   string
	SQL        string
	Kind       Kind
	Statements []Statement
}

// HasDDL reports whether any statement changes the schema.
func (c *Candidate) HasDDL() bool {
	for _, s := range c.Statements {
		if s.Class == ClassDDL {
			return true
		}
	}
	return false
}

var (
	// ErrEmpty is returned for input without any statement.
	ErrEmpty = errors.New("no SQL statement found")
	// ErrTransactionControl is returned for statements that would end the preview transaction.
	ErrTransactionControl = errors.New("transaction control statements are not allowed")
)

var transactionControl = map[string]bool{
	"BEGIN": true, "START": true, "COMMIT": true, "END": true, "ROLLBACK": true,
	"ABORT": true, "SAVEPOINT": true, "RELEASE": true,
}

var ddlVerbs = map[string]bool{
	"CREATE": true, "ALTER": true, "DROP": true, "COMMENT": true, "GRANT": true,
	"REVOKE": true, "SECURITY": true, "IMPORT": true, "REINDEX": true, "CLUSTER": true,
	"REFRESH": true,
}

var dmlVerbs = map[string]bool{
	"INSERT": true, "UPDATE": true, "DELETE": true, "MERGE": true,
}

var readVerbs = map[string]bool{
	"SELECT": true, "VALUES": true, "TABLE": true, "SHOW": true,
}

// Classify splits sql into statements and classifies the batch.
// Any lexing or classification failure rejects the whole batch with a
// ClassificationError carrying the SQL text.
func Classify(question, sql string) (*Candidate, error) {
	raw, err := split(sql)
	if err != nil {
		return nil, classificationError("could not parse generated SQL", err, sql)
	}
	if len(raw) == 0 {
		return nil, classificationError("could not parse generated SQL", ErrEmpty, sql)
	}

	c := &Candidate{Question: question, SQL: strings.TrimSpace(sql)}
	for i, r := range raw {
		st, err := classifyStatement(r)
		if err != nil {
			msg := "could not classify generated SQL"
			if len(raw) > 1 {
				msg = fmt.Sprintf("could not classify statement %d of %d", i+1, len(raw))
			}
			return nil, classificationError(msg, err, r.text)
		}
		c.Statements = append(c.Statements, st)
	}
	c.Kind = batchKind(c.Statements)
	return c, nil
}

func classificationError(msg string, err error, sql string) error {
	return perrors.Wrap(perrors.ClassificationError, msg, err).WithSQL(sql)
}

func batchKind(stmts []Statement) Kind {
	var reads, writes int
	for _, s := range stmts {
		switch s.Kind {
		case KindUnknown:
			return KindUnknown
		case KindRead:
			reads++
		default:
			writes++
		}
	}
	switch {
	case writes == 0:
		return KindRead
	case reads == 0:
		return KindWrite
	default:
		return KindMixed
	}
}

func classifyStatement(r rawStatement) (Statement, error) {
	toks := r.tokens
	// (SELECT ...) UNION (SELECT ...)
	for len(toks) > 0 && toks[0].typ == tokLParen {
		toks = toks[1:]
	}
	if len(toks) == 0 || toks[0].typ != tokWord {
		return Statement{}, fmt.Errorf("statement does not start with a keyword: %q", abbreviate(r.text))
	}

	verb := toks[0].upper()
	st := Statement{Text: r.text, Verb: verb, MainVerb: verb}

	if transactionControl[verb] || isPreparedTransaction(toks) {
		return Statement{}, fmt.Errorf("%w: %s", ErrTransactionControl, verb)
	}

	switch {
	case verb == "SELECT":
		st.Class, st.Kind = ClassQuery, KindRead
		if hasWordAt(toks, "INTO", toks[0].depth) {
			st.Class, st.Kind = ClassDDL, KindWrite
		}
	case readVerbs[verb]:
		st.Class, st.Kind = ClassQuery, KindRead
	case dmlVerbs[verb]:
		st.Class, st.Kind = ClassDML, KindWrite
		st.HasReturning = hasWordAt(toks, "RETURNING", toks[0].depth)
	case verb == "WITH":
		classifyWith(&st, toks)
	case verb == "EXPLAIN":
		classifyExplain(&st, toks)
	case verb == "TRUNCATE":
		st.Class, st.Kind = ClassTruncate, KindWrite
		st.Tables = truncateTargets(toks[1:])
		st.Cascade = hasWordAt(toks, "CASCADE", toks[0].depth)
	case ddlVerbs[verb]:
		st.Class, st.Kind = ClassDDL, KindWrite
	default:
		st.Class, st.Kind = ClassOther, KindUnknown
	}
	return st, nil
}

// isPreparedTransaction matches PREPARE TRANSACTION, COMMIT PREPARED and ROLLBACK PREPARED.
func isPreparedTransaction(toks []token) bool {
	return len(toks) > 1 && toks[0].upper() == "PREPARE" && toks[1].upper() == "TRANSACTION"
}

// classifyWith walks the CTE list to the main statement and checks the whole
// statement for data-modifying verbs. A CTE is
//
//	name [(columns)] AS [NOT] [MATERIALIZED] ( body ) [SEARCH ... | CYCLE ...]
//
// Text that does not follow this shape is unknown.
func classifyWith(st *Statement, toks []token) {
	mainIdx := cteListEnd(toks)
	if mainIdx < 0 {
		st.Class, st.Kind = ClassOther, KindUnknown
		return
	}
	base := toks[0].depth
	main := toks[mainIdx].upper()
	st.MainVerb = main

	if dmlVerbs[main] {
		st.Class, st.Kind = ClassDML, KindWrite
		st.HasReturning = hasWordAt(toks[mainIdx:], "RETURNING", base)
		return
	}
	if modifiesData(toks[1:]) {
		st.Class, st.Kind = ClassOther, KindWrite
		return
	}
	if main == "SELECT" && hasWordAt(toks[mainIdx:], "INTO", base) {
		st.Class, st.Kind = ClassDDL, KindWrite
		return
	}
	st.Class, st.Kind = ClassQuery, KindRead
}

// cteListEnd returns the index of the main statement's verb after
// WITH [RECURSIVE] cte, cte ..., or -1.
func cteListEnd(toks []token) int {
	base := toks[0].depth
	i := 1
	if i < len(toks) && toks[i].upper() == "RECURSIVE" {
		i++
	}
	for {
		if i >= len(toks) || (toks[i].typ != tokWord && toks[i].typ != tokQuotedIdent) {
			return -1
		}
		i++
		if i < len(toks) && toks[i].typ == tokLParen {
			i = skipParens(toks, i)
		}
		if i >= len(toks) || toks[i].upper() != "AS" {
			return -1
		}
		i++
		if i < len(toks) && toks[i].upper() == "NOT" {
			i++
		}
		if i < len(toks) && toks[i].upper() == "MATERIALIZED" {
			i++
		}
		if i >= len(toks) || toks[i].typ != tokLParen {
			return -1
		}
		i = skipParens(toks, i)

		// SEARCH and CYCLE clauses run up to the next CTE or the main statement.
		for i < len(toks) && toks[i].depth == base && toks[i].typ != tokLParen && !isComma(toks[i]) && !statementVerb(toks[i]) {
			i++
		}
		if i >= len(toks) || toks[i].depth != base {
			return -1
		}
		if isComma(toks[i]) {
			i++
			continue
		}
		// (SELECT ...) as the main statement
		for i < len(toks) && toks[i].typ == tokLParen {
			i++
		}
		if i >= len(toks) || !statementVerb(toks[i]) {
			return -1
		}
		return i
	}
}

// skipParens returns the index after the parenthesis that closes toks[i].
func skipParens(toks []token, i int) int {
	depth := toks[i].depth
	for j := i + 1; j < len(toks); j++ {
		if toks[j].typ == tokRParen && toks[j].depth == depth {
			return j + 1
		}
	}
	return len(toks)
}

func isComma(t token) bool { return t.typ == tokOp && t.text == "," }

func statementVerb(t token) bool {
	u := t.upper()
	return readVerbs[u] || dmlVerbs[u]
}

// modifiesData reports whether tokens contain INSERT, UPDATE, DELETE or MERGE.
// UPDATE after FOR, KEY, DO or ON is a locking clause or a constraint action.
func modifiesData(toks []token) bool {
	for i, t := range toks {
		u := t.upper()
		if !dmlVerbs[u] {
			continue
		}
		if u == "UPDATE" && i > 0 {
			switch toks[i-1].upper() {
			case "FOR", "KEY", "DO", "ON":
				continue
			}
		}
		return true
	}
	return false
}

// classifyExplain treats EXPLAIN as a read unless ANALYZE executes a write.
func classifyExplain(st *Statement, toks []token) {
	st.Class, st.Kind = ClassQuery, KindRead
	analyze := false
	i := 1
	if i < len(toks) && toks[i].typ == tokLParen {
		depth := toks[i].depth
		for i++; i < len(toks) && !(toks[i].typ == tokRParen && toks[i].depth == depth); i++ {
			if u := toks[i].upper(); u == "ANALYZE" || u == "ANALYSE" {
				analyze = !isFalse(toks, i+1)
			}
		}
		i++
	}
	for ; i < len(toks) && toks[i].typ == tokWord; i++ {
		u := toks[i].upper()
		if u == "ANALYZE" || u == "ANALYSE" {
			analyze = true
			continue
		}
		if u == "VERBOSE" {
			continue
		}
		break
	}
	if i >= len(toks) {
		return
	}
	inner, err := classifyStatement(rawStatement{text: st.Text, tokens: toks[i:]})
	if err != nil {
		st.Class, st.Kind = ClassOther, KindUnknown
		return
	}
	st.MainVerb = inner.MainVerb
	if analyze && inner.Kind != KindRead {
		st.Class, st.Kind = ClassOther, KindWrite
	}
}

func isFalse(toks []token, i int) bool {
	if i >= len(toks) {
		return false
	}
	switch toks[i].upper() {
	case "FALSE", "OFF":
		return true
	}
	return toks[i].typ == tokNumber && toks[i].text == "0"
}

// truncateTargets collects table names of TRUNCATE [TABLE] [ONLY] a, b ...
func truncateTargets(toks []token) []string {
	var (
		out []string
		cur strings.Builder
	)
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, t := range toks {
		switch u := t.upper(); {
		case u == "TABLE" || u == "ONLY":
			continue
		case u == "RESTART" || u == "CONTINUE" || u == "CASCADE" || u == "RESTRICT":
			flush()
			return out
		}
		switch {
		case t.typ == tokWord || t.typ == tokQuotedIdent:
			cur.WriteString(t.text)
		case t.typ == tokOp && t.text == ".":
			cur.WriteString(".")
		case t.typ == tokOp && t.text == ",":
			flush()
		}
	}
	flush()
	return out
}

func hasWordAt(toks []token, word string, depth int) bool {
	for _, t := range toks {
		if t.depth == depth && t.upper() == word {
			return true
		}
	}
	return false
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 40 {
		return s[:40] + "..."
	}
	return s
}

var sqlVerbs = map[string]bool{
	"SELECT": true, "WITH": true, "INSERT": true, "UPDATE": true, "DELETE": true,
	"MERGE": true, "CREATE": true, "ALTER": true, "DROP": true, "TRUNCATE": true,
	"SHOW": true, "EXPLAIN": true, "VALUES": true, "TABLE": true, "COMMENT": true,
	"GRANT": true, "REVOKE": true,
}

// LooksLikeSQL reports whether a REPL line is SQL typed by the user rather
// than a question: it must start with a SQL verb and end with a semicolon.
func LooksLikeSQL(line string) bool {
	line = strings.TrimSpace(line)
	if !strings.HasSuffix(line, ";") {
		return false
	}
	fields := strings.Fields(strings.TrimLeft(line, "("))
	if len(fields) == 0 {
		return false
	}
	first := strings.ToUpper(strings.TrimRight(fields[0], ";"))
	return sqlVerbs[first]
}
