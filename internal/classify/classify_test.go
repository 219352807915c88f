// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package classify

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	perrors "psqlm/cli/internal/errors"
)

func TestClassifySingleStatement(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantKind  Kind
		wantClass Class
		wantMain  string
		returning bool
	}{
		{"select", "SELECT * FROM users WHERE id = 1", KindRead, ClassQuery, "SELECT", false},
		{"lowercase select with trailing semicolon", "select 1;", KindRead, ClassQuery, "SELECT", false},
		{"select for update", "SELECT * FROM jobs FOR UPDATE SKIP LOCKED", KindRead, ClassQuery, "SELECT", false},
		{"select into creates a table", "SELECT * INTO backup FROM users", KindWrite, ClassDDL, "SELECT", false},
		{"parenthesised union", "(SELECT 1) UNION (SELECT 2)", KindRead, ClassQuery, "SELECT", false},
		{"values", "VALUES (1), (2)", KindRead, ClassQuery, "VALUES", false},
		{"show", "SHOW search_path", KindRead, ClassQuery, "SHOW", false},
		{"insert", "INSERT INTO users (name) VALUES ('a')", KindWrite, ClassDML, "INSERT", false},
		{"insert with returning", "INSERT INTO users (name) VALUES ('a') RETURNING id", KindWrite, ClassDML, "INSERT", true},
		{"upsert", "INSERT INTO t (k) VALUES (1) ON CONFLICT (k) DO UPDATE SET k = 2", KindWrite, ClassDML, "INSERT", false},
		{"update", "UPDATE users SET active = false WHERE last_login < now() - interval '1 year'", KindWrite, ClassDML, "UPDATE", false},
		{"delete", "DELETE FROM sessions", KindWrite, ClassDML, "DELETE", false},
		{"merge", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE", KindWrite, ClassDML, "MERGE", false},
		{"create table", "CREATE TABLE audit (id serial PRIMARY KEY)", KindWrite, ClassDDL, "CREATE", false},
		{"alter table", "ALTER TABLE users ADD COLUMN age int", KindWrite, ClassDDL, "ALTER", false},
		{"drop", "DROP INDEX users_email_idx", KindWrite, ClassDDL, "DROP", false},
		{"truncate", "TRUNCATE users", KindWrite, ClassTruncate, "TRUNCATE", false},
		{"set is unknown", "SET statement_timeout = 0", KindUnknown, ClassOther, "SET", false},
		{"do block is unknown", "DO $$ BEGIN DELETE FROM t; END $$", KindUnknown, ClassOther, "DO", false},
		{"vacuum is unknown", "VACUUM ANALYZE users", KindUnknown, ClassOther, "VACUUM", false},
		{"cte read", "WITH recent AS (SELECT * FROM orders WHERE ts > now()) SELECT count(*) FROM recent", KindRead, ClassQuery, "SELECT", false},
		{"cte with locking read", "WITH x AS (SELECT * FROM t FOR NO KEY UPDATE) SELECT * FROM x", KindRead, ClassQuery, "SELECT", false},
		{"cte feeding delete", "WITH old AS (SELECT id FROM t WHERE ts < now()) DELETE FROM t USING old WHERE t.id = old.id", KindWrite, ClassDML, "DELETE", false},
		{"data modifying cte", "WITH gone AS (DELETE FROM t RETURNING *) SELECT count(*) FROM gone", KindWrite, ClassOther, "SELECT", false},
		{"cte insert with returning", "WITH s AS (SELECT 1 AS v) INSERT INTO t SELECT v FROM s RETURNING *", KindWrite, ClassDML, "INSERT", true},
		{"returning inside cte only", "WITH d AS (DELETE FROM a RETURNING id) INSERT INTO b SELECT id FROM d", KindWrite, ClassDML, "INSERT", false},
		{"cte named like a read verb", "WITH show AS (DELETE FROM users WHERE age > 30 RETURNING id) SELECT count(*) FROM show", KindWrite, ClassOther, "SELECT", false},
		{"cte named values feeding insert", "WITH values AS (SELECT 1 AS v) INSERT INTO t SELECT v FROM values", KindWrite, ClassDML, "INSERT", false},
		{"recursive cte with columns", "WITH RECURSIVE r(n) AS (SELECT 1 UNION ALL SELECT n + 1 FROM r WHERE n < 5) SELECT * FROM r", KindRead, ClassQuery, "SELECT", false},
		{"materialized ctes", "WITH a AS MATERIALIZED (SELECT 1), b AS NOT MATERIALIZED (SELECT 2) TABLE a", KindRead, ClassQuery, "TABLE", false},
		{"cte with search clause", "WITH RECURSIVE t(id, parent) AS (SELECT id, parent FROM tree) SEARCH DEPTH FIRST BY id SET ord SELECT * FROM t ORDER BY ord", KindRead, ClassQuery, "SELECT", false},
		{"cte with parenthesised main", "WITH a AS (SELECT 1 AS x) (SELECT x FROM a)", KindRead, ClassQuery, "SELECT", false},
		{"malformed cte list is unknown", "WITH a (SELECT 1) SELECT 2", KindUnknown, ClassOther, "WITH", false},
		{"explain", "EXPLAIN SELECT * FROM users", KindRead, ClassQuery, "SELECT", false},
		{"explain analyze of cte named like a read verb", "EXPLAIN ANALYZE WITH show AS (DELETE FROM users RETURNING id) SELECT * FROM show", KindWrite, ClassOther, "SELECT", false},
		{"explain delete without analyze", "EXPLAIN DELETE FROM users", KindRead, ClassQuery, "DELETE", false},
		{"explain analyze delete", "EXPLAIN ANALYZE DELETE FROM users", KindWrite, ClassOther, "DELETE", false},
		{"explain options analyze", "EXPLAIN (ANALYZE, BUFFERS) UPDATE t SET x = 1", KindWrite, ClassOther, "UPDATE", false},
		{"explain analyze off", "EXPLAIN (ANALYZE false) DELETE FROM t", KindRead, ClassQuery, "DELETE", false},
		{"explain analyze select", "EXPLAIN ANALYZE SELECT 1", KindRead, ClassQuery, "SELECT", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify("q", tt.sql)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if len(c.Statements) != 1 {
				t.Fatalf("got %d statements, want 1", len(c.Statements))
			}
			st := c.Statements[0]
			if st.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", st.Kind, tt.wantKind)
			}
			if st.Class != tt.wantClass {
				t.Errorf("Class = %v, want %v", st.Class, tt.wantClass)
			}
			if st.MainVerb != tt.wantMain {
				t.Errorf("MainVerb = %q, want %q", st.MainVerb, tt.wantMain)
			}
			if st.HasReturning != tt.returning {
				t.Errorf("HasReturning = %v, want %v", st.HasReturning, tt.returning)
			}
			if c.Kind.RequiresPreview() != (tt.wantKind != KindRead) {
				t.Errorf("RequiresPreview() = %v for kind %v", c.Kind.RequiresPreview(), tt.wantKind)
			}
		})
	}
}

func TestClassifyBatch(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		wantKind  Kind
		wantTexts []string
	}{
		{
			name:      "all reads",
			sql:       "SELECT 1; SELECT 2;",
			wantKind:  KindRead,
			wantTexts: []string{"SELECT 1", "SELECT 2"},
		},
		{
			name:      "all writes",
			sql:       "INSERT INTO a VALUES (1);\nUPDATE b SET x = 2",
			wantKind:  KindWrite,
			wantTexts: []string{"INSERT INTO a VALUES (1)", "UPDATE b SET x = 2"},
		},
		{
			name:      "mixed",
			sql:       "UPDATE a SET x = 1; SELECT * FROM a",
			wantKind:  KindMixed,
			wantTexts: []string{"UPDATE a SET x = 1", "SELECT * FROM a"},
		},
		{
			name:      "unknown wins",
			sql:       "SELECT 1; LOCK TABLE a",
			wantKind:  KindUnknown,
			wantTexts: []string{"SELECT 1", "LOCK TABLE a"},
		},
		{
			name:      "semicolons inside literals do not split",
			sql:       "INSERT INTO notes (body) VALUES ('a; b'); SELECT \"weird;name\" FROM t",
			wantKind:  KindMixed,
			wantTexts: []string{"INSERT INTO notes (body) VALUES ('a; b')", "SELECT \"weird;name\" FROM t"},
		},
		{
			name:      "dollar quoted function body",
			sql:       "CREATE FUNCTION f() RETURNS int AS $body$ SELECT 1; $body$ LANGUAGE sql;",
			wantKind:  KindWrite,
			wantTexts: []string{"CREATE FUNCTION f() RETURNS int AS $body$ SELECT 1; $body$ LANGUAGE sql"},
		},
		{
			name:      "comments and empty statements dropped",
			sql:       "-- cleanup\nDELETE FROM t /* all */ ;; -- trailing\n",
			wantKind:  KindWrite,
			wantTexts: []string{"DELETE FROM t"},
		},
		{
			name:      "escape string with backslash quote",
			sql:       `SELECT E'it\'s; fine'; SELECT 'it''s'`,
			wantKind:  KindRead,
			wantTexts: []string{`SELECT E'it\'s; fine'`, `SELECT 'it''s'`},
		},
		{
			name:      "nested block comment",
			sql:       "SELECT /* outer /* inner; */ still */ 1",
			wantKind:  KindRead,
			wantTexts: []string{"SELECT /* outer /* inner; */ still */ 1"},
		},
		{
			name:      "positional parameter and cast",
			sql:       "SELECT $1::int",
			wantKind:  KindRead,
			wantTexts: []string{"SELECT $1::int"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify("q", tt.sql)
			if err != nil {
				t.Fatalf("Classify() error = %v", err)
			}
			if c.Kind != tt.wantKind {
				t.Errorf("Kind = %v, want %v", c.Kind, tt.wantKind)
			}
			var texts []string
			for _, s := range c.Statements {
				texts = append(texts, s.Text)
			}
			if diff := cmp.Diff(tt.wantTexts, texts); diff != "" {
				t.Errorf("statement texts mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClassifyErrors(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		is   error
	}{
		{"empty", "   ", ErrEmpty},
		{"only comment", "-- nothing here", ErrEmpty},
		{"begin", "BEGIN; DELETE FROM t; COMMIT", ErrTransactionControl},
		{"commit at end", "DELETE FROM t; COMMIT;", ErrTransactionControl},
		{"savepoint", "SAVEPOINT a", ErrTransactionControl},
		{"prepare transaction", "PREPARE TRANSACTION 'x'", ErrTransactionControl},
		{"unterminated string", "SELECT 'oops", nil},
		{"unterminated identifier", `SELECT "oops`, nil},
		{"unterminated comment", "SELECT 1 /* oops", nil},
		{"unterminated dollar quote", "DO $$ BEGIN", nil},
		{"unbalanced close paren", "SELECT 1)", nil},
		{"unbalanced open paren", "SELECT (1", nil},
		{"not sql", "42 is the answer", nil},
		{"prose punctuation", "* SELECT 1", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := Classify("q", tt.sql)
			if err == nil {
				t.Fatalf("Classify() = %+v, want error", c)
			}
			if !perrors.Is(err, perrors.ClassificationError) {
				t.Errorf("error kind = %v, want ClassificationError", err)
			}
			if perrors.SQLOf(err) == "" && tt.sql != "   " {
				t.Error("expected SQL text attached to the error")
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("error = %v, want %v in chain", err, tt.is)
			}
		})
	}
}

func TestClassifyFailsWholeBatch(t *testing.T) {
	_, err := Classify("q", "INSERT INTO a VALUES (1); SELECT 'broken")
	if err == nil {
		t.Fatal("expected error for batch with an unterminated literal")
	}
	_, err = Classify("q", "UPDATE a SET x = 1; ROLLBACK")
	if !errors.Is(err, ErrTransactionControl) {
		t.Fatalf("error = %v, want ErrTransactionControl", err)
	}
}

func TestTruncateTargets(t *testing.T) {
	c, err := Classify("q", `TRUNCATE TABLE ONLY public.users, "Audit Log" RESTART IDENTITY CASCADE`)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"public.users", `"Audit Log"`}
	if diff := cmp.Diff(want, c.Statements[0].Tables); diff != "" {
		t.Errorf("Tables mismatch (-want +got):\n%s", diff)
	}
	if !c.Statements[0].Cascade {
		t.Error("Cascade = false for TRUNCATE ... CASCADE")
	}

	c, err = Classify("q", "TRUNCATE orders RESTRICT")
	if err != nil {
		t.Fatal(err)
	}
	if c.Statements[0].Cascade {
		t.Error("Cascade = true for TRUNCATE ... RESTRICT")
	}
}

func TestCandidateHasDDL(t *testing.T) {
	c, _ := Classify("q", "ALTER TABLE t ADD COLUMN x int; UPDATE t SET x = 1")
	if !c.HasDDL() {
		t.Error("expected HasDDL for batch with ALTER")
	}
	c, _ = Classify("q", "UPDATE t SET x = 1")
	if c.HasDDL() {
		t.Error("unexpected HasDDL for plain UPDATE")
	}
}

func TestLooksLikeSQL(t *testing.T) {
	tests := []struct {
		line string
		want bool
	}{
		{"select * from users;", true},
		{"  DELETE FROM t WHERE id = 3;  ", true},
		{"(select 1) union (select 2);", true},
		{"show me all users", false},
		{"select the users older than 30", false},
		{"how many orders;", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			if got := LooksLikeSQL(tt.line); got != tt.want {
				t.Errorf("LooksLikeSQL(%q) = %v, want %v", tt.line, got, tt.want)
			}
		})
	}
}
