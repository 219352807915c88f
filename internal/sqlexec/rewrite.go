// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"strings"

	"psqlm/cli/internal/classify"
)

// PreviewSQL returns the text to run for st inside a preview transaction and
// whether the rows it returns are the rows it affected.
//
// INSERT, UPDATE and DELETE (also as the main statement of a WITH query) get
// RETURNING * appended unless the statement already has its own RETURNING,
// which is kept as written. MERGE is left alone because RETURNING for it is
// not available on every supported server version; a MERGE written with
// RETURNING still reports its rows.
func PreviewSQL(st classify.Statement) (string, bool) {
	if st.Class != classify.ClassDML {
		return st.Text, false
	}
	if st.HasReturning {
		return st.Text, true
	}
	switch st.MainVerb {
	case "INSERT", "UPDATE", "DELETE":
		return strings.TrimRight(st.Text, " \t\r\n") + " RETURNING *", true
	}
	return st.Text, false
}

// CountSQL builds the pre-read that sizes a TRUNCATE target. The table name
// comes from lexed identifier tokens, never from string literals.
func CountSQL(table string) string {
	return "SELECT count(*) FROM " + table
}

// TruncateCascadeSQL lists, as regclass text, the tables TRUNCATE ... CASCADE
// empties besides the ones named in $1 (text[]): every table that references
// them through a foreign key, transitively.
const TruncateCascadeSQL = `WITH RECURSIVE dep(oid) AS (
	SELECT t::regclass::oid FROM unnest($1::text[]) AS t
	UNION
	SELECT c.conrelid FROM pg_constraint c JOIN dep ON c.confrelid = dep.oid WHERE c.contype = 'f'
)
SELECT d.oid::regclass::text FROM dep d
WHERE d.oid <> ALL (SELECT t::regclass::oid FROM unnest($1::text[]) AS t)
ORDER BY 1`
