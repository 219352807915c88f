// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"testing"

	"psqlm/cli/internal/classify"
)

func TestPreviewSQL(t *testing.T) {
	tests := []struct {
		name      string
		sql       string
		want      string
		captured  bool
	}{
		{"delete", "DELETE FROM users WHERE id = 1;", "DELETE FROM users WHERE id = 1 RETURNING *", true},
		{"update", "UPDATE users SET name = 'x'", "UPDATE users SET name = 'x' RETURNING *", true},
		{"insert select", "INSERT INTO a SELECT * FROM b LIMIT 5", "INSERT INTO a SELECT * FROM b LIMIT 5 RETURNING *", true},
		{"trailing comment dropped", "DELETE FROM t -- all of it", "DELETE FROM t RETURNING *", true},
		{"explicit returning kept", "DELETE FROM t RETURNING id", "DELETE FROM t RETURNING id", true},
		{"merge with returning", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE RETURNING t.id", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE RETURNING t.id", true},
		{"cte main delete", "WITH o AS (SELECT 1) DELETE FROM t", "WITH o AS (SELECT 1) DELETE FROM t RETURNING *", true},
		{"merge untouched", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE", "MERGE INTO t USING s ON t.id = s.id WHEN MATCHED THEN DELETE", false},
		{"select untouched", "SELECT 1", "SELECT 1", false},
		{"ddl untouched", "DROP TABLE t", "DROP TABLE t", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := classify.Classify("", tt.sql)
			if err != nil {
				t.Fatal(err)
			}
			got, captured := PreviewSQL(c.Statements[0])
			if got != tt.want || captured != tt.captured {
				t.Errorf("PreviewSQL() = (%q, %v), want (%q, %v)", got, captured, tt.want, tt.captured)
			}
		})
	}
}

func TestCountSQL(t *testing.T) {
	if got := CountSQL(`public."Audit"`); got != `SELECT count(*) FROM public."Audit"` {
		t.Errorf("CountSQL() = %q", got)
	}
}
