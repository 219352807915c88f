// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"psqlm/cli/internal/schema"
)

const userSchemas = `NOT IN ('pg_catalog', 'information_schema', 'pg_toast')`

var (
	columnsQuery = `
		SELECT table_schema || '.' || table_name, column_name, data_type, is_nullable, column_default
		FROM information_schema.columns
		WHERE table_schema ` + userSchemas + ` AND table_schema NOT LIKE 'pg_temp%'
		ORDER BY table_schema, table_name, ordinal_position`

	primaryKeysQuery = `
		SELECT tc.table_schema || '.' || tc.table_name, kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		WHERE tc.constraint_type = 'PRIMARY KEY'
		AND tc.table_schema ` + userSchemas + `
		ORDER BY tc.table_schema, tc.table_name, kcu.ordinal_position`

	foreignKeysQuery = `
		SELECT tc.table_schema || '.' || tc.table_name, tc.constraint_name, kcu.column_name,
			ccu.table_schema || '.' || ccu.table_name, ccu.column_name
		FROM information_schema.table_constraints AS tc
		JOIN information_schema.key_column_usage AS kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage AS ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		AND tc.table_schema ` + userSchemas + `
		ORDER BY 1, 2, kcu.ordinal_position`

	indexesQuery = `
		SELECT schemaname || '.' || tablename, indexname, indexdef
		FROM pg_indexes
		WHERE schemaname ` + userSchemas
)

// SchemaInspector builds structural snapshots from information_schema and pg_indexes.
// It runs on any Querier, so a snapshot taken inside an open transaction sees
// that transaction's uncommitted DDL.
type SchemaInspector struct {
	log *slog.Logger
}

// NewSchemaInspector creates a SchemaInspector.
func NewSchemaInspector(log *slog.Logger) *SchemaInspector {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &SchemaInspector{log: log}
}

// Snapshot introspects every user table visible to q.
func (si *SchemaInspector) Snapshot(ctx context.Context, q Querier) (*schema.Snapshot, error) {
	b := schema.NewBuilder()

	cols, err := q.Query(ctx, columnsQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect columns: %w", err)
	}
	for _, r := range cols.Rows {
		c := schema.Column{
			Name:     str(r[1]),
			DataType: str(r[2]),
			Nullable: str(r[3]) == "YES",
		}
		if r[4] != nil {
			def := str(r[4])
			c.Default = &def
		}
		b.AddColumn(str(r[0]), c)
	}

	pks, err := q.Query(ctx, primaryKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect primary keys: %w", err)
	}
	for _, r := range pks.Rows {
		b.AddPrimaryKeyColumn(str(r[0]), str(r[1]))
	}

	fks, err := q.Query(ctx, foreignKeysQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect foreign keys: %w", err)
	}
	for _, r := range fks.Rows {
		b.AddForeignKey(str(r[0]), str(r[1]), str(r[2]), str(r[3]), str(r[4]))
	}

	idx, err := q.Query(ctx, indexesQuery)
	if err != nil {
		return nil, fmt.Errorf("introspect indexes: %w", err)
	}
	for _, r := range idx.Rows {
		def := str(r[2])
		b.AddIndex(str(r[0]), schema.Index{
			Name:    str(r[1]),
			Columns: indexColumns(def),
			Unique:  strings.Contains(def, "UNIQUE INDEX"),
		})
	}

	s := b.Snapshot()
	si.log.Debug("schema introspected", "tables", len(s.Tables))
	return s, nil
}

func str(v any) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// indexColumns extracts the key list of a pg_indexes definition such as
// "CREATE INDEX i ON public.t USING btree (a, lower(b)) WHERE (c > 0)".
func indexColumns(def string) []string {
	start := strings.Index(def, " USING ")
	if start < 0 {
		start = 0
	}
	open := strings.IndexByte(def[start:], '(')
	if open < 0 {
		return nil
	}
	open += start

	var (
		out   []string
		depth int
		from  = open + 1
	)
	for i := open; i < len(def); i++ {
		switch def[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return append(out, strings.TrimSpace(def[from:i]))
			}
		case ',':
			if depth == 1 {
				out = append(out, strings.TrimSpace(def[from:i]))
				from = i + 1
			}
		}
	}
	return out
}
