// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package schema holds structural snapshots of a database: tables, columns,
// keys and indexes. A snapshot is rendered into the model prompt and two
// snapshots are diffed to describe the effect of DDL.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Snapshot is a point-in-time view of user tables, sorted by name.
type Snapshot struct {
	Tables []Table `json:"tables"`
}

// Table describes one relation.
type Table struct {
	// Name is schema-qualified, e.g. public.users.
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	PrimaryKey  []string     `json:"primary_key,omitempty"`
	ForeignKeys []ForeignKey `json:"foreign_keys,omitempty"`
	Indexes     []Index      `json:"indexes,omitempty"`
}

type Column struct {
	Name     string  `json:"name"`
	DataType string  `json:"data_type"`
	Nullable bool    `json:"nullable"`
	Default  *string `json:"default,omitempty"`
}

type ForeignKey struct {
	Name              string   `json:"name"`
	Columns           []string `json:"columns"`
	ReferencesTable   string   `json:"references_table"`
	ReferencesColumns []string `json:"references_columns"`
}

type Index struct {
	Name    string   `json:"name"`
	Columns []string `json:"columns"`
	Unique  bool     `json:"unique"`
}

// Builder accumulates introspection rows into a Snapshot.
type Builder struct {
	tables map[string]*Table
}

func NewBuilder() *Builder {
	return &Builder{tables: make(map[string]*Table)}
}

func (b *Builder) table(name string) *Table {
	t, ok := b.tables[name]
	if !ok {
		t = &Table{Name: name}
		b.tables[name] = t
	}
	return t
}

// AddColumn registers a column; columns arrive in ordinal order.
func (b *Builder) AddColumn(table string, c Column) {
	t := b.table(table)
	t.Columns = append(t.Columns, c)
}

// AddPrimaryKeyColumn appends to the primary key of a known table.
func (b *Builder) AddPrimaryKeyColumn(table, column string) {
	if t, ok := b.tables[table]; ok {
		t.PrimaryKey = append(t.PrimaryKey, column)
	}
}

// AddForeignKey adds a single-column reference to a known table, merging
// columns that belong to the same constraint.
func (b *Builder) AddForeignKey(table, constraint, column, refTable, refColumn string) {
	t, ok := b.tables[table]
	if !ok {
		return
	}
	for i := range t.ForeignKeys {
		fk := &t.ForeignKeys[i]
		if fk.Name == constraint {
			fk.Columns = appendUnique(fk.Columns, column)
			fk.ReferencesColumns = appendUnique(fk.ReferencesColumns, refColumn)
			return
		}
	}
	t.ForeignKeys = append(t.ForeignKeys, ForeignKey{
		Name:              constraint,
		Columns:           []string{column},
		ReferencesTable:   refTable,
		ReferencesColumns: []string{refColumn},
	})
}

// AddIndex adds an index to a known table.
func (b *Builder) AddIndex(table string, idx Index) {
	if t, ok := b.tables[table]; ok {
		t.Indexes = append(t.Indexes, idx)
	}
}

// Snapshot returns the accumulated tables in a deterministic order.
func (b *Builder) Snapshot() *Snapshot {
	s := &Snapshot{Tables: make([]Table, 0, len(b.tables))}
	for _, t := range b.tables {
		sort.Slice(t.Indexes, func(i, j int) bool { return t.Indexes[i].Name < t.Indexes[j].Name })
		sort.SliceStable(t.ForeignKeys, func(i, j int) bool {
			return strings.Join(t.ForeignKeys[i].Columns, ",") < strings.Join(t.ForeignKeys[j].Columns, ",")
		})
		s.Tables = append(s.Tables, *t)
	}
	sort.Slice(s.Tables, func(i, j int) bool { return s.Tables[i].Name < s.Tables[j].Name })
	return s
}

func appendUnique(list []string, v string) []string {
	for _, x := range list {
		if x == v {
			return list
		}
	}
	return append(list, v)
}

// Len returns the number of tables; a nil snapshot has none.
func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.Tables)
}

// Table looks a table up by qualified name, or by bare name in public.
func (s *Snapshot) Table(name string) (*Table, bool) {
	if s == nil {
		return nil, false
	}
	if !strings.Contains(name, ".") {
		name = "public." + name
	}
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i], true
		}
	}
	return nil, false
}

// PromptString renders the snapshot as plain text for the model prompt.
func (s *Snapshot) PromptString() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, t := range s.Tables {
		b.WriteString(t.PromptString())
		b.WriteString("\n")
	}
	return b.String()
}

// PromptString renders a single table.
func (t Table) PromptString() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Table: %s\n", t.Name)
	b.WriteString("  Columns:\n")
	for _, c := range t.Columns {
		nullable := "NOT NULL"
		if c.Nullable {
			nullable = "NULL"
		}
		def := ""
		if c.Default != nil {
			def = " DEFAULT " + *c.Default
		}
		fmt.Fprintf(&b, "    - %s %s %s%s\n", c.Name, c.DataType, nullable, def)
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "  Primary Key: (%s)\n", strings.Join(t.PrimaryKey, ", "))
	}
	if len(t.ForeignKeys) > 0 {
		b.WriteString("  Foreign Keys:\n")
		for _, fk := range t.ForeignKeys {
			fmt.Fprintf(&b, "    - (%s) -> %s(%s)\n",
				strings.Join(fk.Columns, ", "), fk.ReferencesTable, strings.Join(fk.ReferencesColumns, ", "))
		}
	}
	if len(t.Indexes) > 0 {
		b.WriteString("  Indexes:\n")
		for _, idx := range t.Indexes {
			unique := ""
			if idx.Unique {
				unique = "UNIQUE "
			}
			fmt.Fprintf(&b, "    - %s%s (%s)\n", unique, idx.Name, strings.Join(idx.Columns, ", "))
		}
	}
	return b.String()
}
