// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package schema

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func strptr(s string) *string { return &s }

func sample() *Snapshot {
	b := NewBuilder()
	b.AddColumn("public.users", Column{Name: "id", DataType: "integer", Default: strptr("nextval('users_id_seq'::regclass)")})
	b.AddColumn("public.users", Column{Name: "email", DataType: "text"})
	b.AddColumn("public.orders", Column{Name: "id", DataType: "integer"})
	b.AddColumn("public.orders", Column{Name: "user_id", DataType: "integer", Nullable: true})
	b.AddPrimaryKeyColumn("public.users", "id")
	b.AddPrimaryKeyColumn("public.orders", "id")
	b.AddPrimaryKeyColumn("public.missing", "id")
	b.AddForeignKey("public.orders", "orders_user_id_fkey", "user_id", "public.users", "id")
	b.AddIndex("public.users", Index{Name: "users_pkey", Columns: []string{"id"}, Unique: true})
	b.AddIndex("public.users", Index{Name: "users_email_idx", Columns: []string{"email"}})
	return b.Snapshot()
}

func TestBuilderOrdersTables(t *testing.T) {
	s := sample()
	var names []string
	for _, tbl := range s.Tables {
		names = append(names, tbl.Name)
	}
	if diff := cmp.Diff([]string{"public.orders", "public.users"}, names); diff != "" {
		t.Errorf("table order mismatch (-want +got):\n%s", diff)
	}
	users, ok := s.Table("users")
	if !ok {
		t.Fatal("users not found by bare name")
	}
	if users.Indexes[0].Name != "users_email_idx" {
		t.Errorf("indexes not sorted: %+v", users.Indexes)
	}
	if _, ok := s.Table("public.missing"); ok {
		t.Error("primary key for unknown table must not create it")
	}
}

func TestPromptString(t *testing.T) {
	got := sample().PromptString()
	want := `Table: public.orders
  Columns:
    - id integer NOT NULL
    - user_id integer NULL
  Primary Key: (id)
  Foreign Keys:
    - (user_id) -> public.users(id)

Table: public.users
  Columns:
    - id integer NOT NULL DEFAULT nextval('users_id_seq'::regclass)
    - email text NOT NULL
  Primary Key: (id)
  Indexes:
    - users_email_idx (email)
    - UNIQUE users_pkey (id)

`
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PromptString mismatch (-want +got):\n%s", diff)
	}
}

func TestForeignKeyColumnsMerge(t *testing.T) {
	b := NewBuilder()
	b.AddColumn("public.line", Column{Name: "order_id", DataType: "integer"})
	b.AddForeignKey("public.line", "line_fk", "order_id", "public.orders", "id")
	b.AddForeignKey("public.line", "line_fk", "order_rev", "public.orders", "rev")
	fks := b.Snapshot().Tables[0].ForeignKeys
	if len(fks) != 1 {
		t.Fatalf("got %d foreign keys, want 1", len(fks))
	}
	if diff := cmp.Diff([]string{"order_id", "order_rev"}, fks[0].Columns); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
}

func TestChangesAndDiff(t *testing.T) {
	before := sample()

	b := NewBuilder()
	b.AddColumn("public.users", Column{Name: "id", DataType: "integer", Default: strptr("nextval('users_id_seq'::regclass)")})
	b.AddColumn("public.users", Column{Name: "email", DataType: "text"})
	b.AddColumn("public.users", Column{Name: "age", DataType: "integer", Nullable: true})
	b.AddPrimaryKeyColumn("public.users", "id")
	b.AddIndex("public.users", Index{Name: "users_pkey", Columns: []string{"id"}, Unique: true})
	b.AddIndex("public.users", Index{Name: "users_email_idx", Columns: []string{"email"}})
	b.AddColumn("public.audit", Column{Name: "id", DataType: "bigint"})
	after := b.Snapshot()

	want := []Change{
		{Table: "public.audit", Op: "created"},
		{Table: "public.orders", Op: "dropped"},
		{Table: "public.users", Op: "altered"},
	}
	if diff := cmp.Diff(want, Changes(before, after)); diff != "" {
		t.Errorf("Changes mismatch (-want +got):\n%s", diff)
	}

	d := Diff(before, after)
	for _, line := range []string{"+    - age integer NULL", "+Table: public.audit", "-Table: public.orders"} {
		if !strings.Contains(d, line) {
			t.Errorf("diff missing %q:\n%s", line, d)
		}
	}
	if strings.Contains(d, "-    - email text NOT NULL") {
		t.Errorf("unchanged column reported as removed:\n%s", d)
	}
}

func TestDiffIdentical(t *testing.T) {
	if d := Diff(sample(), sample()); d != "" {
		t.Errorf("Diff of identical snapshots = %q", d)
	}
}
