// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"encoding/json"
	"math/big"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

func TestFormatValue(t *testing.T) {
	id := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"string", "alice", "alice"},
		{"int", int64(42), "42"},
		{"bool true", true, "t"},
		{"bool false", false, "f"},
		{"uuid", id, "550e8400-e29b-41d4-a716-446655440000"},
		{"bytea", []byte{0xde, 0xad}, `\xdead`},
		{"date", time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), "2024-03-01"},
		{"timestamp", time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), "2024-03-01 12:30:00Z"},
		{"numeric", pgtype.Numeric{Int: big.NewInt(12345), Exp: -2, Valid: true}, "123.45"},
		{"small numeric", pgtype.Numeric{Int: big.NewInt(5), Exp: -3, Valid: true}, "0.005"},
		{"negative numeric", pgtype.Numeric{Int: big.NewInt(-15), Exp: -1, Valid: true}, "-1.5"},
		{"scaled numeric", pgtype.Numeric{Int: big.NewInt(7), Exp: 2, Valid: true}, "700"},
		{"nan", pgtype.Numeric{NaN: true, Valid: true}, "NaN"},
		{"json object", map[string]any{"a": float64(1)}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatValue(tt.in); got != tt.want {
				t.Errorf("FormatValue() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultMaps(t *testing.T) {
	r := &Result{Columns: []string{"id", "name"}, Rows: [][]any{{int64(1), "a"}, {int64(2), nil}}}
	m := r.Maps()
	if len(m) != 2 || m[0]["name"] != "a" || m[1]["name"] != nil || m[1]["id"] != int64(2) {
		t.Errorf("Maps() = %v", m)
	}
	var nilResult *Result
	if nilResult.Maps() != nil {
		t.Error("Maps() on nil result should be nil")
	}
}

func TestResultMarshalJSON(t *testing.T) {
	id := [16]byte{0x55, 0x0e, 0x84, 0x00, 0xe2, 0x9b, 0x41, 0xd4, 0xa7, 0x16, 0x44, 0x66, 0x55, 0x44, 0x00, 0x00}
	r := Result{
		Columns:      []string{"id", "price", "blob"},
		Rows:         [][]any{{id, pgtype.Numeric{Int: big.NewInt(995), Exp: -2, Valid: true}, []byte{0x01}}},
		RowsAffected: 1,
		Tag:          "DELETE 1",
	}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatal(err)
	}
	var got struct {
		Columns []string `json:"columns"`
		Rows    [][]any  `json:"rows"`
		Tag     string   `json:"tag"`
	}
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	row := got.Rows[0]
	if row[0] != "550e8400-e29b-41d4-a716-446655440000" {
		t.Errorf("uuid = %v", row[0])
	}
	if row[1] != "9.95" {
		t.Errorf("numeric = %v", row[1])
	}
	if row[2] != `\x01` {
		t.Errorf("bytea = %v", row[2])
	}
	if got.Tag != "DELETE 1" {
		t.Errorf("tag = %q", got.Tag)
	}
}
