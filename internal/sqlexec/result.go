// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package sqlexec

import (
	"encoding/json"
	"fmt"
	"math/big"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// Result is a normalized result set of a single statement.
type Result struct {
	Columns      []string `json:"columns"`
	Rows         [][]any  `json:"rows"`
	RowsAffected int64    `json:"rows_affected"`
	// Tag is the server command tag, e.g. "UPDATE 3".
	Tag     string   `json:"tag,omitempty"`
	Notices []string `json:"notices,omitempty"`
}

// Maps returns the rows as column -> value maps, preserving row order.
func (r *Result) Maps() []map[string]any {
	if r == nil {
		return nil
	}
	out := make([]map[string]any, 0, len(r.Rows))
	for _, row := range r.Rows {
		m := make(map[string]any, len(r.Columns))
		for i, c := range r.Columns {
			if i < len(row) {
				m[c] = row[i]
			}
		}
		out = append(out, m)
	}
	return out
}

// StringRows renders every value with FormatValue.
func (r *Result) StringRows() [][]string {
	out := make([][]string, len(r.Rows))
	for i, row := range r.Rows {
		out[i] = make([]string, len(row))
		for j, v := range row {
			out[i][j] = FormatValue(v)
		}
	}
	return out
}

// MarshalJSON implements custom JSON marshaling for Result to handle pgx types properly.
func (r Result) MarshalJSON() ([]byte, error) {
	type Alias Result
	a := Alias(r)
	if a.Columns == nil {
		a.Columns = []string{}
	}
	serializable := make([][]any, len(r.Rows))
	for i, row := range r.Rows {
		serializable[i] = make([]any, len(row))
		for j, val := range row {
			serializable[i][j] = jsonValue(val)
		}
	}
	a.Rows = serializable
	return json.Marshal(a)
}

func jsonValue(val any) any {
	switch v := val.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(v).String()
	case []byte:
		return fmt.Sprintf("\\x%x", v)
	case pgtype.Numeric:
		return FormatValue(v)
	case time.Time, string, bool, int16, int32, int64, float32, float64:
		return v
	case map[string]any, []any:
		return v
	}
	if _, ok := val.(json.Marshaler); ok {
		return val
	}
	return FormatValue(val)
}

// FormatValue renders a decoded pgx value the way psql would print it.
func FormatValue(val any) string {
	switch v := val.(type) {
	case nil:
		return "NULL"
	case string:
		return v
	case [16]byte:
		return uuid.UUID(v).String()
	case []byte:
		return fmt.Sprintf("\\x%x", v)
	case bool:
		if v {
			return "t"
		}
		return "f"
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 && v.Location() == time.UTC {
			return v.Format(time.DateOnly)
		}
		return v.Format("2006-01-02 15:04:05.999999Z07:00")
	case pgtype.Numeric:
		return formatNumeric(v)
	case netip.Prefix:
		return v.String()
	case time.Duration:
		return v.String()
	case pgtype.Interval:
		if b, err := v.Value(); err == nil && b != nil {
			return fmt.Sprint(b)
		}
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err == nil {
			return string(b)
		}
	case fmt.Stringer:
		return v.String()
	}
	return fmt.Sprint(val)
}

func formatNumeric(n pgtype.Numeric) string {
	if !n.Valid {
		return "NULL"
	}
	if n.NaN {
		return "NaN"
	}
	if n.InfinityModifier == pgtype.Infinity {
		return "Infinity"
	}
	if n.InfinityModifier == pgtype.NegativeInfinity {
		return "-Infinity"
	}
	if n.Int == nil {
		return "0"
	}
	digits := new(big.Int).Abs(n.Int).String()
	sign := ""
	if n.Int.Sign() < 0 {
		sign = "-"
	}
	if n.Exp >= 0 {
		return sign + digits + strings.Repeat("0", int(n.Exp))
	}
	scale := int(-n.Exp)
	if len(digits) <= scale {
		digits = strings.Repeat("0", scale-len(digits)+1) + digits
	}
	point := len(digits) - scale
	return sign + digits[:point] + "." + digits[point:]
}
