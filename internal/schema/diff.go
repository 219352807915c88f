// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

package schema

import (
	"fmt"
	"sort"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/hexops/gotextdiff/span"
)

// Change summarises how one table differs between two snapshots.
type Change struct {
	Table string
	// Op is "created", "dropped" or "altered".
	Op string
}

// Changes lists tables that were created, dropped or altered from before to after.
func Changes(before, after *Snapshot) []Change {
	old := tableTexts(before)
	cur := tableTexts(after)
	var out []Change
	for name, text := range cur {
		prev, ok := old[name]
		switch {
		case !ok:
			out = append(out, Change{Table: name, Op: "created"})
		case prev != text:
			out = append(out, Change{Table: name, Op: "altered"})
		}
	}
	for name := range old {
		if _, ok := cur[name]; !ok {
			out = append(out, Change{Table: name, Op: "dropped"})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Table < out[j].Table })
	return out
}

// Diff returns a unified diff of the prompt rendering of the changed tables.
// It is empty when the snapshots are structurally identical.
func Diff(before, after *Snapshot) string {
	changes := Changes(before, after)
	if len(changes) == 0 {
		return ""
	}
	old := tableTexts(before)
	cur := tableTexts(after)

	var oldText, newText string
	for _, c := range changes {
		oldText += old[c.Table]
		newText += cur[c.Table]
	}
	edits := myers.ComputeEdits(span.URIFromPath("before/schema"), oldText, newText)
	return fmt.Sprint(gotextdiff.ToUnified("before/schema", "after/schema", oldText, edits))
}

func tableTexts(s *Snapshot) map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for _, t := range s.Tables {
		out[t.Name] = t.PromptString()
	}
	return out
}
