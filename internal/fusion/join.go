package fusion

import (
	"fmt"

	"github.com/dusk-indust/querydesk/internal/normalize"
	"github.com/dusk-indust/querydesk/internal/table"
)

// KeyColumn is the column holding the join key in joined rows.
const KeyColumn = "join_key"

// Key column candidates, in order of preference.
var (
	LeftKeyCandidates  = []string{"pagePath", "pagePathPlusQueryString", "landingPage", "url", "URL", "page"}
	RightKeyCandidates = []string{"Address", "address", "url", "URL"}
)

// JoinOptions configures Join.
type JoinOptions struct {
	// Normalizer derives join keys; the zero value uses the default policy.
	Normalizer normalize.Normalizer

	// RightSuffix names the right side when renaming colliding columns.
	RightSuffix string
}

// FusedResult is the outcome of joining two tables on a normalized URL key.
type FusedResult struct {
	Left  table.Table `json:"-"`
	Right table.Table `json:"-"`

	// Joined holds merged rows: the key, then left columns, then right
	// columns, with right columns that collide renamed <name>_<suffix>.
	Joined table.Table `json:"joined"`

	UnmatchedLeft  table.Table `json:"unmatched_left"`
	UnmatchedRight table.Table `json:"unmatched_right"`

	// LeftKey and RightKey name the columns the join used; empty when a
	// side has no usable key column.
	LeftKey  string `json:"left_key,omitempty"`
	RightKey string `json:"right_key,omitempty"`

	// PathOnly reports that keys were reduced to paths because one side
	// carries no host.
	PathOnly bool `json:"path_only,omitempty"`

	// LeftMissing and RightMissing carry the reason a side is absent.
	LeftMissing  string `json:"left_missing,omitempty"`
	RightMissing string `json:"right_missing,omitempty"`
}

// Partial reports whether one side is missing.
func (f FusedResult) Partial() bool {
	return f.LeftMissing != "" || f.RightMissing != ""
}

// Join matches left rows to right rows whose normalized key is equal. Every
// input row ends up either in Joined or in its side's unmatched set, in
// input order. When several right rows share a key the first is joined and
// the rest are unmatched; several left rows may join the same right row.
func Join(left, right table.Table, opts JoinOptions) FusedResult {
	suffix := opts.RightSuffix
	if suffix == "" {
		suffix = "right"
	}
	res := FusedResult{
		Left:           left,
		Right:          right,
		UnmatchedLeft:  table.New(left.Headers, nil),
		UnmatchedRight: table.New(right.Headers, nil),
		LeftKey:        pickKey(left, LeftKeyCandidates),
		RightKey:       pickKey(right, RightKeyCandidates),
	}

	rename := renamedColumns(left.Headers, right.Headers, suffix)
	headers := []string{KeyColumn}
	headers = append(headers, left.Headers...)
	for _, h := range right.Headers {
		headers = append(headers, rename[h])
	}

	if res.LeftKey == "" || res.RightKey == "" {
		res.Joined = table.New(headers, nil)
		res.UnmatchedLeft = left.Clone()
		res.UnmatchedRight = right.Clone()
		return res
	}

	n := opts.Normalizer
	res.PathOnly = !allHaveHost(n, left, res.LeftKey) || !allHaveHost(n, right, res.RightKey)
	key := n.Key
	if res.PathOnly {
		key = n.PathKey
	}

	// The first right row per key is indexed; blank and duplicate keys are
	// never matched.
	index := make(map[string]int, right.Len())
	for i, r := range right.Rows {
		raw := cellString(r[res.RightKey])
		if raw == "" {
			continue
		}
		if k := key(raw); !hasKey(index, k) {
			index[k] = i
		}
	}

	used := make(map[int]bool)
	var joined, unmatchedLeft []table.Row
	for _, l := range left.Rows {
		raw := cellString(l[res.LeftKey])
		if raw == "" {
			unmatchedLeft = append(unmatchedLeft, l)
			continue
		}
		k := key(raw)
		ri, ok := index[k]
		if !ok {
			unmatchedLeft = append(unmatchedLeft, l)
			continue
		}
		used[ri] = true
		row := table.Row{KeyColumn: k}
		for _, h := range left.Headers {
			row[h] = l[h]
		}
		for _, h := range right.Headers {
			row[rename[h]] = right.Rows[ri][h]
		}
		joined = append(joined, row)
	}

	var unmatchedRight []table.Row
	for i, r := range right.Rows {
		if !used[i] {
			unmatchedRight = append(unmatchedRight, r)
		}
	}

	res.Joined = table.New(headers, joined)
	res.UnmatchedLeft = table.New(left.Headers, unmatchedLeft)
	res.UnmatchedRight = table.New(right.Headers, unmatchedRight)
	return res
}

func hasKey(m map[string]int, k string) bool {
	_, ok := m[k]
	return ok
}

// pickKey returns the first candidate column present in t.
func pickKey(t table.Table, candidates []string) string {
	for _, c := range candidates {
		if t.Has(c) {
			return c
		}
	}
	return ""
}

// renamedColumns maps each right column to its name in joined rows. Right
// columns that collide with a left column, or with the key column, get the
// suffix.
func renamedColumns(left, right []string, suffix string) map[string]string {
	taken := map[string]bool{KeyColumn: true}
	for _, h := range left {
		taken[h] = true
	}
	out := make(map[string]string, len(right))
	for _, h := range right {
		name := h
		for taken[name] {
			name = name + "_" + suffix
		}
		taken[name] = true
		out[h] = name
	}
	return out
}

func allHaveHost(n normalize.Normalizer, t table.Table, column string) bool {
	for _, r := range t.Rows {
		raw := cellString(r[column])
		if raw == "" {
			continue
		}
		if !n.HasHost(raw) {
			return false
		}
	}
	return true
}

func cellString(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}
