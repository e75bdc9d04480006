// Package table defines the ResultTable exchanged across component
// boundaries: an ordered header list plus rows keyed by those headers.
package table

import (
	"fmt"
	"sort"
)

// Row maps a column name to its value.
type Row map[string]any

// Table is an ordered set of columns and rows. Every row carries exactly the
// columns listed in Headers; constructors fill absent cells with "".
type Table struct {
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// New builds a Table from headers and rows. Cells missing from a row are set
// to the empty string and cells not named in headers are dropped, so the
// result never contains partial rows. Input rows are not modified.
func New(headers []string, rows []Row) Table {
	hs := dedupe(headers)
	out := make([]Row, len(rows))
	for i, r := range rows {
		nr := make(Row, len(hs))
		for _, h := range hs {
			if v, ok := r[h]; ok && v != nil {
				nr[h] = v
			} else {
				nr[h] = ""
			}
		}
		out[i] = nr
	}
	return Table{Headers: hs, Rows: out}
}

// FromRecords builds a Table from rows whose headers are inferred in
// first-seen order. Keys within a single row are visited in sorted order,
// which keeps inference deterministic for map-backed rows.
func FromRecords(rows []Row) Table {
	var headers []string
	seen := make(map[string]bool)
	for _, r := range rows {
		keys := make([]string, 0, len(r))
		for k := range r {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				headers = append(headers, k)
			}
		}
	}
	return New(headers, rows)
}

// Empty reports whether the table has no rows.
func (t Table) Empty() bool { return len(t.Rows) == 0 }

// Len returns the number of rows.
func (t Table) Len() int { return len(t.Rows) }

// Has reports whether column is one of the headers.
func (t Table) Has(column string) bool {
	for _, h := range t.Headers {
		if h == column {
			return true
		}
	}
	return false
}

// Head returns a table with at most n rows.
func (t Table) Head(n int) Table {
	if n < 0 || n >= len(t.Rows) {
		return t
	}
	return Table{Headers: t.Headers, Rows: t.Rows[:n]}
}

// Clone returns a deep copy of the header list and rows. Cell values are
// copied by assignment; tables only carry scalar cells.
func (t Table) Clone() Table {
	hs := append([]string(nil), t.Headers...)
	rows := make([]Row, len(t.Rows))
	for i, r := range t.Rows {
		nr := make(Row, len(r))
		for k, v := range r {
			nr[k] = v
		}
		rows[i] = nr
	}
	return Table{Headers: hs, Rows: rows}
}

// Validate checks the row invariant: every row has exactly the header columns.
func (t Table) Validate() error {
	for i, r := range t.Rows {
		if len(r) != len(t.Headers) {
			return fmt.Errorf("table: row %d has %d columns, want %d", i, len(r), len(t.Headers))
		}
		for _, h := range t.Headers {
			if _, ok := r[h]; !ok {
				return fmt.Errorf("table: row %d missing column %q", i, h)
			}
		}
	}
	return nil
}

// Records returns the rows as plain maps, suitable for JSON encoding.
func (t Table) Records() []map[string]any {
	out := make([]map[string]any, len(t.Rows))
	for i, r := range t.Rows {
		out[i] = map[string]any(r)
	}
	return out
}

func dedupe(headers []string) []string {
	seen := make(map[string]bool, len(headers))
	out := make([]string, 0, len(headers))
	for _, h := range headers {
		if seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	return out
}
