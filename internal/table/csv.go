package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

// ReadCSV decodes a CSV snapshot whose first record is the header line.
// Columns whose non-empty cells are all numeric become float64 (int64 when
// every value is integral) and their empty cells become 0; other columns keep
// their strings with empty cells as "".
func ReadCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Table{}, nil
	}
	if err != nil {
		return Table{}, fmt.Errorf("table: read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	headers := dedupe(header)

	var records [][]string
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Table{}, fmt.Errorf("table: read csv line %d: %w", len(records)+2, err)
		}
		records = append(records, rec)
	}

	kinds := inferKinds(header, records)

	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		row := make(Row, len(headers))
		for i, h := range header {
			if _, done := row[h]; done {
				continue
			}
			cell := ""
			if i < len(rec) {
				cell = rec[i]
			}
			row[h] = convertCell(cell, kinds[i])
		}
		rows = append(rows, row)
	}
	return New(headers, rows), nil
}

type cellKind int

const (
	kindString cellKind = iota
	kindInt
	kindFloat
)

func inferKinds(header []string, records [][]string) []cellKind {
	kinds := make([]cellKind, len(header))
	for i := range header {
		sawValue := false
		allInt, allNum := true, true
		for _, rec := range records {
			if i >= len(rec) {
				continue
			}
			v := strings.TrimSpace(rec[i])
			if v == "" {
				continue
			}
			sawValue = true
			if _, err := strconv.ParseInt(v, 10, 64); err != nil {
				allInt = false
			}
			if f, err := strconv.ParseFloat(v, 64); err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
				allNum = false
				break
			}
		}
		switch {
		case !sawValue || !allNum:
			kinds[i] = kindString
		case allInt:
			kinds[i] = kindInt
		default:
			kinds[i] = kindFloat
		}
	}
	return kinds
}

func convertCell(cell string, kind cellKind) any {
	v := strings.TrimSpace(cell)
	switch kind {
	case kindInt:
		if v == "" {
			return int64(0)
		}
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	case kindFloat:
		if v == "" {
			return float64(0)
		}
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return cell
	}
}
