// Package header turns a raw string grid from a file reader into a record set
// with canonical column names, locating the header row inside leading
// metadata noise.
package header

import (
	"errors"
	"strings"

	"deviceetl/internal/normalize"
	"deviceetl/internal/records"
)

// ErrEmptyGrid is returned when the file parsed but holds no usable rows.
var ErrEmptyGrid = errors.New("header: no rows in input")

// scanDepth is how many leading rows are probed for a header. Export tools
// put at most a banner, a device line and a date line above the header.
const scanDepth = 5

// Canonicalize selects the header row and builds a records.Table.
//
// Selection: among the first scanDepth rows, the first row whose every
// non-empty cell (lowercased, trimmed) belongs to vocab is the header; rows
// above it are discarded. When no candidate qualifies, row 0 is the header
// (best effort). After selection, fully empty rows and fully empty columns
// are dropped.
//
// Cell values stay raw strings; empty cells become nil. Type coercion is the
// processor's job, not this package's.
func Canonicalize(grid [][]string, vocab map[string]struct{}) (*records.Table, error) {
	if len(grid) == 0 {
		return nil, ErrEmptyGrid
	}

	headerIdx := 0
	for i := 0; i < len(grid) && i < scanDepth; i++ {
		if isHeaderRow(grid[i], vocab) {
			headerIdx = i
			break
		}
	}

	cols := canonicalCells(grid[headerIdx])
	if len(cols) == 0 {
		return nil, ErrEmptyGrid
	}

	keep := nonEmptyColumns(grid[headerIdx+1:], cols)

	var outCols []string
	for i, c := range cols {
		if keep[i] {
			outCols = append(outCols, c)
		}
	}
	if len(outCols) == 0 {
		return nil, ErrEmptyGrid
	}

	t := records.New(outCols)
	for _, raw := range grid[headerIdx+1:] {
		row := make([]any, 0, len(outCols))
		empty := true
		for i := range cols {
			if !keep[i] {
				continue
			}
			var v any
			if i < len(raw) {
				cell := raw[i]
				if normalize.HasEdgeSpace(cell) {
					cell = strings.TrimSpace(cell)
				}
				if cell != "" {
					v = cell
					empty = false
				}
			}
			row = append(row, v)
		}
		if empty {
			continue
		}
		if err := t.AppendRow(row); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// isHeaderRow reports whether every non-empty cell is a known header name.
// An all-empty row never qualifies.
func isHeaderRow(cells []string, vocab map[string]struct{}) bool {
	nonEmpty := 0
	for i, c := range cells {
		c = canonicalCell(c, i == 0)
		if c == "" {
			continue
		}
		nonEmpty++
		if _, ok := vocab[c]; !ok {
			return false
		}
	}
	return nonEmpty > 0
}

// canonicalCells lowercases and trims a header row, keeping positions so data
// rows stay aligned. Unnamed columns get an empty name and are pruned later
// with the empty-column pass.
func canonicalCells(cells []string) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = canonicalCell(c, i == 0)
	}
	return out
}

func canonicalCell(c string, first bool) string {
	if first {
		c = strings.TrimPrefix(c, "\uFEFF")
	}
	return strings.ToLower(strings.TrimSpace(c))
}

// nonEmptyColumns marks columns that have a name and at least one non-empty
// data cell. Unnamed columns with data are still dropped: there is no column
// to attach the values to.
func nonEmptyColumns(dataRows [][]string, cols []string) []bool {
	keep := make([]bool, len(cols))
	for i, c := range cols {
		if c == "" {
			continue
		}
		if len(dataRows) == 0 {
			// Header-only file: keep the named columns so the matcher can
			// still classify it (with zero rows).
			keep[i] = true
			continue
		}
		for _, row := range dataRows {
			if i < len(row) && strings.TrimSpace(row[i]) != "" {
				keep[i] = true
				break
			}
		}
	}
	return keep
}
