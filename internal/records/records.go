// Package records defines the record set flowing through the import pipeline:
// an ordered sequence of positional rows sharing one column set.
package records

import "fmt"

// Table is an ordered set of rows over a fixed column list.
//
// Invariant: every row has exactly len(Columns) values. AppendRow enforces it;
// code constructing Rows directly must preserve it.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New returns an empty table over the given columns.
func New(columns []string) *Table {
	return &Table{Columns: append([]string(nil), columns...)}
}

// Index returns the position of a column, or -1 when absent.
func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// AppendRow adds a row, enforcing the uniform-column invariant.
func (t *Table) AppendRow(row []any) error {
	if len(row) != len(t.Columns) {
		return fmt.Errorf("records: row has %d values, table has %d columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Rows) }

// Project returns a new table restricted to the given columns, in that order.
// Missing columns yield nil values for every row.
func (t *Table) Project(columns []string) *Table {
	idx := make([]int, len(columns))
	for i, c := range columns {
		idx[i] = t.Index(c)
	}
	out := New(columns)
	out.Rows = make([][]any, 0, len(t.Rows))
	for _, r := range t.Rows {
		row := make([]any, len(columns))
		for i, si := range idx {
			if si >= 0 {
				row[i] = r[si]
			}
		}
		out.Rows = append(out.Rows, row)
	}
	return out
}

// Rename returns a copy of the table with column names replaced per the map.
// Unmapped columns keep their name. Values are shared, not copied.
func (t *Table) Rename(mapping map[string]string) *Table {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		if to, ok := mapping[c]; ok {
			cols[i] = to
		} else {
			cols[i] = c
		}
	}
	return &Table{Columns: cols, Rows: t.Rows}
}
