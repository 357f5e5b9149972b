// Package frame holds the in-memory table model shared by the file readers,
// the type engine and the HTTP layer.
//
// A Table is an ordered list of named columns of equal length. Cells are
// plain Go values; nil is the only missing-value marker. Readers produce
// tables whose cells are strings, float64, int64, bool or nil, and whose
// columns are all tagged dtype.String. The type engine replaces cells in place
// with the physical representation of each column's tag.
package frame

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"dfapi/internal/dtype"
)

// ErrRaggedRow is returned by New when a row is wider than the header.
var ErrRaggedRow = errors.New("frame: row has more cells than the header")

// Column is one named, typed column.
type Column struct {
	Name  string
	Tag   dtype.Tag
	Cells []any

	// Levels is the sorted set of category labels. Only set for Category.
	Levels []string
}

// Len returns the number of cells.
func (c *Column) Len() int { return len(c.Cells) }

// NullCount returns the number of missing cells.
func (c *Column) NullCount() int {
	n := 0
	for _, v := range c.Cells {
		if dtype.IsNull(v) {
			n++
		}
	}
	return n
}

// Table is an ordered list of columns with a uniform row count.
type Table struct {
	Columns []*Column
}

// New builds a table from a header and row-major cells. Short rows are padded
// with nil. Blank and duplicate header names are made unique the way
// spreadsheet tools do it ("Unnamed: 3", "price.1").
func New(header []string, rows [][]any) (*Table, error) {
	names := uniqueNames(header)
	cols := make([]*Column, len(names))
	for i, name := range names {
		cols[i] = &Column{Name: name, Tag: dtype.String, Cells: make([]any, len(rows))}
	}
	for r, row := range rows {
		if len(row) > len(names) {
			return nil, fmt.Errorf("%w: row %d has %d cells, header has %d", ErrRaggedRow, r+1, len(row), len(names))
		}
		for c, v := range row {
			cols[c].Cells[r] = v
		}
	}
	return &Table{Columns: cols}, nil
}

func uniqueNames(header []string) []string {
	out := make([]string, len(header))
	used := make(map[string]struct{}, len(header))
	next := make(map[string]int)
	for i, h := range header {
		name := strings.TrimSpace(strings.TrimPrefix(h, "\uFEFF"))
		if name == "" {
			name = "Unnamed: " + strconv.Itoa(i)
		}
		if _, dup := used[name]; dup {
			base := name
			for k := next[base] + 1; ; k++ {
				cand := base + "." + strconv.Itoa(k)
				if _, taken := used[cand]; !taken {
					next[base] = k
					name = cand
					break
				}
			}
		}
		used[name] = struct{}{}
		out[i] = name
	}
	return out
}

// NumRows returns the row count.
func (t *Table) NumRows() int {
	if len(t.Columns) == 0 {
		return 0
	}
	return len(t.Columns[0].Cells)
}

// Names returns the column names in order.
func (t *Table) Names() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Schema returns the current tag of every column.
func (t *Table) Schema() dtype.Schema {
	s := make(dtype.Schema, len(t.Columns))
	for _, c := range t.Columns {
		s[c.Name] = c.Tag
	}
	return s
}

// Row returns the cells of row i in column order.
func (t *Table) Row(i int) []any {
	out := make([]any, len(t.Columns))
	for c, col := range t.Columns {
		out[c] = col.Cells[i]
	}
	return out
}

// Clone returns a copy whose column slices can be mutated independently.
// Cell values themselves are immutable and shared.
func (t *Table) Clone() *Table {
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		cc := *c
		cc.Cells = append([]any(nil), c.Cells...)
		cc.Levels = append([]string(nil), c.Levels...)
		out.Columns[i] = &cc
	}
	return out
}

// Slice returns rows [lo, hi) as a new table sharing cell values.
// Bounds are clamped to the table.
func (t *Table) Slice(lo, hi int) *Table {
	n := t.NumRows()
	lo = clamp(lo, 0, n)
	hi = clamp(hi, lo, n)
	out := &Table{Columns: make([]*Column, len(t.Columns))}
	for i, c := range t.Columns {
		cc := *c
		cc.Cells = c.Cells[lo:hi:hi]
		out.Columns[i] = &cc
	}
	return out
}

// Head returns the first n rows.
func (t *Table) Head(n int) *Table { return t.Slice(0, n) }

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
