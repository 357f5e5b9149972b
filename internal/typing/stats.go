package typing

import (
	"dfapi/internal/dtype"
	"dfapi/internal/frame"
)

// ColumnStats are per-column counts used by uniqueness reports.
//
// NonNull is the ratio denominator: a row only counts toward a column when
// that column has a value in it.
type ColumnStats struct {
	Name     string
	Tag      dtype.Tag
	Rows     int
	NonNull  int
	Distinct int
}

// Uniqueness returns Distinct/NonNull, or 0 for an all-null column.
func (s ColumnStats) Uniqueness() float64 {
	if s.NonNull == 0 {
		return 0
	}
	return float64(s.Distinct) / float64(s.NonNull)
}

// Describe computes ColumnStats for every column of t in order.
func Describe(t *frame.Table) []ColumnStats {
	out := make([]ColumnStats, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = ColumnStats{
			Name:     c.Name,
			Tag:      c.Tag,
			Rows:     len(c.Cells),
			NonNull:  len(c.Cells) - c.NullCount(),
			Distinct: distinctCount(c.Cells),
		}
	}
	return out
}
