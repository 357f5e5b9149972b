// Package typing implements the column type engine: Infer decides the most
// specific tag for every column of a freshly read table, and Apply coerces a
// re-read table back into a stored schema.
//
// Both functions mutate the table they are given and return it. Callers that
// need the raw cells afterwards should pass a Clone.
package typing

import (
	"fmt"
	"sort"

	"dfapi/internal/dtype"
	"dfapi/internal/frame"
)

// CategoryThreshold is the distinct/non-null ratio below which a text column
// becomes a category.
const CategoryThreshold = 0.5

// Infer assigns a tag to every column of t, converting cells in place, and
// returns t with the resulting schema. The schema has one entry per column.
//
// Per column, the first rule that matches wins:
//   - no non-null value: string, cells untouched
//   - every non-null value is true/false: bool
//   - at least one value parses as a number: integer (narrowest width,
//     nullable if anything is missing or unparseable) or float32/float64;
//     unparseable cells become null
//   - every non-null value parses as a datetime, then duration, then complex
//   - distinct/non-null below CategoryThreshold: category
//   - otherwise string
func Infer(t *frame.Table) (*frame.Table, dtype.Schema) {
	schema := make(dtype.Schema, len(t.Columns))
	for _, c := range t.Columns {
		inferColumn(c)
		schema[c.Name] = c.Tag
	}
	return t, schema
}

func inferColumn(c *frame.Column) {
	c.Levels = nil

	nonNull := len(c.Cells) - c.NullCount()
	if nonNull == 0 {
		c.Tag = dtype.String
		return
	}

	if cells, ok := convertAll(c.Cells, boolCell); ok {
		c.Tag, c.Cells = dtype.Bool, cells
		return
	}

	if tag, cells, ok := inferNumeric(c.Cells); ok {
		c.Tag, c.Cells = tag, cells
		return
	}

	if cells, ok := convertAll(c.Cells, datetimeCell(dtype.DetectDateOrder(c.Cells))); ok {
		c.Tag, c.Cells = dtype.Datetime, cells
		return
	}
	if cells, ok := convertAll(c.Cells, durationCell); ok {
		c.Tag, c.Cells = dtype.Timeduration, cells
		return
	}
	if cells, ok := convertAll(c.Cells, complexCell); ok {
		c.Tag, c.Cells = dtype.Complex, cells
		return
	}

	if float64(distinctCount(c.Cells))/float64(nonNull) < CategoryThreshold {
		c.Cells, c.Levels = categorize(c.Cells)
		c.Tag = dtype.Category
		return
	}
	c.Tag = dtype.String
}

// inferNumeric parses every cell as a number, nulling failures. It reports
// ok=false only when nothing parsed.
func inferNumeric(cells []any) (dtype.Tag, []any, bool) {
	nums := make([]dtype.Number, len(cells))
	valid := make([]bool, len(cells))

	var (
		parsed, missing int
		allInt          = true
		lo, hi          int64
	)
	for i, v := range cells {
		n, ok := dtype.ParseNumber(v)
		if !ok {
			missing++
			continue
		}
		nums[i], valid[i] = n, true
		switch {
		case !n.IsInt:
			allInt = false
		case parsed == 0:
			lo, hi = n.Int, n.Int
		case n.Int < lo:
			lo = n.Int
		case n.Int > hi:
			hi = n.Int
		}
		parsed++
	}
	if parsed == 0 {
		return dtype.Invalid, nil, false
	}

	out := make([]any, len(cells))
	if allInt {
		tag := dtype.NarrowInt(lo, hi, missing > 0)
		for i := range cells {
			if valid[i] {
				out[i] = intCell(nums[i].Int, tag)
			}
		}
		return tag, out, true
	}

	tag := dtype.Float32
	for i := range cells {
		if valid[i] && !dtype.FitsFloat32(nums[i].Float) {
			tag = dtype.Float64
			break
		}
	}
	for i := range cells {
		if valid[i] {
			out[i] = floatCell(nums[i].Float, tag)
		}
	}
	return tag, out, true
}

// convertAll converts every non-null cell with parse. Nulls become nil. It
// fails as soon as one non-null cell does not parse.
func convertAll(cells []any, parse func(any) (any, bool)) ([]any, bool) {
	out := make([]any, len(cells))
	for i, v := range cells {
		if dtype.IsNull(v) {
			continue
		}
		x, ok := parse(v)
		if !ok {
			return nil, false
		}
		out[i] = x
	}
	return out, true
}

func boolCell(v any) (any, bool) {
	b, ok := dtype.ParseBool(v)
	return b, ok
}

// datetimeCell reads numeric dates under one order so a column never mixes
// day-first and month-first cells.
func datetimeCell(order dtype.DateOrder) func(any) (any, bool) {
	return func(v any) (any, bool) {
		ts, ok := dtype.ParseDatetimeOrder(v, order)
		return ts, ok
	}
}

func durationCell(v any) (any, bool) {
	d, ok := dtype.ParseDuration(v)
	return d, ok
}

func complexCell(v any) (any, bool) {
	c, ok := dtype.ParseComplex(v)
	return c, ok
}

// intCell stores i at the physical width of tag. The caller guarantees i fits.
func intCell(i int64, tag dtype.Tag) any {
	switch tag.Bits() {
	case 8:
		return int8(i)
	case 16:
		return int16(i)
	case 32:
		return int32(i)
	}
	return i
}

func floatCell(f float64, tag dtype.Tag) any {
	if tag == dtype.Float32 {
		return float32(f)
	}
	return f
}

// label is the category label of a non-null cell.
func label(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

func distinctCount(cells []any) int {
	seen := make(map[string]struct{})
	for _, v := range cells {
		if dtype.IsNull(v) {
			continue
		}
		seen[label(v)] = struct{}{}
	}
	return len(seen)
}

// categorize converts non-null cells to labels and returns the sorted levels.
func categorize(cells []any) ([]any, []string) {
	out := make([]any, len(cells))
	set := make(map[string]struct{})
	for i, v := range cells {
		if dtype.IsNull(v) {
			continue
		}
		l := label(v)
		out[i] = l
		set[l] = struct{}{}
	}
	levels := make([]string, 0, len(set))
	for l := range set {
		levels = append(levels, l)
	}
	sort.Strings(levels)
	return out, levels
}
