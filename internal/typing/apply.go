package typing

import (
	"fmt"

	"dfapi/internal/dtype"
	"dfapi/internal/frame"
)

// Apply coerces every column of t named in s to its stored tag and returns t.
//
// Cell-level failures under the numeric, datetime and duration tags become
// nulls. A column fails as a whole, with a *CoercionError, when:
//   - an integer tag meets a null (non-nullable widths), a fraction, or a
//     value outside the width
//   - a bool column holds anything other than true/false
//   - a complex column holds an unparseable value
//
// Columns missing from s, or mapped to a tag Apply does not know, are left
// alone; entries of s naming columns that t does not have are ignored. On error, columns before the failing one are
// already converted and the failing column is unchanged.
func Apply(t *frame.Table, s dtype.Schema) (*frame.Table, error) {
	for _, c := range t.Columns {
		tag, ok := s[c.Name]
		if !ok {
			continue
		}
		if err := applyColumn(c, tag); err != nil {
			return t, err
		}
	}
	return t, nil
}

func applyColumn(c *frame.Column, tag dtype.Tag) error {
	var (
		cells  []any
		levels []string
		err    error
	)
	switch tag {
	case dtype.Int8, dtype.Int16, dtype.Int32, dtype.Int64,
		dtype.NullableInt8, dtype.NullableInt16, dtype.NullableInt32, dtype.NullableInt64:
		cells, err = castInteger(c, tag)
	case dtype.Float32, dtype.Float64:
		cells = castFloat(c.Cells, tag)
	case dtype.Datetime:
		cells = coerceOrNull(c.Cells, datetimeCell(dtype.DetectDateOrder(c.Cells)))
	case dtype.Timeduration:
		cells = coerceOrNull(c.Cells, durationCell)
	case dtype.Bool:
		cells, err = castStrict(c, tag, boolCell, "not a boolean literal")
	case dtype.Complex:
		cells, err = castStrict(c, tag, complexCell, "not a complex number")
	case dtype.Category:
		cells, levels = categorize(c.Cells)
	case dtype.String:
		cells = c.Cells
	default:
		// Invalid or unknown tags leave the column as read.
		return nil
	}
	if err != nil {
		return err
	}
	c.Tag, c.Cells, c.Levels = tag, cells, levels
	return nil
}

func castInteger(c *frame.Column, tag dtype.Tag) ([]any, error) {
	lo, hi := tag.IntRange()
	nullable := tag.IsNullableInteger()
	out := make([]any, len(c.Cells))
	for i, v := range c.Cells {
		n, ok := dtype.ParseNumber(v)
		if !ok {
			if !nullable {
				return nil, &CoercionError{Column: c.Name, Tag: tag, Row: i, Value: v, Reason: "missing or non-numeric value in a non-nullable integer column"}
			}
			continue
		}
		if !n.IsInt {
			return nil, &CoercionError{Column: c.Name, Tag: tag, Row: i, Value: v, Reason: "value is not integral"}
		}
		if n.Int < lo || n.Int > hi {
			return nil, &CoercionError{Column: c.Name, Tag: tag, Row: i, Value: v, Reason: fmt.Sprintf("value outside [%d, %d]", lo, hi)}
		}
		out[i] = intCell(n.Int, tag)
	}
	return out, nil
}

func castFloat(cells []any, tag dtype.Tag) []any {
	out := make([]any, len(cells))
	for i, v := range cells {
		if n, ok := dtype.ParseNumber(v); ok {
			out[i] = floatCell(n.Float, tag)
		}
	}
	return out
}

// coerceOrNull converts cells with parse; failures become nil.
func coerceOrNull(cells []any, parse func(any) (any, bool)) []any {
	out := make([]any, len(cells))
	for i, v := range cells {
		if dtype.IsNull(v) {
			continue
		}
		if x, ok := parse(v); ok {
			out[i] = x
		}
	}
	return out
}

// castStrict converts non-null cells with parse and fails on the first one
// that does not parse.
func castStrict(c *frame.Column, tag dtype.Tag, parse func(any) (any, bool), reason string) ([]any, error) {
	out := make([]any, len(c.Cells))
	for i, v := range c.Cells {
		if dtype.IsNull(v) {
			continue
		}
		x, ok := parse(v)
		if !ok {
			return nil, &CoercionError{Column: c.Name, Tag: tag, Row: i, Value: v, Reason: reason}
		}
		out[i] = x
	}
	return out, nil
}
