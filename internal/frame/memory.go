package frame

import "dfapi/internal/dtype"

// indexBytes is the fixed cost of a range row index.
const indexBytes = 132

// pointerBytes is the cost of one boxed cell in an untyped (string) column.
const pointerBytes = 8

// MemoryUsage estimates the columnar footprint of t in bytes, counting each
// tag at its fixed physical width. String columns count one pointer per cell;
// categories count their codes plus one pointer per level. Nullable integer
// widths add a one-byte validity mask per row.
func (t *Table) MemoryUsage() int64 {
	total := int64(indexBytes)
	for _, c := range t.Columns {
		total += columnBytes(c)
	}
	return total
}

func columnBytes(c *Column) int64 {
	n := int64(len(c.Cells))
	switch c.Tag {
	case dtype.Bool, dtype.Int8:
		return n
	case dtype.Int16:
		return 2 * n
	case dtype.Int32, dtype.Float32:
		return 4 * n
	case dtype.Int64, dtype.Float64, dtype.Datetime, dtype.Timeduration:
		return 8 * n
	case dtype.NullableInt8, dtype.NullableInt16, dtype.NullableInt32, dtype.NullableInt64:
		return int64(c.Tag.Bits()/8)*n + n
	case dtype.Complex:
		return 16 * n
	case dtype.Category:
		return categoryCodeWidth(len(c.Levels))*n + pointerBytes*int64(len(c.Levels))
	default:
		return pointerBytes * n
	}
}

func categoryCodeWidth(levels int) int64 {
	switch {
	case levels < 1<<7:
		return 1
	case levels < 1<<15:
		return 2
	}
	return 4
}
