package frame

import (
	"bytes"
	"math"
	"time"

	json "github.com/goccy/go-json"

	"dfapi/internal/dtype"
)

// TimeLayout is the ISO-8601 form used for datetime cells in records.
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Record is one row keyed by column name. It marshals as a JSON object whose
// keys keep the table's column order.
type Record struct {
	names  []string
	values []any
}

// Get returns the value for column name.
func (r Record) Get(name string) (any, bool) {
	for i, n := range r.names {
		if n == name {
			return r.values[i], true
		}
	}
	return nil, false
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, name := range r.names {
		if i > 0 {
			b.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b.Write(k)
		b.WriteByte(':')
		v, err := json.Marshal(r.values[i])
		if err != nil {
			return nil, err
		}
		b.Write(v)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// Records converts every row of t into a JSON-ready Record.
func (t *Table) Records() []Record {
	names := t.Names()
	n := t.NumRows()
	out := make([]Record, n)
	for i := 0; i < n; i++ {
		vals := make([]any, len(t.Columns))
		for c, col := range t.Columns {
			vals[c] = FormatCell(col.Cells[i])
		}
		out[i] = Record{names: names, values: vals}
	}
	return out
}

// FormatCell maps a cell to a value encoding/json can represent faithfully.
// Datetimes and durations become ISO-8601 strings, complex numbers become
// "a+bj", and non-finite floats become null.
func FormatCell(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x.Format(TimeLayout)
	case time.Duration:
		return dtype.FormatDuration(x)
	case complex128:
		return dtype.FormatComplex(x)
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil
		}
	}
	return v
}
