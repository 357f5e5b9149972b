package tablefile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"

	gojson "github.com/goccy/go-json"

	"dfapi/internal/frame"
)

// readJSON accepts either orientation pandas writes by default:
//
//	[{"a": 1, "b": "x"}, ...]            records
//	{"a": [1, ...], "b": ["x", ...]}     columns as arrays
//	{"a": {"0": 1, ...}, "b": {...}}     columns as index maps
//
// Column order is the order keys are first seen.
func readJSON(r io.Reader) (*frame.Table, error) {
	dec := json.NewDecoder(bufio.NewReader(r))
	dec.UseNumber()

	tok, err := dec.Token()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("tablefile: json: read first token: %w", err)
	}

	switch tok {
	case json.Delim('['):
		return readJSONRecords(dec)
	case json.Delim('{'):
		return readJSONColumns(dec)
	}
	return nil, fmt.Errorf("tablefile: json: expected array or object, got %v", tok)
}

func readJSONRecords(dec *json.Decoder) (*frame.Table, error) {
	var (
		header []string
		index  = map[string]int{}
		recs   []map[string]any
	)
	for dec.More() {
		if err := expectDelim(dec, '{'); err != nil {
			return nil, fmt.Errorf("tablefile: json: record %d: %w", len(recs), err)
		}
		rec := map[string]any{}
		for dec.More() {
			key, err := objectKey(dec)
			if err != nil {
				return nil, err
			}
			var v any
			if err := dec.Decode(&v); err != nil {
				return nil, fmt.Errorf("tablefile: json: record %d key %q: %w", len(recs), key, err)
			}
			if _, ok := index[key]; !ok {
				index[key] = len(header)
				header = append(header, key)
			}
			rec[key] = jsonCell(v)
		}
		if err := expectDelim(dec, '}'); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	if err := expectDelim(dec, ']'); err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, ErrEmpty
	}

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		row := make([]any, len(header))
		for k, v := range rec {
			row[index[k]] = v
		}
		rows[i] = row
	}
	return frame.New(header, rows)
}

func readJSONColumns(dec *json.Decoder) (*frame.Table, error) {
	var (
		header []string
		cols   [][]any
		n      int
	)
	for dec.More() {
		key, err := objectKey(dec)
		if err != nil {
			return nil, err
		}
		var v any
		if err := dec.Decode(&v); err != nil {
			return nil, fmt.Errorf("tablefile: json: column %q: %w", key, err)
		}
		cells, err := columnCells(key, v)
		if err != nil {
			return nil, err
		}
		header = append(header, key)
		cols = append(cols, cells)
		n = max(n, len(cells))
	}
	if err := expectDelim(dec, '}'); err != nil {
		return nil, err
	}
	if len(header) == 0 {
		return nil, ErrEmpty
	}

	rows := make([][]any, n)
	for i := range rows {
		row := make([]any, len(cols))
		for c, cells := range cols {
			if i < len(cells) {
				row[c] = cells[i]
			}
		}
		rows[i] = row
	}
	return frame.New(header, rows)
}

// columnCells flattens one column of the columns orientation. Index maps are
// ordered by their numeric keys; non-numeric keys sort after them as text.
func columnCells(name string, v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = jsonCell(e)
		}
		return out, nil
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool {
			a, errA := strconv.Atoi(keys[i])
			b, errB := strconv.Atoi(keys[j])
			switch {
			case errA == nil && errB == nil:
				return a < b
			case errA == nil:
				return true
			case errB == nil:
				return false
			}
			return keys[i] < keys[j]
		})
		out := make([]any, len(keys))
		for i, k := range keys {
			out[i] = jsonCell(x[k])
		}
		return out, nil
	}
	return nil, fmt.Errorf("tablefile: json: column %q is neither an array nor an object", name)
}

// jsonCell maps a decoded JSON value to a cell. Integers stay int64, other
// numbers become float64, and nested values are kept as their JSON text.
func jsonCell(v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case string:
		return textCell(x)
	case bool:
		return x
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		if f, err := x.Float64(); err == nil {
			return f
		}
		return x.String()
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

func objectKey(dec *json.Decoder) (string, error) {
	tok, err := dec.Token()
	if err != nil {
		return "", fmt.Errorf("tablefile: json: read key: %w", err)
	}
	key, ok := tok.(string)
	if !ok {
		return "", fmt.Errorf("tablefile: json: expected object key, got %v", tok)
	}
	return key, nil
}

func expectDelim(dec *json.Decoder, want json.Delim) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("tablefile: json: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != want {
		return fmt.Errorf("tablefile: json: expected %q, got %v", want, tok)
	}
	return nil
}

// writeJSON writes the records orientation with columns in table order.
func writeJSON(w io.Writer, t *frame.Table) error {
	enc := gojson.NewEncoder(w)
	return enc.Encode(t.Records())
}
