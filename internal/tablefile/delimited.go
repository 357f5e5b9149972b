package tablefile

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"dfapi/internal/frame"
)

// readDelimited reads CSV-like text. The whole input is buffered; uploads are
// size-limited before they get here.
func readDelimited(r io.Reader, f Format) (*frame.Table, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	text, err := decodeText(raw)
	if err != nil {
		return nil, fmt.Errorf("tablefile: decode text: %w", err)
	}

	comma := '\t'
	if f == CSV {
		comma = sniffComma(text)
	}

	cr := csv.NewReader(bytes.NewReader(text))
	cr.Comma = comma
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("tablefile: read header: %w", err)
	}
	header = append([]string(nil), header...)

	var rows [][]any
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("tablefile: csv read: %w", err)
		}
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = textCell(v)
		}
		rows = append(rows, row)
	}
	return frame.New(header, rows)
}

// decodeText normalizes input to UTF-8. A byte-order mark selects UTF-8 or
// UTF-16 and is stripped. Input without a BOM that is not valid UTF-8 is read
// as Windows-1252, which is what spreadsheet exports on Windows produce.
func decodeText(b []byte) ([]byte, error) {
	if hasBOM(b) {
		out, _, err := transform.Bytes(unicode.BOMOverride(unicode.UTF8.NewDecoder()), b)
		return out, err
	}
	if utf8.Valid(b) {
		return b, nil
	}
	return charmap.Windows1252.NewDecoder().Bytes(b)
}

func hasBOM(b []byte) bool {
	return bytes.HasPrefix(b, []byte{0xEF, 0xBB, 0xBF}) ||
		bytes.HasPrefix(b, []byte{0xFE, 0xFF}) ||
		bytes.HasPrefix(b, []byte{0xFF, 0xFE})
}

// sniffComma picks the delimiter that occurs most often in the first line,
// preferring comma on ties and when none occurs.
func sniffComma(text []byte) rune {
	line := text
	if i := bytes.IndexByte(text, '\n'); i >= 0 {
		line = text[:i]
	}
	best, bestN := ',', strings.Count(string(line), ",")
	for _, c := range []rune{';', '\t', '|'} {
		if n := strings.Count(string(line), string(c)); n > bestN {
			best, bestN = c, n
		}
	}
	return best
}

func writeDelimited(w io.Writer, t *frame.Table, comma rune) error {
	cw := csv.NewWriter(w)
	cw.Comma = comma
	if err := cw.Write(t.Names()); err != nil {
		return err
	}
	rec := make([]string, len(t.Columns))
	for i := 0; i < t.NumRows(); i++ {
		for c, col := range t.Columns {
			rec[c] = cellText(col.Cells[i])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
