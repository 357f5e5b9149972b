// Package tablefile reads and writes tables in the file formats accepted for
// upload. The format is chosen from the file extension.
//
// Supported formats:
//   - .csv, .txt: delimited text; the delimiter is sniffed from the header
//     line (comma, semicolon, tab or pipe)
//   - .tsv: tab-delimited text
//   - .xlsx, .xlsm: first worksheet of an Office Open XML workbook
//   - .json: an array of records, or an object of columns
//   - .html, .htm: the first <table> of the document
//
// Readers return tables whose columns are all tagged string. Text cells that
// spell a missing value ("", "NA", "null", ...) become nil.
package tablefile

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"dfapi/internal/dtype"
	"dfapi/internal/frame"
)

var (
	// ErrUnsupportedFormat is returned for file extensions no reader handles.
	ErrUnsupportedFormat = errors.New("tablefile: unsupported file format")

	// ErrEmpty is returned when a file has no header row.
	ErrEmpty = errors.New("tablefile: no columns to parse from file")
)

// Format names a supported file format.
type Format string

const (
	CSV  Format = "csv"
	TSV  Format = "tsv"
	XLSX Format = "xlsx"
	JSON Format = "json"
	HTML Format = "html"
)

var extFormats = map[string]Format{
	".csv":  CSV,
	".txt":  CSV,
	".tsv":  TSV,
	".xlsx": XLSX,
	".xlsm": XLSX,
	".json": JSON,
	".html": HTML,
	".htm":  HTML,
}

// Extensions lists every accepted file extension in sorted order.
func Extensions() []string {
	out := make([]string, 0, len(extFormats))
	for ext := range extFormats {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// FormatOf picks the format for a file name by its extension.
func FormatOf(name string) (Format, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if f, ok := extFormats[ext]; ok {
		return f, nil
	}
	if ext == ".xls" {
		return "", fmt.Errorf("%w: %q (legacy .xls workbooks must be saved as .xlsx)", ErrUnsupportedFormat, name)
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
}

// ReadFile reads the table stored at path.
func ReadFile(path string) (*frame.Table, error) {
	f, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	fh, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer fh.Close()
	return Read(fh, f)
}

// Read decodes a table of format f from r.
func Read(r io.Reader, f Format) (*frame.Table, error) {
	switch f {
	case CSV, TSV:
		return readDelimited(r, f)
	case XLSX:
		return readXLSX(r)
	case JSON:
		return readJSON(r)
	case HTML:
		return readHTML(r)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
}

// WriteFile writes t to path in the format implied by its extension.
func WriteFile(path string, t *frame.Table) error {
	f, err := FormatOf(path)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := Write(&buf, t, f); err != nil {
		return err
	}
	return os.WriteFile(path, buf.Bytes(), 0o644)
}

// Write encodes t to w in format f.
func Write(w io.Writer, t *frame.Table, f Format) error {
	switch f {
	case CSV:
		return writeDelimited(w, t, ',')
	case TSV:
		return writeDelimited(w, t, '\t')
	case XLSX:
		return writeXLSX(w, t)
	case JSON:
		return writeJSON(w, t)
	case HTML:
		return writeHTML(w, t)
	}
	return fmt.Errorf("%w: %q", ErrUnsupportedFormat, string(f))
}

// textCell maps a raw text field to a cell.
func textCell(s string) any {
	if dtype.IsNullToken(s) {
		return nil
	}
	return s
}

// cellText renders a cell for text formats. It is the inverse of the
// parsers in dtype for every physical cell type.
func cellText(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return dtype.FormatDuration(x)
	case complex128:
		return dtype.FormatComplex(x)
	case bool:
		if x {
			return "True"
		}
		return "False"
	}
	return fmt.Sprint(v)
}

// padHeader widens header to width with blank names.
func padHeader(header []string, width int) []string {
	for len(header) < width {
		header = append(header, "")
	}
	return header
}
