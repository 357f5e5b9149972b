package tablefile

import (
	"bytes"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"golang.org/x/text/encoding/unicode"

	"dfapi/internal/frame"
)

func readCSV(t *testing.T, text string) *frame.Table {
	t.Helper()
	tbl, err := Read(strings.NewReader(text), CSV)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	return tbl
}

func cellsOf(t *testing.T, tbl *frame.Table, name string) []any {
	t.Helper()
	c, ok := tbl.Column(name)
	if !ok {
		t.Fatalf("column %q missing; have %v", name, tbl.Names())
	}
	return c.Cells
}

func TestFormatOf(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		want Format
		err  bool
	}{
		{"data.csv", CSV, false},
		{"DATA.CSV", CSV, false},
		{"notes.txt", CSV, false},
		{"x.tsv", TSV, false},
		{"book.xlsx", XLSX, false},
		{"book.xlsm", XLSX, false},
		{"rows.json", JSON, false},
		{"page.htm", HTML, false},
		{"legacy.xls", "", true},
		{"image.png", "", true},
		{"noext", "", true},
	}
	for _, tt := range tests {
		got, err := FormatOf(tt.name)
		if tt.err {
			if !errors.Is(err, ErrUnsupportedFormat) {
				t.Fatalf("FormatOf(%q) err=%v, want ErrUnsupportedFormat", tt.name, err)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Fatalf("FormatOf(%q)=(%q,%v), want %q", tt.name, got, err, tt.want)
		}
	}
}

func TestReadCSV_NullTokensBecomeNil(t *testing.T) {
	t.Parallel()

	tbl := readCSV(t, "a,b\nNA,x\n1,\nnull,N/A\n")
	if got, want := cellsOf(t, tbl, "a"), []any{nil, "1", nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("a=%#v, want %#v", got, want)
	}
	if got, want := cellsOf(t, tbl, "b"), []any{"x", nil, nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("b=%#v, want %#v", got, want)
	}
}

func TestReadCSV_SniffsDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want []string
	}{
		{"a,b,c\n1,2,3\n", []string{"a", "b", "c"}},
		{"a;b;c\n1;2;3\n", []string{"a", "b", "c"}},
		{"a|b\n1|2\n", []string{"a", "b"}},
		{"a\tb\n1\t2\n", []string{"a", "b"}},
		{"single\n1\n", []string{"single"}},
	}
	for _, tt := range tests {
		if got := readCSV(t, tt.text).Names(); !reflect.DeepEqual(got, tt.want) {
			t.Fatalf("Names(%q)=%v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestReadCSV_Encodings(t *testing.T) {
	t.Parallel()

	utf16, err := unicode.UTF16(unicode.LittleEndian, unicode.UseBOM).NewEncoder().String("name;city\nJosé;Köln\n")
	if err != nil {
		t.Fatalf("encode utf-16: %v", err)
	}

	tests := []struct {
		label string
		text  string
	}{
		{"utf-8", "name;city\nJosé;Köln\n"},
		{"utf-8 bom", "\xEF\xBB\xBFname;city\nJosé;Köln\n"},
		{"utf-16le bom", utf16},
		{"windows-1252", "name;city\nJos\xe9;K\xf6ln\n"},
	}
	for _, tt := range tests {
		tbl := readCSV(t, tt.text)
		if got, want := tbl.Names(), []string{"name", "city"}; !reflect.DeepEqual(got, want) {
			t.Fatalf("%s: Names()=%q, want %q", tt.label, got, want)
		}
		if got := cellsOf(t, tbl, "name")[0]; got != "José" {
			t.Fatalf("%s: name=%q, want José", tt.label, got)
		}
		if got := cellsOf(t, tbl, "city")[0]; got != "Köln" {
			t.Fatalf("%s: city=%q, want Köln", tt.label, got)
		}
	}
}

func TestReadCSV_Errors(t *testing.T) {
	t.Parallel()

	if _, err := Read(strings.NewReader(""), CSV); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty err=%v, want ErrEmpty", err)
	}
	if _, err := Read(strings.NewReader("a,b\n1,2,3\n"), CSV); !errors.Is(err, frame.ErrRaggedRow) {
		t.Fatalf("ragged err=%v, want ErrRaggedRow", err)
	}
	if _, err := Read(strings.NewReader("a"), Format("parquet")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("unknown format err=%v, want ErrUnsupportedFormat", err)
	}
}

func TestReadJSON_Records(t *testing.T) {
	t.Parallel()

	src := `[{"id": 1, "name": "a", "tags": ["x", "y"]},
	         {"name": "b", "id": 2.5, "extra": true},
	         {"id": null, "name": "NA"}]`
	tbl, err := Read(strings.NewReader(src), JSON)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, want := tbl.Names(), []string{"id", "name", "tags", "extra"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names()=%v, want %v", got, want)
	}
	if got, want := cellsOf(t, tbl, "id"), []any{int64(1), 2.5, nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("id=%#v, want %#v", got, want)
	}
	if got, want := cellsOf(t, tbl, "name"), []any{"a", "b", nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("name=%#v, want %#v", got, want)
	}
	if got, want := cellsOf(t, tbl, "tags"), []any{`["x","y"]`, nil, nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("tags=%#v, want %#v", got, want)
	}
	if got, want := cellsOf(t, tbl, "extra"), []any{nil, true, nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("extra=%#v, want %#v", got, want)
	}
}

func TestReadJSON_Columns(t *testing.T) {
	t.Parallel()

	src := `{"b": {"10": "k", "2": "j", "0": "i"}, "a": [1, 2]}`
	tbl, err := Read(strings.NewReader(src), JSON)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, want := tbl.Names(), []string{"b", "a"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names()=%v, want %v", got, want)
	}
	if got, want := cellsOf(t, tbl, "b"), []any{"i", "j", "k"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("b=%#v, want %#v (numeric index order)", got, want)
	}
	if got, want := cellsOf(t, tbl, "a"), []any{int64(1), int64(2), nil}; !reflect.DeepEqual(got, want) {
		t.Fatalf("a=%#v, want %#v", got, want)
	}

	if _, err := Read(strings.NewReader(`"scalar"`), JSON); err == nil {
		t.Fatalf("scalar root accepted")
	}
	if _, err := Read(strings.NewReader(`[]`), JSON); !errors.Is(err, ErrEmpty) {
		t.Fatalf("empty array err=%v, want ErrEmpty", err)
	}
}

func TestReadHTML_FirstTable(t *testing.T) {
	t.Parallel()

	src := `<html><body>
<p>intro</p>
<table>
  <thead><tr><th>city</th><th>pop</th></tr></thead>
  <tbody>
    <tr><td> Oslo </td><td>700000</td></tr>
    <tr><td>Bergen</td><td><table><tr><td>nested</td></tr></table></td></tr>
    <tr><td>Tromsø</td></tr>
  </tbody>
</table>
<table><tr><th>other</th></tr></table>
</body></html>`
	tbl, err := Read(strings.NewReader(src), HTML)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got, want := tbl.Names(), []string{"city", "pop"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("Names()=%v, want %v", got, want)
	}
	if got, want := cellsOf(t, tbl, "city"), []any{"Oslo", "Bergen", "Tromsø"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("city=%#v, want %#v", got, want)
	}
	if got := cellsOf(t, tbl, "pop"); len(got) != 3 || got[2] != nil {
		t.Fatalf("pop=%#v, want 3 rows with trailing nil", got)
	}

	if _, err := Read(strings.NewReader("<p>no tables</p>"), HTML); !errors.Is(err, ErrEmpty) {
		t.Fatalf("no table err=%v, want ErrEmpty", err)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	t.Parallel()

	src, err := frame.New(
		[]string{"id", "name", "score"},
		[][]any{
			{"1", "ann", nil},
			{"2", nil, "3.5"},
			{"3", "cé", "-1"},
		},
	)
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}

	dir := t.TempDir()
	for _, ext := range []string{".csv", ".tsv", ".xlsx", ".json", ".html"} {
		path := filepath.Join(dir, "table"+ext)
		if err := WriteFile(path, src); err != nil {
			t.Fatalf("%s: WriteFile: %v", ext, err)
		}
		got, err := ReadFile(path)
		if err != nil {
			t.Fatalf("%s: ReadFile: %v", ext, err)
		}
		if !reflect.DeepEqual(got.Names(), src.Names()) {
			t.Fatalf("%s: Names()=%v, want %v", ext, got.Names(), src.Names())
		}
		for _, col := range src.Columns {
			if g := cellsOf(t, got, col.Name); !reflect.DeepEqual(g, col.Cells) {
				t.Fatalf("%s: %s=%#v, want %#v", ext, col.Name, g, col.Cells)
			}
		}
	}
}

func TestWrite_TypedCellsAsText(t *testing.T) {
	t.Parallel()

	tbl, err := frame.New([]string{"b", "f", "when", "took", "c"}, [][]any{{
		true,
		0.1,
		time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC),
		90 * time.Second,
		complex(1, -2),
	}})
	if err != nil {
		t.Fatalf("frame.New: %v", err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, tbl, CSV); err != nil {
		t.Fatalf("Write: %v", err)
	}
	want := "b,f,when,took,c\nTrue,0.1,2021-03-04T05:06:07Z,P0DT0H1M30S,1-2j\n"
	if got := buf.String(); got != want {
		t.Fatalf("csv=%q, want %q", got, want)
	}
}
