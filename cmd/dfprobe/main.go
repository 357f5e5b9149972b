// Command dfprobe infers column types for a local table file without running
// the server.
//
// It reads the file with the same readers the API uses (CSV, TSV, XLSX, JSON,
// HTML), runs type inference, and prints either:
//
//   - Default mode: a JSON document with the inferred dtypes, in the shape the
//     PATCH endpoint accepts.
//   - Report mode (-report): a per-column uniqueness report plus memory usage
//     before and after typing. No JSON is printed.
//
// -rows bounds inference to the first N rows, which is handy for sizing a
// categorical threshold on a large file.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	json "github.com/goccy/go-json"

	"dfapi/internal/dtype"
	"dfapi/internal/frame"
	"dfapi/internal/tablefile"
	"dfapi/internal/typing"
)

func main() {
	var (
		// flagFile is the table to probe. The extension picks the reader.
		flagFile = flag.String("file", "", "Path of the table file ("+strings.Join(tablefile.Extensions(), ", ")+")")

		// flagRows limits inference to a prefix of the table. 0 means all rows.
		flagRows = flag.Int("rows", 0, "Infer from the first N rows only (0 = all)")

		flagPretty = flag.Bool("pretty", true, "Pretty-print JSON output")

		// flagReport prints the uniqueness report instead of JSON.
		flagReport = flag.Bool("report", false, "Print uniqueness report (suppresses JSON output)")
	)
	flag.Parse()

	if strings.TrimSpace(*flagFile) == "" {
		fmt.Fprintln(os.Stderr, "missing -file")
		flag.Usage()
		os.Exit(2)
	}
	if *flagRows < 0 {
		fmt.Fprintln(os.Stderr, "-rows must be >= 0")
		os.Exit(2)
	}

	raw, err := tablefile.ReadFile(*flagFile)
	if err != nil {
		log.Fatalf("probe: %v", err)
	}
	if *flagRows > 0 {
		raw = raw.Head(*flagRows)
	}
	typed, schema := typing.Infer(raw)

	if *flagReport {
		writeReport(os.Stdout, raw, typed)
		return
	}

	out := probeResult{
		File:   filepath.Base(*flagFile),
		Rows:   typed.NumRows(),
		Dtypes: schema,
	}
	var b []byte
	if *flagPretty {
		b, err = json.MarshalIndent(out, "", "  ")
	} else {
		b, err = json.Marshal(out)
	}
	if err != nil {
		log.Fatalf("marshal: %v", err)
	}
	fmt.Fprintln(os.Stdout, string(b))
}

type probeResult struct {
	File   string       `json:"file"`
	Rows   int          `json:"rows"`
	Dtypes dtype.Schema `json:"dtypes"`
}

// writeReport prints one line per column, then raw vs typed memory usage.
func writeReport(w io.Writer, raw, typed *frame.Table) {
	stats := typing.Describe(typed)
	if len(stats) == 0 || typed.NumRows() == 0 {
		fmt.Fprintln(w, "uniqueness: no rows sampled")
		return
	}

	fmt.Fprintf(w, "uniqueness report: %d rows\n", typed.NumRows())
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  column\tdtype\tnon-null\tdistinct\tuniqueness")
	for _, s := range stats {
		fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%.3f\n", s.Name, s.Tag, s.NonNull, s.Distinct, s.Uniqueness())
	}
	tw.Flush()

	before, after := raw.MemoryUsage(), typed.MemoryUsage()
	fmt.Fprintf(w, "memory: %s raw, %s typed\n", humanize.Bytes(uint64(before)), humanize.Bytes(uint64(after)))
}
