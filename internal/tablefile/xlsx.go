package tablefile

import (
	"fmt"
	"io"
	"time"

	"github.com/xuri/excelize/v2"

	"dfapi/internal/dtype"
	"dfapi/internal/frame"
)

const sheetName = "Sheet1"

// readXLSX reads the first worksheet. Cells are taken as displayed, so
// dates arrive in their number format and are parsed by the type engine.
func readXLSX(r io.Reader) (*frame.Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("tablefile: open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrEmpty
	}
	grid, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("tablefile: read sheet %q: %w", sheets[0], err)
	}
	if len(grid) == 0 {
		return nil, ErrEmpty
	}

	width := 0
	for _, row := range grid {
		if len(row) > width {
			width = len(row)
		}
	}
	header := padHeader(append([]string(nil), grid[0]...), width)

	rows := make([][]any, 0, len(grid)-1)
	for _, rec := range grid[1:] {
		row := make([]any, len(rec))
		for i, v := range rec {
			row[i] = textCell(v)
		}
		rows = append(rows, row)
	}
	return frame.New(header, rows)
}

func writeXLSX(w io.Writer, t *frame.Table) error {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(t.Columns))
	for i, name := range t.Names() {
		header[i] = name
	}
	if err := f.SetSheetRow(sheetName, "A1", &header); err != nil {
		return err
	}

	row := make([]any, len(t.Columns))
	for i := 0; i < t.NumRows(); i++ {
		for c, col := range t.Columns {
			row[c] = xlsxCell(col.Cells[i])
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheetName, cell, &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

// xlsxCell keeps values excelize stores natively and renders the rest as text.
func xlsxCell(v any) any {
	switch x := v.(type) {
	case nil, string, bool, int8, int16, int32, int64, float32, float64:
		return v
	case time.Time:
		return x.Format(time.RFC3339Nano)
	case time.Duration:
		return dtype.FormatDuration(x)
	case complex128:
		return dtype.FormatComplex(x)
	}
	return cellText(v)
}
