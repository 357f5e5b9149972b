package tablefile

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"dfapi/internal/frame"
)

// readHTML reads the first <table> in the document. The header is the first
// row of <thead> when present, otherwise the first row of the table.
func readHTML(r io.Reader) (*frame.Table, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("tablefile: parse html: %w", err)
	}
	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("%w: no <table> found", ErrEmpty)
	}

	var grid [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		// Skip rows of nested tables.
		if tr.Closest("table").Get(0) != table.Get(0) {
			return
		}
		var rec []string
		tr.ChildrenFiltered("th, td").Each(func(_ int, cell *goquery.Selection) {
			rec = append(rec, strings.TrimSpace(cell.Text()))
		})
		grid = append(grid, rec)
	})
	if len(grid) == 0 {
		return nil, ErrEmpty
	}

	width := 0
	for _, rec := range grid {
		width = max(width, len(rec))
	}
	header := padHeader(grid[0], width)

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

// writeHTML renders t as a bare <table> with a <thead> and a <tbody>.
func writeHTML(w io.Writer, t *frame.Table) error {
	table := element(atom.Table)

	head := element(atom.Thead)
	headRow := element(atom.Tr)
	for _, name := range t.Names() {
		headRow.AppendChild(textElement(atom.Th, name))
	}
	head.AppendChild(headRow)
	table.AppendChild(head)

	body := element(atom.Tbody)
	for i := 0; i < t.NumRows(); i++ {
		tr := element(atom.Tr)
		for _, col := range t.Columns {
			tr.AppendChild(textElement(atom.Td, cellText(col.Cells[i])))
		}
		body.AppendChild(tr)
	}
	table.AppendChild(body)

	if err := html.Render(w, table); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func element(a atom.Atom) *html.Node {
	return &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
}

func textElement(a atom.Atom, text string) *html.Node {
	n := element(a)
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	return n
}
