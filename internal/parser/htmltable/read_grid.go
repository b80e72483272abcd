// Package htmltable reads HTML table exports into a raw string grid. Several
// device-export tools emit a single <table> wrapped in report chrome; only
// the first table is read.
package htmltable

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// ReadGrid extracts the first <table> of an HTML document as raw strings.
//
// Each <tr> becomes a grid row; <th> and <td> cells are read as text in DOM
// order. Nested markup inside a cell collapses to its text content. A
// document without a <table> is an error.
func ReadGrid(r io.Reader) ([][]string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	table := doc.Find("table").First()
	if table.Length() == 0 {
		return nil, fmt.Errorf("no <table> element found")
	}

	var grid [][]string
	table.Find("tr").Each(func(_ int, tr *goquery.Selection) {
		var row []string
		tr.Find("th, td").Each(func(_ int, cell *goquery.Selection) {
			row = append(row, collapseSpace(cell.Text()))
		})
		if len(row) > 0 {
			grid = append(grid, row)
		}
	})

	if len(grid) == 0 {
		return nil, fmt.Errorf("table has no rows")
	}
	return grid, nil
}

// collapseSpace folds runs of whitespace to single spaces; markup inside
// cells otherwise leaks newlines and indentation into values.
func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
