package extractor

import (
	"fmt"
	"strings"

	"cdsfeeder/lib/htmlutil"
	"cdsfeeder/lib/textutil"

	"github.com/PuerkitoBio/goquery"
)

var (
	dateHeaders  = []string{"data", "date"}
	closeHeaders = []string{"ultimo", "close", "price"}
)

// ParseGeneric scans every table in the document and returns the first one
// whose header names a date column and a closing price column.
func ParseGeneric(markup string) (Table, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Table{}, fmt.Errorf("parse document: %w", err)
	}

	var found *Table
	doc.Find("table").EachWithBreak(func(_ int, table *goquery.Selection) bool {
		t := readTable(table)
		if !isCandidate(t.Header) {
			return true
		}
		found = &t
		return false
	})
	if found == nil {
		return Table{}, ErrNoTable
	}
	return *found, nil
}

func isCandidate(header []string) bool {
	hasDate := false
	hasClose := false
	for _, h := range header {
		if textutil.ContainsAny(h, dateHeaders) {
			hasDate = true
		}
		if textutil.ContainsAny(h, closeHeaders) {
			hasClose = true
		}
	}
	return hasDate && hasClose
}

func readTable(table *goquery.Selection) Table {
	rows := table.Find("tr").FilterFunction(func(_ int, tr *goquery.Selection) bool {
		return tr.Closest("table").IsSelection(table)
	})

	var header []string
	headerRow := -1
	if th := table.Find("thead th"); th.Length() > 0 {
		header = cellTexts(th.FilterFunction(func(_ int, cell *goquery.Selection) bool {
			return cell.Closest("table").IsSelection(table)
		}))
		rows = rows.FilterFunction(func(_ int, tr *goquery.Selection) bool {
			return tr.Closest("thead").Length() == 0
		})
	} else {
		rows.EachWithBreak(func(i int, tr *goquery.Selection) bool {
			cells := tr.Children()
			if cells.Length() > 0 && cells.Filter("th").Length() == cells.Length() {
				header = cellTexts(cells)
				headerRow = i
				return false
			}
			return true
		})
		if header == nil && rows.Length() > 0 {
			header = cellTexts(rows.First().Children().Filter("td, th"))
			headerRow = 0
		}
	}

	out := Table{Header: header}
	rows.Each(func(i int, tr *goquery.Selection) {
		if i == headerRow {
			return
		}
		cells := tr.Children().Filter("td")
		if cells.Length() == 0 {
			return
		}
		out.Rows = append(out.Rows, cellTexts(cells))
	})
	return out
}

func cellTexts(sel *goquery.Selection) []string {
	out := make([]string, 0, sel.Length())
	sel.Each(func(_ int, cell *goquery.Selection) {
		out = append(out, htmlutil.SelectionText(cell))
	})
	return out
}
