package extractor

import (
	"fmt"
	"strings"

	"cdsfeeder/lib/htmlutil"

	"github.com/antchfx/htmlquery"
)

// ParseXPath reads the table found at xpath, taking the header from its
// thead cells and the rows from its tbody.
func ParseXPath(markup, xpath string) (Table, error) {
	doc, err := htmlquery.Parse(strings.NewReader(markup))
	if err != nil {
		return Table{}, fmt.Errorf("parse document: %w", err)
	}
	table, err := htmlquery.Query(doc, xpath)
	if err != nil {
		return Table{}, fmt.Errorf("xpath %q: %w", xpath, err)
	}
	if table == nil {
		return Table{}, fmt.Errorf("%w at %s", ErrNoTable, xpath)
	}

	th, err := htmlquery.QueryAll(table, ".//thead//th")
	if err != nil {
		return Table{}, err
	}
	header := make([]string, 0, len(th))
	for _, n := range th {
		header = append(header, htmlutil.CellText(n))
	}

	trs, err := htmlquery.QueryAll(table, ".//tbody//tr")
	if err != nil {
		return Table{}, err
	}
	var rows [][]string
	for _, tr := range trs {
		tds, err := htmlquery.QueryAll(tr, "./td")
		if err != nil {
			return Table{}, err
		}
		if len(tds) == 0 {
			continue
		}
		cells := make([]string, 0, len(tds))
		for _, td := range tds {
			cells = append(cells, htmlutil.CellText(td))
		}
		rows = append(rows, cells)
	}

	return Table{Header: header, Rows: rows}, nil
}
