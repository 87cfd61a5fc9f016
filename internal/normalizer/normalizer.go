// Package normalizer maps an extracted table onto canonical rows: it
// recognizes the columns by header, parses locale formatted numbers and
// dates, drops rows it cannot use and sorts the result by date.
package normalizer

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"cdsfeeder/internal/extractor"
	"cdsfeeder/internal/spread"
	"cdsfeeder/lib/textutil"
)

// ErrNoRows is returned when no row survived normalization.
var ErrNoRows = errors.New("no usable rows")

type Column string

const (
	ColumnDate      Column = "date"
	ColumnOpen      Column = "open"
	ColumnHigh      Column = "high"
	ColumnLow       Column = "low"
	ColumnClose     Column = "close"
	ColumnChangePct Column = "change_pct"
)

type rule struct {
	column Column
	// any one of the alternatives matches; an alternative matches when the
	// header contains all of its substrings.
	alternatives [][]string
}

var rules = []rule{
	{column: ColumnDate, alternatives: [][]string{{"data"}, {"date"}}},
	{column: ColumnOpen, alternatives: [][]string{{"abert"}, {"open"}}},
	{column: ColumnHigh, alternatives: [][]string{{"maxima"}, {"high"}}},
	{column: ColumnLow, alternatives: [][]string{{"minima"}, {"low"}}},
	{column: ColumnClose, alternatives: [][]string{{"ultimo"}, {"close"}, {"price"}, {"fech"}}},
	{column: ColumnChangePct, alternatives: [][]string{{"var", "%"}, {"change", "%"}, {"chg"}}},
}

// MapHeader returns the canonical column of a header, if any.
func MapHeader(header string) (Column, bool) {
	for _, r := range rules {
		for _, alt := range r.alternatives {
			if textutil.ContainsAll(header, alt) {
				return r.column, true
			}
		}
	}
	return "", false
}

// Warning describes a row that was dropped.
type Warning struct {
	Row    int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("row %d: %s", w.Row, w.Reason)
}

type Report struct {
	Input   int
	Dropped []Warning
	// Columns lists the canonical columns found in the header, in canonical
	// order.
	Columns []Column
}

func (r Report) Has(c Column) bool {
	for _, col := range r.Columns {
		if col == c {
			return true
		}
	}
	return false
}

// Normalize converts table into canonical rows sorted ascending by date.
// Dropped rows are listed in the report; ErrNoRows is returned when nothing
// is left.
func Normalize(table extractor.Table) ([]spread.Row, Report, error) {
	index := map[Column]int{}
	for i, h := range table.Header {
		col, ok := MapHeader(h)
		if !ok {
			continue
		}
		if _, taken := index[col]; taken {
			continue
		}
		index[col] = i
	}

	report := Report{Input: len(table.Rows)}
	for _, r := range rules {
		if _, ok := index[r.column]; ok {
			report.Columns = append(report.Columns, r.column)
		}
	}

	dateIdx, hasDate := index[ColumnDate]
	_, hasClose := index[ColumnClose]

	cell := func(row []string, col Column) (string, bool) {
		i, ok := index[col]
		if !ok || i >= len(row) {
			return "", false
		}
		return row[i], true
	}
	number := func(row []string, col Column) *float64 {
		s, ok := cell(row, col)
		if !ok {
			return nil
		}
		return ParseSpread(s)
	}

	rows := make([]spread.Row, 0, len(table.Rows))
	for i, raw := range table.Rows {
		if !hasDate {
			report.Dropped = append(report.Dropped, Warning{Row: i, Reason: "table has no date column"})
			continue
		}
		if dateIdx >= len(raw) {
			report.Dropped = append(report.Dropped, Warning{Row: i, Reason: "missing date cell"})
			continue
		}
		date, err := ParseDate(raw[dateIdx])
		if err != nil {
			report.Dropped = append(report.Dropped, Warning{Row: i, Reason: err.Error()})
			continue
		}

		row := spread.Row{
			Date:  date,
			Open:  number(raw, ColumnOpen),
			High:  number(raw, ColumnHigh),
			Low:   number(raw, ColumnLow),
			Close: number(raw, ColumnClose),
		}
		if s, ok := cell(raw, ColumnChangePct); ok {
			row.ChangePct = ParseChangePct(s)
		}
		if hasClose && row.Close == nil {
			report.Dropped = append(report.Dropped, Warning{
				Row:    i,
				Reason: fmt.Sprintf("unparsable close on %s", spread.FormatDate(date)),
			})
			continue
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].Date.Before(rows[j].Date)
	})

	if len(rows) == 0 {
		return nil, report, ErrNoRows
	}
	return rows, report, nil
}

var dateLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	spread.ISODate,
	"Jan 02, 2006",
	"Jan 2, 2006",
}

// ParseDate parses day first dates as well as ISO and english month dates.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return spread.ToDate(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparsable date %q", s)
}

func isAbsent(s string) bool {
	switch strings.ToLower(s) {
	case "", "nan", "none", "null", "-":
		return true
	}
	return false
}

// ParseSpread parses a pt-BR formatted spread in basis points shown as
// "1.234,56" and returns it divided by 100.
func ParseSpread(s string) *float64 {
	s = strings.TrimSpace(s)
	if isAbsent(s) {
		return nil
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	s = strings.ReplaceAll(s, "%", "")
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return nil
	}
	return spread.Float(v / 100)
}

var signedNumber = regexp.MustCompile(`[+-]?\d+(?:\.\d+)?`)

// ParseChangePct parses a signed percentage such as "+1,56%" into 1.56.
func ParseChangePct(s string) *float64 {
	s = strings.TrimSpace(s)
	if isAbsent(s) {
		return nil
	}
	s = strings.ReplaceAll(s, " ", "")
	s = strings.ReplaceAll(s, "%", "")
	s = strings.ReplaceAll(s, ",", ".")
	if v, err := strconv.ParseFloat(s, 64); err == nil {
		return spread.Float(v)
	}
	m := signedNumber.FindString(s)
	if m == "" {
		return nil
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return nil
	}
	return spread.Float(v)
}
