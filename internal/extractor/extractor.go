// Package extractor locates the historical data table inside a fetched page
// and returns it as header and row cell text.
package extractor

import (
	"errors"
	"fmt"
	"strings"
)

// DefaultXPath is the absolute location of the historical table in the page
// layout that was current when the fallback strategy was written.
const DefaultXPath = "/html/body/div[1]/div[2]/div[2]/div[2]/div[1]/div[2]/div[3]/table"

// Table is the raw cell text of the data table. Rows may be shorter or longer
// than Header.
type Table struct {
	Header []string
	Rows   [][]string
}

func (t Table) Empty() bool {
	return len(t.Header) == 0 || len(t.Rows) == 0
}

type Strategy string

const (
	StrategyGeneric Strategy = "generic"
	StrategyXPath   Strategy = "xpath"
)

// ErrNoTable is returned by a strategy that ran without errors but found
// nothing usable.
var ErrNoTable = errors.New("no matching table")

type Attempt struct {
	Strategy Strategy
	Err      error
}

// ExtractionError is returned when every strategy failed.
type ExtractionError struct {
	Attempts []Attempt
	// Err is set when extraction produced a table that was later found to
	// carry no usable rows.
	Err error
}

func (e *ExtractionError) Error() string {
	if e.Err != nil && len(e.Attempts) == 0 {
		return fmt.Sprintf("extract table: %v", e.Err)
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Strategy, a.Err)
	}
	msg := "extract table: all strategies failed (" + strings.Join(parts, "; ") + ")"
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExtractionError) Unwrap() []error {
	errs := make([]error, 0, len(e.Attempts)+1)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	for _, a := range e.Attempts {
		errs = append(errs, a.Err)
	}
	return errs
}

type Extractor struct {
	// XPath overrides DefaultXPath for the fallback strategy.
	XPath string
}

type strategyFunc func(markup string) (Table, error)

// Extract tries the generic table scan first and the XPath lookup second,
// returning the first non empty table.
func (e Extractor) Extract(markup string) (Table, Strategy, error) {
	xpath := e.XPath
	if xpath == "" {
		xpath = DefaultXPath
	}

	strategies := []struct {
		name Strategy
		fn   strategyFunc
	}{
		{name: StrategyGeneric, fn: ParseGeneric},
		{name: StrategyXPath, fn: func(markup string) (Table, error) {
			return ParseXPath(markup, xpath)
		}},
	}

	failed := &ExtractionError{}
	for _, s := range strategies {
		table, err := s.fn(markup)
		if err == nil && table.Empty() {
			err = ErrNoTable
		}
		if err != nil {
			failed.Attempts = append(failed.Attempts, Attempt{Strategy: s.name, Err: err})
			continue
		}
		return table, s.name, nil
	}
	return Table{}, "", failed
}
