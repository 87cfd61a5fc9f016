// Package spread holds the data model shared by every stage of the pipeline:
// observations of the tracked credit-spread index, the canonical rows the
// normalizer produces and the audit records written for every run.
package spread

import (
	"fmt"
	"strings"
	"time"
)

// Observation is one calendar date's market data as persisted by a store.
type Observation struct {
	Date      time.Time
	Open      *float64
	High      *float64
	Low       *float64
	Close     float64
	ChangePct *float64

	Source    string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Row is a canonical normalized row. Close is optional at this stage because
// the fetched table may not carry a close column at all.
type Row struct {
	Date      time.Time
	Open      *float64
	High      *float64
	Low       *float64
	Close     *float64
	ChangePct *float64
}

// Float returns a pointer to v, handy when building rows by hand.
func Float(v float64) *float64 {
	return &v
}

type Mode string

const (
	ModeUpdateDuplicates Mode = "update_duplicates"
	ModeSkipDuplicates   Mode = "skip_duplicates"
)

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "update", string(ModeUpdateDuplicates):
		return ModeUpdateDuplicates, nil
	case "skip", string(ModeSkipDuplicates):
		return ModeSkipDuplicates, nil
	}
	return "", fmt.Errorf("unknown duplicate mode %q", s)
}

// NullPolicy decides what happens to an existing non-null field when the
// incoming row for the same date has that field absent.
type NullPolicy string

const (
	// KeepExisting leaves the stored value in place; only non-null incoming
	// fields overwrite.
	KeepExisting NullPolicy = "keep_existing"
	// Overwrite replaces every field, nulls included.
	Overwrite NullPolicy = "overwrite"
)

func ParseNullPolicy(s string) (NullPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(KeepExisting):
		return KeepExisting, nil
	case string(Overwrite):
		return Overwrite, nil
	}
	return "", fmt.Errorf("unknown null policy %q", s)
}

type Order string

const (
	Ascending  Order = "asc"
	Descending Order = "desc"
)

func ParseOrder(s string) (Order, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(Descending):
		return Descending, nil
	case string(Ascending):
		return Ascending, nil
	}
	return "", fmt.Errorf("unknown order %q, expected asc or desc", s)
}

// Result counts what an upsert batch did.
type Result struct {
	Inserted int `json:"inserted"`
	Updated  int `json:"updated"`
	Skipped  int `json:"skipped"`
}

func (r Result) String() string {
	return fmt.Sprintf("%d inserted, %d updated, %d skipped", r.Inserted, r.Updated, r.Skipped)
}

type Statistics struct {
	TotalRecords int        `json:"total_records"`
	EarliestDate *time.Time `json:"earliest_date"`
	LatestDate   *time.Time `json:"latest_date"`
	Sources      []string   `json:"sources"`
}
