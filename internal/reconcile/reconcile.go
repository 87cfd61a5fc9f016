// Package reconcile merges a batch of canonical rows onto the observations
// already stored, keyed by calendar date.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"cdsfeeder/internal/spread"
)

// ErrMissingClose is returned for a row that would leave an observation
// without a close value.
var ErrMissingClose = errors.New("row has no close value")

type Plan struct {
	Result spread.Result
	// Merged is the full dataset after the batch, ascending by date.
	Merged []spread.Observation
	// Changed holds the inserted or updated observations in batch order,
	// one entry per date.
	Changed []spread.Observation
}

type Options struct {
	Mode   spread.Mode
	Policy spread.NullPolicy
	Source string
	Now    time.Time
}

// Reconcile applies rows in order. On error the returned plan reflects every
// row before the failing one.
func Reconcile(rows []spread.Row, existing []spread.Observation, opts Options) (Plan, error) {
	byDate := make(map[string]spread.Observation, len(existing)+len(rows))
	for _, o := range existing {
		byDate[spread.FormatDate(o.Date)] = o
	}

	var result spread.Result
	var order []string
	changed := map[string]spread.Observation{}

	var err error
	for _, row := range rows {
		key := spread.FormatDate(row.Date)
		current, exists := byDate[key]

		if exists && opts.Mode == spread.ModeSkipDuplicates {
			result.Skipped++
			continue
		}

		var next spread.Observation
		if exists {
			next = Merge(current, row, opts.Policy)
			next.Source = opts.Source
			next.UpdatedAt = opts.Now
		} else {
			next = spread.Observation{
				Date:      spread.ToDate(row.Date),
				Open:      row.Open,
				High:      row.High,
				Low:       row.Low,
				ChangePct: row.ChangePct,
				Source:    opts.Source,
				CreatedAt: opts.Now,
				UpdatedAt: opts.Now,
			}
			if row.Close != nil {
				next.Close = *row.Close
			}
		}
		if row.Close == nil && (!exists || opts.Policy == spread.Overwrite) {
			err = fmt.Errorf("%s: %w", key, ErrMissingClose)
			break
		}

		byDate[key] = next
		if _, seen := changed[key]; !seen {
			order = append(order, key)
		}
		changed[key] = next
		if exists {
			result.Updated++
		} else {
			result.Inserted++
		}
	}

	plan := Plan{Result: result}
	for _, key := range order {
		plan.Changed = append(plan.Changed, changed[key])
	}
	plan.Merged = make([]spread.Observation, 0, len(byDate))
	for _, o := range byDate {
		plan.Merged = append(plan.Merged, o)
	}
	sort.Slice(plan.Merged, func(i, j int) bool {
		return plan.Merged[i].Date.Before(plan.Merged[j].Date)
	})
	return plan, err
}

// Merge overwrites the market fields of o with the non null fields of row.
// With the Overwrite policy absent fields clear the stored value instead.
func Merge(o spread.Observation, row spread.Row, policy spread.NullPolicy) spread.Observation {
	pick := func(stored, incoming *float64) *float64 {
		if incoming != nil || policy == spread.Overwrite {
			return incoming
		}
		return stored
	}
	o.Open = pick(o.Open, row.Open)
	o.High = pick(o.High, row.High)
	o.Low = pick(o.Low, row.Low)
	o.ChangePct = pick(o.ChangePct, row.ChangePct)
	if row.Close != nil {
		o.Close = *row.Close
	}
	return o
}
