package store

import (
	"sort"
	"time"

	"cdsfeeder/internal/spread"
)

// FilterRange selects the observations of an ascending slice that fall in
// [start, end] and returns them in the given order.
func FilterRange(obs []spread.Observation, start, end *time.Time, order spread.Order) []spread.Observation {
	out := []spread.Observation{}
	for _, o := range obs {
		if start != nil && o.Date.Before(spread.ToDate(*start)) {
			continue
		}
		if end != nil && o.Date.After(spread.ToDate(*end)) {
			continue
		}
		out = append(out, o)
	}
	if order != spread.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// RemoveRange splits obs into the observations outside [start, end] and the
// count of the ones inside.
func RemoveRange(obs []spread.Observation, start, end time.Time) ([]spread.Observation, int) {
	start = spread.ToDate(start)
	end = spread.ToDate(end)
	kept := make([]spread.Observation, 0, len(obs))
	for _, o := range obs {
		if !o.Date.Before(start) && !o.Date.After(end) {
			continue
		}
		kept = append(kept, o)
	}
	return kept, len(obs) - len(kept)
}

// Summarize computes statistics over an ascending slice. fallbackSource is
// reported for observations carrying no source tag.
func Summarize(obs []spread.Observation, fallbackSource *string) spread.Statistics {
	stats := spread.Statistics{TotalRecords: len(obs), Sources: []string{}}
	if len(obs) == 0 {
		return stats
	}
	earliest := obs[0].Date
	latest := obs[len(obs)-1].Date
	stats.EarliestDate = &earliest
	stats.LatestDate = &latest

	seen := map[string]bool{}
	for _, o := range obs {
		source := o.Source
		if source == "" && fallbackSource != nil {
			source = *fallbackSource
		}
		if source == "" || seen[source] {
			continue
		}
		seen[source] = true
		stats.Sources = append(stats.Sources, source)
	}
	sort.Strings(stats.Sources)
	return stats
}

// RecentRuns returns up to limit runs ordered by start time, newest first.
// Runs sharing a start time keep the most recently logged first.
func RecentRuns(runs []spread.RunLog, limit int) []spread.RunLog {
	out := make([]spread.RunLog, 0, len(runs))
	for i := len(runs) - 1; i >= 0; i-- {
		out = append(out, runs[i])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].StartedAt.After(out[j].StartedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
