// Package store defines the persistence contract shared by the file and the
// relational adapters.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdsfeeder/internal/spread"
)

// SourceInvesting tags rows that came from the scraped page.
const SourceInvesting = "investing.com"

// SourceImport tags rows loaded from a historical CSV.
const SourceImport = "csv_import"

type Store interface {
	// GetByDate returns nil when no observation exists for date.
	GetByDate(ctx context.Context, date time.Time) (*spread.Observation, error)
	// GetLatest returns up to limit observations, newest first. A limit below
	// 1 is ErrInvalidLimit.
	GetLatest(ctx context.Context, limit int) ([]spread.Observation, error)
	// GetDateRange returns the observations between start and end, both
	// inclusive and both optional.
	GetDateRange(ctx context.Context, start, end *time.Time, order spread.Order) ([]spread.Observation, error)
	// UpsertBatch reconciles rows onto the stored dataset. A storage failure
	// is an *UpsertError carrying the counts achieved before it.
	UpsertBatch(ctx context.Context, rows []spread.Row, mode spread.Mode) (spread.Result, error)
	GetStatistics(ctx context.Context) (spread.Statistics, error)
	LogRun(ctx context.Context, run spread.RunLog) error
	// RecentRuns returns up to limit run logs, most recent first. A limit below
	// 1 is ErrInvalidLimit.
	RecentRuns(ctx context.Context, limit int) ([]spread.RunLog, error)
	// DeleteRange removes the observations between start and end inclusive
	// and returns how many were removed.
	DeleteRange(ctx context.Context, start, end time.Time) (int, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

type Options struct {
	// Source tags every row written through the store.
	Source     string
	NullPolicy spread.NullPolicy
	// Now defaults to time.Now.
	Now func() time.Time
}

func (o Options) WithDefaults() Options {
	if o.Source == "" {
		o.Source = SourceInvesting
	}
	if o.NullPolicy == "" {
		o.NullPolicy = spread.KeepExisting
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// ErrInvalidLimit is returned by GetLatest and RecentRuns for a limit below 1.
var ErrInvalidLimit = errors.New("limit must be at least 1")

func CheckLimit(limit int) error {
	if limit < 1 {
		return fmt.Errorf("%w, got %d", ErrInvalidLimit, limit)
	}
	return nil
}

// ErrInvalidRange is returned when a range has its start after its end.
var ErrInvalidRange = errors.New("start date is after end date")

func CheckRange(start, end *time.Time) error {
	if start != nil && end != nil && start.After(*end) {
		return fmt.Errorf("%w: %s > %s", ErrInvalidRange, spread.FormatDate(*start), spread.FormatDate(*end))
	}
	return nil
}

type UpsertError struct {
	Partial spread.Result
	Err     error
}

func (e *UpsertError) Error() string {
	return fmt.Sprintf("upsert failed after %s: %v", e.Partial, e.Err)
}

func (e *UpsertError) Unwrap() error {
	return e.Err
}
