// Package memstore is an in-memory Store, used in tests and as the reference
// for the semantics the persistent adapters implement.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"cdsfeeder/internal/reconcile"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
)

type Store struct {
	opts store.Options

	mu   sync.Mutex
	obs  []spread.Observation
	runs []spread.RunLog
	// FailLogRun makes LogRun fail with the given error.
	FailLogRun error
}

func New(opts store.Options) *Store {
	return &Store{opts: opts.WithDefaults()}
}

// Seed replaces the dataset.
func (s *Store) Seed(obs ...spread.Observation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.obs = append([]spread.Observation(nil), obs...)
	sort.Slice(s.obs, func(i, j int) bool {
		return s.obs[i].Date.Before(s.obs[j].Date)
	})
}

func (s *Store) Runs() []spread.RunLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]spread.RunLog(nil), s.runs...)
}

func (s *Store) GetByDate(_ context.Context, date time.Time) (*spread.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date = spread.ToDate(date)
	for _, o := range s.obs {
		if o.Date.Equal(date) {
			found := o
			return &found, nil
		}
	}
	return nil, nil
}

func (s *Store) GetLatest(_ context.Context, limit int) ([]spread.Observation, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []spread.Observation{}
	for i := len(s.obs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.obs[i])
	}
	return out, nil
}

func (s *Store) GetDateRange(_ context.Context, start, end *time.Time, order spread.Order) ([]spread.Observation, error) {
	if err := store.CheckRange(start, end); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.FilterRange(s.obs, start, end, order), nil
}

func (s *Store) UpsertBatch(_ context.Context, rows []spread.Row, mode spread.Mode) (spread.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	plan, err := reconcile.Reconcile(rows, s.obs, reconcile.Options{
		Mode:   mode,
		Policy: s.opts.NullPolicy,
		Source: s.opts.Source,
		Now:    s.opts.Now().UTC(),
	})
	s.obs = plan.Merged
	if err != nil {
		return plan.Result, &store.UpsertError{Partial: plan.Result, Err: err}
	}
	return plan.Result, nil
}

func (s *Store) GetStatistics(_ context.Context) (spread.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.Summarize(s.obs, nil), nil
}

func (s *Store) LogRun(_ context.Context, run spread.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLogRun != nil {
		return s.FailLogRun
	}
	s.runs = append(s.runs, run)
	return nil
}

func (s *Store) RecentRuns(_ context.Context, limit int) ([]spread.RunLog, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.RecentRuns(s.runs, limit), nil
}

func (s *Store) DeleteRange(_ context.Context, start, end time.Time) (int, error) {
	if err := store.CheckRange(&start, &end); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept, removed := store.RemoveRange(s.obs, start, end)
	s.obs = kept
	return removed, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs), nil
}

func (s *Store) Close() error {
	return nil
}
