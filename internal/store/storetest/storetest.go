// Package storetest is the behavioural contract every Store adapter is run
// against.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"cdsfeeder/internal/reconcile"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

// Factory returns an empty store configured with opts. Cleanup is the
// factory's responsibility.
type Factory func(t *testing.T, opts store.Options) store.Store

var (
	D17 = spread.NewDate(2025, 11, 17)
	D18 = spread.NewDate(2025, 11, 18)
	D19 = spread.NewDate(2025, 11, 19)
	D20 = spread.NewDate(2025, 11, 20)

	Now = time.Date(2025, 11, 20, 22, 0, 0, 0, time.UTC)
)

func Options() store.Options {
	return store.Options{
		Source:     store.SourceInvesting,
		NullPolicy: spread.KeepExisting,
		Now:        func() time.Time { return Now },
	}
}

func seedRows() []spread.Row {
	return []spread.Row{
		{Date: D17, Open: spread.Float(12.0), High: spread.Float(12.2), Low: spread.Float(11.9), Close: spread.Float(12.1), ChangePct: spread.Float(0.5)},
		{Date: D18, Open: spread.Float(12.1), High: spread.Float(12.4), Low: spread.Float(12.0), Close: spread.Float(12.3), ChangePct: spread.Float(1.65)},
	}
}

func Run(t *testing.T, factory Factory) {
	tests := []struct {
		name string
		run  func(t *testing.T, factory Factory)
	}{
		{name: "Empty", run: testEmpty},
		{name: "InsertUpdateCounts", run: testInsertUpdateCounts},
		{name: "SkipDuplicates", run: testSkipDuplicates},
		{name: "KeepExistingFields", run: testKeepExisting},
		{name: "OverwritePolicy", run: testOverwrite},
		{name: "Idempotent", run: testIdempotent},
		{name: "DuplicateDatesInBatch", run: testDuplicateDates},
		{name: "MissingClose", run: testMissingClose},
		{name: "Queries", run: testQueries},
		{name: "Statistics", run: testStatistics},
		{name: "RunLogs", run: testRunLogs},
		{name: "DeleteRange", run: testDeleteRange},
		{name: "InvalidLimit", run: testInvalidLimit},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			test.run(t, factory)
		})
	}
}

func testEmpty(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Zero(t, count)

	obs, err := s.GetByDate(ctx, D19)
	require.NoError(t, err)
	require.Nil(t, obs)

	latest, err := s.GetLatest(ctx, 5)
	require.NoError(t, err)
	require.Empty(t, latest)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.Zero(t, stats.TotalRecords)
	require.Nil(t, stats.EarliestDate)
	require.Nil(t, stats.LatestDate)
	require.Empty(t, stats.Sources)

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func testInsertUpdateCounts(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	res, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 2}, res)

	res, err = s.UpsertBatch(ctx, []spread.Row{
		{Date: D18, Open: spread.Float(12.1), High: spread.Float(12.4), Low: spread.Float(12.0), Close: spread.Float(12.35), ChangePct: spread.Float(1.7)},
		{Date: D19, Open: spread.Float(12.3), High: spread.Float(12.5), Low: spread.Float(12.2), Close: spread.Float(12.3456), ChangePct: spread.Float(0.0)},
	}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Updated: 1}, res)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, count)

	corrected, err := s.GetByDate(ctx, D18)
	require.NoError(t, err)
	require.NotNil(t, corrected)
	require.Equal(t, 12.35, corrected.Close)
	require.Equal(t, 1.7, *corrected.ChangePct)
	require.Equal(t, store.SourceInvesting, corrected.Source)
	require.True(t, D18.Equal(corrected.Date))

	fresh, err := s.GetByDate(ctx, D19)
	require.NoError(t, err)
	require.InDelta(t, 12.3456, fresh.Close, 1e-12)
	require.NotNil(t, fresh.ChangePct)
	require.Zero(t, *fresh.ChangePct)
}

func testSkipDuplicates(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	_, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)

	res, err := s.UpsertBatch(ctx, []spread.Row{
		{Date: D18, Close: spread.Float(99)},
		{Date: D19, Close: spread.Float(12.5)},
	}, spread.ModeSkipDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Skipped: 1}, res)

	kept, err := s.GetByDate(ctx, D18)
	require.NoError(t, err)
	require.Equal(t, 12.3, kept.Close)
}

func testKeepExisting(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	_, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)

	res, err := s.UpsertBatch(ctx, []spread.Row{{Date: D18, Close: spread.Float(12.4)}}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Updated: 1}, res)

	obs, err := s.GetByDate(ctx, D18)
	require.NoError(t, err)
	require.Equal(t, 12.4, obs.Close)
	require.NotNil(t, obs.Open)
	require.Equal(t, 12.1, *obs.Open)
	require.Equal(t, 1.65, *obs.ChangePct)

	// a row without close only touches the fields it carries
	res, err = s.UpsertBatch(ctx, []spread.Row{{Date: D18, High: spread.Float(12.6)}}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Updated: 1}, res)

	obs, err = s.GetByDate(ctx, D18)
	require.NoError(t, err)
	require.Equal(t, 12.4, obs.Close)
	require.Equal(t, 12.6, *obs.High)
}

func testOverwrite(t *testing.T, factory Factory) {
	ctx := context.Background()
	opts := Options()
	opts.NullPolicy = spread.Overwrite
	s := factory(t, opts)

	_, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	_, err = s.UpsertBatch(ctx, []spread.Row{{Date: D18, Close: spread.Float(12.4)}}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)

	obs, err := s.GetByDate(ctx, D18)
	require.NoError(t, err)
	require.Equal(t, 12.4, obs.Close)
	require.Nil(t, obs.Open)
	require.Nil(t, obs.High)
	require.Nil(t, obs.Low)
	require.Nil(t, obs.ChangePct)
}

func testIdempotent(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	_, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	before, err := s.GetDateRange(ctx, nil, nil, spread.Ascending)
	require.NoError(t, err)

	res, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Updated: 2}, res)

	after, err := s.GetDateRange(ctx, nil, nil, spread.Ascending)
	require.NoError(t, err)
	if diff := cmp.Diff(before, after); diff != "" {
		t.Fatalf("second upsert changed the dataset (-before +after):\n%s", diff)
	}
}

func testDuplicateDates(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	res, err := s.UpsertBatch(ctx, []spread.Row{
		{Date: D19, Close: spread.Float(1)},
		{Date: D19, Close: spread.Float(2)},
	}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Updated: 1}, res)

	obs, err := s.GetByDate(ctx, D19)
	require.NoError(t, err)
	require.Equal(t, 2.0, obs.Close)
}

func testMissingClose(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	res, err := s.UpsertBatch(ctx, []spread.Row{
		{Date: D17, Close: spread.Float(12.1)},
		{Date: D18, Open: spread.Float(12.2)},
		{Date: D19, Close: spread.Float(12.3)},
	}, spread.ModeUpdateDuplicates)

	var uerr *store.UpsertError
	require.True(t, errors.As(err, &uerr), "expected *UpsertError, got %v", err)
	require.ErrorIs(t, err, reconcile.ErrMissingClose)
	require.Equal(t, spread.Result{Inserted: 1}, uerr.Partial)
	require.Equal(t, uerr.Partial, res)

	count, err := s.Count(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func testQueries(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	rows := append(seedRows(),
		spread.Row{Date: D19, Close: spread.Float(12.5)},
		spread.Row{Date: D20, Close: spread.Float(12.6)},
	)
	_, err := s.UpsertBatch(ctx, rows, spread.ModeUpdateDuplicates)
	require.NoError(t, err)

	latest, err := s.GetLatest(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, []time.Time{D20, D19}, dates(latest))

	start, end := D18, D19
	desc, err := s.GetDateRange(ctx, &start, &end, spread.Descending)
	require.NoError(t, err)
	require.Equal(t, []time.Time{D19, D18}, dates(desc))

	asc, err := s.GetDateRange(ctx, &start, nil, spread.Ascending)
	require.NoError(t, err)
	require.Equal(t, []time.Time{D18, D19, D20}, dates(asc))

	upTo, err := s.GetDateRange(ctx, nil, &start, spread.Ascending)
	require.NoError(t, err)
	require.Equal(t, []time.Time{D17, D18}, dates(upTo))

	_, err = s.GetDateRange(ctx, &end, &start, spread.Ascending)
	require.ErrorIs(t, err, store.ErrInvalidRange)
}

func testStatistics(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	_, err := s.UpsertBatch(ctx, append(seedRows(), spread.Row{Date: D20, Close: spread.Float(12.6)}), spread.ModeUpdateDuplicates)
	require.NoError(t, err)

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalRecords)
	require.True(t, D17.Equal(*stats.EarliestDate))
	require.True(t, D20.Equal(*stats.LatestDate))
	require.Contains(t, stats.Sources, store.SourceInvesting)
}

func testRunLogs(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	done := Now.Add(3 * time.Second)
	first := spread.RunLog{
		ID:              "3f1b2c9e-0000-4000-8000-000000000001",
		StartedAt:       Now.Add(-time.Hour),
		CompletedAt:     &done,
		Status:          spread.StatusSuccess,
		RecordsFetched:  21,
		RecordsInserted: 1,
		RecordsUpdated:  20,
		Source:          store.SourceInvesting,
		Trigger:         spread.TriggerScheduled,
	}
	second := spread.RunLog{
		ID:           "3f1b2c9e-0000-4000-8000-000000000002",
		StartedAt:    Now,
		CompletedAt:  &done,
		Status:       spread.StatusError,
		ErrorMessage: "fetch https://example.com: status 503 after 4 attempt(s)",
		Source:       store.SourceInvesting,
		Trigger:      spread.TriggerManual,
	}
	require.NoError(t, s.LogRun(ctx, first))
	require.NoError(t, s.LogRun(ctx, second))

	runs, err := s.RecentRuns(ctx, 10)
	require.NoError(t, err)
	if diff := cmp.Diff([]spread.RunLog{second, first}, runs); diff != "" {
		t.Fatalf("unexpected runs (-want +got):\n%s", diff)
	}

	runs, err = s.RecentRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, second.ID, runs[0].ID)
}

func testDeleteRange(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	_, err := s.UpsertBatch(ctx, append(seedRows(), spread.Row{Date: D19, Close: spread.Float(12.5)}), spread.ModeUpdateDuplicates)
	require.NoError(t, err)

	removed, err := s.DeleteRange(ctx, D18, D20)
	require.NoError(t, err)
	require.Equal(t, 2, removed)

	rest, err := s.GetDateRange(ctx, nil, nil, spread.Ascending)
	require.NoError(t, err)
	require.Equal(t, []time.Time{D17}, dates(rest))

	_, err = s.DeleteRange(ctx, D20, D18)
	require.ErrorIs(t, err, store.ErrInvalidRange)
}

func dates(obs []spread.Observation) []time.Time {
	out := make([]time.Time, len(obs))
	for i, o := range obs {
		out[i] = o.Date
	}
	return out
}

func testInvalidLimit(t *testing.T, factory Factory) {
	ctx := context.Background()
	s := factory(t, Options())

	_, err := s.UpsertBatch(ctx, seedRows(), spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.NoError(t, s.LogRun(ctx, spread.RunLog{
		ID:        "run-1",
		StartedAt: Now,
		Status:    spread.StatusSuccess,
		Source:    store.SourceInvesting,
		Trigger:   spread.TriggerManual,
	}))

	for _, limit := range []int{0, -1} {
		latest, err := s.GetLatest(ctx, limit)
		require.ErrorIs(t, err, store.ErrInvalidLimit, "GetLatest(%d)", limit)
		require.Empty(t, latest)

		runs, err := s.RecentRuns(ctx, limit)
		require.ErrorIs(t, err, store.ErrInvalidLimit, "RecentRuns(%d)", limit)
		require.Empty(t, runs)
	}
}
