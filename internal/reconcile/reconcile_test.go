package reconcile

import (
	"testing"
	"time"

	"cdsfeeder/internal/spread"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

var (
	d18 = spread.NewDate(2025, 11, 18)
	d19 = spread.NewDate(2025, 11, 19)
	d20 = spread.NewDate(2025, 11, 20)

	t0 = time.Date(2025, 11, 19, 22, 0, 0, 0, time.UTC)
	t1 = t0.Add(24 * time.Hour)
)

func existing() []spread.Observation {
	return []spread.Observation{
		{Date: d18, Open: spread.Float(12.0), Close: 12.10, ChangePct: spread.Float(0.5), Source: "csv_import", CreatedAt: t0, UpdatedAt: t0},
		{Date: d19, Open: spread.Float(12.2), Close: 12.30, ChangePct: spread.Float(0.8), Source: "csv_import", CreatedAt: t0, UpdatedAt: t0},
	}
}

func TestReconcileInsertAndUpdate(t *testing.T) {
	rows := []spread.Row{
		{Date: d18, Close: spread.Float(12.10), Open: spread.Float(12.0), ChangePct: spread.Float(0.5)},
		{Date: d19, Close: spread.Float(12.35)},
		{Date: d20, Close: spread.Float(12.50), High: spread.Float(12.6)},
	}

	plan, err := Reconcile(rows, existing(), Options{
		Mode:   spread.ModeUpdateDuplicates,
		Policy: spread.KeepExisting,
		Source: "investing.com",
		Now:    t1,
	})
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Updated: 2}, plan.Result)
	require.Len(t, plan.Merged, 3)
	require.Len(t, plan.Changed, 3)

	corrected := plan.Merged[1]
	require.Equal(t, 12.35, corrected.Close)
	require.Equal(t, 12.2, *corrected.Open)
	require.Equal(t, 0.8, *corrected.ChangePct)
	require.Equal(t, "investing.com", corrected.Source)
	require.Equal(t, t0, corrected.CreatedAt)
	require.Equal(t, t1, corrected.UpdatedAt)

	inserted := plan.Merged[2]
	require.True(t, d20.Equal(inserted.Date))
	require.Equal(t, t1, inserted.CreatedAt)
	require.Nil(t, inserted.Open)
}

func TestReconcileOverwritePolicy(t *testing.T) {
	plan, err := Reconcile([]spread.Row{{Date: d19, Close: spread.Float(12.35)}}, existing(), Options{
		Mode:   spread.ModeUpdateDuplicates,
		Policy: spread.Overwrite,
		Now:    t1,
	})
	require.NoError(t, err)
	require.Nil(t, plan.Merged[1].Open)
	require.Nil(t, plan.Merged[1].ChangePct)
}

func TestReconcileSkipMode(t *testing.T) {
	rows := []spread.Row{
		{Date: d19, Close: spread.Float(99)},
		{Date: d20, Close: spread.Float(12.50)},
	}
	plan, err := Reconcile(rows, existing(), Options{Mode: spread.ModeSkipDuplicates, Now: t1})
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Skipped: 1}, plan.Result)
	require.Equal(t, 12.30, plan.Merged[1].Close)
	require.Len(t, plan.Changed, 1)
}

func TestReconcileIsIdempotent(t *testing.T) {
	rows := []spread.Row{
		{Date: d19, Close: spread.Float(12.35), Open: spread.Float(12.2), ChangePct: spread.Float(0.8)},
		{Date: d20, Close: spread.Float(12.50)},
	}
	opts := Options{Mode: spread.ModeUpdateDuplicates, Policy: spread.KeepExisting, Source: "investing.com", Now: t1}

	first, err := Reconcile(rows, existing(), opts)
	require.NoError(t, err)
	second, err := Reconcile(rows, first.Merged, opts)
	require.NoError(t, err)

	require.Equal(t, spread.Result{Updated: 2}, second.Result)
	if diff := cmp.Diff(first.Merged, second.Merged); diff != "" {
		t.Fatalf("second run changed the dataset (-first +second):\n%s", diff)
	}
}

func TestReconcileDuplicateDatesInBatch(t *testing.T) {
	rows := []spread.Row{
		{Date: d20, Close: spread.Float(1)},
		{Date: d20, Close: spread.Float(2)},
	}
	plan, err := Reconcile(rows, nil, Options{Mode: spread.ModeUpdateDuplicates, Now: t1})
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Updated: 1}, plan.Result)
	require.Len(t, plan.Merged, 1)
	require.Len(t, plan.Changed, 1)
	require.Equal(t, 2.0, plan.Merged[0].Close)

	plan, err = Reconcile(rows, nil, Options{Mode: spread.ModeSkipDuplicates, Now: t1})
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Skipped: 1}, plan.Result)
	require.Equal(t, 1.0, plan.Merged[0].Close)
}

func TestReconcileMissingClose(t *testing.T) {
	rows := []spread.Row{
		{Date: d19, Open: spread.Float(12.25)},
		{Date: d20},
		{Date: spread.NewDate(2025, 11, 21), Close: spread.Float(13)},
	}
	plan, err := Reconcile(rows, existing(), Options{Mode: spread.ModeUpdateDuplicates, Policy: spread.KeepExisting, Now: t1})
	require.ErrorIs(t, err, ErrMissingClose)
	require.Equal(t, spread.Result{Updated: 1}, plan.Result)
	require.Len(t, plan.Merged, 2)
	require.Equal(t, 12.30, plan.Merged[1].Close)
	require.Equal(t, 12.25, *plan.Merged[1].Open)

	_, err = Reconcile(rows[:1], existing(), Options{Mode: spread.ModeUpdateDuplicates, Policy: spread.Overwrite, Now: t1})
	require.ErrorIs(t, err, ErrMissingClose)

	plan, err = Reconcile(rows[:1], existing(), Options{Mode: spread.ModeSkipDuplicates, Now: t1})
	require.NoError(t, err)
	require.Equal(t, spread.Result{Skipped: 1}, plan.Result)
}
