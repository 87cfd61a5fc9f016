package sqlstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"cdsfeeder/internal/reconcile"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/internal/store/storetest"
	"cdsfeeder/lib/configutil/sqldb"
	"cdsfeeder/lib/telemetry"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func TestContractSQLite(t *testing.T) {
	storetest.Run(t, func(t *testing.T, opts store.Options) store.Store {
		s, err := Open(context.Background(), ":memory:", opts, &telemetry.Recorder{})
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		return s
	})
}

func TestMigrateIsRepeatable(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", storetest.Options(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.Migrate(ctx))
}

func TestRevisionCounts(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, ":memory:", storetest.Options(), nil)
	require.NoError(t, err)
	defer s.Close()

	row := []spread.Row{{Date: storetest.D19, Close: spread.Float(12.3)}}
	for i := 0; i < 3; i++ {
		_, err := s.UpsertBatch(ctx, row, spread.ModeUpdateDuplicates)
		require.NoError(t, err)
	}

	var revision int
	require.NoError(t, s.DB().Get(&revision, `SELECT revision FROM observations WHERE date = ?`, "2025-11-19"))
	require.Equal(t, 2, revision)
}

func mockStore(t *testing.T, opts store.Options) (*Store, sqlmock.Sqlmock, *telemetry.Recorder) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	rec := &telemetry.Recorder{}
	return New(sqlx.NewDb(db, "pgx"), sqldb.DialectPostgres, opts, rec), mock, rec
}

const upsertPattern = `INSERT INTO observations \(date, open, high, low, close, change_pct, source, revision, created_at, updated_at\) ` +
	`VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, 0, \$8, \$9\) ON CONFLICT \(date\) DO UPDATE SET`

func TestPostgresUpsertCounts(t *testing.T) {
	s, mock, _ := mockStore(t, storetest.Options())

	mock.ExpectQuery(upsertPattern+` open = COALESCE\(excluded.open, observations.open\)`).
		WithArgs("2025-11-18", nil, nil, nil, 12.35, nil, store.SourceInvesting, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(2))
	mock.ExpectQuery(upsertPattern).
		WithArgs("2025-11-19", 12.3, nil, nil, 12.5, 1.2, store.SourceInvesting, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(0))

	res, err := s.UpsertBatch(context.Background(), []spread.Row{
		{Date: storetest.D18, Close: spread.Float(12.35)},
		{Date: storetest.D19, Open: spread.Float(12.3), Close: spread.Float(12.5), ChangePct: spread.Float(1.2)},
	}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Updated: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresOverwritePolicy(t *testing.T) {
	opts := storetest.Options()
	opts.NullPolicy = spread.Overwrite
	s, mock, _ := mockStore(t, opts)

	mock.ExpectQuery(upsertPattern + ` open = excluded.open,`).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(1))

	res, err := s.UpsertBatch(context.Background(), []spread.Row{{Date: storetest.D18, Close: spread.Float(12.35)}}, spread.ModeUpdateDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Updated: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSkipDuplicates(t *testing.T) {
	s, mock, _ := mockStore(t, storetest.Options())

	mock.ExpectQuery(`ON CONFLICT \(date\) DO NOTHING RETURNING revision`).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}))
	mock.ExpectQuery(`ON CONFLICT \(date\) DO NOTHING RETURNING revision`).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(0))

	res, err := s.UpsertBatch(context.Background(), []spread.Row{
		{Date: storetest.D18, Close: spread.Float(1)},
		{Date: storetest.D19, Close: spread.Float(2)},
	}, spread.ModeSkipDuplicates)
	require.NoError(t, err)
	require.Equal(t, spread.Result{Inserted: 1, Skipped: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresPartialFailure(t *testing.T) {
	s, mock, rec := mockStore(t, storetest.Options())

	mock.ExpectQuery(upsertPattern).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(0))
	mock.ExpectQuery(upsertPattern).
		WillReturnError(errors.New("connection reset by peer"))

	res, err := s.UpsertBatch(context.Background(), []spread.Row{
		{Date: storetest.D17, Close: spread.Float(1)},
		{Date: storetest.D18, Close: spread.Float(2)},
		{Date: storetest.D19, Close: spread.Float(3)},
	}, spread.ModeUpdateDuplicates)

	var uerr *store.UpsertError
	require.True(t, errors.As(err, &uerr))
	require.Equal(t, spread.Result{Inserted: 1}, uerr.Partial)
	require.Equal(t, uerr.Partial, res)
	require.Contains(t, err.Error(), "2025-11-18")
	require.NotEmpty(t, rec.Find("broken", report_upsert))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRowWithoutClose(t *testing.T) {
	s, mock, _ := mockStore(t, storetest.Options())

	mock.ExpectQuery(`UPDATE observations SET open = COALESCE\(\$1, open\), .* WHERE date = \$7 RETURNING revision`).
		WithArgs(nil, 12.6, nil, nil, store.SourceInvesting, sqlmock.AnyArg(), "2025-11-18").
		WillReturnRows(sqlmock.NewRows([]string{"revision"}).AddRow(4))
	mock.ExpectQuery(`UPDATE observations SET`).
		WillReturnRows(sqlmock.NewRows([]string{"revision"}))

	res, err := s.UpsertBatch(context.Background(), []spread.Row{
		{Date: storetest.D18, High: spread.Float(12.6)},
		{Date: storetest.D19, High: spread.Float(12.7)},
	}, spread.ModeUpdateDuplicates)
	require.ErrorIs(t, err, reconcile.ErrMissingClose)
	require.Equal(t, spread.Result{Updated: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresQueries(t *testing.T) {
	s, mock, _ := mockStore(t, storetest.Options())
	ctx := context.Background()

	created := time.Date(2025, 11, 18, 22, 0, 0, 0, time.FixedZone("-03", -3*3600))
	columns := []string{"date", "open", "high", "low", "close", "change_pct", "source", "created_at", "updated_at"}

	start := storetest.D18
	mock.ExpectQuery(`SELECT date, open, .* FROM observations WHERE 1 = 1 AND date >= \$1 ORDER BY date ASC`).
		WithArgs("2025-11-18").
		WillReturnRows(sqlmock.NewRows(columns).
			AddRow(storetest.D18, 12.1, nil, nil, 12.3, 1.65, "investing.com", created, created).
			AddRow(storetest.D19, nil, nil, nil, 12.5, nil, nil, created, created))

	obs, err := s.GetDateRange(ctx, &start, nil, spread.Ascending)
	require.NoError(t, err)
	require.Len(t, obs, 2)
	require.True(t, storetest.D18.Equal(obs[0].Date))
	require.Equal(t, 12.1, *obs[0].Open)
	require.Nil(t, obs[1].Open)
	require.Empty(t, obs[1].Source)
	require.True(t, created.Equal(obs[0].CreatedAt))

	mock.ExpectQuery(`SELECT COUNT\(\*\) AS total, MIN\(date\) AS earliest, MAX\(date\) AS latest FROM observations`).
		WillReturnRows(sqlmock.NewRows([]string{"total", "earliest", "latest"}).AddRow(2, storetest.D18, storetest.D19))
	mock.ExpectQuery(`SELECT DISTINCT source FROM observations`).
		WillReturnRows(sqlmock.NewRows([]string{"source"}).AddRow("csv_import").AddRow("investing.com"))

	stats, err := s.GetStatistics(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, stats.TotalRecords)
	require.True(t, storetest.D18.Equal(*stats.EarliestDate))
	require.True(t, storetest.D19.Equal(*stats.LatestDate))
	require.Equal(t, []string{"csv_import", "investing.com"}, stats.Sources)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresRunLogs(t *testing.T) {
	s, mock, _ := mockStore(t, storetest.Options())
	ctx := context.Background()

	completed := storetest.Now.Add(time.Second)
	mock.ExpectExec(`INSERT INTO run_logs \(.*\) VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8, \$9, \$10\)`).
		WithArgs("run-1", "2025-11-20T22:00:00.000000Z", "2025-11-20T22:00:01.000000Z", "success", 3, 1, 1, nil, store.SourceInvesting, "scheduled").
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.LogRun(ctx, spread.RunLog{
		ID:              "run-1",
		StartedAt:       storetest.Now,
		CompletedAt:     &completed,
		Status:          spread.StatusSuccess,
		RecordsFetched:  3,
		RecordsInserted: 1,
		RecordsUpdated:  1,
		Source:          store.SourceInvesting,
		Trigger:         spread.TriggerScheduled,
	})
	require.NoError(t, err)

	mock.ExpectQuery(`FROM run_logs ORDER BY started_at DESC, id DESC LIMIT \$1`).
		WithArgs(5).
		WillReturnRows(sqlmock.NewRows([]string{
			"run_id", "started_at", "completed_at", "status",
			"records_fetched", "records_inserted", "records_updated",
			"error_message", "source", "triggered_by",
		}).AddRow("run-1", storetest.Now, nil, "error", 0, 0, 0, "boom", "investing.com", "manual"))

	runs, err := s.RecentRuns(ctx, 5)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, spread.StatusError, runs[0].Status)
	require.Nil(t, runs[0].CompletedAt)
	require.Equal(t, "boom", runs[0].ErrorMessage)
	require.Equal(t, spread.TriggerManual, runs[0].Trigger)

	require.NoError(t, mock.ExpectationsWereMet())
}
