// Package sqlstore persists observations and run logs in a relational
// database through sqlx. SQLite, libSQL and Postgres share the same queries,
// written with ? placeholders and rebound per driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"cdsfeeder/internal/reconcile"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/lib/configutil/sqldb"
	"cdsfeeder/lib/telemetry"

	"github.com/jmoiron/sqlx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("cdsfeeder.internal.store.sqlstore")

const report_upsert = "sqlstore.upsert-batch"

type Store struct {
	db      *sqlx.DB
	dialect sqldb.Dialect
	opts    store.Options
	tel     telemetry.API
}

// Open resolves url, opens the database and applies the schema.
func Open(ctx context.Context, url string, opts store.Options, tel telemetry.API) (*Store, error) {
	db, target, err := sqldb.Open(url)
	if err != nil {
		return nil, err
	}
	s := New(db, target.Dialect, opts, tel)
	err = s.Migrate(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// New wraps an open database, the schema is expected to be applied.
func New(db *sqlx.DB, dialect sqldb.Dialect, opts store.Options, tel telemetry.API) *Store {
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	return &Store{
		db:      db,
		dialect: dialect,
		opts:    opts.WithDefaults(),
		tel:     tel,
	}
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Migrate creates the tables when they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	for _, stmt := range statements(s.dialect) {
		_, err := s.db.ExecContext(ctx, stmt)
		if err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) rebind(query string) string {
	return s.db.Rebind(query)
}

const selectObservation = `SELECT date, open, high, low, close, change_pct, source, created_at, updated_at FROM observations`

func (s *Store) GetByDate(ctx context.Context, date time.Time) (*spread.Observation, error) {
	var row observationRow
	err := s.db.GetContext(ctx, &row, s.rebind(selectObservation+` WHERE date = ?`), spread.FormatDate(date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	obs := row.observation()
	return &obs, nil
}

func (s *Store) GetLatest(ctx context.Context, limit int) ([]spread.Observation, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, err
	}
	var rows []observationRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(selectObservation+` ORDER BY date DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	return observations(rows), nil
}

func (s *Store) GetDateRange(ctx context.Context, start, end *time.Time, order spread.Order) ([]spread.Observation, error) {
	if err := store.CheckRange(start, end); err != nil {
		return nil, err
	}

	query := selectObservation + ` WHERE 1 = 1`
	var args []any
	if start != nil {
		query += ` AND date >= ?`
		args = append(args, spread.FormatDate(*start))
	}
	if end != nil {
		query += ` AND date <= ?`
		args = append(args, spread.FormatDate(*end))
	}
	if order == spread.Ascending {
		query += ` ORDER BY date ASC`
	} else {
		query += ` ORDER BY date DESC`
	}

	var rows []observationRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	return observations(rows), nil
}

// UpsertBatch applies rows one statement at a time, each row is atomic on
// its own. The first failure stops the batch.
func (s *Store) UpsertBatch(ctx context.Context, rows []spread.Row, mode spread.Mode) (spread.Result, error) {
	ctx, span := tracer.Start(ctx, "UpsertBatch")
	defer span.End()
	span.SetAttributes(
		attribute.Int("rows", len(rows)),
		attribute.String("mode", string(mode)),
		attribute.String("dialect", string(s.dialect)),
	)

	var result spread.Result
	for _, row := range rows {
		outcome, err := s.upsertRow(ctx, row, mode)
		if err != nil {
			err = fmt.Errorf("%s: %w", spread.FormatDate(row.Date), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, "upsert failed")
			s.tel.ReportBroken(report_upsert, err, result.String())
			return result, &store.UpsertError{Partial: result, Err: err}
		}
		switch outcome {
		case outcomeInserted:
			result.Inserted++
		case outcomeUpdated:
			result.Updated++
		case outcomeSkipped:
			result.Skipped++
		}
	}
	return result, nil
}

type outcome int

const (
	outcomeInserted outcome = iota
	outcomeUpdated
	outcomeSkipped
)

const insertColumns = `INSERT INTO observations (date, open, high, low, close, change_pct, source, revision, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?)`

const upsertKeepExisting = insertColumns + `
ON CONFLICT (date) DO UPDATE SET
    open = COALESCE(excluded.open, observations.open),
    high = COALESCE(excluded.high, observations.high),
    low = COALESCE(excluded.low, observations.low),
    close = excluded.close,
    change_pct = COALESCE(excluded.change_pct, observations.change_pct),
    source = excluded.source,
    revision = observations.revision + 1,
    updated_at = excluded.updated_at
RETURNING revision`

const upsertOverwrite = insertColumns + `
ON CONFLICT (date) DO UPDATE SET
    open = excluded.open,
    high = excluded.high,
    low = excluded.low,
    close = excluded.close,
    change_pct = excluded.change_pct,
    source = excluded.source,
    revision = observations.revision + 1,
    updated_at = excluded.updated_at
RETURNING revision`

const insertOrSkip = insertColumns + `
ON CONFLICT (date) DO NOTHING
RETURNING revision`

// updateWithoutClose patches the fields a close-less row carries.
const updateWithoutClose = `UPDATE observations SET
    open = COALESCE(?, open),
    high = COALESCE(?, high),
    low = COALESCE(?, low),
    change_pct = COALESCE(?, change_pct),
    source = ?,
    revision = revision + 1,
    updated_at = ?
WHERE date = ?
RETURNING revision`

const countDate = `SELECT COUNT(*) FROM observations WHERE date = ?`

func (s *Store) upsertRow(ctx context.Context, row spread.Row, mode spread.Mode) (outcome, error) {
	date := spread.FormatDate(row.Date)
	now := formatTimestamp(s.opts.Now())

	if row.Close == nil {
		return s.upsertWithoutClose(ctx, row, mode, date, now)
	}

	query := upsertKeepExisting
	switch {
	case mode == spread.ModeSkipDuplicates:
		query = insertOrSkip
	case s.opts.NullPolicy == spread.Overwrite:
		query = upsertOverwrite
	}

	var revision int64
	err := s.db.QueryRowxContext(
		ctx, s.rebind(query),
		date, row.Open, row.High, row.Low, *row.Close, row.ChangePct,
		s.opts.Source, now, now,
	).Scan(&revision)
	if mode == spread.ModeSkipDuplicates && errors.Is(err, sql.ErrNoRows) {
		return outcomeSkipped, nil
	}
	if err != nil {
		return 0, err
	}
	if revision == 0 {
		return outcomeInserted, nil
	}
	return outcomeUpdated, nil
}

func (s *Store) upsertWithoutClose(ctx context.Context, row spread.Row, mode spread.Mode, date, now string) (outcome, error) {
	if mode == spread.ModeSkipDuplicates {
		var count int
		err := s.db.GetContext(ctx, &count, s.rebind(countDate), date)
		if err != nil {
			return 0, err
		}
		if count > 0 {
			return outcomeSkipped, nil
		}
		return 0, reconcile.ErrMissingClose
	}
	if s.opts.NullPolicy == spread.Overwrite {
		return 0, reconcile.ErrMissingClose
	}

	var revision int64
	err := s.db.QueryRowxContext(
		ctx, s.rebind(updateWithoutClose),
		row.Open, row.High, row.Low, row.ChangePct,
		s.opts.Source, now, date,
	).Scan(&revision)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, reconcile.ErrMissingClose
	}
	if err != nil {
		return 0, err
	}
	return outcomeUpdated, nil
}

func (s *Store) GetStatistics(ctx context.Context) (spread.Statistics, error) {
	stats := spread.Statistics{Sources: []string{}}

	var summary struct {
		Total    int    `db:"total"`
		Earliest dbTime `db:"earliest"`
		Latest   dbTime `db:"latest"`
	}
	err := s.db.GetContext(ctx, &summary, `SELECT COUNT(*) AS total, MIN(date) AS earliest, MAX(date) AS latest FROM observations`)
	if err != nil {
		return stats, err
	}
	stats.TotalRecords = summary.Total
	if summary.Total == 0 {
		return stats, nil
	}
	stats.EarliestDate = summary.Earliest.datePtr()
	stats.LatestDate = summary.Latest.datePtr()

	err = s.db.SelectContext(ctx, &stats.Sources, `SELECT DISTINCT source FROM observations WHERE source IS NOT NULL AND source <> '' ORDER BY source`)
	if err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) DeleteRange(ctx context.Context, start, end time.Time) (int, error) {
	if err := store.CheckRange(&start, &end); err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(
		ctx, s.rebind(`DELETE FROM observations WHERE date >= ? AND date <= ?`),
		spread.FormatDate(start), spread.FormatDate(end),
	)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM observations`)
	return count, err
}
