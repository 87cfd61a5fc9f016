package sqlstore

import (
	"context"
	"database/sql"

	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
)

type runRow struct {
	RunID           string         `db:"run_id"`
	StartedAt       dbTime         `db:"started_at"`
	CompletedAt     dbTime         `db:"completed_at"`
	Status          string         `db:"status"`
	RecordsFetched  int            `db:"records_fetched"`
	RecordsInserted int            `db:"records_inserted"`
	RecordsUpdated  int            `db:"records_updated"`
	ErrorMessage    sql.NullString `db:"error_message"`
	Source          sql.NullString `db:"source"`
	TriggeredBy     string         `db:"triggered_by"`
}

func (r runRow) runLog() spread.RunLog {
	return spread.RunLog{
		ID:              r.RunID,
		StartedAt:       r.StartedAt.t,
		CompletedAt:     r.CompletedAt.ptr(),
		Status:          spread.Status(r.Status),
		RecordsFetched:  r.RecordsFetched,
		RecordsInserted: r.RecordsInserted,
		RecordsUpdated:  r.RecordsUpdated,
		ErrorMessage:    r.ErrorMessage.String,
		Source:          r.Source.String,
		Trigger:         spread.Trigger(r.TriggeredBy),
	}
}

const insertRun = `INSERT INTO run_logs (
    run_id, started_at, completed_at, status,
    records_fetched, records_inserted, records_updated,
    error_message, source, triggered_by
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func (s *Store) LogRun(ctx context.Context, run spread.RunLog) error {
	var completed any
	if run.CompletedAt != nil {
		completed = formatTimestamp(*run.CompletedAt)
	}
	var errorMessage any
	if run.ErrorMessage != "" {
		errorMessage = spread.TruncateMessage(run.ErrorMessage)
	}
	_, err := s.db.ExecContext(
		ctx, s.rebind(insertRun),
		run.ID, formatTimestamp(run.StartedAt), completed, string(run.Status),
		run.RecordsFetched, run.RecordsInserted, run.RecordsUpdated,
		errorMessage, run.Source, string(run.Trigger),
	)
	return err
}

func (s *Store) RecentRuns(ctx context.Context, limit int) ([]spread.RunLog, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, err
	}
	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, s.rebind(`SELECT
    run_id, started_at, completed_at, status,
    records_fetched, records_inserted, records_updated,
    error_message, source, triggered_by
FROM run_logs
ORDER BY started_at DESC, id DESC
LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	out := make([]spread.RunLog, len(rows))
	for i, r := range rows {
		out[i] = r.runLog()
	}
	return out, nil
}
