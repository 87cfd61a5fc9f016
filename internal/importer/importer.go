// Package importer loads a historical observation file into a store.
package importer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"cdsfeeder/internal/components/chrono"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/internal/store/filestore"
	"cdsfeeder/lib/telemetry"

	"github.com/google/uuid"
)

const (
	report_import  = "importer.import"
	report_run_log = "importer.run-log"
)

// ErrEmpty is returned when the file holds no usable observation.
var ErrEmpty = errors.New("no observations to import")

type Summary struct {
	RunID  string        `json:"run_id"`
	Read   int           `json:"read"`
	Result spread.Result `json:"result"`
	First  *time.Time    `json:"first,omitempty"`
	Last   *time.Time    `json:"last,omitempty"`
}

type Importer struct {
	Store     store.Store
	Clock     chrono.API
	Telemetry telemetry.API
}

func (i Importer) now() time.Time {
	if i.Clock == nil {
		return time.Now().UTC()
	}
	return i.Clock.Now().UTC()
}

// ImportFile opens path and imports it, see Import.
func (i Importer) ImportFile(ctx context.Context, path string, mode spread.Mode) (Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return Summary{}, err
	}
	defer f.Close()
	return i.Import(ctx, f, mode)
}

// Import reads a file with the date,open,high,low,close,change_pct header,
// ISO dates and values already in their stored unit, upserts it and writes
// one run log tagged store.SourceImport.
func (i Importer) Import(ctx context.Context, r io.Reader, mode spread.Mode) (Summary, error) {
	tel := i.Telemetry
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	summary := Summary{RunID: uuid.NewString()}
	started := i.now()

	importErr := func() error {
		obs, err := filestore.Decode(r, tel)
		if err != nil {
			return fmt.Errorf("read history: %w", err)
		}
		if len(obs) == 0 {
			return ErrEmpty
		}
		summary.Read = len(obs)
		summary.First = &obs[0].Date
		summary.Last = &obs[len(obs)-1].Date

		rows := make([]spread.Row, len(obs))
		for n, o := range obs {
			rows[n] = spread.Row{
				Date:      o.Date,
				Open:      o.Open,
				High:      o.High,
				Low:       o.Low,
				Close:     spread.Float(o.Close),
				ChangePct: o.ChangePct,
			}
		}
		result, err := i.Store.UpsertBatch(ctx, rows, mode)
		summary.Result = result
		return err
	}()

	status := spread.StatusSuccess
	if importErr != nil {
		status = spread.StatusError
		tel.ReportBroken(report_import, importErr)
	}
	completed := i.now()
	run := spread.RunLog{
		ID:              summary.RunID,
		StartedAt:       started,
		CompletedAt:     &completed,
		Status:          status,
		RecordsFetched:  summary.Read,
		RecordsInserted: summary.Result.Inserted,
		RecordsUpdated:  summary.Result.Updated,
		Source:          store.SourceImport,
		Trigger:         spread.TriggerManual,
	}
	if importErr != nil {
		run.ErrorMessage = spread.TruncateMessage(importErr.Error())
	}
	if err := i.Store.LogRun(ctx, run); err != nil {
		tel.ReportBroken(report_run_log, err)
		importErr = errors.Join(importErr, fmt.Errorf("log run: %w", err))
	}
	return summary, importErr
}
