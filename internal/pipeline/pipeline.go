// Package pipeline runs one acquisition: fetch the page, extract and
// normalize its table, reconcile the rows into the store and record the run.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdsfeeder/internal/components/chrono"
	"cdsfeeder/internal/extractor"
	"cdsfeeder/internal/normalizer"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/lib/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var tracer = telemetry.Tracer("cdsfeeder.internal.pipeline")

const (
	report_run        = "pipeline.run"
	report_run_log    = "pipeline.run-log"
	report_normalize  = "pipeline.normalize"
	report_statistics = "pipeline.statistics"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (string, error)
}

type Extractor interface {
	Extract(markup string) (extractor.Table, extractor.Strategy, error)
}

// ReconciliationError is a storage failure during the upsert, Partial holds
// the counts achieved before it.
type ReconciliationError struct {
	Partial spread.Result
	Err     error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile (%s): %v", e.Partial, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

type RunRequest struct {
	Trigger spread.Trigger
	URL     string
	Mode    spread.Mode
}

// Summary is what a run did, returned on success and failure alike.
type Summary struct {
	RunID      string             `json:"run_id"`
	Status     spread.Status      `json:"status"`
	Strategy   extractor.Strategy `json:"strategy,omitempty"`
	Fetched    int                `json:"fetched"`
	Dropped    int                `json:"dropped"`
	Result     spread.Result      `json:"result"`
	Statistics *spread.Statistics `json:"statistics,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
}

type Runner struct {
	Fetcher   Fetcher
	Extractor Extractor
	Store     store.Store
	Clock     chrono.API
	Telemetry telemetry.API
	// Source is written to the run log, defaults to store.SourceInvesting.
	Source string
}

func (r Runner) now() time.Time {
	if r.Clock == nil {
		return time.Now().UTC()
	}
	return r.Clock.Now().UTC()
}

func (r Runner) tel() telemetry.API {
	if r.Telemetry == nil {
		return telemetry.SlogAPI{}
	}
	return r.Telemetry
}

// Run executes the pipeline once. Exactly one run log is written per call.
func (r Runner) Run(ctx context.Context, req RunRequest) (Summary, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()

	tel := r.tel()
	summary := Summary{
		RunID:     uuid.NewString(),
		StartedAt: r.now(),
	}
	span.SetAttributes(
		attribute.String("run_id", summary.RunID),
		attribute.String("trigger", string(req.Trigger)),
		attribute.String("url", req.URL),
	)

	runErr := r.execute(ctx, req, &summary)

	completed := r.now()
	summary.Duration = completed.Sub(summary.StartedAt)
	summary.Status = spread.StatusSuccess
	if runErr != nil {
		summary.Status = spread.StatusError
		span.RecordError(runErr)
		span.SetStatus(codes.Error, "run failed")
		tel.ReportBroken(report_run, runErr)
	}

	source := r.Source
	if source == "" {
		source = store.SourceInvesting
	}
	trigger := req.Trigger
	if trigger == "" {
		trigger = spread.TriggerManual
	}
	run := spread.RunLog{
		ID:              summary.RunID,
		StartedAt:       summary.StartedAt,
		CompletedAt:     &completed,
		Status:          summary.Status,
		RecordsFetched:  summary.Fetched,
		RecordsInserted: summary.Result.Inserted,
		RecordsUpdated:  summary.Result.Updated,
		Source:          source,
		Trigger:         trigger,
	}
	if runErr != nil {
		run.ErrorMessage = spread.TruncateMessage(runErr.Error())
	}
	if err := r.Store.LogRun(ctx, run); err != nil {
		tel.ReportBroken(report_run_log, err)
		runErr = errors.Join(runErr, fmt.Errorf("log run: %w", err))
	}

	tel.ReportCount("pipeline.records-fetched", int64(summary.Fetched))
	tel.ReportCount("pipeline.records-inserted", int64(summary.Result.Inserted))
	tel.ReportCount("pipeline.records-updated", int64(summary.Result.Updated))
	tel.ReportCount("pipeline.records-skipped", int64(summary.Result.Skipped))

	return summary, runErr
}

func (r Runner) execute(ctx context.Context, req RunRequest, summary *Summary) error {
	tel := r.tel()

	markup, err := r.Fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return err
	}

	table, strategy, err := r.Extractor.Extract(markup)
	if err != nil {
		return err
	}
	summary.Strategy = strategy
	tel.ReportDebug("extracted table", strategy, len(table.Rows))

	rows, report, err := normalizer.Normalize(table)
	summary.Dropped = len(report.Dropped)
	for _, w := range report.Dropped {
		tel.ReportWarning(report_normalize, w.String())
	}
	if err != nil {
		return &extractor.ExtractionError{Err: err}
	}
	summary.Fetched = len(rows)

	mode := req.Mode
	if mode == "" {
		mode = spread.ModeUpdateDuplicates
	}
	result, err := r.Store.UpsertBatch(ctx, rows, mode)
	summary.Result = result
	if err != nil {
		var upsertErr *store.UpsertError
		if errors.As(err, &upsertErr) {
			summary.Result = upsertErr.Partial
		}
		return &ReconciliationError{Partial: summary.Result, Err: err}
	}

	stats, err := r.Store.GetStatistics(ctx)
	if err != nil {
		tel.ReportWarning(report_statistics, err)
		return nil
	}
	summary.Statistics = &stats
	tel.ReportDebug("store statistics", stats.TotalRecords, stats.EarliestDate, stats.LatestDate)
	return nil
}
