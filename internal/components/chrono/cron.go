package chrono

import (
	"context"
	"fmt"
	"time"

	"cdsfeeder/lib/telemetry"

	"github.com/robfig/cron/v3"
)

const (
	report_cron_skip  = "cron.skip"
	report_cron_error = "cron.error"
)

// CronAPI runs callbacks on a cron schedule.
type CronAPI interface {
	Cron(spec string, callback func()) error
}

// StandardCron schedules on robfig/cron. An activation that arrives while the
// previous one of the same job is still running is dropped, and a panicking
// job is recovered and reported.
type StandardCron struct {
	cron *cron.Cron
}

// NewStandardCron returns a stopped scheduler evaluating specs in location,
// UTC when nil.
func NewStandardCron(tel telemetry.API, location *time.Location) StandardCron {
	if location == nil {
		location = time.UTC
	}
	log := cronTelemetry{tel: tel}
	return StandardCron{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}
}

func (s StandardCron) Cron(spec string, callback func()) error {
	if _, err := s.cron.AddFunc(spec, callback); err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	return nil
}

func (s StandardCron) Start() {
	s.cron.Start()
}

// Stop stops scheduling and waits for running jobs until ctx is done.
func (s StandardCron) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Next returns the next activation over every job, zero when nothing is
// scheduled.
func (s StandardCron) Next() time.Time {
	var next time.Time
	for _, e := range s.cron.Entries() {
		if next.IsZero() || (!e.Next.IsZero() && e.Next.Before(next)) {
			next = e.Next
		}
	}
	return next
}

// ValidateSpec reports whether spec is a valid five field cron expression.
func ValidateSpec(spec string) error {
	_, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// cronTelemetry forwards robfig/cron log lines to a telemetry.API. Skipped
// activations become warnings, everything else is debug output.
type cronTelemetry struct {
	tel telemetry.API
}

func pairs(keysAndValues []any) []any {
	out := make([]any, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, fmt.Sprintf("%v=%v", keysAndValues[i], keysAndValues[i+1]))
	}
	return out
}

func (c cronTelemetry) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		c.tel.ReportWarning(report_cron_skip, "activation skipped, previous run still busy")
		return
	}
	c.tel.ReportDebug("cron "+msg, pairs(keysAndValues)...)
}

func (c cronTelemetry) Error(err error, msg string, keysAndValues ...any) {
	c.tel.ReportBroken(report_cron_error, append([]any{msg, err}, pairs(keysAndValues)...)...)
}
