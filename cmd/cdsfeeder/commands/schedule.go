package commands

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"cdsfeeder/internal/components/chrono"
	"cdsfeeder/internal/spread"
	"cdsfeeder/lib/telemetry"
	"cdsfeeder/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

const (
	report_schedule_overlap = "schedule.run-overlap"
	report_perf_stats       = "schedule.perf-stats"
)

func newScheduleCmd(a *app) *cobra.Command {
	var spec string
	var runNow bool
	var dumpDir string

	cmd := &cobra.Command{
		Use:   "schedule [--cron \"0 22 * * 1-5\"] [--run-now]",
		Short: "Runs update on a cron schedule until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if spec == "" {
				spec = a.cfg.Schedule
			}
			if err := chrono.ValidateSpec(spec); err != nil {
				return err
			}
			clock, err := a.clock()
			if err != nil {
				return err
			}

			a.api = telemetry.NewScopedAPI("schedule", a.api)

			ctx, cancel := serviceutil.SignalContext(cmd.Context())
			defer cancel()

			if a.telemetry.Enabled() {
				if err := telemetry.InstrumentPerfStats(ctx); err != nil {
					a.api.ReportWarning(report_perf_stats, err)
				}
			}

			// cron skips overlapping ticks on its own, the mutex also covers
			// the --run-now run.
			var running sync.Mutex
			job := func() {
				if !running.TryLock() {
					a.api.ReportWarning(report_schedule_overlap, "previous run still in progress")
					return
				}
				defer running.Unlock()
				_, err := a.runOnce(ctx, runFlags{
					trigger: string(spread.TriggerScheduled),
					dump:    dumpDir,
				})
				if err != nil {
					slog.Error("scheduled run failed", "err", err)
				}
			}

			scheduler := chrono.NewStandardCron(a.api, clock.Location())
			if err := scheduler.Cron(spec, job); err != nil {
				return err
			}
			scheduler.Start()
			slog.Info("scheduler started",
				"cron", spec,
				"timezone", clock.Location().String(),
				"next", scheduler.Next(),
			)
			if runNow {
				go job()
			}

			<-ctx.Done()
			slog.Info("stopping scheduler")
			stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Minute)
			defer stop()
			return scheduler.Stop(stopCtx)
		},
	}
	cmd.Flags().StringVar(&spec, "cron", "", "A standard 5 field cron spec, defaults to the configured schedule.")
	cmd.Flags().BoolVar(&runNow, "run-now", false, "Also run once immediately.")
	cmd.Flags().StringVar(&dumpDir, "dump-http", "", "Writes every http exchange to this directory.")
	return cmd
}
