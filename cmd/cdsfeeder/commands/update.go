package commands

import (
	"context"
	"errors"
	"log/slog"

	"cdsfeeder/internal/extractor"
	"cdsfeeder/internal/fetcher"
	"cdsfeeder/internal/pipeline"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/lib/restyutil"

	"github.com/spf13/cobra"
)

func (a *app) newRunner(s store.Store, dumpDir string) (pipeline.Runner, error) {
	r := a.cfg.Request
	opts := fetcher.Options{
		Timeout:       r.Timeout(),
		Retries:       r.Retries,
		BackoffFactor: r.Backoff(),
		MaxBackoff:    r.MaxBackoff(),
		Headers: fetcher.Headers{
			UserAgent:      r.UserAgent,
			Accept:         r.Accept,
			AcceptLanguage: r.AcceptLanguage,
			Referer:        r.Referer,
		},
		CloudflareBypass: r.CloudflareBypass,
		Telemetry:        a.api,
	}
	if dumpDir != "" {
		out, err := restyutil.NewFilesystemOutput(dumpDir)
		if err != nil {
			return pipeline.Runner{}, err
		}
		opts.Dump = out
	}

	clock, err := a.clock()
	if err != nil {
		return pipeline.Runner{}, err
	}
	return pipeline.Runner{
		Fetcher:   fetcher.New(opts),
		Extractor: extractor.Extractor{XPath: a.cfg.TableXPath},
		Store:     s,
		Clock:     clock,
		Telemetry: a.api,
	}, nil
}

type runFlags struct {
	trigger string
	mode    string
	url     string
	dump    string
}

// runOnce opens the store, runs the pipeline and closes the store again.
func (a *app) runOnce(ctx context.Context, flags runFlags) (summary pipeline.Summary, err error) {
	trigger, err := spread.ParseTrigger(flags.trigger)
	if err != nil {
		return summary, err
	}
	mode, err := spread.ParseMode(flags.mode)
	if err != nil {
		return summary, err
	}

	s, err := a.openStore(ctx, store.SourceInvesting)
	if err != nil {
		return summary, err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()

	runner, err := a.newRunner(s, flags.dump)
	if err != nil {
		return summary, err
	}
	url := a.cfg.InvestingURL
	if flags.url != "" {
		url = flags.url
	}

	summary, err = runner.Run(ctx, pipeline.RunRequest{
		Trigger: trigger,
		URL:     url,
		Mode:    mode,
	})
	attrs := []any{
		"run_id", summary.RunID,
		"status", summary.Status,
		"strategy", summary.Strategy,
		"fetched", summary.Fetched,
		"dropped", summary.Dropped,
		"inserted", summary.Result.Inserted,
		"updated", summary.Result.Updated,
		"skipped", summary.Result.Skipped,
		"duration", summary.Duration,
	}
	if summary.Statistics != nil {
		attrs = append(attrs,
			"total_records", summary.Statistics.TotalRecords,
			"latest_date", formatDatePtr(summary.Statistics.LatestDate),
		)
	}
	slog.Info("run finished", attrs...)
	return summary, err
}

func newUpdateCmd(a *app) *cobra.Command {
	var flags runFlags
	cmd := &cobra.Command{
		Use:   "update [--force-csv|--force-db] [--trigger manual] [--mode update] [--dump-http <dir>] [--silent]",
		Short: "Fetches the historical data page once and reconciles it into the store.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			summary, err := a.runOnce(cmd.Context(), flags)
			if a.json && summary.RunID != "" {
				if werr := writeJSON(cmd.OutOrStdout(), summary); werr != nil {
					return errors.Join(err, werr)
				}
			}
			return err
		},
	}
	cmd.Flags().StringVar(&flags.trigger, "trigger", string(spread.TriggerManual), "Recorded in the run log: manual, scheduled or api.")
	cmd.Flags().StringVar(&flags.mode, "mode", "update", "What to do with dates already stored: update or skip.")
	cmd.Flags().StringVar(&flags.url, "url", "", "Overrides the configured page url.")
	cmd.Flags().StringVar(&flags.dump, "dump-http", "", "Writes every http exchange to this directory.")
	cmd.Flags().BoolVar(&a.silent, "silent", false, "Only log errors.")
	return cmd
}
