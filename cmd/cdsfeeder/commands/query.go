package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"

	"github.com/spf13/cobra"
)

// withStore runs fn against a store that is closed afterwards.
func (a *app) withStore(ctx context.Context, fn func(s store.Store) error) (err error) {
	s, err := a.openStore(ctx, store.SourceInvesting)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, s.Close())
	}()
	return fn(s)
}

func optionalDate(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	date, err := spread.ParseISODate(value)
	if err != nil {
		return nil, fmt.Errorf("--%s: %w", flag, err)
	}
	return &date, nil
}

func newQueryCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Reads observations, statistics and run logs from the store.",
	}

	var latestLimit int
	latest := &cobra.Command{
		Use:   "latest [-n 10]",
		Short: "Prints the most recent observations.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.CheckLimit(latestLimit); err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store.Store) error {
				obs, err := s.GetLatest(cmd.Context(), latestLimit)
				if err != nil {
					return err
				}
				return a.printObservations(cmd, obs)
			})
		},
	}
	latest.Flags().IntVarP(&latestLimit, "limit", "n", 10, "How many observations to print.")

	date := &cobra.Command{
		Use:   "date <YYYY-MM-DD>",
		Short: "Prints the observation of one date.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := spread.ParseISODate(args[0])
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store.Store) error {
				o, err := s.GetByDate(cmd.Context(), day)
				if err != nil {
					return err
				}
				if o == nil {
					return fmt.Errorf("no observation for %s", spread.FormatDate(day))
				}
				return a.printObservations(cmd, []spread.Observation{*o})
			})
		},
	}

	var start, end, order string
	rangeCmd := &cobra.Command{
		Use:   "range [--start <YYYY-MM-DD>] [--end <YYYY-MM-DD>] [--order desc]",
		Short: "Prints the observations between two dates, both inclusive and optional.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			startDate, err := optionalDate("start", start)
			if err != nil {
				return err
			}
			endDate, err := optionalDate("end", end)
			if err != nil {
				return err
			}
			sortOrder, err := spread.ParseOrder(order)
			if err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store.Store) error {
				obs, err := s.GetDateRange(cmd.Context(), startDate, endDate, sortOrder)
				if err != nil {
					return err
				}
				return a.printObservations(cmd, obs)
			})
		},
	}
	rangeCmd.Flags().StringVar(&start, "start", "", "First date.")
	rangeCmd.Flags().StringVar(&end, "end", "", "Last date.")
	rangeCmd.Flags().StringVar(&order, "order", string(spread.Descending), "asc or desc.")

	stats := &cobra.Command{
		Use:   "stats",
		Short: "Prints the record count, the covered dates and the sources.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(s store.Store) error {
				st, err := s.GetStatistics(cmd.Context())
				if err != nil {
					return err
				}
				if a.json {
					return writeJSON(cmd.OutOrStdout(), newStatisticsJSON(st))
				}
				renderStatistics(cmd.OutOrStdout(), st)
				return nil
			})
		},
	}

	var runsLimit int
	runs := &cobra.Command{
		Use:   "runs [-n 10]",
		Short: "Prints the most recent run logs.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := store.CheckLimit(runsLimit); err != nil {
				return err
			}
			return a.withStore(cmd.Context(), func(s store.Store) error {
				logs, err := s.RecentRuns(cmd.Context(), runsLimit)
				if err != nil {
					return err
				}
				if a.json {
					out := make([]runJSON, len(logs))
					for i, r := range logs {
						out[i] = newRunJSON(r)
					}
					return writeJSON(cmd.OutOrStdout(), out)
				}
				renderRuns(cmd.OutOrStdout(), logs)
				return nil
			})
		},
	}
	runs.Flags().IntVarP(&runsLimit, "limit", "n", 10, "How many run logs to print.")

	cmd.AddCommand(latest, date, rangeCmd, stats, runs)
	return cmd
}

func (a *app) printObservations(cmd *cobra.Command, obs []spread.Observation) error {
	if a.json {
		out := make([]observationJSON, len(obs))
		for i, o := range obs {
			out[i] = newObservationJSON(o)
		}
		return writeJSON(cmd.OutOrStdout(), out)
	}
	renderObservations(cmd.OutOrStdout(), obs)
	return nil
}
