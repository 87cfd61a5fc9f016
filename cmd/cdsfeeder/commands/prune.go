package commands

import (
	"errors"
	"fmt"
	"log/slog"

	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"

	"github.com/spf13/cobra"
)

func newPruneCmd(a *app) *cobra.Command {
	var start, end string
	cmd := &cobra.Command{
		Use:   "prune --start <YYYY-MM-DD> --end <YYYY-MM-DD>",
		Short: "Deletes every observation between two dates, both inclusive.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			startDate, err := spread.ParseISODate(start)
			if err != nil {
				return fmt.Errorf("--start: %w", err)
			}
			endDate, err := spread.ParseISODate(end)
			if err != nil {
				return fmt.Errorf("--end: %w", err)
			}
			if err := store.CheckRange(&startDate, &endDate); err != nil {
				return err
			}

			s, err := a.openStore(cmd.Context(), store.SourceInvesting)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.Close())
			}()

			deleted, err := s.DeleteRange(cmd.Context(), startDate, endDate)
			if err != nil {
				return err
			}
			slog.Info("pruned observations", "start", start, "end", end, "deleted", deleted)
			if a.json {
				return writeJSON(cmd.OutOrStdout(), map[string]int{"deleted": deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d observations\n", deleted)
			return nil
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "First date to delete.")
	cmd.Flags().StringVar(&end, "end", "", "Last date to delete.")
	cmd.MarkFlagRequired("start")
	cmd.MarkFlagRequired("end")
	return cmd
}
