package commands

import (
	"errors"
	"log/slog"

	"cdsfeeder/internal/importer"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"

	"github.com/spf13/cobra"
)

func newImportCmd(a *app) *cobra.Command {
	var skipDuplicates bool
	cmd := &cobra.Command{
		Use:   "import <history.csv> [--skip-duplicates]",
		Short: "Loads a historical csv into the store.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			mode := spread.ModeUpdateDuplicates
			if skipDuplicates {
				mode = spread.ModeSkipDuplicates
			}

			s, err := a.openStore(cmd.Context(), store.SourceImport)
			if err != nil {
				return err
			}
			defer func() {
				err = errors.Join(err, s.Close())
			}()

			clock, err := a.clock()
			if err != nil {
				return err
			}
			imp := importer.Importer{Store: s, Clock: clock, Telemetry: a.api}
			summary, err := imp.ImportFile(cmd.Context(), args[0], mode)
			if err != nil {
				return err
			}

			slog.Info("import finished",
				"file", args[0],
				"read", summary.Read,
				"first", formatDatePtr(summary.First),
				"last", formatDatePtr(summary.Last),
				"inserted", summary.Result.Inserted,
				"updated", summary.Result.Updated,
				"skipped", summary.Result.Skipped,
			)
			if a.json {
				return writeJSON(cmd.OutOrStdout(), summary)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&skipDuplicates, "skip-duplicates", false, "Keep dates already stored instead of updating them.")
	return cmd
}
