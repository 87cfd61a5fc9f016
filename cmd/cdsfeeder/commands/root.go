package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"cdsfeeder/internal/components/chrono"
	"cdsfeeder/internal/config"
	"cdsfeeder/internal/storage"
	"cdsfeeder/internal/store"
	"cdsfeeder/lib/telemetry"
	"cdsfeeder/lib/util/serviceutil"

	"github.com/spf13/cobra"
)

// app is the state shared by every command of one invocation.
type app struct {
	configFile string
	envFile    string
	forceCSV   bool
	forceDB    bool
	logLevel   string
	silent     bool
	json       bool

	cfg       config.Config
	telemetry telemetry.Telemetry
	api       telemetry.API
}

var rootCmd = NewRootCmd()

func NewRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "cdsfeeder",
		Short:         "cdsfeeder keeps a local history of the Brazil 5Y USD CDS spread.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.telemetry.Shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&a.configFile, "config", "cdsfeeder.json5", "The json5 configuration file, its .local sibling is merged on top.")
	flags.StringVar(&a.envFile, "env-file", ".env", "An env file loaded before the process environment is read.")
	flags.BoolVar(&a.forceCSV, "force-csv", false, "Use the csv file store regardless of the environment.")
	flags.BoolVar(&a.forceDB, "force-db", false, "Use the database store regardless of the environment.")
	flags.StringVar(&a.logLevel, "log-level", "", "Overrides the configured log level (DEBUG, INFO, WARN, ERROR).")
	flags.BoolVar(&a.json, "json", false, "Print results as json.")

	cmd.AddCommand(
		newUpdateCmd(a),
		newScheduleCmd(a),
		newImportCmd(a),
		newQueryCmd(a),
		newPruneCmd(a),
	)
	return cmd
}

func ExecuteContext(ctx context.Context) {
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		serviceutil.Fatal("cdsfeeder failed", err)
	}
}

func (a *app) setup(cmd *cobra.Command) error {
	cfg, err := config.Load(config.Sources{File: a.configFile, EnvFile: a.envFile})
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.silent {
		cfg.Log.Level = "ERROR"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	telemetry.InitSlog(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.JSON)
	tel, err := telemetry.Setup(cmd.Context(), telemetry.Service{
		Name:        "cdsfeeder",
		Environment: cfg.Environment,
	}, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("setup telemetry: %w", err)
	}

	a.cfg = cfg
	a.telemetry = tel
	a.api = telemetry.SlogAPI{}
	return nil
}

func (a *app) override() (storage.Override, error) {
	switch {
	case a.forceCSV && a.forceDB:
		return "", errors.New("--force-csv and --force-db cannot be used together")
	case a.forceCSV:
		return storage.OverrideCSV, nil
	case a.forceDB:
		return storage.OverrideDB, nil
	}
	return storage.OverrideNone, nil
}

// openStore opens the adapter selected by the environment and the force
// flags, rows written through it are tagged with source.
func (a *app) openStore(ctx context.Context, source string) (store.Store, error) {
	override, err := a.override()
	if err != nil {
		return nil, err
	}
	s, kind, err := storage.Open(ctx, a.cfg, override, store.Options{Source: source}, a.api)
	if err != nil {
		return nil, err
	}
	slog.Debug("opened store", "kind", kind, "environment", a.cfg.Environment)
	return s, nil
}

func (a *app) clock() (chrono.StandardImpl, error) {
	clock, err := chrono.NewStandardImpl(a.cfg.Timezone)
	if err != nil {
		return chrono.StandardImpl{}, fmt.Errorf("load timezone: %w", err)
	}
	return clock, nil
}
