// Package storage picks and opens the store adapter for a configuration.
package storage

import (
	"context"
	"errors"
	"fmt"

	"cdsfeeder/internal/config"
	"cdsfeeder/internal/store"
	"cdsfeeder/internal/store/filestore"
	"cdsfeeder/internal/store/sqlstore"
	"cdsfeeder/lib/telemetry"
)

type Kind string

const (
	KindFile       Kind = "file"
	KindRelational Kind = "relational"
)

// Override forces one adapter regardless of the environment.
type Override string

const (
	OverrideNone Override = ""
	OverrideCSV  Override = "csv"
	OverrideDB   Override = "db"
)

var ErrNoDatabaseURL = errors.New("a relational store was requested but no database url is configured")

// Select returns the relational adapter in production when a database url
// is configured and the file adapter otherwise, unless override says
// differently.
func Select(cfg config.Config, override Override) (Kind, error) {
	switch override {
	case OverrideCSV:
		return KindFile, nil
	case OverrideDB:
		if cfg.DatabaseURL == "" {
			return "", ErrNoDatabaseURL
		}
		return KindRelational, nil
	case OverrideNone:
		if cfg.IsProduction() && cfg.DatabaseURL != "" {
			return KindRelational, nil
		}
		return KindFile, nil
	}
	return "", fmt.Errorf("unknown storage override %q", override)
}

func Open(ctx context.Context, cfg config.Config, override Override, opts store.Options, tel telemetry.API) (store.Store, Kind, error) {
	kind, err := Select(cfg, override)
	if err != nil {
		return nil, "", err
	}
	if opts.NullPolicy == "" {
		opts.NullPolicy = cfg.Policy()
	}

	switch kind {
	case KindRelational:
		s, err := sqlstore.Open(ctx, cfg.DatabaseURL, opts, tel)
		if err != nil {
			return nil, kind, fmt.Errorf("open database: %w", err)
		}
		return s, kind, nil
	default:
		s, err := filestore.Open(filestore.Config{
			Path:       cfg.CSVPath,
			BackupKeep: cfg.BackupKeep,
			Telemetry:  tel,
		}, opts)
		if err != nil {
			return nil, kind, fmt.Errorf("open %s: %w", cfg.CSVPath, err)
		}
		return s, kind, nil
	}
}
