// Package filestore persists observations to a single CSV file, rewriting it
// atomically after every change and keeping timestamped backups of the prior
// versions.
package filestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"cdsfeeder/internal/reconcile"
	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/lib/telemetry"
)

// FileSource is reported by GetStatistics for rows loaded from disk, the
// file format carries no source column.
const FileSource = "csv"

const backupTimeLayout = "20060102_150405"

const maxBackupsPerSecond = 1000

const (
	report_load_line = "filestore.load-line"
	report_prune     = "filestore.prune-backups"
)

type Config struct {
	Path string
	// BackupKeep is the number of backups kept, 0 keeps all of them.
	BackupKeep int
	Telemetry  telemetry.API
}

type Store struct {
	path       string
	backupKeep int
	opts       store.Options
	tel        telemetry.API

	mu  sync.Mutex
	obs []spread.Observation
}

// Open loads the file at cfg.Path. A missing file is an empty dataset.
func Open(cfg Config, opts store.Options) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("filestore: a path was not specified")
	}
	tel := cfg.Telemetry
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	s := &Store{
		path:       cfg.Path,
		backupKeep: cfg.BackupKeep,
		opts:       opts.WithDefaults(),
		tel:        tel,
	}

	f, err := os.Open(cfg.Path)
	if os.IsNotExist(err) {
		tel.ReportDebug("filestore: no file, starting with an empty dataset", cfg.Path)
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	obs, err := readObservations(f, tel)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", cfg.Path, err)
	}
	s.obs = obs
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) stem() string {
	return strings.TrimSuffix(s.path, filepath.Ext(s.path))
}

func (s *Store) runsPath() string {
	return s.stem() + "__runs.csv"
}

// backupPath names the n-th backup taken within the second of t. The first
// one carries no suffix, later ones a zero padded counter so names still
// sort in creation order.
func (s *Store) backupPath(t time.Time, n int) string {
	name := s.stem() + "__bkp_" + t.Format(backupTimeLayout)
	if n > 0 {
		name += fmt.Sprintf("_%03d", n)
	}
	return name + ".csv"
}

func (s *Store) GetByDate(_ context.Context, date time.Time) (*spread.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	date = spread.ToDate(date)
	i := sort.Search(len(s.obs), func(i int) bool {
		return !s.obs[i].Date.Before(date)
	})
	if i < len(s.obs) && s.obs[i].Date.Equal(date) {
		found := s.obs[i]
		return &found, nil
	}
	return nil, nil
}

func (s *Store) GetLatest(_ context.Context, limit int) ([]spread.Observation, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []spread.Observation{}
	for i := len(s.obs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.obs[i])
	}
	return out, nil
}

func (s *Store) GetDateRange(_ context.Context, start, end *time.Time, order spread.Order) ([]spread.Observation, error) {
	if err := store.CheckRange(start, end); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return store.FilterRange(s.obs, start, end, order), nil
}

// UpsertBatch reconciles rows in memory and rewrites the file. When the
// rewrite fails nothing changes, neither on disk nor in memory.
func (s *Store) UpsertBatch(_ context.Context, rows []spread.Row, mode spread.Mode) (spread.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.Now().UTC()
	plan, rerr := reconcile.Reconcile(rows, s.obs, reconcile.Options{
		Mode:   mode,
		Policy: s.opts.NullPolicy,
		Source: s.opts.Source,
		Now:    now,
	})

	if len(plan.Changed) > 0 {
		err := s.persist(plan.Merged, now)
		if err != nil {
			return spread.Result{}, &store.UpsertError{Err: errors.Join(err, rerr)}
		}
		s.obs = plan.Merged
	}
	if rerr != nil {
		return plan.Result, &store.UpsertError{Partial: plan.Result, Err: rerr}
	}
	return plan.Result, nil
}

func (s *Store) GetStatistics(_ context.Context) (spread.Statistics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fallback := FileSource
	return store.Summarize(s.obs, &fallback), nil
}

func (s *Store) DeleteRange(_ context.Context, start, end time.Time) (int, error) {
	if err := store.CheckRange(&start, &end); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	kept, removed := store.RemoveRange(s.obs, start, end)
	if removed == 0 {
		return 0, nil
	}
	if err := s.persist(kept, s.opts.Now().UTC()); err != nil {
		return 0, err
	}
	s.obs = kept
	return removed, nil
}

func (s *Store) Count(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.obs), nil
}

func (s *Store) Close() error {
	return nil
}

// persist backs up the current file and atomically replaces it with obs.
func (s *Store) persist(obs []spread.Observation, now time.Time) error {
	dir := filepath.Dir(s.path)
	err := os.MkdirAll(dir, 0755)
	if err != nil {
		return err
	}

	err = s.backup(now)
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	err = writeObservations(tmp, obs)
	if err == nil {
		err = tmp.Sync()
	}
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("write %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func (s *Store) backup(now time.Time) error {
	src, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	target, err := s.writeBackup(now, src)
	if err != nil {
		return err
	}
	s.tel.ReportDebug("filestore: backed up", target)
	s.pruneBackups()
	return nil
}

// writeBackup creates the first free backup name for now, never replacing an
// earlier backup taken in the same second.
func (s *Store) writeBackup(now time.Time, contents []byte) (string, error) {
	for n := 0; n < maxBackupsPerSecond; n++ {
		target := s.backupPath(now, n)
		f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		if err != nil {
			return "", err
		}
		_, err = f.Write(contents)
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(target)
			return "", err
		}
		return target, nil
	}
	return "", fmt.Errorf("more than %d backups within %s", maxBackupsPerSecond, now.Format(backupTimeLayout))
}

// Backups lists the backup files of the store, oldest first.
func (s *Store) Backups() ([]string, error) {
	matches, err := filepath.Glob(s.stem() + "__bkp_*.csv")
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	return matches, nil
}

func (s *Store) pruneBackups() {
	if s.backupKeep <= 0 {
		return
	}
	backups, err := s.Backups()
	if err != nil {
		s.tel.ReportWarning(report_prune, err)
		return
	}
	for len(backups) > s.backupKeep {
		err := os.Remove(backups[0])
		if err != nil {
			s.tel.ReportWarning(report_prune, backups[0], err)
		}
		backups = backups[1:]
	}
}
