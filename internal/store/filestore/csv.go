package filestore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"cdsfeeder/internal/spread"
	"cdsfeeder/internal/store"
	"cdsfeeder/lib/telemetry"
)

// Header is the column layout of the observation file.
var Header = []string{"date", "open", "high", "low", "close", "change_pct"}

var runsHeader = []string{
	"id", "started_at", "completed_at", "status",
	"records_fetched", "records_inserted", "records_updated",
	"error_message", "source", "trigger",
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func parseFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// parseFileDate accepts ISO dates optionally followed by a time part, as
// written by other tools.
func parseFileDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if len(s) > len(spread.ISODate) {
		s = s[:len(spread.ISODate)]
	}
	return spread.ParseISODate(s)
}

// Decode reads observations in the file layout from r, see readObservations.
func Decode(r io.Reader, tel telemetry.API) ([]spread.Observation, error) {
	if tel == nil {
		tel = telemetry.SlogAPI{}
	}
	return readObservations(r, tel)
}

// readObservations reads an observation file, skipping malformed lines. The
// result is ascending by date with one observation per date, the last line
// for a date wins.
func readObservations(r io.Reader, tel telemetry.API) ([]spread.Observation, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	index := map[string]int{}
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(h))] = i
	}
	if _, ok := index["date"]; !ok {
		return nil, fmt.Errorf("missing date column in header %v", header)
	}
	if _, ok := index["close"]; !ok {
		return nil, fmt.Errorf("missing close column in header %v", header)
	}

	byDate := map[time.Time]spread.Observation{}
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				tel.ReportWarning(report_load_line, line, err)
				continue
			}
			return nil, err
		}
		obs, err := parseRecord(record, index)
		if err != nil {
			tel.ReportWarning(report_load_line, line, err)
			continue
		}
		byDate[obs.Date] = obs
	}

	out := make([]spread.Observation, 0, len(byDate))
	for _, o := range byDate {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Date.Before(out[j].Date)
	})
	return out, nil
}

func parseRecord(record []string, index map[string]int) (spread.Observation, error) {
	field := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	var obs spread.Observation
	date, err := parseFileDate(field("date"))
	if err != nil {
		return obs, fmt.Errorf("date: %w", err)
	}
	obs.Date = date

	closeValue, err := parseFloat(field("close"))
	if err != nil {
		return obs, fmt.Errorf("close: %w", err)
	}
	if closeValue == nil {
		return obs, fmt.Errorf("no close value for %s", spread.FormatDate(date))
	}
	obs.Close = *closeValue

	for name, target := range map[string]**float64{
		"open":       &obs.Open,
		"high":       &obs.High,
		"low":        &obs.Low,
		"change_pct": &obs.ChangePct,
	} {
		v, err := parseFloat(field(name))
		if err != nil {
			return obs, fmt.Errorf("%s: %w", name, err)
		}
		*target = v
	}
	obs.Source = strings.TrimSpace(field("source"))
	return obs, nil
}

// writeObservations writes obs newest first.
func writeObservations(w io.Writer, obs []spread.Observation) error {
	writer := csv.NewWriter(w)
	err := writer.Write(Header)
	if err != nil {
		return err
	}
	for i := len(obs) - 1; i >= 0; i-- {
		o := obs[i]
		closeValue := o.Close
		err = writer.Write([]string{
			spread.FormatDate(o.Date),
			formatFloat(o.Open),
			formatFloat(o.High),
			formatFloat(o.Low),
			formatFloat(&closeValue),
			formatFloat(o.ChangePct),
		})
		if err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// LogRun appends run to the runs file next to the observation file.
func (s *Store) LogRun(_ context.Context, run spread.RunLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := s.runsPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	_, statErr := os.Stat(path)
	writeHeader := os.IsNotExist(statErr)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	writer := csv.NewWriter(f)
	if writeHeader {
		err = writer.Write(runsHeader)
	}
	if err == nil {
		err = writer.Write([]string{
			run.ID,
			formatTime(&run.StartedAt),
			formatTime(run.CompletedAt),
			string(run.Status),
			strconv.Itoa(run.RecordsFetched),
			strconv.Itoa(run.RecordsInserted),
			strconv.Itoa(run.RecordsUpdated),
			spread.TruncateMessage(run.ErrorMessage),
			run.Source,
			string(run.Trigger),
		})
	}
	writer.Flush()
	if err == nil {
		err = writer.Error()
	}
	return errors.Join(err, f.Close())
}

func (s *Store) RecentRuns(_ context.Context, limit int) ([]spread.RunLog, error) {
	if err := store.CheckLimit(limit); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.runsPath())
	if os.IsNotExist(err) {
		return []spread.RunLog{}, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.runsPath(), err)
	}

	var runs []spread.RunLog
	for i, record := range records {
		if i == 0 {
			continue
		}
		if len(record) != len(runsHeader) {
			s.tel.ReportWarning(report_load_line, s.runsPath(), i+1, "unexpected field count")
			continue
		}
		run, err := parseRun(record)
		if err != nil {
			s.tel.ReportWarning(report_load_line, s.runsPath(), i+1, err)
			continue
		}
		runs = append(runs, run)
	}
	return store.RecentRuns(runs, limit), nil
}

func parseRun(record []string) (spread.RunLog, error) {
	run := spread.RunLog{
		ID:           record[0],
		Status:       spread.Status(record[3]),
		ErrorMessage: record[7],
		Source:       record[8],
		Trigger:      spread.Trigger(record[9]),
	}
	started, err := parseTime(record[1])
	if err != nil {
		return run, err
	}
	if started == nil {
		return run, errors.New("missing started_at")
	}
	run.StartedAt = *started
	run.CompletedAt, err = parseTime(record[2])
	if err != nil {
		return run, err
	}
	for i, target := range []*int{&run.RecordsFetched, &run.RecordsInserted, &run.RecordsUpdated} {
		*target, err = strconv.Atoi(record[4+i])
		if err != nil {
			return run, err
		}
	}
	return run, nil
}
