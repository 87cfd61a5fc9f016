package commands

import (
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"cdsfeeder/internal/spread"

	"github.com/jedib0t/go-pretty/v6/table"
)

func newTable(w io.Writer) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.SetOutputMirror(w)
	return t
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatDatePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return spread.FormatDate(*t)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type observationJSON struct {
	Date      string    `json:"date"`
	Open      *float64  `json:"open"`
	High      *float64  `json:"high"`
	Low       *float64  `json:"low"`
	Close     float64   `json:"close"`
	ChangePct *float64  `json:"change_pct"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func newObservationJSON(o spread.Observation) observationJSON {
	return observationJSON{
		Date:      spread.FormatDate(o.Date),
		Open:      o.Open,
		High:      o.High,
		Low:       o.Low,
		Close:     o.Close,
		ChangePct: o.ChangePct,
		Source:    o.Source,
		CreatedAt: o.CreatedAt,
		UpdatedAt: o.UpdatedAt,
	}
}

type statisticsJSON struct {
	TotalRecords int      `json:"total_records"`
	EarliestDate *string  `json:"earliest_date"`
	LatestDate   *string  `json:"latest_date"`
	Sources      []string `json:"sources"`
}

func newStatisticsJSON(s spread.Statistics) statisticsJSON {
	out := statisticsJSON{TotalRecords: s.TotalRecords, Sources: s.Sources}
	if s.EarliestDate != nil {
		d := spread.FormatDate(*s.EarliestDate)
		out.EarliestDate = &d
	}
	if s.LatestDate != nil {
		d := spread.FormatDate(*s.LatestDate)
		out.LatestDate = &d
	}
	if out.Sources == nil {
		out.Sources = []string{}
	}
	return out
}

type runJSON struct {
	ID              string     `json:"id"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at"`
	Status          string     `json:"status"`
	RecordsFetched  int        `json:"records_fetched"`
	RecordsInserted int        `json:"records_inserted"`
	RecordsUpdated  int        `json:"records_updated"`
	ErrorMessage    string     `json:"error_message,omitempty"`
	Source          string     `json:"source"`
	Trigger         string     `json:"trigger"`
}

func newRunJSON(r spread.RunLog) runJSON {
	return runJSON{
		ID:              r.ID,
		StartedAt:       r.StartedAt,
		CompletedAt:     r.CompletedAt,
		Status:          string(r.Status),
		RecordsFetched:  r.RecordsFetched,
		RecordsInserted: r.RecordsInserted,
		RecordsUpdated:  r.RecordsUpdated,
		ErrorMessage:    r.ErrorMessage,
		Source:          r.Source,
		Trigger:         string(r.Trigger),
	}
}

func renderObservations(w io.Writer, obs []spread.Observation) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Date", "Open", "High", "Low", "Close", "Change %", "Source"})
	for _, o := range obs {
		t.AppendRow(table.Row{
			spread.FormatDate(o.Date),
			formatFloat(o.Open),
			formatFloat(o.High),
			formatFloat(o.Low),
			formatFloat(&o.Close),
			formatFloat(o.ChangePct),
			o.Source,
		})
	}
	t.Render()
}

func renderStatistics(w io.Writer, s spread.Statistics) {
	t := newTable(w)
	t.AppendRows([]table.Row{
		{"Total records", s.TotalRecords},
		{"Earliest date", formatDatePtr(s.EarliestDate)},
		{"Latest date", formatDatePtr(s.LatestDate)},
		{"Sources", strings.Join(s.Sources, ", ")},
	})
	t.Render()
}

func renderRuns(w io.Writer, runs []spread.RunLog) {
	t := newTable(w)
	t.AppendHeader(table.Row{"Started", "Completed", "Status", "Trigger", "Source", "Fetched", "Inserted", "Updated", "Error"})
	for _, r := range runs {
		started := r.StartedAt
		t.AppendRow(table.Row{
			formatTime(&started),
			formatTime(r.CompletedAt),
			r.Status,
			r.Trigger,
			r.Source,
			r.RecordsFetched,
			r.RecordsInserted,
			r.RecordsUpdated,
			r.ErrorMessage,
		})
	}
	t.Render()
}
