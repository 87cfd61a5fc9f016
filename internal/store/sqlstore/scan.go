package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"cdsfeeder/internal/spread"
)

// timestampLayout is fixed width so that text columns sort chronologically.
const timestampLayout = "2006-01-02T15:04:05.000000Z07:00"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

var timeLayouts = []string{
	timestampLayout,
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
	spread.ISODate,
}

// dbTime scans dates and timestamps whether the driver hands them over as
// time.Time (postgres) or as text (sqlite).
type dbTime struct {
	t     time.Time
	valid bool
}

func (d *dbTime) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = dbTime{}
		return nil
	case time.Time:
		*d = dbTime{t: v.UTC(), valid: true}
		return nil
	case []byte:
		return d.parse(string(v))
	case string:
		return d.parse(v)
	}
	return fmt.Errorf("cannot scan %T into a time", src)
}

func (d *dbTime) parse(s string) error {
	for _, layout := range timeLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			*d = dbTime{t: t.UTC(), valid: true}
			return nil
		}
	}
	return fmt.Errorf("unrecognized time %q", s)
}

func (d dbTime) ptr() *time.Time {
	if !d.valid {
		return nil
	}
	t := d.t
	return &t
}

func (d dbTime) datePtr() *time.Time {
	if !d.valid {
		return nil
	}
	t := spread.ToDate(d.t)
	return &t
}

type observationRow struct {
	Date      dbTime         `db:"date"`
	Open      *float64       `db:"open"`
	High      *float64       `db:"high"`
	Low       *float64       `db:"low"`
	Close     float64        `db:"close"`
	ChangePct *float64       `db:"change_pct"`
	Source    sql.NullString `db:"source"`
	CreatedAt dbTime         `db:"created_at"`
	UpdatedAt dbTime         `db:"updated_at"`
}

func (r observationRow) observation() spread.Observation {
	return spread.Observation{
		Date:      spread.ToDate(r.Date.t),
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		ChangePct: r.ChangePct,
		Source:    r.Source.String,
		CreatedAt: r.CreatedAt.t,
		UpdatedAt: r.UpdatedAt.t,
	}
}

func observations(rows []observationRow) []spread.Observation {
	out := make([]spread.Observation, len(rows))
	for i, r := range rows {
		out[i] = r.observation()
	}
	return out
}
