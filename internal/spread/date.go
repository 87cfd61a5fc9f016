package spread

import "time"

// ISODate is the layout dates are persisted in.
const ISODate = "2006-01-02"

// NewDate returns the calendar date as UTC midnight, the only form dates take
// inside this module.
func NewDate(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// ToDate drops the clock part of t, keeping the calendar date t has in its own
// location.
func ToDate(t time.Time) time.Time {
	return NewDate(t.Year(), t.Month(), t.Day())
}

func FormatDate(t time.Time) string {
	return t.Format(ISODate)
}

func ParseISODate(s string) (time.Time, error) {
	t, err := time.Parse(ISODate, s)
	if err != nil {
		return time.Time{}, err
	}
	return ToDate(t), nil
}
