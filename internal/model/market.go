package model

import "time"

// DailyBar represents a single trading session's OHLCV row.
type DailyBar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// IsZero reports whether the bar carries no quote data (a filled session).
func (b DailyBar) IsZero() bool {
	return b.Open == 0 && b.High == 0 && b.Low == 0 && b.Close == 0 && b.Volume == 0
}

// SessionWindow is the inclusive range of sessions a bundle ingest covers.
type SessionWindow struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the window, comparing calendar days.
func (w SessionWindow) Contains(t time.Time) bool {
	d := Day(t)
	return !d.Before(Day(w.Start)) && !d.After(Day(w.End))
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ParseYYYYMMDD converts a packed integer date such as 20160104.
func ParseYYYYMMDD(d int) (time.Time, bool) {
	y, m, day := d/10000, (d/100)%100, d%100
	if y < 1900 || m < 1 || m > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(m), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}
