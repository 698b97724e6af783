// Package calendar provides trading-session calendars for the Shanghai and
// Shenzhen exchanges.
package calendar

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"CNDataBundle/internal/model"
)

// Calendar enumerates trading sessions. Sessions are midnight UTC dates.
type Calendar interface {
	Name() string
	AllSessions() []time.Time
	SessionsInRange(start, end time.Time) []time.Time
}

// Static is a calendar backed by an explicit ascending session list.
type Static struct {
	name     string
	sessions []time.Time
}

// NewStatic builds a calendar from sessions; input is normalized, sorted and
// de-duplicated.
func NewStatic(name string, sessions []time.Time) *Static {
	seen := make(map[time.Time]bool, len(sessions))
	out := make([]time.Time, 0, len(sessions))
	for _, s := range sessions {
		d := model.Day(s)
		if seen[d] {
			continue
		}
		seen[d] = true
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return &Static{name: name, sessions: out}
}

func (c *Static) Name() string { return c.name }

// AllSessions returns the full session list. Callers must not modify it.
func (c *Static) AllSessions() []time.Time { return c.sessions }

// SessionsInRange returns sessions within [start, end].
func (c *Static) SessionsInRange(start, end time.Time) []time.Time {
	start, end = model.Day(start), model.Day(end)
	lo := sort.Search(len(c.sessions), func(i int) bool { return !c.sessions[i].Before(start) })
	hi := sort.Search(len(c.sessions), func(i int) bool { return c.sessions[i].After(end) })
	if lo >= hi {
		return nil
	}
	out := make([]time.Time, hi-lo)
	copy(out, c.sessions[lo:hi])
	return out
}

// IndexOnOrBefore returns the index of the last session on or before t, the
// forward-fill lookup used to find the latest completed session.
func IndexOnOrBefore(c Calendar, t time.Time) (int, bool) {
	all := c.AllSessions()
	d := model.Day(t)
	i := sort.Search(len(all), func(i int) bool { return all[i].After(d) })
	if i == 0 {
		return 0, false
	}
	return i - 1, true
}

// NewSHSZ builds the combined Shanghai/Shenzhen calendar: weekdays between
// first and last, minus holidays.
func NewSHSZ(first, last time.Time, holidays []time.Time) *Static {
	closed := make(map[time.Time]bool, len(holidays))
	for _, h := range holidays {
		closed[model.Day(h)] = true
	}
	var sessions []time.Time
	for d := model.Day(first); !d.After(model.Day(last)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		if closed[d] {
			continue
		}
		sessions = append(sessions, d)
	}
	return &Static{name: "SHSZ", sessions: sessions}
}

// ParseHolidays reads one date per line (YYYY-MM-DD or YYYYMMDD). Blank lines
// and lines starting with # are ignored.
func ParseHolidays(r io.Reader) ([]time.Time, error) {
	var out []time.Time
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		s := strings.TrimSpace(sc.Text())
		if s == "" || strings.HasPrefix(s, "#") {
			continue
		}
		layout := "2006-01-02"
		if !strings.Contains(s, "-") {
			layout = "20060102"
		}
		t, err := time.Parse(layout, s)
		if err != nil {
			return nil, fmt.Errorf("holidays line %d: %w", line, err)
		}
		out = append(out, t)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadHolidays reads a holiday file; an empty path yields no holidays.
func LoadHolidays(path string) ([]time.Time, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open holidays: %w", err)
	}
	defer f.Close()
	return ParseHolidays(f)
}
