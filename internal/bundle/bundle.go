// Package bundle defines the writer contract a bundle ingest feeds and the
// source adapters that fulfil it.
package bundle

import (
	"context"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"CNDataBundle/internal/calendar"
	"CNDataBundle/internal/model"
)

// AssetDBWriter persists security metadata.
type AssetDBWriter interface {
	WriteEquities(securities []model.Security) error
}

// DailyBarWriter consumes a stream of (sid, bars) pairs.
type DailyBarWriter interface {
	Write(bars iter.Seq2[int, []model.DailyBar], showProgress bool) error
}

// AdjustmentWriter persists split and dividend tables.
type AdjustmentWriter interface {
	Write(splits []model.Split, dividends []model.Dividend) error
}

// Writers groups the three write phases of one ingest.
type Writers struct {
	Assets      AssetDBWriter
	Bars        DailyBarWriter
	Adjustments AdjustmentWriter
}

// IngestArgs is everything an ingest function receives.
type IngestArgs struct {
	Writers
	// Env carries the process environment the ingest was started with.
	Env          map[string]string
	Calendar     calendar.Calendar
	Window       model.SessionWindow
	ShowProgress bool
	OutputDir    string
}

// IngestFunc writes one bundle ingestion.
type IngestFunc func(ctx context.Context, args IngestArgs) error

// Registration is a named bundle with its default session window.
type Registration struct {
	Name         string
	Ingest       IngestFunc
	CalendarName string
	Start        time.Time
	End          time.Time
}

// Registry holds registered bundles.
type Registry struct {
	mu      sync.Mutex
	entries map[string]Registration
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]Registration)}
}

// Register adds a bundle. Zero start or end means the calendar's first or
// last session.
func (r *Registry) Register(name string, fn IngestFunc, calendarName string, start, end time.Time) error {
	if name == "" || fn == nil {
		return fmt.Errorf("register bundle: name and ingest function are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[name]; ok {
		return fmt.Errorf("bundle %q is already registered", name)
	}
	r.entries[name] = Registration{Name: name, Ingest: fn, CalendarName: calendarName, Start: start, End: end}
	return nil
}

// Lookup returns a registration by name.
func (r *Registry) Lookup(name string) (Registration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	reg, ok := r.entries[name]
	return reg, ok
}

// Names returns the registered bundle names, sorted.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ResolveWindow snaps [start, end] onto the calendar's sessions: the first
// session on or after start and the last on or before end. Zero bounds mean
// the calendar's extremes.
func ResolveWindow(cal calendar.Calendar, start, end time.Time) (model.SessionWindow, error) {
	all := cal.AllSessions()
	if len(all) == 0 {
		return model.SessionWindow{}, fmt.Errorf("calendar %s has no sessions", cal.Name())
	}
	if start.IsZero() {
		start = all[0]
	}
	if end.IsZero() {
		end = all[len(all)-1]
	}
	sessions := cal.SessionsInRange(start, end)
	if len(sessions) == 0 {
		return model.SessionWindow{}, fmt.Errorf("no %s sessions between %s and %s",
			cal.Name(), start.Format(time.DateOnly), end.Format(time.DateOnly))
	}
	return model.SessionWindow{Start: sessions[0], End: sessions[len(sessions)-1]}, nil
}

// Ingest runs a registered bundle. Non-zero start/end override the
// registration's window; args.Window is filled in from the calendar.
func (r *Registry) Ingest(ctx context.Context, name string, args IngestArgs, start, end time.Time) (model.SessionWindow, error) {
	reg, ok := r.Lookup(name)
	if !ok {
		return model.SessionWindow{}, fmt.Errorf("no bundle registered with the name %q", name)
	}
	if args.Calendar == nil {
		return model.SessionWindow{}, fmt.Errorf("ingest %s: calendar is required", name)
	}
	if start.IsZero() {
		start = reg.Start
	}
	if end.IsZero() {
		end = reg.End
	}
	window, err := ResolveWindow(args.Calendar, start, end)
	if err != nil {
		return model.SessionWindow{}, err
	}
	args.Window = window
	if err := reg.Ingest(ctx, args); err != nil {
		return window, fmt.Errorf("ingest %s: %w", name, err)
	}
	return window, nil
}

// Environ converts os.Environ style pairs into a map.
func Environ(pairs []string) map[string]string {
	env := make(map[string]string, len(pairs))
	for _, kv := range pairs {
		if k, v, ok := strings.Cut(kv, "="); ok {
			env[k] = v
		}
	}
	return env
}
