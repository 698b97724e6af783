// Package stocklist retrieves the universe of tradable codes from the
// available sources and caches it on disk.
package stocklist

import (
	"context"
	"time"
)

// Entry is one security in a stock list.
type Entry struct {
	Code       string
	Name       string
	Exchange   string
	ListDate   time.Time
	DelistDate time.Time
	Suspended  bool
}

// Lister defines the interface for fetching a stock list.
type Lister interface {
	List(ctx context.Context) ([]Entry, error)
	Name() string
}

// Active drops suspended and delisted entries.
func Active(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if !e.Suspended {
			out = append(out, e)
		}
	}
	return out
}
