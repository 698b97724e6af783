package stocklist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"CNDataBundle/internal/paths"
)

// CachedLister serves a lister's result from all_stocks.csv while the file is
// younger than TTL.
type CachedLister struct {
	Lister Lister
	Path   string
	TTL    time.Duration
	Now    func() time.Time
}

func (c *CachedLister) Name() string { return c.Lister.Name() + "+cache" }

// List returns the cached list when fresh, otherwise fetches and persists.
func (c *CachedLister) List(ctx context.Context) ([]Entry, error) {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	if entries, ok := c.load(now()); ok {
		return entries, nil
	}
	entries, err := c.Lister.List(ctx)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := WriteCSV(&buf, entries); err != nil {
		return nil, fmt.Errorf("encode stock list: %w", err)
	}
	if err := paths.WriteAtomic(c.Path, buf.Bytes()); err != nil {
		log.Printf("[WARN] cache stock list at %s: %v", c.Path, err)
	}
	return entries, nil
}

func (c *CachedLister) load(now time.Time) ([]Entry, bool) {
	mt, err := paths.LastModified(c.Path)
	if err != nil {
		return nil, false
	}
	if now.Sub(mt) > c.TTL {
		return nil, false
	}
	f, err := os.Open(c.Path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	entries, err := ParseCSV(f)
	if err != nil || len(entries) == 0 {
		log.Printf("[INFO] loading stock list cache %s failed, treating as miss: %v", c.Path, err)
		return nil, false
	}
	return entries, true
}

// SymbolCache is the newline-separated portal symbol list (symbols.txt).
type SymbolCache struct {
	Path string
}

// Load reads the cached symbols. A missing or empty file is a miss.
func (s *SymbolCache) Load() ([]string, bool) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, false
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	if sc.Err() != nil || len(out) == 0 {
		return nil, false
	}
	return out, true
}

// Save replaces the cached symbols.
func (s *SymbolCache) Save(symbols []string) error {
	return paths.WriteAtomic(s.Path, []byte(strings.Join(symbols, "\n")))
}

// Refresh rebuilds the cache from lister, keeping only codes the checker
// accepts.
func (s *SymbolCache) Refresh(ctx context.Context, lister Lister, checker CodeChecker, concurrency int) ([]string, error) {
	entries, err := lister.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stocks via %s: %w", lister.Name(), err)
	}
	symbols, err := PortalSymbols(ctx, entries, checker, concurrency)
	if err != nil {
		return nil, err
	}
	if err := s.Save(symbols); err != nil {
		return nil, fmt.Errorf("save %s: %w", s.Path, err)
	}
	log.Printf("[INFO] output %d symbols to %s", len(symbols), s.Path)
	return symbols, nil
}

// LoadOrRefresh returns cached symbols, refreshing on a miss.
func (s *SymbolCache) LoadOrRefresh(ctx context.Context, lister Lister, checker CodeChecker, concurrency int) ([]string, error) {
	if symbols, ok := s.Load(); ok {
		return symbols, nil
	}
	return s.Refresh(ctx, lister, checker, concurrency)
}
