// Package loader keeps benchmark returns and treasury curves cached in the
// data root, downloading them when the cache does not cover the requested
// dates.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"CNDataBundle/internal/calendar"
	"CNDataBundle/internal/paths"
)

// ErrUnknownBenchmark is returned for a symbol outside the known index list.
var ErrUnknownBenchmark = errors.New("your bm_symbol not in existing symbol list")

// DefaultCooldown is how long a fresh download suppresses another attempt.
const DefaultCooldown = time.Hour

// DefaultIndexSymbols are the index benchmarks published for the SHSZ market.
var DefaultIndexSymbols = []string{
	"000001.SS", // 上证综指
	"000016.SS", // 上证50
	"000300.SS", // 沪深300
	"000905.SS", // 中证500
	"000852.SS", // 中证1000
	"399001.SZ", // 深证成指
	"399005.SZ", // 中小板指
	"399006.SZ", // 创业板指
	"399106.SZ", // 深证综指
}

// TreasurySource produces the treasury curve table.
type TreasurySource interface {
	FetchCurves(ctx context.Context) (Curves, error)
}

// Loader resolves benchmark and treasury artifacts against the on-disk cache.
type Loader struct {
	Layout           paths.Layout
	BenchmarkBaseURL string
	IndexSymbols     []string
	Treasury         TreasurySource
	Cooldown         time.Duration
	Client           *http.Client
}

// New creates a Loader with the default index list and cooldown.
func New(layout paths.Layout, benchmarkBaseURL string, treasury TreasurySource, proxyURL string) *Loader {
	return &Loader{
		Layout:           layout,
		BenchmarkBaseURL: strings.TrimRight(benchmarkBaseURL, "/"),
		IndexSymbols:     DefaultIndexSymbols,
		Treasury:         treasury,
		Cooldown:         DefaultCooldown,
		Client:           newHTTPClient(proxyURL),
	}
}

func newHTTPClient(proxyURL string) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &http.Client{Timeout: 30 * time.Second, Transport: transport}
}

// MarketData is the benchmark and treasury data sliced to a date range.
type MarketData struct {
	FirstDate        time.Time
	LastDate         time.Time
	BenchmarkReturns Series
	TreasuryCurves   Curves
}

// LoadMarketData loads benchmark returns and treasury curves for the
// calendar. Data is expected up to tradingDayBefore sessions prior to the
// latest session on or before now.
func (l *Loader) LoadMarketData(ctx context.Context, cal calendar.Calendar, bmSymbol string, tradingDayBefore int, now time.Time) (*MarketData, error) {
	sessions := cal.AllSessions()
	if len(sessions) == 0 {
		return nil, fmt.Errorf("calendar %s has no sessions", cal.Name())
	}
	idx, ok := calendar.IndexOnOrBefore(cal, now)
	if !ok || idx-tradingDayBefore < 0 {
		return nil, fmt.Errorf("calendar %s has no session %d days before %s", cal.Name(), tradingDayBefore, now.Format(time.DateOnly))
	}
	first := sessions[0]
	last := sessions[idx-tradingDayBefore]

	br, err := l.EnsureBenchmarkData(ctx, bmSymbol, first, last, now)
	if err != nil {
		return nil, err
	}
	tc, err := l.EnsureTreasuryData(ctx, first, last, now)
	if err != nil {
		return nil, err
	}
	return &MarketData{
		FirstDate:        first,
		LastDate:         last,
		BenchmarkReturns: br.Slice(first, last),
		TreasuryCurves:   tc.Slice(first, last),
	}, nil
}

// artifact describes one cached file and how to refresh it.
type artifact[T dated] struct {
	kind  string
	path  string
	parse func(io.Reader) (T, error)
	fetch func(ctx context.Context) ([]byte, error)
}

// ensure runs the cache state machine: a covering cache is returned; a stale
// cache written within the cooldown is returned as-is; an unreadable cache is
// a miss; otherwise the artifact is fetched, persisted and reloaded.
func ensure[T dated](ctx context.Context, l *Loader, a artifact[T], first, last, now time.Time) (T, error) {
	var zero T
	if paths.Exists(a.path) {
		data, err := readFile(a.path, a.parse)
		if err != nil {
			log.Printf("[INFO] loading data for %s failed with error [%v]", a.path, err)
		} else {
			if HasDataForDates(data, first, last) {
				return data, nil
			}
			if mt, err := paths.LastModified(a.path); err == nil && now.Sub(mt) <= l.cooldown() {
				log.Printf("[WARN] refusing to download new %s data because a download succeeded at %s", a.kind, mt.Format(time.RFC3339))
				return data, nil
			}
		}
	}
	log.Printf("[INFO] cache at %s does not have data from %s to %s, downloading %s data",
		a.path, first.Format(time.DateOnly), last.Format(time.DateOnly), a.kind)

	raw, err := a.fetch(ctx)
	if err != nil {
		return zero, err
	}
	if err := paths.WriteAtomic(a.path, raw); err != nil {
		return zero, fmt.Errorf("failed to cache the new %s data: %w", a.kind, err)
	}
	data, err := readFile(a.path, a.parse)
	if err != nil {
		return zero, fmt.Errorf("reload %s: %w", a.path, err)
	}
	if !HasDataForDates(data, first, last) {
		log.Printf("[WARN] still don't have expected %s data after redownload", a.kind)
	}
	return data, nil
}

func readFile[T any](path string, parse func(io.Reader) (T, error)) (T, error) {
	f, err := os.Open(path)
	if err != nil {
		var zero T
		return zero, err
	}
	defer f.Close()
	return parse(f)
}

func (l *Loader) cooldown() time.Duration {
	if l.Cooldown > 0 {
		return l.Cooldown
	}
	return DefaultCooldown
}

// KnownBenchmark reports whether symbol is in the index list, ignoring case.
func (l *Loader) KnownBenchmark(symbol string) bool {
	s := strings.ToUpper(symbol)
	for _, known := range l.IndexSymbols {
		if strings.ToUpper(known) == s {
			return true
		}
	}
	return false
}

// EnsureBenchmarkData returns the benchmark series for symbol, downloading
// it unless the cache reaches lastDate or was written within the cooldown.
func (l *Loader) EnsureBenchmarkData(ctx context.Context, symbol string, first, last, now time.Time) (Series, error) {
	path, err := l.Layout.DataFile(paths.BenchmarkFile(symbol))
	if err != nil {
		return nil, err
	}
	return ensure(ctx, l, artifact[Series]{
		kind:  "benchmark",
		path:  path,
		parse: ParseSeries,
		fetch: func(ctx context.Context) ([]byte, error) {
			if !l.KnownBenchmark(symbol) {
				return nil, fmt.Errorf("%w: %s", ErrUnknownBenchmark, symbol)
			}
			u := fmt.Sprintf("%s/%s", l.BenchmarkBaseURL, paths.BenchmarkFile(strings.ToUpper(symbol)))
			log.Printf("[INFO] fetch benchmark data via url: %s", u)
			return httpGet(ctx, l.Client, u)
		},
	}, first, last, now)
}

// EnsureTreasuryData returns the treasury curves, downloading them unless the
// cache reaches lastDate or was written within the cooldown.
func (l *Loader) EnsureTreasuryData(ctx context.Context, first, last, now time.Time) (Curves, error) {
	path, err := l.Layout.DataFile(paths.TreasuryFile)
	if err != nil {
		return nil, err
	}
	return ensure(ctx, l, artifact[Curves]{
		kind:  "treasury",
		path:  path,
		parse: ParseCurves,
		fetch: func(ctx context.Context) ([]byte, error) {
			if l.Treasury == nil {
				return nil, fmt.Errorf("no treasury source configured")
			}
			curves, err := l.Treasury.FetchCurves(ctx)
			if err != nil {
				return nil, fmt.Errorf("fetch treasury curves: %w", err)
			}
			var buf bytes.Buffer
			if err := WriteCurves(&buf, curves); err != nil {
				return nil, err
			}
			return buf.Bytes(), nil
		},
	}, first, last, now)
}

func httpGet(ctx context.Context, client *http.Client, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}
	log.Printf("[INFO] length of response is: %d", len(body))
	return body, nil
}

// HTTPTreasury downloads the curve table as CSV in the engine's wide format.
type HTTPTreasury struct {
	URL    string
	Client *http.Client
}

// NewHTTPTreasury creates a treasury source with optional proxy support.
func NewHTTPTreasury(u, proxyURL string) *HTTPTreasury {
	return &HTTPTreasury{URL: u, Client: newHTTPClient(proxyURL)}
}

// FetchCurves downloads and parses the curve table.
func (h *HTTPTreasury) FetchCurves(ctx context.Context) (Curves, error) {
	if h.URL == "" {
		return nil, fmt.Errorf("treasury url is not configured")
	}
	raw, err := httpGet(ctx, h.Client, h.URL)
	if err != nil {
		return nil, err
	}
	return ParseCurves(bytes.NewReader(raw))
}
