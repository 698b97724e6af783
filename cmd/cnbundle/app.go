package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"CNDataBundle/internal/bundle"
	"CNDataBundle/internal/calendar"
	"CNDataBundle/internal/config"
	"CNDataBundle/internal/loader"
	"CNDataBundle/internal/model"
	"CNDataBundle/internal/paths"
	"CNDataBundle/internal/stocklist"
	"CNDataBundle/internal/tdx"
	"CNDataBundle/internal/tushare"
	"CNDataBundle/internal/yahoo"
)

// app wires configuration into the bundle sources shared by the commands.
type app struct {
	cfg    *config.Config
	layout paths.Layout
	now    func() time.Time
}

func (a *app) load(cfgPath string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	a.cfg = cfg
	a.layout = paths.Layout{DataRoot: cfg.DataRoot(), CacheRoot: cfg.CacheRoot()}
	if a.now == nil {
		a.now = time.Now
	}
	return nil
}

// calendar builds the SHSZ session calendar. Without a configured last
// session it ends today.
func (a *app) calendar() (*calendar.Static, error) {
	first, err := time.Parse(time.DateOnly, a.cfg.Calendar.FirstSession)
	if err != nil {
		return nil, fmt.Errorf("calendar.first_session: %w", err)
	}
	last := model.Day(a.now())
	if a.cfg.Calendar.LastSession != "" {
		if last, err = time.Parse(time.DateOnly, a.cfg.Calendar.LastSession); err != nil {
			return nil, fmt.Errorf("calendar.last_session: %w", err)
		}
	}
	var holidays []time.Time
	if a.cfg.Calendar.HolidaysFile != "" {
		if holidays, err = calendar.LoadHolidays(a.cfg.Calendar.HolidaysFile); err != nil {
			return nil, err
		}
	} else {
		log.Println("[WARN] no holidays file configured, every weekday is a session")
	}
	return calendar.NewSHSZ(first, last, holidays), nil
}

func (a *app) tushareClient() *tushare.Client {
	return tushare.NewClient(a.cfg.Tushare.BaseURL, a.cfg.Tushare.Token, a.cfg.Proxy)
}

func (a *app) yahooClient() *yahoo.Client {
	return yahoo.NewClient(a.cfg.Yahoo.BaseURL, a.cfg.Proxy)
}

// portalLister is the all-stocks CSV endpoint cached as all_stocks.csv.
func (a *app) portalLister() (stocklist.Lister, error) {
	path, err := a.layout.CacheFile(paths.AllStocksFile)
	if err != nil {
		return nil, err
	}
	return &stocklist.CachedLister{
		Lister: stocklist.NewCSVLister(a.cfg.StockList.URL, a.cfg.Proxy),
		Path:   path,
		TTL:    a.cfg.StockList.CacheTTL,
		Now:    a.now,
	}, nil
}

func (a *app) symbolCache() (*stocklist.SymbolCache, error) {
	path, err := a.layout.CacheFile(paths.SymbolsFile)
	if err != nil {
		return nil, err
	}
	return &stocklist.SymbolCache{Path: path}, nil
}

// refreshSymbols rebuilds symbols.txt from the portal stock list.
func (a *app) refreshSymbols(ctx context.Context) ([]string, error) {
	lister, err := a.portalLister()
	if err != nil {
		return nil, err
	}
	cache, err := a.symbolCache()
	if err != nil {
		return nil, err
	}
	return cache.Refresh(ctx, lister, a.yahooClient(), a.cfg.Yahoo.Concurrency)
}

func (a *app) loadSymbols(ctx context.Context) ([]string, error) {
	lister, err := a.portalLister()
	if err != nil {
		return nil, err
	}
	cache, err := a.symbolCache()
	if err != nil {
		return nil, err
	}
	return cache.LoadOrRefresh(ctx, lister, a.yahooClient(), a.cfg.Yahoo.Concurrency)
}

// squantLister prefers the vendor listing and falls back to the portal CSV
// when no token is configured.
func (a *app) squantLister() (stocklist.Lister, error) {
	if a.cfg.Tushare.Token != "" {
		return &stocklist.TushareLister{Client: a.tushareClient()}, nil
	}
	return a.portalLister()
}

// registry registers the squant, tushare and yahoo bundles.
func (a *app) registry() (*bundle.Registry, error) {
	reg := bundle.NewRegistry()

	lister, err := a.squantLister()
	if err != nil {
		return nil, err
	}
	squant := &bundle.Squant{
		Lister:    lister,
		Quotes:    tdx.NewReader(a.cfg.Squant.TDXDir),
		CQCXFiles: a.cfg.CQCXFiles(),
	}
	ts := &bundle.Tushare{
		API:       a.tushareClient(),
		Limit:     a.cfg.Tushare.Limit,
		CQCXFiles: a.cfg.CQCXFiles(),
	}
	yh := &bundle.Yahoo{
		Symbols: a.loadSymbols,
		Client:  a.yahooClient(),
	}

	var zero time.Time
	for name, fn := range map[string]bundle.IngestFunc{
		"squant":  squant.Ingest,
		"tushare": ts.Ingest,
		"yahoo":   yh.Ingest,
	} {
		if err := reg.Register(name, fn, "SHSZ", zero, zero); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// validateBundle checks the environment a bundle needs before any work.
func (a *app) validateBundle(name string) error {
	switch name {
	case "squant":
		return a.cfg.ValidateSquant()
	case "tushare":
		return a.cfg.ValidateTushare()
	}
	return nil
}

func (a *app) marketLoader() *loader.Loader {
	l := loader.New(a.layout, a.cfg.Benchmark.BaseURL,
		loader.NewHTTPTreasury(a.cfg.Benchmark.TreasuryURL, a.cfg.Proxy), a.cfg.Proxy)
	if len(a.cfg.Benchmark.Symbols) > 0 {
		l.IndexSymbols = a.cfg.Benchmark.Symbols
	}
	l.Cooldown = a.cfg.Benchmark.Cooldown
	return l
}

func environ() map[string]string {
	return bundle.Environ(os.Environ())
}
