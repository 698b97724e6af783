package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingEnv is returned when a bundle needs configuration that is not set.
var ErrMissingEnv = errors.New("missing required configuration")

// Config holds all application configuration.
type Config struct {
	// Root is the engine home; data/ and cache/ live below it.
	Root string `yaml:"root"`

	Squant struct {
		CQCXSH string `yaml:"cqcx_sh"`
		CQCXSZ string `yaml:"cqcx_sz"`
		TDXDir string `yaml:"tdx_dir"`
	} `yaml:"squant"`
	Tushare struct {
		Token   string `yaml:"token"`
		BaseURL string `yaml:"base_url"`
		Limit   int    `yaml:"limit"`
	} `yaml:"tushare"`
	Yahoo struct {
		BaseURL     string `yaml:"base_url"`
		Concurrency int    `yaml:"concurrency"`
	} `yaml:"yahoo"`
	StockList struct {
		URL      string        `yaml:"url"`
		CacheTTL time.Duration `yaml:"cache_ttl"`
	} `yaml:"stock_list"`
	Benchmark struct {
		Symbol           string        `yaml:"symbol"`
		BaseURL          string        `yaml:"base_url"`
		TreasuryURL      string        `yaml:"treasury_url"`
		Symbols          []string      `yaml:"symbols"`
		TradingDayBefore int           `yaml:"trading_day_before"`
		Cooldown         time.Duration `yaml:"cooldown"`
	} `yaml:"benchmark"`
	Calendar struct {
		HolidaysFile string `yaml:"holidays_file"`
		FirstSession string `yaml:"first_session"`
		LastSession  string `yaml:"last_session"`
	} `yaml:"calendar"`
	Schedule struct {
		RefreshCron string `yaml:"refresh_cron"`
		// MarketDataCron optionally warms the benchmark and treasury caches.
		MarketDataCron string `yaml:"market_data_cron"`
		RunOnStart     bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	// Zero is a valid offset, so this default is set before the file is read.
	cfg.Benchmark.TradingDayBefore = 2

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ZIPLINE_ROOT"); v != "" {
		c.Root = v
	}
	if v := os.Getenv("CQCX_SH"); v != "" {
		c.Squant.CQCXSH = v
	}
	if v := os.Getenv("CQCX_SZ"); v != "" {
		c.Squant.CQCXSZ = v
	}
	if v := os.Getenv("TDX_DIR"); v != "" {
		c.Squant.TDXDir = v
	}
	if v := os.Getenv("ZIPLINE_TL_TOKEN"); v != "" {
		c.Tushare.Token = v
	}
	if v := os.Getenv("TUSHARE_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tushare.Limit = n
		}
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		c.Proxy = v
	}
	if v := os.Getenv("CNBUNDLE_DB"); v != "" {
		c.Database.SQLitePath = v
	}
	if v := os.Getenv("CNBUNDLE_BENCHMARK"); v != "" {
		c.Benchmark.Symbol = v
	}
	if os.Getenv("RUN_ON_START") == "true" {
		c.Schedule.RunOnStart = true
	}
}

func (c *Config) applyDefaults() {
	if c.Root == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Root = filepath.Join(home, ".zipline")
		} else {
			c.Root = ".zipline"
		}
	}
	if c.Tushare.BaseURL == "" {
		c.Tushare.BaseURL = "http://api.tushare.pro"
	}
	if c.Yahoo.BaseURL == "" {
		c.Yahoo.BaseURL = "https://query1.finance.yahoo.com"
	}
	if c.Yahoo.Concurrency <= 0 {
		c.Yahoo.Concurrency = 4
	}
	if c.StockList.URL == "" {
		c.StockList.URL = "http://218.244.146.57/static/all.csv"
	}
	if c.StockList.CacheTTL == 0 {
		c.StockList.CacheTTL = 24 * time.Hour
	}
	if c.Benchmark.Symbol == "" {
		c.Benchmark.Symbol = "000001.SS"
	}
	if c.Benchmark.BaseURL == "" {
		c.Benchmark.BaseURL = "https://raw.githubusercontent.com/rainx/cn_index_benchmark_for_zipline/master/data"
	}
	if c.Benchmark.Cooldown == 0 {
		c.Benchmark.Cooldown = time.Hour
	}
	if c.Calendar.FirstSession == "" {
		c.Calendar.FirstSession = "1990-12-19"
	}
	if c.Schedule.RefreshCron == "" {
		c.Schedule.RefreshCron = "0 0 18 * * 1-5"
	}
	if c.Database.SQLitePath == "" {
		c.Database.SQLitePath = filepath.Join(c.Root, "data", "cn_bundles.db")
	}
}

// DataRoot is the directory holding downloaded market data.
func (c *Config) DataRoot() string { return filepath.Join(c.Root, "data") }

// CacheRoot is the directory holding intermediate caches.
func (c *Config) CacheRoot() string { return filepath.Join(c.Root, "cache") }

// Validate checks the fields every command needs.
func (c *Config) Validate() error {
	if c.Root == "" {
		return fmt.Errorf("root is required")
	}
	if c.Benchmark.TradingDayBefore < 0 {
		return fmt.Errorf("benchmark.trading_day_before must not be negative")
	}
	if c.Benchmark.Cooldown < 0 {
		return fmt.Errorf("benchmark.cooldown must not be negative")
	}
	if c.Yahoo.Concurrency <= 0 {
		return fmt.Errorf("yahoo.concurrency must be positive")
	}
	if _, err := time.Parse("2006-01-02", c.Calendar.FirstSession); err != nil {
		return fmt.Errorf("calendar.first_session: %w", err)
	}
	if c.Calendar.LastSession != "" {
		if _, err := time.Parse("2006-01-02", c.Calendar.LastSession); err != nil {
			return fmt.Errorf("calendar.last_session: %w", err)
		}
	}
	return nil
}

// ValidateSquant checks the corporate-action files and quote directory the
// squant bundle reads.
func (c *Config) ValidateSquant() error {
	if c.Squant.CQCXSH == "" || c.Squant.CQCXSZ == "" {
		return fmt.Errorf("%w: need set cqcx file on CQCX_SH CQCX_SZ", ErrMissingEnv)
	}
	for _, p := range []string{c.Squant.CQCXSH, c.Squant.CQCXSZ} {
		fi, err := os.Stat(p)
		if err != nil || !fi.Mode().IsRegular() {
			return fmt.Errorf("%w: CQCX path %s is not a regular file", ErrMissingEnv, p)
		}
	}
	if c.Squant.TDXDir == "" {
		return fmt.Errorf("%w: TDX_DIR is not set", ErrMissingEnv)
	}
	return nil
}

// ValidateTushare checks the vendor API token and the corporate-action files
// the tushare bundle takes its adjustments from.
func (c *Config) ValidateTushare() error {
	if c.Tushare.Token == "" {
		return fmt.Errorf("%w: no vendor token in ZIPLINE_TL_TOKEN", ErrMissingEnv)
	}
	if c.Squant.CQCXSH == "" || c.Squant.CQCXSZ == "" {
		return fmt.Errorf("%w: need set cqcx file on CQCX_SH CQCX_SZ", ErrMissingEnv)
	}
	return nil
}

// CQCXFiles returns the configured corporate-action files in load order.
func (c *Config) CQCXFiles() []string {
	return []string{c.Squant.CQCXSH, c.Squant.CQCXSZ}
}
