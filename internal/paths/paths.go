// Package paths resolves the on-disk layout of downloaded data and caches.
package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Cache file names.
const (
	AllStocksFile = "all_stocks.csv"
	SymbolsFile   = "symbols.txt"
	TreasuryFile  = "cn_treasury_curves.csv"
)

// BenchmarkFile returns the cache file name for a benchmark symbol.
func BenchmarkFile(symbol string) string {
	return fmt.Sprintf("%s_benchmark.csv", symbol)
}

// Layout points at the data and cache roots.
type Layout struct {
	DataRoot  string
	CacheRoot string
}

// DataFile returns a path under the data root, creating the root if needed.
func (l Layout) DataFile(name string) (string, error) {
	return ensureIn(l.DataRoot, name)
}

// CacheFile returns a path under the cache root, creating the root if needed.
func (l Layout) CacheFile(name string) (string, error) {
	return ensureIn(l.CacheRoot, name)
}

func ensureIn(root, name string) (string, error) {
	if strings.TrimSpace(root) == "" {
		return "", fmt.Errorf("empty root directory for %s", name)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", root, err)
	}
	return filepath.Join(root, name), nil
}

// LastModified returns the modification time of path in UTC.
func LastModified(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	return fi.ModTime().UTC(), nil
}

// Exists reports whether path exists as a regular file.
func Exists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular()
}

// WriteAtomic writes data to a sibling temp file and renames it over path,
// so readers never observe a half-written cache file.
func WriteAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
