package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Exchange identifiers as the asset database expects them.
const (
	ExchangeSSE  = "SSE"
	ExchangeSZSE = "SZSE"
)

// NeverDelisted is the legacy sentinel end date for still-listed securities.
var NeverDelisted = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

// Security is one row of asset metadata handed to the asset db writer.
type Security struct {
	SID       int
	Symbol    string // engine symbol, e.g. 600000.SS
	Code      string // 6-digit exchange code
	Exchange  string
	AssetName string
	StartDate time.Time
	EndDate   time.Time
}

// OpenEnded reports whether the security has no known end date.
func (s Security) OpenEnded() bool {
	return s.EndDate.IsZero() || s.EndDate.Equal(NeverDelisted)
}

// Split is a share split or bonus-share event.
type Split struct {
	SID           int
	EffectiveDate time.Time
	Ratio         float64
}

// Dividend is a cash dividend event. Record, declared and pay dates are
// unknown for every source this module reads and stay nil.
type Dividend struct {
	SID          int
	ExDate       time.Time
	Amount       float64
	RecordDate   *time.Time
	DeclaredDate *time.Time
	PayDate      *time.Time
}

// NormalizeCode zero-pads numeric codes to six digits.
func NormalizeCode(code string) string {
	code = strings.TrimSpace(code)
	if len(code) >= 6 {
		return code
	}
	return strings.Repeat("0", 6-len(code)) + code
}

// ExchangeForCode maps a 6-digit code to its exchange, engine symbol and
// the lower-case market directory used by the legacy quote files.
func ExchangeForCode(code string) (exchange, symbol, market string, err error) {
	code = NormalizeCode(code)
	n, err := strconv.Atoi(code)
	if err != nil {
		return "", "", "", fmt.Errorf("invalid security code %q: %w", code, err)
	}
	if n >= 600000 {
		return ExchangeSSE, code + ".SS", "sh", nil
	}
	return ExchangeSZSE, code + ".SZ", "sz", nil
}

// MarketDir returns the legacy quote directory for an exchange.
func MarketDir(exchange string) string {
	switch exchange {
	case ExchangeSSE:
		return "sh"
	case ExchangeSZSE:
		return "sz"
	}
	return ""
}

// PortalSymbol returns the finance-portal form of a code: leading digit >= 6
// trades in Shanghai (.ss), everything else in Shenzhen (.sz).
func PortalSymbol(code string) string {
	code = NormalizeCode(code)
	if code != "" && code[0] >= '6' {
		return code + ".ss"
	}
	return code + ".sz"
}
