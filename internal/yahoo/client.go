// Package yahoo fetches daily history and corporate-action events from the
// finance portal's chart API.
package yahoo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"CNDataBundle/internal/model"
)

// ErrNotFound is returned when the portal has no data for a symbol.
var ErrNotFound = errors.New("yahoo: symbol not found")

// Client implements chart lookups using the public Yahoo Finance API.
type Client struct {
	BaseURL string
	Client  *http.Client
}

// NewClient creates a new Yahoo Finance client.
func NewClient(baseURL, proxyURL string) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if baseURL == "" {
		baseURL = "https://query1.finance.yahoo.com"
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// SplitEvent is a split as reported by the portal, e.g. 2:1 is
// Numerator 2, Denominator 1.
type SplitEvent struct {
	Date        time.Time
	Numerator   float64
	Denominator float64
}

// Ratio returns the engine's split ratio: the factor applied to prices
// before the split (0.5 for a 2:1 split).
func (s SplitEvent) Ratio() float64 {
	if s.Numerator == 0 {
		return 1
	}
	return s.Denominator / s.Numerator
}

// DividendEvent is a cash dividend per share.
type DividendEvent struct {
	Date   time.Time
	Amount float64
}

// History is a symbol's daily bars plus its split and dividend events.
type History struct {
	Symbol    string
	Bars      []model.DailyBar
	Splits    []SplitEvent
	Dividends []DividendEvent
}

func (c *Client) fetchChart(ctx context.Context, symbol string, q url.Values) (gjson.Result, error) {
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.BaseURL, url.PathEscape(symbol), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return gjson.Result{}, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := c.Client.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("yahoo fetch: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("yahoo read body: %w", err)
	}

	chart := gjson.GetBytes(body, "chart")
	if code := chart.Get("error.code").String(); code != "" {
		if code == "Not Found" || resp.StatusCode == http.StatusNotFound {
			return gjson.Result{}, fmt.Errorf("%w: %s: %s", ErrNotFound, symbol, chart.Get("error.description").String())
		}
		return gjson.Result{}, fmt.Errorf("yahoo api error: %s", chart.Get("error.description").String())
	}
	if resp.StatusCode == http.StatusNotFound {
		return gjson.Result{}, fmt.Errorf("%w: %s", ErrNotFound, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("yahoo: status %d, body: %s", resp.StatusCode, string(body))
	}
	result := chart.Get("result.0")
	if !result.Exists() {
		return gjson.Result{}, fmt.Errorf("yahoo: no data returned")
	}
	return result, nil
}

// Bars fetches daily history in [start, end] with split and dividend events.
func (c *Client) Bars(ctx context.Context, symbol string, start, end time.Time) (*History, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprint(model.Day(start).Unix()))
	q.Set("period2", fmt.Sprint(model.Day(end).AddDate(0, 0, 1).Unix()))
	q.Set("events", "div|split")
	result, err := c.fetchChart(ctx, symbol, q)
	if err != nil {
		return nil, err
	}
	return parseHistory(symbol, result), nil
}

// CheckCode reports whether the portal knows symbol. Transport failures are
// returned as errors rather than a negative answer.
func (c *Client) CheckCode(ctx context.Context, symbol string) (bool, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("range", "1d")
	_, err := c.fetchChart(ctx, symbol, q)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func parseHistory(symbol string, result gjson.Result) *History {
	offset := result.Get("meta.gmtoffset").Int()
	localDay := func(ts int64) time.Time {
		return model.Day(time.Unix(ts+offset, 0).UTC())
	}

	h := &History{Symbol: symbol}
	quote := result.Get("indicators.quote.0")
	opens := quote.Get("open").Array()
	highs := quote.Get("high").Array()
	lows := quote.Get("low").Array()
	closes := quote.Get("close").Array()
	volumes := quote.Get("volume").Array()
	at := func(vals []gjson.Result, i int) float64 {
		if i < len(vals) {
			return vals[i].Float()
		}
		return 0
	}

	for i, ts := range result.Get("timestamp").Array() {
		o, hi, l, cl := at(opens, i), at(highs, i), at(lows, i), at(closes, i)
		if o == 0 && hi == 0 && l == 0 && cl == 0 {
			continue // skip null bars (holidays etc.)
		}
		h.Bars = append(h.Bars, model.DailyBar{
			Date:   localDay(ts.Int()),
			Open:   o,
			High:   hi,
			Low:    l,
			Close:  cl,
			Volume: at(volumes, i),
		})
	}
	sort.Slice(h.Bars, func(i, j int) bool { return h.Bars[i].Date.Before(h.Bars[j].Date) })

	result.Get("events.splits").ForEach(func(_, v gjson.Result) bool {
		h.Splits = append(h.Splits, SplitEvent{
			Date:        localDay(v.Get("date").Int()),
			Numerator:   v.Get("numerator").Float(),
			Denominator: v.Get("denominator").Float(),
		})
		return true
	})
	sort.Slice(h.Splits, func(i, j int) bool { return h.Splits[i].Date.Before(h.Splits[j].Date) })

	result.Get("events.dividends").ForEach(func(_, v gjson.Result) bool {
		h.Dividends = append(h.Dividends, DividendEvent{
			Date:   localDay(v.Get("date").Int()),
			Amount: v.Get("amount").Float(),
		})
		return true
	})
	sort.Slice(h.Dividends, func(i, j int) bool { return h.Dividends[i].Date.Before(h.Dividends[j].Date) })
	return h
}
