// Package tushare is a minimal client for the vendor's HTTP data API.
package tushare

import (
	"bytes"
	"context"
	"encoding/json"
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

// DailyPageLimit is the most rows one daily response carries.
const DailyPageLimit = 6000

// Client calls the vendor API with a token.
type Client struct {
	BaseURL string
	Token   string
	Client  *http.Client
	// PageLimit overrides DailyPageLimit when positive.
	PageLimit int
}

// NewClient creates a client with optional proxy support.
func NewClient(baseURL, token, proxyURL string) *Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

// APIError is a non-zero code in an API response.
type APIError struct {
	API  string
	Code int64
	Msg  string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("tushare %s: code %d: %s", e.API, e.Code, e.Msg)
}

type request struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

// Table is a decoded data block: column names and row values.
type Table struct {
	Fields []string
	Items  []gjson.Result
}

// Row returns row i as a field -> value map.
func (t *Table) Row(i int) map[string]gjson.Result {
	vals := t.Items[i].Array()
	row := make(map[string]gjson.Result, len(t.Fields))
	for j, f := range t.Fields {
		if j < len(vals) {
			row[f] = vals[j]
		}
	}
	return row
}

// Query posts one API call and returns its data table.
func (c *Client) Query(ctx context.Context, api string, params map[string]string, fields []string) (*Table, error) {
	body, err := json.Marshal(request{APIName: api, Token: c.Token, Params: params, Fields: strings.Join(fields, ",")})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("tushare %s: %w", api, err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("tushare %s read body: %w", api, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("tushare %s: status %d, body: %s", api, resp.StatusCode, string(raw))
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("tushare %s: invalid json response", api)
	}
	res := gjson.ParseBytes(raw)
	if code := res.Get("code").Int(); code != 0 {
		return nil, &APIError{API: api, Code: code, Msg: res.Get("msg").String()}
	}
	t := &Table{Items: res.Get("data.items").Array()}
	for _, f := range res.Get("data.fields").Array() {
		t.Fields = append(t.Fields, f.String())
	}
	return t, nil
}

// Stock is one row of the stock_basic listing.
type Stock struct {
	TSCode     string
	Code       string
	Name       string
	Exchange   string
	ListStatus string
	ListDate   time.Time
	DelistDate time.Time
}

var stockBasicFields = []string{"ts_code", "symbol", "name", "exchange", "list_status", "list_date", "delist_date"}

// StockBasic lists securities with the given listing status (L, D, P);
// an empty status lists the vendor default.
func (c *Client) StockBasic(ctx context.Context, listStatus string) ([]Stock, error) {
	params := map[string]string{}
	if listStatus != "" {
		params["list_status"] = listStatus
	}
	t, err := c.Query(ctx, "stock_basic", params, stockBasicFields)
	if err != nil {
		return nil, err
	}
	stocks := make([]Stock, 0, len(t.Items))
	for i := range t.Items {
		row := t.Row(i)
		s := Stock{
			TSCode:     row["ts_code"].String(),
			Code:       model.NormalizeCode(row["symbol"].String()),
			Name:       row["name"].String(),
			Exchange:   row["exchange"].String(),
			ListStatus: row["list_status"].String(),
		}
		s.ListDate, _ = parseDate(row["list_date"].String())
		s.DelistDate, _ = parseDate(row["delist_date"].String())
		stocks = append(stocks, s)
	}
	sort.Slice(stocks, func(i, j int) bool { return stocks[i].Code < stocks[j].Code })
	return stocks, nil
}

var dailyFields = []string{"trade_date", "open", "high", "low", "close", "vol"}

// Daily returns unadjusted daily bars for tsCode in [start, end], oldest first.
// A zero start or end leaves that side open. Responses are capped at the page
// limit newest first, so a full page is followed by a query ending the day
// before its earliest row. Volume is converted from lots to shares.
func (c *Client) Daily(ctx context.Context, tsCode string, start, end time.Time) ([]model.DailyBar, error) {
	limit := c.PageLimit
	if limit <= 0 {
		limit = DailyPageLimit
	}

	var bars []model.DailyBar
	seen := make(map[time.Time]bool)
	pageEnd := end
	for {
		page, err := c.dailyPage(ctx, tsCode, start, pageEnd)
		if err != nil {
			return nil, err
		}
		var earliest time.Time
		for _, b := range page {
			if earliest.IsZero() || b.Date.Before(earliest) {
				earliest = b.Date
			}
			if seen[b.Date] {
				continue
			}
			seen[b.Date] = true
			bars = append(bars, b)
		}
		if len(page) < limit {
			break
		}
		next := earliest.AddDate(0, 0, -1)
		if !start.IsZero() && next.Before(start) {
			break
		}
		if !pageEnd.IsZero() && !next.Before(pageEnd) {
			return nil, fmt.Errorf("tushare daily %s: paging did not advance past %s", tsCode, pageEnd.Format("20060102"))
		}
		pageEnd = next
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

func (c *Client) dailyPage(ctx context.Context, tsCode string, start, end time.Time) ([]model.DailyBar, error) {
	params := map[string]string{"ts_code": tsCode}
	if !start.IsZero() {
		params["start_date"] = start.Format("20060102")
	}
	if !end.IsZero() {
		params["end_date"] = end.Format("20060102")
	}
	t, err := c.Query(ctx, "daily", params, dailyFields)
	if err != nil {
		return nil, err
	}
	bars := make([]model.DailyBar, 0, len(t.Items))
	for i := range t.Items {
		row := t.Row(i)
		date, err := parseDate(row["trade_date"].String())
		if err != nil {
			return nil, fmt.Errorf("tushare daily %s: %w", tsCode, err)
		}
		bars = append(bars, model.DailyBar{
			Date:   date,
			Open:   row["open"].Float(),
			High:   row["high"].Float(),
			Low:    row["low"].Float(),
			Close:  row["close"].Float(),
			Volume: row["vol"].Float() * 100,
		})
	}
	return bars, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	return time.Parse("20060102", s)
}
