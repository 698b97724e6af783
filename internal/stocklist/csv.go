package stocklist

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/transform"

	"CNDataBundle/internal/model"
)

// CSVLister downloads the GBK-encoded all-stocks CSV endpoint.
type CSVLister struct {
	URL    string
	Client *http.Client
}

// NewCSVLister creates a lister with optional proxy support.
func NewCSVLister(endpoint, proxyURL string) *CSVLister {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	return &CSVLister{
		URL: endpoint,
		Client: &http.Client{
			Timeout:   30 * time.Second,
			Transport: transport,
		},
	}
}

func (l *CSVLister) Name() string { return "csv" }

// List fetches and parses the stock list.
func (l *CSVLister) List(ctx context.Context) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := l.Client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch stock list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch stock list: status %d", resp.StatusCode)
	}
	raw, err := io.ReadAll(transform.NewReader(resp.Body, simplifiedchinese.GBK.NewDecoder()))
	if err != nil {
		return nil, fmt.Errorf("decode stock list: %w", err)
	}
	return ParseCSV(bytes.NewReader(raw))
}

// ParseCSV parses a UTF-8 stock list with at least a code column. "--"
// placeholders are treated as empty.
func ParseCSV(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read stock list: %w", err)
	}
	if len(records) < 1 {
		return nil, fmt.Errorf("stock list has no header")
	}
	col := parseHeader(records[0])
	codeIdx, ok := col["code"]
	if !ok {
		return nil, fmt.Errorf("stock list has no code column")
	}

	field := func(row []string, key string) string {
		idx, ok := col[key]
		if !ok || idx >= len(row) {
			return ""
		}
		return strings.TrimSpace(strings.ReplaceAll(row[idx], "--", ""))
	}

	seen := make(map[string]bool)
	var out []Entry
	for _, row := range records[1:] {
		if codeIdx >= len(row) {
			continue
		}
		code := model.NormalizeCode(strings.ReplaceAll(row[codeIdx], "--", ""))
		if code == "" || code == "000000" || seen[code] {
			continue
		}
		seen[code] = true
		e := Entry{Code: code, Name: field(row, "name"), Exchange: field(row, "exchange")}
		if e.Exchange == "" {
			if ex, _, _, err := model.ExchangeForCode(code); err == nil {
				e.Exchange = ex
			}
		}
		e.ListDate = parseListDate(field(row, "list_date"))
		e.DelistDate = parseListDate(field(row, "delist_date"))
		switch strings.ToLower(field(row, "suspended")) {
		case "true", "1":
			e.Suspended = true
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func parseHeader(header []string) map[string]int {
	col := make(map[string]int)
	for i, h := range header {
		switch strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")) {
		case "code", "Code", "symbol":
			col["code"] = i
		case "name", "Name":
			col["name"] = i
		case "exchange", "Exchange":
			col["exchange"] = i
		case "timeToMarket", "list_date":
			col["list_date"] = i
		case "delist_date":
			col["delist_date"] = i
		case "suspended", "status":
			col["suspended"] = i
		}
	}
	return col
}

func parseListDate(s string) time.Time {
	for _, layout := range []string{"20060102", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// WriteCSV writes entries in the layout ParseCSV reads back.
func WriteCSV(w io.Writer, entries []Entry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"code", "name", "exchange", "list_date", "delist_date", "suspended"}); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{e.Code, e.Name, e.Exchange, formatDate(e.ListDate), formatDate(e.DelistDate), fmt.Sprint(e.Suspended)}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format("2006-01-02")
}
