package bundle

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"CNDataBundle/internal/model"
	"CNDataBundle/internal/yahoo"
)

// HistoryClient fetches a portal symbol's bars and events.
type HistoryClient interface {
	Bars(ctx context.Context, symbol string, start, end time.Time) (*yahoo.History, error)
}

// Yahoo ingests finance-portal histories for the cached symbol list.
type Yahoo struct {
	Symbols func(ctx context.Context) ([]string, error)
	Client  HistoryClient
}

// Ingest implements IngestFunc.
func (y *Yahoo) Ingest(ctx context.Context, args IngestArgs) error {
	symbols, err := y.Symbols(ctx)
	if err != nil {
		return fmt.Errorf("load symbols: %w", err)
	}
	symbols = append([]string(nil), symbols...)
	sort.Strings(symbols)

	var (
		securities []model.Security
		splits     []model.Split
		dividends  []model.Dividend
	)
	histories := make(map[int][]model.DailyBar)
	for _, sym := range symbols {
		if err := ctx.Err(); err != nil {
			return err
		}
		code, exchange, ok := parsePortalSymbol(sym)
		if !ok {
			log.Printf("[WARN] yahoo: skipping malformed symbol %q", sym)
			continue
		}
		h, err := y.Client.Bars(ctx, sym, args.Window.Start, args.Window.End)
		if err != nil {
			return fmt.Errorf("history for %s: %w", sym, err)
		}
		if h == nil || len(h.Bars) == 0 {
			log.Printf("[WARN] yahoo: no history for %s in window", sym)
			continue
		}
		sid := len(securities)
		sec, ok := ClampSecurity(model.Security{
			SID:       sid,
			Symbol:    strings.ToUpper(sym),
			Code:      code,
			Exchange:  exchange,
			AssetName: strings.ToUpper(sym),
			StartDate: h.Bars[0].Date,
			EndDate:   h.Bars[len(h.Bars)-1].Date,
		}, args.Window)
		if !ok {
			log.Printf("[WARN] yahoo: history for %s lies outside window", sym)
			continue
		}
		histories[sid] = h.Bars
		securities = append(securities, sec)
		for _, s := range h.Splits {
			splits = append(splits, model.Split{SID: sid, EffectiveDate: model.Day(s.Date), Ratio: s.Ratio()})
		}
		for _, d := range h.Dividends {
			dividends = append(dividends, model.Dividend{SID: sid, ExDate: model.Day(d.Date), Amount: d.Amount})
		}
	}
	log.Printf("[INFO] yahoo: %d of %d symbols with history", len(securities), len(symbols))

	if err := args.Assets.WriteEquities(securities); err != nil {
		return fmt.Errorf("write equities: %w", err)
	}
	fetch := func(_ context.Context, sec model.Security) ([]model.DailyBar, error) {
		return histories[sec.SID], nil
	}
	if err := writeBars(ctx, args, securities, fetch); err != nil {
		return err
	}

	splits = FilterSplitsAfter(splits, args.Window.Start)
	dividends = FilterDividendsAfter(dividends, args.Window.Start)
	if err := args.Adjustments.Write(splits, dividends); err != nil {
		return fmt.Errorf("write adjustments: %w", err)
	}
	log.Printf("[INFO] adjustments written: %d splits, %d dividends", len(splits), len(dividends))
	return nil
}

// parsePortalSymbol splits "600000.ss" into its code and exchange.
func parsePortalSymbol(sym string) (code, exchange string, ok bool) {
	code, suffix, found := strings.Cut(strings.ToLower(strings.TrimSpace(sym)), ".")
	if !found || len(code) != 6 {
		return "", "", false
	}
	switch suffix {
	case "ss":
		return code, model.ExchangeSSE, true
	case "sz":
		return code, model.ExchangeSZSE, true
	}
	return "", "", false
}
