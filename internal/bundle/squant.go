package bundle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"CNDataBundle/internal/cqcx"
	"CNDataBundle/internal/model"
	"CNDataBundle/internal/stocklist"
	"CNDataBundle/internal/tdx"
)

// QuoteReader reads a security's complete local daily history.
type QuoteReader interface {
	ReadBars(code, market string) ([]model.DailyBar, error)
}

// Squant ingests local legacy quote files for the listed universe with
// adjustments from corporate-action files.
type Squant struct {
	Lister    stocklist.Lister
	Quotes    QuoteReader
	CQCXFiles []string
}

// Ingest implements IngestFunc.
func (s *Squant) Ingest(ctx context.Context, args IngestArgs) error {
	entries, err := s.Lister.List(ctx)
	if err != nil {
		return fmt.Errorf("list securities from %s: %w", s.Lister.Name(), err)
	}
	securities := securitiesFromEntries(stocklist.Active(entries), args.Window)
	log.Printf("[INFO] squant: %d active securities from %s", len(securities), s.Lister.Name())

	if err := args.Assets.WriteEquities(securities); err != nil {
		return fmt.Errorf("write equities: %w", err)
	}

	fetch := func(_ context.Context, sec model.Security) ([]model.DailyBar, error) {
		bars, err := s.Quotes.ReadBars(sec.Code, model.MarketDir(sec.Exchange))
		if errors.Is(err, tdx.ErrFileNotFound) {
			log.Printf("[WARN] squant: %v", err)
			return nil, ErrSkipSecurity
		}
		return bars, err
	}
	if err := writeBars(ctx, args, securities, fetch); err != nil {
		return err
	}
	return writeCQCXAdjustments(args, securities, s.CQCXFiles)
}

// securitiesFromEntries orders entries by code and assigns sequential sids.
// Codes that do not map to an exchange, and listings that do not overlap the
// window, are dropped.
func securitiesFromEntries(entries []stocklist.Entry, w model.SessionWindow) []model.Security {
	sorted := make([]stocklist.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Code < sorted[j].Code })

	securities := make([]model.Security, 0, len(sorted))
	seen := make(map[string]bool, len(sorted))
	for _, e := range sorted {
		code := model.NormalizeCode(e.Code)
		if seen[code] {
			continue
		}
		exchange, symbol, _, err := model.ExchangeForCode(code)
		if err != nil {
			log.Printf("[WARN] skipping entry: %v", err)
			continue
		}
		seen[code] = true
		sec, ok := ClampSecurity(model.Security{
			SID:       len(securities),
			Symbol:    symbol,
			Code:      code,
			Exchange:  exchange,
			AssetName: e.Name,
			StartDate: e.ListDate,
			EndDate:   e.DelistDate,
		}, w)
		if !ok {
			log.Printf("[WARN] skipping %s: listed %s..%s, outside window", code,
				e.ListDate.Format("2006-01-02"), e.DelistDate.Format("2006-01-02"))
			continue
		}
		securities = append(securities, sec)
	}
	return securities
}

// writeCQCXAdjustments loads the corporate-action files and writes the events
// of the given securities dated after the window start.
func writeCQCXAdjustments(args IngestArgs, securities []model.Security, files []string) error {
	var (
		splits    []model.Split
		dividends []model.Dividend
	)
	if len(files) > 0 {
		actions, err := cqcx.Load(files...)
		if err != nil {
			return fmt.Errorf("load corporate actions: %w", err)
		}
		splits, dividends = actions.ForSymbols(SymbolMap(securities), args.Window.Start)
	}
	if err := args.Adjustments.Write(splits, dividends); err != nil {
		return fmt.Errorf("write adjustments: %w", err)
	}
	log.Printf("[INFO] adjustments written: %d splits, %d dividends", len(splits), len(dividends))
	return nil
}
