package bundle

import (
	"context"
	"fmt"
	"log"
	"time"

	"CNDataBundle/internal/model"
	"CNDataBundle/internal/tushare"
)

// TushareAPI is the part of the vendor client the adapter uses.
type TushareAPI interface {
	StockBasic(ctx context.Context, listStatus string) ([]tushare.Stock, error)
	Daily(ctx context.Context, tsCode string, start, end time.Time) ([]model.DailyBar, error)
}

// Tushare ingests listed securities and daily histories from the vendor API.
// Limit > 0 caps the number of securities fetched.
type Tushare struct {
	API       TushareAPI
	Limit     int
	CQCXFiles []string
}

// Ingest implements IngestFunc.
func (t *Tushare) Ingest(ctx context.Context, args IngestArgs) error {
	stocks, err := t.API.StockBasic(ctx, "L")
	if err != nil {
		return fmt.Errorf("list securities: %w", err)
	}
	if t.Limit > 0 && len(stocks) > t.Limit {
		stocks = stocks[:t.Limit]
	}

	var securities []model.Security
	histories := make(map[int][]model.DailyBar)
	for _, st := range stocks {
		if err := ctx.Err(); err != nil {
			return err
		}
		if st.Exchange != model.ExchangeSSE && st.Exchange != model.ExchangeSZSE {
			log.Printf("[WARN] tushare: skipping %s on exchange %q", st.TSCode, st.Exchange)
			continue
		}
		exchange, symbol, _, err := model.ExchangeForCode(st.Code)
		if err != nil {
			log.Printf("[WARN] tushare: skipping %s: %v", st.TSCode, err)
			continue
		}
		bars, err := t.API.Daily(ctx, st.TSCode, args.Window.Start, args.Window.End)
		if err != nil {
			return fmt.Errorf("daily history for %s: %w", st.TSCode, err)
		}
		if len(bars) == 0 {
			log.Printf("[WARN] tushare: no history for %s in window", st.TSCode)
			continue
		}
		sid := len(securities)
		sec, ok := ClampSecurity(model.Security{
			SID:       sid,
			Symbol:    symbol,
			Code:      st.Code,
			Exchange:  exchange,
			AssetName: st.Name,
			StartDate: bars[0].Date,
			EndDate:   bars[len(bars)-1].Date,
		}, args.Window)
		if !ok {
			log.Printf("[WARN] tushare: history for %s lies outside window", st.TSCode)
			continue
		}
		histories[sid] = bars
		securities = append(securities, sec)
	}
	log.Printf("[INFO] tushare: %d securities with history", len(securities))

	if err := args.Assets.WriteEquities(securities); err != nil {
		return fmt.Errorf("write equities: %w", err)
	}
	fetch := func(_ context.Context, sec model.Security) ([]model.DailyBar, error) {
		return histories[sec.SID], nil
	}
	if err := writeBars(ctx, args, securities, fetch); err != nil {
		return err
	}
	return writeCQCXAdjustments(args, securities, t.CQCXFiles)
}
