package stocklist

import (
	"context"
	"fmt"

	"CNDataBundle/internal/model"
	"CNDataBundle/internal/tushare"
)

// TushareLister lists securities through the vendor API. Entries that are
// not currently listed are marked suspended.
type TushareLister struct {
	Client *tushare.Client
}

func (l *TushareLister) Name() string { return "tushare" }

// List returns listed, paused and delisted securities.
func (l *TushareLister) List(ctx context.Context) ([]Entry, error) {
	var out []Entry
	for _, status := range []string{"L", "P", "D"} {
		stocks, err := l.Client.StockBasic(ctx, status)
		if err != nil {
			return nil, fmt.Errorf("list %s securities: %w", status, err)
		}
		for _, s := range stocks {
			ex := s.Exchange
			if ex != model.ExchangeSSE && ex != model.ExchangeSZSE {
				continue
			}
			out = append(out, Entry{
				Code:       s.Code,
				Name:       s.Name,
				Exchange:   ex,
				ListDate:   s.ListDate,
				DelistDate: s.DelistDate,
				Suspended:  s.ListStatus != "L",
			})
		}
	}
	return out, nil
}
