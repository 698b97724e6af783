package stocklist

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"CNDataBundle/internal/model"
)

// CodeChecker answers symbol-validity lookups.
type CodeChecker interface {
	CheckCode(ctx context.Context, symbol string) (bool, error)
}

// PortalSymbols maps entries to finance-portal symbols and keeps those the
// checker accepts, preserving input order.
func PortalSymbols(ctx context.Context, entries []Entry, checker CodeChecker, concurrency int) ([]string, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	symbols := make([]string, len(entries))
	valid := make([]bool, len(entries))
	for i, e := range entries {
		symbols[i] = model.PortalSymbol(e.Code)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i := range symbols {
		g.Go(func() error {
			ok, err := checker.CheckCode(gctx, symbols[i])
			if err != nil {
				return fmt.Errorf("check %s: %w", symbols[i], err)
			}
			valid[i] = ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]string, 0, len(symbols))
	for i, s := range symbols {
		if valid[i] {
			out = append(out, s)
		}
	}
	log.Printf("[INFO] portal symbols: %d of %d codes valid", len(out), len(symbols))
	return out, nil
}
