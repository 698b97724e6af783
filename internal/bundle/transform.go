package bundle

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log"
	"sort"
	"time"

	"CNDataBundle/internal/model"
)

// ClampSecurity fits a security's date range into the window: a start before
// the window moves to the window start, an open, sentinel or later end moves
// to the window end. It reports false when the range does not overlap the
// window at all, in which case the security must be dropped.
func ClampSecurity(s model.Security, w model.SessionWindow) (model.Security, bool) {
	if s.StartDate.After(w.End) {
		return s, false
	}
	if !s.OpenEnded() && s.EndDate.Before(w.Start) {
		return s, false
	}
	if s.StartDate.IsZero() || s.StartDate.Before(w.Start) {
		s.StartDate = w.Start
	}
	if s.OpenEnded() || s.EndDate.After(w.End) {
		s.EndDate = w.End
	}
	return s, true
}

// Reindex aligns bars onto sessions: one row per session in order, sessions
// without a bar filled with zero values.
func Reindex(bars []model.DailyBar, sessions []time.Time) []model.DailyBar {
	byDay := make(map[time.Time]model.DailyBar, len(bars))
	for _, b := range bars {
		byDay[model.Day(b.Date)] = b
	}
	out := make([]model.DailyBar, len(sessions))
	for i, s := range sessions {
		d := model.Day(s)
		if b, ok := byDay[d]; ok {
			b.Date = d
			out[i] = b
			continue
		}
		out[i] = model.DailyBar{Date: d}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// FilterSplitsAfter keeps splits effective strictly after start.
func FilterSplitsAfter(splits []model.Split, start time.Time) []model.Split {
	out := make([]model.Split, 0, len(splits))
	for _, s := range splits {
		if s.EffectiveDate.After(start) {
			out = append(out, s)
		}
	}
	return out
}

// FilterDividendsAfter keeps dividends going ex strictly after start.
func FilterDividendsAfter(dividends []model.Dividend, start time.Time) []model.Dividend {
	out := make([]model.Dividend, 0, len(dividends))
	for _, d := range dividends {
		if d.ExDate.After(start) {
			out = append(out, d)
		}
	}
	return out
}

// SymbolMap returns sid -> code for the securities.
func SymbolMap(securities []model.Security) map[int]string {
	m := make(map[int]string, len(securities))
	for _, s := range securities {
		m[s.SID] = s.Code
	}
	return m
}

// ErrSkipSecurity tells the bar stream to omit a security.
var ErrSkipSecurity = errors.New("skip security")

// barFetcher loads the raw history of one security.
type barFetcher func(ctx context.Context, sec model.Security) ([]model.DailyBar, error)

// barStream yields reindexed bars per security and remembers the first
// fatal error so the caller can surface it after the writer returns.
type barStream struct {
	err     error
	written int
	skipped int
}

func (s *barStream) seq(ctx context.Context, securities []model.Security, sessions []time.Time, window model.SessionWindow, fetch barFetcher) iter.Seq2[int, []model.DailyBar] {
	return func(yield func(int, []model.DailyBar) bool) {
		for _, sec := range securities {
			if err := ctx.Err(); err != nil {
				s.err = err
				return
			}
			history, err := fetch(ctx, sec)
			if errors.Is(err, ErrSkipSecurity) {
				s.skipped++
				continue
			}
			if err != nil {
				s.err = fmt.Errorf("bars for %s: %w", sec.Symbol, err)
				return
			}
			if len(history) == 0 || model.Day(history[0].Date).After(window.End) {
				s.skipped++
				continue
			}
			s.written++
			if !yield(sec.SID, Reindex(history, sessions)) {
				return
			}
		}
	}
}

// writeBars streams bars to the writer and reports stream or writer errors.
func writeBars(ctx context.Context, args IngestArgs, securities []model.Security, fetch barFetcher) error {
	sessions := args.Calendar.SessionsInRange(args.Window.Start, args.Window.End)
	stream := &barStream{}
	if err := args.Bars.Write(stream.seq(ctx, securities, sessions, args.Window, fetch), args.ShowProgress); err != nil {
		return fmt.Errorf("write daily bars: %w", err)
	}
	if stream.err != nil {
		return stream.err
	}
	log.Printf("[INFO] daily bars written for %d securities, %d skipped", stream.written, stream.skipped)
	return nil
}
