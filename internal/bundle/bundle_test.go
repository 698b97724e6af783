package bundle

import (
	"bytes"
	"context"
	"errors"
	"iter"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CNDataBundle/internal/calendar"
	"CNDataBundle/internal/cqcx"
	"CNDataBundle/internal/model"
	"CNDataBundle/internal/stocklist"
	"CNDataBundle/internal/tdx"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

type assetSink struct{ got []model.Security }

func (a *assetSink) WriteEquities(s []model.Security) error {
	a.got = append(a.got, s...)
	return nil
}

type barSink struct {
	got   map[int][]model.DailyBar
	order []int
	err   error
}

func (b *barSink) Write(bars iter.Seq2[int, []model.DailyBar], _ bool) error {
	if b.err != nil {
		return b.err
	}
	for sid, rows := range bars {
		b.got[sid] = rows
		b.order = append(b.order, sid)
	}
	return nil
}

type adjSink struct {
	splits    []model.Split
	dividends []model.Dividend
	calls     int
}

func (a *adjSink) Write(splits []model.Split, dividends []model.Dividend) error {
	a.calls++
	a.splits = splits
	a.dividends = dividends
	return nil
}

func newSinks() (Writers, *assetSink, *barSink, *adjSink) {
	as, bs, ad := &assetSink{}, &barSink{got: map[int][]model.DailyBar{}}, &adjSink{}
	return Writers{Assets: as, Bars: bs, Adjustments: ad}, as, bs, ad
}

// fiveSessions is Mon 2016-01-04 through Fri 2016-01-08.
func fiveSessions() (*calendar.Static, model.SessionWindow) {
	cal := calendar.NewSHSZ(day(2016, 1, 4), day(2016, 1, 8), nil)
	return cal, model.SessionWindow{Start: day(2016, 1, 4), End: day(2016, 1, 8)}
}

type staticLister []stocklist.Entry

func (l staticLister) Name() string { return "static" }
func (l staticLister) List(context.Context) ([]stocklist.Entry, error) {
	return l, nil
}

func writeDay(t *testing.T, root, market, code string, dates ...int32) {
	t.Helper()
	recs := make([]tdx.DayRecord, 0, len(dates))
	for i, d := range dates {
		p := int32(1000 + i*10)
		recs = append(recs, tdx.DayRecord{Date: d, Open: p, High: p + 5, Low: p - 5, Close: p + 1, Volume: 1000})
	}
	dir := filepath.Join(root, market, "lday")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, market+code+".day"), tdx.Pack(recs), 0o644))
}

func writeCQCX(t *testing.T, path string, recs []cqcx.Record) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, cqcx.Encode(&buf, recs))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestSquantIngest_EndToEnd(t *testing.T) {
	root := t.TempDir()
	writeDay(t, root, "sh", "600000", 20151231, 20160104, 20160105, 20160106, 20160107, 20160108)
	writeDay(t, root, "sz", "000001", 20160104, 20160105, 20160107, 20160108)
	writeDay(t, root, "sz", "300001", 20160106, 20160107, 20160108)
	writeDay(t, root, "sz", "000002", 20160104)

	shFile := filepath.Join(root, "sh.cqcx")
	szFile := filepath.Join(root, "sz.cqcx")
	writeCQCX(t, shFile, []cqcx.Record{
		{Stock: 600000, Date: 20150601, SgVal: 100},
		{Stock: 600000, Date: 20160104, PxVal: 300},
		{Stock: 600000, Date: 20160106, SgVal: 100, PxVal: 500},
	})
	writeCQCX(t, szFile, []cqcx.Record{{Stock: 2, Date: 20160105, PxVal: 100}})

	lister := staticLister{
		{Code: "600000", Name: "PFYH", ListDate: day(1999, 11, 10)},
		{Code: "000001", Name: "PAYH", ListDate: day(1991, 4, 3), DelistDate: model.NeverDelisted},
		{Code: "000002", Name: "WKA", ListDate: day(1991, 1, 29), Suspended: true},
		{Code: "300001", Name: "TRD", ListDate: day(2016, 1, 6)},
		{Code: "000004", Name: "GNKJ", ListDate: day(1990, 12, 1)},
	}
	cal, window := fiveSessions()
	writers, assets, bars, adj := newSinks()

	sq := &Squant{Lister: lister, Quotes: tdx.NewReader(root), CQCXFiles: []string{shFile, szFile}}
	err := sq.Ingest(context.Background(), IngestArgs{Writers: writers, Calendar: cal, Window: window})
	require.NoError(t, err)

	require.Len(t, assets.got, 4, "suspended entry is excluded")
	codes := make([]string, 0, len(assets.got))
	for i, s := range assets.got {
		assert.Equal(t, i, s.SID)
		codes = append(codes, s.Code)
		assert.False(t, s.StartDate.Before(window.Start), s.Code)
		assert.Equal(t, window.End, s.EndDate, s.Code)
	}
	assert.Equal(t, []string{"000001", "000004", "300001", "600000"}, codes)
	assert.Equal(t, day(2016, 1, 4), assets.got[0].StartDate)
	assert.Equal(t, day(2016, 1, 6), assets.got[2].StartDate)
	assert.Equal(t, "600000.SS", assets.got[3].Symbol)
	assert.Equal(t, model.ExchangeSZSE, assets.got[0].Exchange)

	assert.Equal(t, []int{0, 2, 3}, bars.order, "security without a quote file is skipped")
	for sid, rows := range bars.got {
		require.Len(t, rows, 5, "sid %d", sid)
	}
	assert.True(t, bars.got[0][2].IsZero(), "missing session is zero filled")
	assert.Equal(t, day(2016, 1, 6), bars.got[0][2].Date)
	assert.True(t, bars.got[2][0].IsZero())
	assert.False(t, bars.got[2][2].IsZero())
	assert.Equal(t, day(2016, 1, 4), bars.got[3][0].Date, "bars before the window are dropped")
	assert.InDelta(t, 10.10, bars.got[3][0].Open, 1e-9)

	require.Len(t, adj.splits, 1)
	assert.Equal(t, 3, adj.splits[0].SID)
	assert.Equal(t, day(2016, 1, 6), adj.splits[0].EffectiveDate)
	assert.InDelta(t, 1000.0/1100.0, adj.splits[0].Ratio, 1e-9)
	require.Len(t, adj.dividends, 1, "dividends on the start session and of excluded codes are dropped")
	assert.InDelta(t, 0.5, adj.dividends[0].Amount, 1e-6)
}

type brokenQuotes struct{}

func (brokenQuotes) ReadBars(string, string) ([]model.DailyBar, error) {
	return nil, errors.New("disk on fire")
}

func TestSquantIngest_ReadErrorStopsIngest(t *testing.T) {
	cal, window := fiveSessions()
	writers, _, _, adj := newSinks()
	sq := &Squant{Lister: staticLister{{Code: "600000"}}, Quotes: brokenQuotes{}}

	err := sq.Ingest(context.Background(), IngestArgs{Writers: writers, Calendar: cal, Window: window})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk on fire")
	assert.Zero(t, adj.calls)
}

func TestSquantIngest_WriterErrorPropagates(t *testing.T) {
	root := t.TempDir()
	writeDay(t, root, "sh", "600000", 20160104)
	cal, window := fiveSessions()
	writers, _, bars, _ := newSinks()
	bars.err = errors.New("full")

	sq := &Squant{Lister: staticLister{{Code: "600000"}}, Quotes: tdx.NewReader(root)}
	err := sq.Ingest(context.Background(), IngestArgs{Writers: writers, Calendar: cal, Window: window})
	assert.ErrorContains(t, err, "full")
}

func TestSquantIngest_HistoryAfterWindowIsSkipped(t *testing.T) {
	root := t.TempDir()
	writeDay(t, root, "sh", "600000", 20160111, 20160112)
	cal, window := fiveSessions()
	writers, assets, bars, _ := newSinks()

	sq := &Squant{Lister: staticLister{{Code: "600000"}}, Quotes: tdx.NewReader(root)}
	require.NoError(t, sq.Ingest(context.Background(), IngestArgs{Writers: writers, Calendar: cal, Window: window}))
	assert.Len(t, assets.got, 1)
	assert.Empty(t, bars.got)
}

func TestClampSecurity(t *testing.T) {
	w := model.SessionWindow{Start: day(2016, 1, 4), End: day(2016, 1, 8)}
	tests := []struct {
		name       string
		start, end time.Time
		wantStart  time.Time
		wantEnd    time.Time
	}{
		{"inside", day(2016, 1, 5), day(2016, 1, 7), day(2016, 1, 5), day(2016, 1, 7)},
		{"early start", day(2000, 1, 1), day(2016, 1, 7), w.Start, day(2016, 1, 7)},
		{"zero end", day(2016, 1, 5), time.Time{}, day(2016, 1, 5), w.End},
		{"sentinel end", day(2016, 1, 5), model.NeverDelisted, day(2016, 1, 5), w.End},
		{"late end", day(2016, 1, 5), day(2020, 1, 1), day(2016, 1, 5), w.End},
		{"zero start", time.Time{}, day(2016, 1, 7), w.Start, day(2016, 1, 7)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClampSecurity(model.Security{StartDate: tt.start, EndDate: tt.end}, w)
			require.True(t, ok)
			assert.Equal(t, tt.wantStart, got.StartDate)
			assert.Equal(t, tt.wantEnd, got.EndDate)
		})
	}
}

func TestClampSecurity_OutsideWindow(t *testing.T) {
	w := model.SessionWindow{Start: day(2016, 1, 4), End: day(2016, 1, 8)}
	tests := []struct {
		name       string
		start, end time.Time
	}{
		{"listed after window", day(2017, 3, 1), time.Time{}},
		{"listed after window with sentinel end", day(2017, 3, 1), model.NeverDelisted},
		{"delisted before window", day(2001, 1, 1), day(2010, 5, 5)},
		{"delisted day before window", day(2001, 1, 1), day(2016, 1, 3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := ClampSecurity(model.Security{StartDate: tt.start, EndDate: tt.end}, w)
			assert.False(t, ok)
		})
	}

	got, ok := ClampSecurity(model.Security{StartDate: day(2001, 1, 1), EndDate: w.Start}, w)
	require.True(t, ok)
	assert.Equal(t, w.Start, got.StartDate)
	assert.Equal(t, w.Start, got.EndDate)
}

func TestSecuritiesFromEntries_DropsListingsOutsideWindow(t *testing.T) {
	w := model.SessionWindow{Start: day(2016, 1, 4), End: day(2016, 1, 8)}
	secs := securitiesFromEntries([]stocklist.Entry{
		{Code: "600001", Name: "Late", ListDate: day(2017, 3, 1)},
		{Code: "000001", Name: "Early", ListDate: day(2001, 1, 1), DelistDate: day(2010, 5, 5)},
		{Code: "600000", Name: "Live", ListDate: day(1999, 11, 10)},
		{Code: "000002", Name: "Also", ListDate: day(1991, 1, 29)},
	}, w)
	require.Len(t, secs, 2)
	assert.Equal(t, "000002", secs[0].Code)
	assert.Equal(t, 0, secs[0].SID)
	assert.Equal(t, "600000", secs[1].Code)
	assert.Equal(t, 1, secs[1].SID)
	for _, s := range secs {
		assert.False(t, s.EndDate.Before(s.StartDate), s.Code)
	}
}

func TestReindex(t *testing.T) {
	sessions := []time.Time{day(2016, 1, 4), day(2016, 1, 5), day(2016, 1, 6)}
	bars := []model.DailyBar{
		{Date: time.Date(2016, 1, 6, 15, 0, 0, 0, time.UTC), Close: 3},
		{Date: day(2016, 1, 4), Close: 1},
		{Date: day(2016, 1, 7), Close: 4},
	}
	got := Reindex(bars, sessions)
	require.Len(t, got, 3)
	assert.Equal(t, 1.0, got[0].Close)
	assert.True(t, got[1].IsZero())
	assert.Equal(t, day(2016, 1, 5), got[1].Date)
	assert.Equal(t, 3.0, got[2].Close)
	assert.Equal(t, day(2016, 1, 6), got[2].Date)
}

func TestFilterAfter(t *testing.T) {
	start := day(2016, 1, 4)
	splits := FilterSplitsAfter([]model.Split{
		{SID: 1, EffectiveDate: day(2016, 1, 3)},
		{SID: 2, EffectiveDate: start},
		{SID: 3, EffectiveDate: day(2016, 1, 5)},
	}, start)
	require.Len(t, splits, 1)
	assert.Equal(t, 3, splits[0].SID)

	divs := FilterDividendsAfter([]model.Dividend{{SID: 1, ExDate: start}, {SID: 2, ExDate: day(2016, 2, 1)}}, start)
	require.Len(t, divs, 1)
	assert.Equal(t, 2, divs[0].SID)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	noop := func(context.Context, IngestArgs) error { return nil }
	require.NoError(t, r.Register("tushare", noop, "SHSZ", time.Time{}, time.Time{}))
	require.NoError(t, r.Register("squant", noop, "SHSZ", time.Time{}, time.Time{}))
	assert.Error(t, r.Register("squant", noop, "SHSZ", time.Time{}, time.Time{}))
	assert.Error(t, r.Register("", noop, "SHSZ", time.Time{}, time.Time{}))

	assert.Equal(t, []string{"squant", "tushare"}, r.Names())
	reg, ok := r.Lookup("squant")
	require.True(t, ok)
	assert.Equal(t, "SHSZ", reg.CalendarName)
	_, ok = r.Lookup("missing")
	assert.False(t, ok)
}

func TestRegistryIngest_ResolvesWindow(t *testing.T) {
	cal := calendar.NewSHSZ(day(2016, 1, 1), day(2016, 1, 31), nil)
	r := NewRegistry()
	var got IngestArgs
	require.NoError(t, r.Register("b", func(_ context.Context, a IngestArgs) error {
		got = a
		return nil
	}, cal.Name(), day(2016, 1, 2), day(2016, 1, 10)))

	w, err := r.Ingest(context.Background(), "b", IngestArgs{Calendar: cal}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, day(2016, 1, 4), w.Start, "Saturday start snaps forward")
	assert.Equal(t, day(2016, 1, 8), w.End, "Sunday end snaps back")
	assert.Equal(t, w, got.Window)

	w, err = r.Ingest(context.Background(), "b", IngestArgs{Calendar: cal}, day(2016, 1, 11), day(2016, 1, 12))
	require.NoError(t, err)
	assert.Equal(t, model.SessionWindow{Start: day(2016, 1, 11), End: day(2016, 1, 12)}, w)

	_, err = r.Ingest(context.Background(), "nope", IngestArgs{Calendar: cal}, time.Time{}, time.Time{})
	assert.Error(t, err)
	_, err = r.Ingest(context.Background(), "b", IngestArgs{Calendar: cal}, day(2016, 1, 9), day(2016, 1, 10))
	assert.Error(t, err, "weekend-only window has no sessions")
}

func TestRegistryIngest_WrapsIngestError(t *testing.T) {
	cal, _ := fiveSessions()
	r := NewRegistry()
	boom := errors.New("boom")
	require.NoError(t, r.Register("b", func(context.Context, IngestArgs) error { return boom }, "SHSZ", time.Time{}, time.Time{}))
	_, err := r.Ingest(context.Background(), "b", IngestArgs{Calendar: cal}, time.Time{}, time.Time{})
	assert.ErrorIs(t, err, boom)
}

func TestEnviron(t *testing.T) {
	env := Environ([]string{"A=1", "B=x=y", "broken"})
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y"}, env)
}
