package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"CNDataBundle/internal/loader"
	"CNDataBundle/internal/model"
	"CNDataBundle/internal/store"
)

// maxRows bounds the bars printed by inspect.
const maxRows = 20

func marketDataTable(symbol string, md *loader.MarketData) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("%s..%s", md.FirstDate.Format(time.DateOnly), md.LastDate.Format(time.DateOnly)))
	t.AppendHeader(table.Row{"series", "rows", "first", "last"})
	t.AppendRow(table.Row{"benchmark " + symbol, len(md.BenchmarkReturns),
		seriesDate(md.BenchmarkReturns, 0), seriesDate(md.BenchmarkReturns, len(md.BenchmarkReturns)-1)})
	t.AppendRow(table.Row{"treasury curves", len(md.TreasuryCurves),
		curveDate(md.TreasuryCurves, 0), curveDate(md.TreasuryCurves, len(md.TreasuryCurves)-1)})
	return t
}

func seriesDate(s loader.Series, i int) string {
	if i < 0 || i >= len(s) {
		return "-"
	}
	return s[i].Date.Format(time.DateOnly)
}

func curveDate(c loader.Curves, i int) string {
	if i < 0 || i >= len(c) {
		return "-"
	}
	return c[i].Date.Format(time.DateOnly)
}

func ingestionTable(in *store.Ingestion, equities []model.Security) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetAutoIndex(true)
	t.SetTitle(fmt.Sprintf("%s %s (%s..%s) bars=%d splits=%d dividends=%d",
		in.Bundle, in.ID, in.WindowStart.Format(time.DateOnly), in.WindowEnd.Format(time.DateOnly),
		in.Bars, in.Splits, in.Dividends))
	t.AppendHeader(table.Row{"sid", "symbol", "exchange", "name", "start", "end"})
	for _, s := range equities {
		t.AppendRow(table.Row{s.SID, s.Symbol, s.Exchange, s.AssetName,
			s.StartDate.Format(time.DateOnly), s.EndDate.Format(time.DateOnly)})
	}
	return t
}

func barsTable(sid int, bars []model.DailyBar) table.Writer {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("sid %d", sid))
	t.AppendHeader(table.Row{"date", "open", "high", "low", "close", "volume"})
	start := 0
	if len(bars) > maxRows {
		start = len(bars) - maxRows
	}
	for _, b := range bars[start:] {
		t.AppendRow(table.Row{b.Date.Format(time.DateOnly), b.Open, b.High, b.Low, b.Close, b.Volume})
	}
	if start > 0 {
		t.AppendFooter(table.Row{fmt.Sprintf("%d earlier rows", start)})
	}
	return t
}

func render(w io.Writer, t table.Writer) {
	fmt.Fprintln(w, t.Render())
}
