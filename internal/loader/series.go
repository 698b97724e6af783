package loader

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"CNDataBundle/internal/model"
)

// TreasuryColumns are the curve tenors in the engine's wide format.
var TreasuryColumns = []string{
	"1month", "3month", "6month",
	"1year", "2year", "3year", "5year", "7year", "10year", "20year", "30year",
}

var errEmpty = errors.New("no rows")

// Point is one dated benchmark return.
type Point struct {
	Date  time.Time
	Value float64
}

// Series is a date-ordered benchmark return series.
type Series []Point

// Curve is one dated row of treasury yields keyed by tenor.
type Curve struct {
	Date   time.Time
	Tenors map[string]float64
}

// Curves is a date-ordered treasury table.
type Curves []Curve

// dated lets coverage and slicing work on both artifacts.
type dated interface {
	Len() int
	DateAt(i int) time.Time
}

func (s Series) Len() int               { return len(s) }
func (s Series) DateAt(i int) time.Time { return s[i].Date }
func (c Curves) Len() int               { return len(c) }
func (c Curves) DateAt(i int) time.Time { return c[i].Date }

// HasDataForDates reports whether the data reaches lastDate. Only the last
// date is checked; index histories may start after the calendar's first
// session.
func HasDataForDates(d dated, firstDate, lastDate time.Time) bool {
	if d.Len() == 0 {
		return false
	}
	return !d.DateAt(d.Len() - 1).Before(model.Day(lastDate))
}

func sliceRange(d dated, first, last time.Time) (lo, hi int) {
	first, last = model.Day(first), model.Day(last)
	n := d.Len()
	lo = sort.Search(n, func(i int) bool { return !d.DateAt(i).Before(first) })
	hi = sort.Search(n, func(i int) bool { return d.DateAt(i).After(last) })
	if hi < lo {
		hi = lo
	}
	return lo, hi
}

// Slice returns the points within [first, last].
func (s Series) Slice(first, last time.Time) Series {
	lo, hi := sliceRange(s, first, last)
	return s[lo:hi]
}

// Slice returns the curves within [first, last].
func (c Curves) Slice(first, last time.Time) Curves {
	lo, hi := sliceRange(c, first, last)
	return c[lo:hi]
}

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"2006-01-02", "2006-01-02 15:04:05", "2006-01-02T15:04:05Z07:00", "2006-01-02 15:04:05-07:00", "20060102"} {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unable to parse date: %s", s)
}

// ParseSeries reads a headerless or headed `date,value` CSV. A leading row
// whose date does not parse is treated as a header; any later bad row is an
// error.
func ParseSeries(r io.Reader) (Series, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	var out Series
	line := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(rec) < 2 {
			return nil, fmt.Errorf("line %d: expected 2 columns, got %d", line, len(rec))
		}
		d, err := parseDay(rec[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		v, err := parseValue(rec[1])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, Point{Date: d, Value: v})
	}
	if len(out) == 0 {
		return nil, errEmpty
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// WriteSeries writes a series in the layout ParseSeries reads.
func WriteSeries(w io.Writer, s Series) error {
	cw := csv.NewWriter(w)
	for _, p := range s {
		if err := cw.Write([]string{p.Date.Format("2006-01-02"), strconv.FormatFloat(p.Value, 'g', -1, 64)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseCurves reads a headed treasury CSV whose first column is the date.
// Empty cells are skipped for that tenor.
func ParseCurves(r io.Reader) (Curves, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errEmpty
		}
		return nil, err
	}
	var out Curves
	line := 1
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		d, err := parseDay(rec[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		c := Curve{Date: d, Tenors: make(map[string]float64, len(header)-1)}
		for j := 1; j < len(header) && j < len(rec); j++ {
			if strings.TrimSpace(rec[j]) == "" {
				continue
			}
			v, err := parseValue(rec[j])
			if err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, header[j], err)
			}
			c.Tenors[strings.TrimSpace(header[j])] = v
		}
		out = append(out, c)
	}
	if len(out) == 0 {
		return nil, errEmpty
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// WriteCurves writes curves with the standard tenor header.
func WriteCurves(w io.Writer, c Curves) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"Time Period"}, TreasuryColumns...)); err != nil {
		return err
	}
	for _, row := range c {
		rec := []string{row.Date.Format("2006-01-02")}
		for _, col := range TreasuryColumns {
			if v, ok := row.Tenors[col]; ok {
				rec = append(rec, strconv.FormatFloat(v, 'g', -1, 64))
			} else {
				rec = append(rec, "")
			}
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func parseValue(s string) (float64, error) {
	return strconv.ParseFloat(strings.TrimSpace(s), 64)
}
