// Package cqcx parses the binary corporate-actions (ex-right / ex-dividend)
// files into split and dividend events.
//
// Each record is 24 bytes, little-endian:
//
//	stock   uint32  security code as an integer (leading zeros dropped)
//	date    uint32  YYYYMMDD
//	sgVal   float32 bonus shares per 1000 shares
//	pxVal   float32 cash dividend per 1000 shares
//	pgVal   float32 rights issue per 1000 shares (ignored)
//	pgPrice float32 rights issue price (ignored)
package cqcx

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"CNDataBundle/internal/model"
)

// RecordSize is the packed size of one record.
const RecordSize = 24

var perThousand = decimal.NewFromInt(1000)

// Record is one raw corporate-action entry.
type Record struct {
	Stock   uint32
	Date    uint32
	SgVal   float32
	PxVal   float32
	PgVal   float32
	PgPrice float32
}

// Code returns the 6-digit security code.
func (r Record) Code() string {
	return model.NormalizeCode(strconv.FormatUint(uint64(r.Stock), 10))
}

// SplitEvent is a bonus-share action keyed by code.
type SplitEvent struct {
	EffectiveDate time.Time
	Ratio         float64
}

// DividendEvent is a cash-dividend action keyed by code.
type DividendEvent struct {
	ExDate time.Time
	Amount float64
}

// Actions indexes events by 6-digit code.
type Actions struct {
	Splits    map[string][]SplitEvent
	Dividends map[string][]DividendEvent
}

// Parse reads records until EOF. A trailing partial record is an error.
func Parse(r io.Reader) ([]Record, error) {
	br := bufio.NewReader(r)
	var out []Record
	for {
		var rec Record
		err := binary.Read(br, binary.LittleEndian, &rec)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", len(out), err)
		}
		out = append(out, rec)
	}
}

// ParseFile reads all records of a file.
func ParseFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open cqcx: %w", err)
	}
	defer f.Close()
	recs, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return recs, nil
}

// Load reads every file and collects splits and dividends, ignoring rights
// issues.
func Load(paths ...string) (*Actions, error) {
	var all []Record
	for _, p := range paths {
		recs, err := ParseFile(p)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return FromRecords(all)
}

// FromRecords builds actions from raw records. Entries with a zero bonus
// field produce no split; entries with a zero cash field produce no dividend.
func FromRecords(recs []Record) (*Actions, error) {
	a := &Actions{
		Splits:    make(map[string][]SplitEvent),
		Dividends: make(map[string][]DividendEvent),
	}
	for _, rec := range recs {
		if rec.SgVal == 0 && rec.PxVal == 0 {
			continue
		}
		date, ok := model.ParseYYYYMMDD(int(rec.Date))
		if !ok {
			return nil, fmt.Errorf("code %s: invalid date %d", rec.Code(), rec.Date)
		}
		code := rec.Code()
		if rec.SgVal != 0 {
			sg := decimal.NewFromFloat32(rec.SgVal)
			ratio := perThousand.Div(perThousand.Add(sg))
			a.Splits[code] = append(a.Splits[code], SplitEvent{EffectiveDate: date, Ratio: ratio.InexactFloat64()})
		}
		if rec.PxVal != 0 {
			amount := decimal.NewFromFloat32(rec.PxVal).Div(perThousand)
			a.Dividends[code] = append(a.Dividends[code], DividendEvent{ExDate: date, Amount: amount.InexactFloat64()})
		}
	}
	return a, nil
}

// ForSymbols tags events with sids from symbolMap (sid -> code) and keeps
// only events strictly after `after` when it is non-zero. Output is ordered
// by sid, then date.
func (a *Actions) ForSymbols(symbolMap map[int]string, after time.Time) ([]model.Split, []model.Dividend) {
	sids := make([]int, 0, len(symbolMap))
	for sid := range symbolMap {
		sids = append(sids, sid)
	}
	sort.Ints(sids)

	var splits []model.Split
	var dividends []model.Dividend
	for _, sid := range sids {
		code := symbolMap[sid]
		for _, ev := range a.Splits[code] {
			if !after.IsZero() && !ev.EffectiveDate.After(after) {
				continue
			}
			splits = append(splits, model.Split{SID: sid, EffectiveDate: ev.EffectiveDate, Ratio: ev.Ratio})
		}
		for _, ev := range a.Dividends[code] {
			if !after.IsZero() && !ev.ExDate.After(after) {
				continue
			}
			dividends = append(dividends, model.Dividend{SID: sid, ExDate: ev.ExDate, Amount: ev.Amount})
		}
	}
	sort.SliceStable(splits, func(i, j int) bool {
		if splits[i].SID != splits[j].SID {
			return splits[i].SID < splits[j].SID
		}
		return splits[i].EffectiveDate.Before(splits[j].EffectiveDate)
	})
	sort.SliceStable(dividends, func(i, j int) bool {
		if dividends[i].SID != dividends[j].SID {
			return dividends[i].SID < dividends[j].SID
		}
		return dividends[i].ExDate.Before(dividends[j].ExDate)
	})
	return splits, dividends
}

// Encode writes records in the on-disk layout.
func Encode(w io.Writer, recs []Record) error {
	for _, rec := range recs {
		if err := binary.Write(w, binary.LittleEndian, rec); err != nil {
			return err
		}
	}
	return nil
}
