// Package tdx reads the legacy fixed-width daily quote files laid out as
// <root>/<market>/lday/<market><code>.day.
package tdx

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/shopspring/decimal"

	"CNDataBundle/internal/model"
)

// RecordSize is the packed size of one day record.
const RecordSize = 32

// PriceScale converts stored integer cents to yuan.
var PriceScale = decimal.New(1, -2)

// ErrFileNotFound is returned when a security has no quote file.
var ErrFileNotFound = errors.New("no tdx kline data")

// DayRecord is the on-disk layout, little-endian.
type DayRecord struct {
	Date     int32
	Open     int32
	High     int32
	Low      int32
	Close    int32
	Amount   float32
	Volume   int32
	Reserved int32
}

// Reader locates and decodes quote files under a vipdoc root.
type Reader struct {
	Root string
}

// NewReader creates a Reader rooted at the vipdoc directory.
func NewReader(root string) *Reader {
	return &Reader{Root: root}
}

// Path returns the quote file for a code on a market ("sh" or "sz").
func (r *Reader) Path(code, market string) string {
	return filepath.Join(r.Root, market, "lday", market+code+".day")
}

// ReadRecords decodes the raw records for a security.
func (r *Reader) ReadRecords(code, market string) ([]DayRecord, error) {
	path := r.Path(code, market)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w, please check path %s", ErrFileNotFound, path)
		}
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return UnpackRecords(data)
}

// ReadBars decodes a security's file into bars ordered by date.
func (r *Reader) ReadBars(code, market string) ([]model.DailyBar, error) {
	recs, err := r.ReadRecords(code, market)
	if err != nil {
		return nil, err
	}
	bars := make([]model.DailyBar, 0, len(recs))
	for _, rec := range recs {
		bar, err := rec.Bar()
		if err != nil {
			return nil, fmt.Errorf("%s%s: %w", market, code, err)
		}
		bars = append(bars, bar)
	}
	sort.SliceStable(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars, nil
}

// UnpackRecords splits data into fixed-size records. A trailing partial
// record is ignored.
func UnpackRecords(data []byte) ([]DayRecord, error) {
	n := len(data) / RecordSize
	recs := make([]DayRecord, n)
	rd := bytes.NewReader(data[:n*RecordSize])
	for i := range recs {
		if err := binary.Read(rd, binary.LittleEndian, &recs[i]); err != nil {
			if errors.Is(err, io.EOF) {
				return recs[:i], nil
			}
			return nil, fmt.Errorf("unpack record %d: %w", i, err)
		}
	}
	return recs, nil
}

// Bar converts the record to a bar, rescaling prices from cents.
func (rec DayRecord) Bar() (model.DailyBar, error) {
	date, ok := model.ParseYYYYMMDD(int(rec.Date))
	if !ok {
		return model.DailyBar{}, fmt.Errorf("invalid record date %d", rec.Date)
	}
	return model.DailyBar{
		Date:   date,
		Open:   scale(rec.Open),
		High:   scale(rec.High),
		Low:    scale(rec.Low),
		Close:  scale(rec.Close),
		Volume: float64(rec.Volume),
	}, nil
}

func scale(cents int32) float64 {
	return decimal.NewFromInt32(cents).Mul(PriceScale).InexactFloat64()
}

// Pack encodes records in the on-disk layout.
func Pack(recs []DayRecord) []byte {
	var buf bytes.Buffer
	buf.Grow(len(recs) * RecordSize)
	for _, rec := range recs {
		// bytes.Buffer writes never fail.
		_ = binary.Write(&buf, binary.LittleEndian, rec)
	}
	return buf.Bytes()
}
