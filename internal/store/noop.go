package store

import (
	"iter"

	"CNDataBundle/internal/bundle"
	"CNDataBundle/internal/model"
)

// Discard returns writers that drop everything. Bars are still drained so
// sources are read and their errors surface; used for dry runs.
func Discard() bundle.Writers {
	return bundle.Writers{Assets: noopAssets{}, Bars: noopBars{}, Adjustments: noopAdjustments{}}
}

type noopAssets struct{}

func (noopAssets) WriteEquities([]model.Security) error { return nil }

type noopBars struct{}

func (noopBars) Write(bars iter.Seq2[int, []model.DailyBar], _ bool) error {
	for range bars {
	}
	return nil
}

type noopAdjustments struct{}

func (noopAdjustments) Write([]model.Split, []model.Dividend) error { return nil }
