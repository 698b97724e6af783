// Package store persists bundle ingestions to SQLite and reads them back.
package store

import (
	"errors"
	"time"
)

// ErrNoIngestion is returned when a bundle has no completed ingestion.
var ErrNoIngestion = errors.New("no completed ingestion")

// Ingestion statuses.
const (
	StatusRunning = "running"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Ingestion summarizes one bundle run.
type Ingestion struct {
	ID          string
	Bundle      string
	Status      string
	StartedAt   time.Time
	FinishedAt  time.Time
	WindowStart time.Time
	WindowEnd   time.Time
	Equities    int
	Bars        int
	Splits      int
	Dividends   int
	Error       string
}
