package store

import (
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"CNDataBundle/internal/bundle"
	"CNDataBundle/internal/model"
)

const dateLayout = "2006-01-02"

// progressEvery is how many securities pass between progress lines.
const progressEvery = 100

// SQLiteStore persists bundle ingestions to a SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the SQLite database and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL lets readers inspect a bundle while an ingest is writing.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &SQLiteStore{db: db, now: time.Now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Printf("[INFO] sqlite store opened: %s", dbPath)
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ingestions (
			id           TEXT PRIMARY KEY,
			bundle       TEXT NOT NULL,
			status       TEXT NOT NULL,
			started_at   INTEGER NOT NULL,
			finished_at  INTEGER,
			window_start TEXT,
			window_end   TEXT,
			equities     INTEGER DEFAULT 0,
			bars         INTEGER DEFAULT 0,
			splits       INTEGER DEFAULT 0,
			dividends    INTEGER DEFAULT 0,
			error        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ingestions_bundle ON ingestions(bundle, started_at)`,

		`CREATE TABLE IF NOT EXISTS equities (
			ingestion_id TEXT NOT NULL,
			sid          INTEGER NOT NULL,
			symbol       TEXT NOT NULL,
			code         TEXT,
			exchange     TEXT,
			asset_name   TEXT,
			start_date   TEXT,
			end_date     TEXT,
			PRIMARY KEY (ingestion_id, sid)
		)`,

		`CREATE TABLE IF NOT EXISTS daily_bars (
			ingestion_id TEXT NOT NULL,
			sid          INTEGER NOT NULL,
			date         TEXT NOT NULL,
			open         REAL,
			high         REAL,
			low          REAL,
			close        REAL,
			volume       REAL,
			PRIMARY KEY (ingestion_id, sid, date)
		)`,

		`CREATE TABLE IF NOT EXISTS splits (
			ingestion_id   TEXT NOT NULL,
			sid            INTEGER NOT NULL,
			effective_date TEXT NOT NULL,
			ratio          REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_splits_ingestion ON splits(ingestion_id, sid)`,

		`CREATE TABLE IF NOT EXISTS dividends (
			ingestion_id  TEXT NOT NULL,
			sid           INTEGER NOT NULL,
			ex_date       TEXT NOT NULL,
			amount        REAL,
			record_date   TEXT,
			declared_date TEXT,
			pay_date      TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dividends_ingestion ON dividends(ingestion_id, sid)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec %q: %w", stmt[:40], err)
		}
	}
	return nil
}

// Run is one in-progress ingestion. Its rows become visible to readers only
// after Finish succeeds, at which point they replace the bundle's previous
// rows.
type Run struct {
	ID     string
	Bundle string

	store *SQLiteStore
	info  Ingestion
}

// Begin records a new ingestion of bundle over window.
func (s *SQLiteStore) Begin(bundleName string, window model.SessionWindow) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	run := &Run{
		ID:     uuid.NewString(),
		Bundle: bundleName,
		store:  s,
	}
	started := s.now()
	_, err := s.db.Exec(`INSERT INTO ingestions
		(id, bundle, status, started_at, window_start, window_end)
		VALUES (?,?,?,?,?,?)`,
		run.ID, bundleName, StatusRunning, started.UnixNano(),
		formatDate(window.Start), formatDate(window.End),
	)
	if err != nil {
		return nil, fmt.Errorf("record ingestion: %w", err)
	}
	run.info = Ingestion{
		ID: run.ID, Bundle: bundleName, Status: StatusRunning, StartedAt: started,
		WindowStart: window.Start, WindowEnd: window.End,
	}
	log.Printf("[INFO] ingestion %s of %s started", run.ID, bundleName)
	return run, nil
}

// Writers returns the bundle writers backed by this run.
func (r *Run) Writers() bundle.Writers {
	return bundle.Writers{
		Assets:      assetWriter{r},
		Bars:        barWriter{r},
		Adjustments: adjustmentWriter{r},
	}
}

// Finish marks the run done and drops older rows of the bundle, or, when
// ingestErr is set, marks it failed and drops the run's own rows.
func (r *Run) Finish(ingestErr error) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	finished := s.now()
	if ingestErr != nil {
		if err := deleteRows(tx, "ingestion_id = ?", r.ID); err != nil {
			return err
		}
		if _, err := tx.Exec(`UPDATE ingestions SET status=?, finished_at=?, error=? WHERE id=?`,
			StatusFailed, finished.UnixNano(), ingestErr.Error(), r.ID); err != nil {
			return fmt.Errorf("mark ingestion failed: %w", err)
		}
		log.Printf("[WARN] ingestion %s of %s failed: %v", r.ID, r.Bundle, ingestErr)
		return tx.Commit()
	}

	if err := deleteRows(tx,
		"ingestion_id IN (SELECT id FROM ingestions WHERE bundle = ? AND id != ?)",
		r.Bundle, r.ID); err != nil {
		return err
	}
	if _, err := tx.Exec(`UPDATE ingestions
		SET status=?, finished_at=?, equities=?, bars=?, splits=?, dividends=?
		WHERE id=?`,
		StatusDone, finished.UnixNano(),
		r.info.Equities, r.info.Bars, r.info.Splits, r.info.Dividends, r.ID,
	); err != nil {
		return fmt.Errorf("mark ingestion done: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	log.Printf("[INFO] ingestion %s of %s done: %d equities, %d bars, %d splits, %d dividends",
		r.ID, r.Bundle, r.info.Equities, r.info.Bars, r.info.Splits, r.info.Dividends)
	return nil
}

func deleteRows(tx *sql.Tx, where string, args ...any) error {
	for _, table := range []string{"equities", "daily_bars", "splits", "dividends"} {
		if _, err := tx.Exec("DELETE FROM "+table+" WHERE "+where, args...); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}

type assetWriter struct{ run *Run }

func (w assetWriter) WriteEquities(securities []model.Security) error {
	s := w.run.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO equities
		(ingestion_id, sid, symbol, code, exchange, asset_name, start_date, end_date)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	for _, sec := range securities {
		if _, err := stmt.Exec(w.run.ID, sec.SID, sec.Symbol, sec.Code, sec.Exchange,
			sec.AssetName, formatDate(sec.StartDate), formatDate(sec.EndDate)); err != nil {
			return fmt.Errorf("insert equity %s: %w", sec.Symbol, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.run.info.Equities += len(securities)
	return nil
}

type barWriter struct{ run *Run }

func (w barWriter) Write(bars iter.Seq2[int, []model.DailyBar], showProgress bool) error {
	s := w.run.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO daily_bars
		(ingestion_id, sid, date, open, high, low, close, volume)
		VALUES (?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare: %w", err)
	}
	defer stmt.Close()

	var securities, rows int
	for sid, series := range bars {
		for _, b := range series {
			if _, err := stmt.Exec(w.run.ID, sid, formatDate(b.Date),
				b.Open, b.High, b.Low, b.Close, b.Volume); err != nil {
				return fmt.Errorf("insert bar sid=%d %s: %w", sid, formatDate(b.Date), err)
			}
		}
		securities++
		rows += len(series)
		if showProgress && securities%progressEvery == 0 {
			log.Printf("[INFO] %s: %d securities, %d bars written", w.run.Bundle, securities, rows)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.run.info.Bars += rows
	return nil
}

type adjustmentWriter struct{ run *Run }

func (w adjustmentWriter) Write(splits []model.Split, dividends []model.Dividend) error {
	s := w.run.store
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, sp := range splits {
		if _, err := tx.Exec(`INSERT INTO splits (ingestion_id, sid, effective_date, ratio) VALUES (?,?,?,?)`,
			w.run.ID, sp.SID, formatDate(sp.EffectiveDate), sp.Ratio); err != nil {
			return fmt.Errorf("insert split sid=%d: %w", sp.SID, err)
		}
	}
	for _, d := range dividends {
		if _, err := tx.Exec(`INSERT INTO dividends
			(ingestion_id, sid, ex_date, amount, record_date, declared_date, pay_date)
			VALUES (?,?,?,?,?,?,?)`,
			w.run.ID, d.SID, formatDate(d.ExDate), d.Amount,
			nullDate(d.RecordDate), nullDate(d.DeclaredDate), nullDate(d.PayDate)); err != nil {
			return fmt.Errorf("insert dividend sid=%d: %w", d.SID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	w.run.info.Splits += len(splits)
	w.run.info.Dividends += len(dividends)
	return nil
}

// LatestIngestion returns the most recent completed ingestion of a bundle.
func (s *SQLiteStore) LatestIngestion(bundleName string) (*Ingestion, error) {
	var (
		in                     Ingestion
		started, finished      int64
		windowStart, windowEnd sql.NullString
		errText                sql.NullString
	)
	err := s.db.QueryRow(`SELECT id, bundle, status, started_at, finished_at, window_start, window_end,
			equities, bars, splits, dividends, error
		FROM ingestions
		WHERE bundle = ? AND status = ?
		ORDER BY finished_at DESC, rowid DESC LIMIT 1`, bundleName, StatusDone).
		Scan(&in.ID, &in.Bundle, &in.Status, &started, &finished, &windowStart, &windowEnd,
			&in.Equities, &in.Bars, &in.Splits, &in.Dividends, &errText)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w for bundle %s", ErrNoIngestion, bundleName)
	}
	if err != nil {
		return nil, fmt.Errorf("query ingestion: %w", err)
	}
	in.StartedAt = time.Unix(0, started)
	in.FinishedAt = time.Unix(0, finished)
	in.WindowStart = parseDate(windowStart.String)
	in.WindowEnd = parseDate(windowEnd.String)
	in.Error = errText.String
	return &in, nil
}

// Equities returns the securities of the bundle's latest ingestion, by sid.
func (s *SQLiteStore) Equities(bundleName string) ([]model.Security, error) {
	in, err := s.LatestIngestion(bundleName)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT sid, symbol, code, exchange, asset_name, start_date, end_date
		FROM equities WHERE ingestion_id = ? ORDER BY sid`, in.ID)
	if err != nil {
		return nil, fmt.Errorf("query equities: %w", err)
	}
	defer rows.Close()

	var out []model.Security
	for rows.Next() {
		var sec model.Security
		var start, end string
		if err := rows.Scan(&sec.SID, &sec.Symbol, &sec.Code, &sec.Exchange, &sec.AssetName, &start, &end); err != nil {
			return nil, fmt.Errorf("scan equity: %w", err)
		}
		sec.StartDate = parseDate(start)
		sec.EndDate = parseDate(end)
		out = append(out, sec)
	}
	return out, rows.Err()
}

// Bars returns the daily bars of one security, oldest first.
func (s *SQLiteStore) Bars(bundleName string, sid int) ([]model.DailyBar, error) {
	in, err := s.LatestIngestion(bundleName)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT date, open, high, low, close, volume
		FROM daily_bars WHERE ingestion_id = ? AND sid = ? ORDER BY date`, in.ID, sid)
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var out []model.DailyBar
	for rows.Next() {
		var b model.DailyBar
		var date string
		if err := rows.Scan(&date, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		b.Date = parseDate(date)
		out = append(out, b)
	}
	return out, rows.Err()
}

// Splits returns the bundle's split table ordered by sid and date.
func (s *SQLiteStore) Splits(bundleName string) ([]model.Split, error) {
	in, err := s.LatestIngestion(bundleName)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT sid, effective_date, ratio
		FROM splits WHERE ingestion_id = ? ORDER BY sid, effective_date`, in.ID)
	if err != nil {
		return nil, fmt.Errorf("query splits: %w", err)
	}
	defer rows.Close()

	var out []model.Split
	for rows.Next() {
		var sp model.Split
		var date string
		if err := rows.Scan(&sp.SID, &date, &sp.Ratio); err != nil {
			return nil, fmt.Errorf("scan split: %w", err)
		}
		sp.EffectiveDate = parseDate(date)
		out = append(out, sp)
	}
	return out, rows.Err()
}

// Dividends returns the bundle's dividend table ordered by sid and ex date.
func (s *SQLiteStore) Dividends(bundleName string) ([]model.Dividend, error) {
	in, err := s.LatestIngestion(bundleName)
	if err != nil {
		return nil, err
	}
	rows, err := s.db.Query(`SELECT sid, ex_date, amount, record_date, declared_date, pay_date
		FROM dividends WHERE ingestion_id = ? ORDER BY sid, ex_date`, in.ID)
	if err != nil {
		return nil, fmt.Errorf("query dividends: %w", err)
	}
	defer rows.Close()

	var out []model.Dividend
	for rows.Next() {
		var d model.Dividend
		var exDate string
		var record, declared, pay sql.NullString
		if err := rows.Scan(&d.SID, &exDate, &d.Amount, &record, &declared, &pay); err != nil {
			return nil, fmt.Errorf("scan dividend: %w", err)
		}
		d.ExDate = parseDate(exDate)
		d.RecordDate = datePtr(record)
		d.DeclaredDate = datePtr(declared)
		d.PayDate = datePtr(pay)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	log.Println("[INFO] closing sqlite store")
	return s.db.Close()
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(dateLayout)
}

func parseDate(s string) time.Time {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatDate(*t), Valid: true}
}

func datePtr(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseDate(s.String)
	return &t
}
