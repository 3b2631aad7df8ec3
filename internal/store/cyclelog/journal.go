// Package cyclelog keeps an append-only SQLite journal of decision cycles:
// what the engine saw, what it decided, and why. The ledger holds current
// state; this journal holds history.
package cyclelog

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"swell/internal/market"
	"swell/internal/position"
	"swell/internal/rank"

	_ "modernc.org/sqlite"
)

// CycleRecord is one evaluation cycle end to end. Rankings carry the full
// ordered pool per side so a standing can be re-derived later; Decisions and
// Rejections are exactly what the position manager produced.
type CycleRecord struct {
	ID            int64                            `json:"id"`
	TraceID       string                           `json:"trace_id"`
	Timestamp     int64                            `json:"ts"`
	MarketOpen    bool                             `json:"market_open"`
	Frozen        bool                             `json:"frozen"`
	Queued        bool                             `json:"queued"`
	Equity        float64                          `json:"equity"`
	LongExposure  float64                          `json:"long_exposure"`
	ShortExposure float64                          `json:"short_exposure"`
	Symbols       []string                         `json:"symbols,omitempty"`
	FailedSources []string                         `json:"failed_sources,omitempty"`
	Rankings      map[market.Side][]rank.Composite `json:"rankings,omitempty"`
	Decisions     []position.Decision              `json:"decisions,omitempty"`
	Rejections    []position.Rejection             `json:"rejections,omitempty"`
	Error         string                           `json:"error,omitempty"`
}

// Query filters List. Zero values mean no filter.
type Query struct {
	Limit  int
	Offset int
}

// Journal is the SQLite-backed cycle log.
type Journal struct {
	mu   sync.Mutex
	db   *sql.DB
	path string
}

func NewJournal(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("cycle journal path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)
	if err := ensureSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

func ensureSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS decision_cycles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			trace_id TEXT NOT NULL,
			ts INTEGER NOT NULL,
			market_open INTEGER NOT NULL DEFAULT 0,
			frozen INTEGER NOT NULL DEFAULT 0,
			queued INTEGER NOT NULL DEFAULT 0,
			equity REAL NOT NULL DEFAULT 0,
			long_exposure REAL NOT NULL DEFAULT 0,
			short_exposure REAL NOT NULL DEFAULT 0,
			symbols TEXT,
			failed_sources TEXT,
			rankings_json TEXT,
			decisions_json TEXT,
			rejections_json TEXT,
			error TEXT,
			created_at INTEGER NOT NULL
		);
		`,
		`CREATE INDEX IF NOT EXISTS idx_decision_cycles_ts_id ON decision_cycles(ts DESC, id DESC);`,
		`CREATE INDEX IF NOT EXISTS idx_decision_cycles_trace ON decision_cycles(trace_id);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Append writes one cycle and returns its row id.
func (j *Journal) Append(ctx context.Context, rec CycleRecord) (int64, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return 0, fmt.Errorf("cycle journal not initialized")
	}
	ts := rec.Timestamp
	if ts == 0 {
		ts = time.Now().UnixMilli()
	}
	res, err := db.ExecContext(ctx, `
		INSERT INTO decision_cycles
			(trace_id, ts, market_open, frozen, queued, equity, long_exposure, short_exposure,
			 symbols, failed_sources, rankings_json, decisions_json, rejections_json, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.TraceID,
		ts,
		boolToInt(rec.MarketOpen),
		boolToInt(rec.Frozen),
		boolToInt(rec.Queued),
		rec.Equity,
		rec.LongExposure,
		rec.ShortExposure,
		enc(rec.Symbols),
		enc(rec.FailedSources),
		enc(rec.Rankings),
		enc(rec.Decisions),
		enc(rec.Rejections),
		rec.Error,
		time.Now().UnixMilli(),
	)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// Get returns one cycle by row id.
func (j *Journal) Get(ctx context.Context, id int64) (CycleRecord, error) {
	var rec CycleRecord
	if id <= 0 {
		return rec, fmt.Errorf("invalid cycle id")
	}
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return rec, fmt.Errorf("cycle journal not initialized")
	}
	row := db.QueryRowContext(ctx, selectColumns+` FROM decision_cycles WHERE id = ?`, id)
	return scanCycleRecord(row)
}

// List returns the latest cycles, newest first.
func (j *Journal) List(ctx context.Context, q Query) ([]CycleRecord, error) {
	j.mu.Lock()
	db := j.db
	j.mu.Unlock()
	if db == nil {
		return nil, fmt.Errorf("cycle journal not initialized")
	}
	limit := q.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := db.QueryContext(ctx, selectColumns+`
		FROM decision_cycles ORDER BY ts DESC, id DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []CycleRecord
	for rows.Next() {
		rec, err := scanCycleRecord(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, rec)
	}
	return list, rows.Err()
}

const selectColumns = `SELECT id, trace_id, ts, market_open, frozen, queued, equity,
	long_exposure, short_exposure, symbols, failed_sources, rankings_json,
	decisions_json, rejections_json, error`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanCycleRecord(row rowScanner) (CycleRecord, error) {
	var rec CycleRecord
	var marketOpen, frozen, queued int
	var symbols, failed, rankings, decisions, rejections, errText sql.NullString
	if err := row.Scan(
		&rec.ID, &rec.TraceID, &rec.Timestamp, &marketOpen, &frozen, &queued,
		&rec.Equity, &rec.LongExposure, &rec.ShortExposure,
		&symbols, &failed, &rankings, &decisions, &rejections, &errText,
	); err != nil {
		return rec, err
	}
	rec.MarketOpen = marketOpen != 0
	rec.Frozen = frozen != 0
	rec.Queued = queued != 0
	dec(symbols, &rec.Symbols)
	dec(failed, &rec.FailedSources)
	dec(rankings, &rec.Rankings)
	dec(decisions, &rec.Decisions)
	dec(rejections, &rec.Rejections)
	rec.Error = errText.String
	return rec, nil
}

func enc(v interface{}) string {
	if v == nil {
		return ""
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

func dec(s sql.NullString, out interface{}) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return
	}
	_ = json.Unmarshal([]byte(s.String), out)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
