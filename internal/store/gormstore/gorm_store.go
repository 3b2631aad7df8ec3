// Package gormstore persists the position ledger and the closed-market order
// queue in SQLite via gorm. The brokerage stays the source of truth for
// quantities and prices; the ledger carries what the brokerage cannot:
// lifecycle state, open and add timestamps, and close reasons.
package gormstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"swell/internal/market"
	"swell/internal/position"
	storemodel "swell/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type positionLedgerModel = storemodel.PositionLedgerModel
type pendingOrderModel = storemodel.PendingOrderModel

// Pending queue statuses.
const (
	PendingQueued    = "queued"
	PendingSubmitted = "submitted"
	PendingRejected  = "rejected"
)

// LedgerRecord is one symbol's ledger row. Reopening a symbol recycles its
// row: the ledger keeps current state per symbol, the cycle journal keeps
// history.
type LedgerRecord struct {
	Symbol      string
	Side        market.Side
	State       position.State
	Quantity    float64
	EntryPrice  float64
	OpenedAt    time.Time
	LastAddedAt time.Time
	ClosedAt    time.Time
	ExitReasons []string
}

// PendingOrder is one queued decision awaiting the next open session.
type PendingOrder struct {
	ClientID  string
	Symbol    string
	Side      market.Side
	Action    market.Action
	Quantity  int64
	TargetPct float64
	Price     float64
	Reasons   []string
	Status    string
	QueuedAt  time.Time
}

// GormStore implements ledger and pending-queue storage using gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: ledger path is required")
	}
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&positionLedgerModel{}, &pendingOrderModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: allow a small amount of parallelism for concurrent HTTP
	// reads while keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// UpsertPosition writes a full ledger row for the symbol, creating or
// replacing it. Callers pass the complete record; the store never merges.
func (s *GormStore) UpsertPosition(ctx context.Context, rec LedgerRecord) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	if strings.TrimSpace(rec.Symbol) == "" {
		return fmt.Errorf("ledger symbol is required")
	}
	model := newLedgerModel(rec)
	cols := []string{
		"side", "state", "quantity", "entry_price", "opened_at",
		"last_added_at", "closed_at", "exit_reasons", "updated_at",
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}},
			DoUpdates: clause.AssignmentColumns(cols),
		}).
		Create(&model).Error
}

// ListOpenPositions returns every row not yet closed, ordered by symbol.
func (s *GormStore) ListOpenPositions(ctx context.Context) ([]LedgerRecord, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []positionLedgerModel
	if err := s.db.WithContext(ctx).
		Where("state != ?", string(position.StateClosed)).
		Order("symbol ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]LedgerRecord, 0, len(models))
	for _, m := range models {
		out = append(out, ledgerModelToRecord(m))
	}
	return out, nil
}

// CloseOut marks a symbol closed with the reasons the exit pass produced.
func (s *GormStore) CloseOut(ctx context.Context, symbol string, reasons []string, at time.Time) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return fmt.Errorf("ledger symbol is required")
	}
	res := s.db.WithContext(ctx).Model(&positionLedgerModel{}).
		Where("symbol = ?", symbol).
		Updates(map[string]interface{}{
			"state":        string(position.StateClosed),
			"closed_at":    at.Unix(),
			"exit_reasons": datatypes.JSON(mustJSONBytes(reasons)),
			"updated_at":   time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ReplaceQueue swaps the whole closed-market queue for the latest
// evaluation's orders. Submitted and rejected rows stay for the audit trail;
// only still-queued rows are dropped.
func (s *GormStore) ReplaceQueue(ctx context.Context, orders []PendingOrder) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("status = ?", PendingQueued).
			Delete(&pendingOrderModel{}).Error; err != nil {
			return err
		}
		if len(orders) == 0 {
			return nil
		}
		now := time.Now()
		models := make([]pendingOrderModel, 0, len(orders))
		for _, o := range orders {
			if strings.TrimSpace(o.ClientID) == "" || strings.TrimSpace(o.Symbol) == "" {
				return fmt.Errorf("pending order needs client_id and symbol")
			}
			models = append(models, newPendingModel(o, now))
		}
		return tx.Create(&models).Error
	})
}

// QueuedOrders returns the current queue, oldest first.
func (s *GormStore) QueuedOrders(ctx context.Context) ([]PendingOrder, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("gorm store not initialized")
	}
	var models []pendingOrderModel
	if err := s.db.WithContext(ctx).
		Where("status = ?", PendingQueued).
		Order("queued_at ASC, id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}
	out := make([]PendingOrder, 0, len(models))
	for _, m := range models {
		out = append(out, pendingModelToRecord(m))
	}
	return out, nil
}

// MarkPending records the submit outcome for one queued order.
func (s *GormStore) MarkPending(ctx context.Context, clientID, status string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("gorm store not initialized")
	}
	clientID = strings.TrimSpace(clientID)
	if clientID == "" {
		return fmt.Errorf("pending client_id is required")
	}
	res := s.db.WithContext(ctx).Model(&pendingOrderModel{}).
		Where("client_id = ?", clientID).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func newLedgerModel(rec LedgerRecord) positionLedgerModel {
	now := time.Now().Unix()
	return positionLedgerModel{
		Symbol:          strings.ToUpper(strings.TrimSpace(rec.Symbol)),
		Side:            string(rec.Side),
		State:           string(rec.State),
		Quantity:        rec.Quantity,
		EntryPrice:      rec.EntryPrice,
		OpenedAtUnix:    unixOrZero(rec.OpenedAt),
		LastAddedAtUnix: unixOrZero(rec.LastAddedAt),
		ClosedAtUnix:    unixOrZero(rec.ClosedAt),
		ExitReasons:     datatypes.JSON(mustJSONBytes(rec.ExitReasons)),
		CreatedAtUnix:   now,
		UpdatedAtUnix:   now,
	}
}

func ledgerModelToRecord(m positionLedgerModel) LedgerRecord {
	var reasons []string
	if len(m.ExitReasons) > 0 {
		_ = json.Unmarshal(m.ExitReasons, &reasons)
	}
	return LedgerRecord{
		Symbol:      m.Symbol,
		Side:        market.Side(m.Side),
		State:       position.State(m.State),
		Quantity:    m.Quantity,
		EntryPrice:  m.EntryPrice,
		OpenedAt:    timeOrZero(m.OpenedAtUnix),
		LastAddedAt: timeOrZero(m.LastAddedAtUnix),
		ClosedAt:    timeOrZero(m.ClosedAtUnix),
		ExitReasons: reasons,
	}
}

func newPendingModel(o PendingOrder, now time.Time) pendingOrderModel {
	queued := o.QueuedAt
	if queued.IsZero() {
		queued = now
	}
	status := o.Status
	if status == "" {
		status = PendingQueued
	}
	return pendingOrderModel{
		ClientID:      strings.TrimSpace(o.ClientID),
		Symbol:        strings.ToUpper(strings.TrimSpace(o.Symbol)),
		Side:          string(o.Side),
		Action:        string(o.Action),
		Quantity:      o.Quantity,
		TargetPct:     o.TargetPct,
		Price:         o.Price,
		Reasons:       datatypes.JSON(mustJSONBytes(o.Reasons)),
		Status:        status,
		QueuedAtUnix:  queued.Unix(),
		CreatedAtUnix: now.Unix(),
		UpdatedAtUnix: now.Unix(),
	}
}

func pendingModelToRecord(m pendingOrderModel) PendingOrder {
	var reasons []string
	if len(m.Reasons) > 0 {
		_ = json.Unmarshal(m.Reasons, &reasons)
	}
	return PendingOrder{
		ClientID:  m.ClientID,
		Symbol:    m.Symbol,
		Side:      market.Side(m.Side),
		Action:    market.Action(m.Action),
		Quantity:  m.Quantity,
		TargetPct: m.TargetPct,
		Price:     m.Price,
		Reasons:   reasons,
		Status:    m.Status,
		QueuedAt:  timeOrZero(m.QueuedAtUnix),
	}
}

func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix <= 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0).UTC()
}

func mustJSONBytes(v []string) []byte {
	if len(v) == 0 {
		return []byte("[]")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("[]")
	}
	return b
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}
