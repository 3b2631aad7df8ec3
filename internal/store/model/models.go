// Package model holds the gorm table definitions for the position ledger.
// Timestamps are unix seconds; states are stored as plain strings so rows
// stay readable from the sqlite shell.
package model

import "gorm.io/datatypes"

// PositionLedgerModel carries the book state the brokerage cannot report:
// lifecycle state, open and add timestamps, and the reasons a close was
// issued. One row per symbol; reopening a symbol recycles its row.
type PositionLedgerModel struct {
	ID              int64          `gorm:"column:id;primaryKey"`
	Symbol          string         `gorm:"column:symbol;uniqueIndex"`
	Side            string         `gorm:"column:side"`
	State           string         `gorm:"column:state"`
	Quantity        float64        `gorm:"column:quantity"`
	EntryPrice      float64        `gorm:"column:entry_price"`
	OpenedAtUnix    int64          `gorm:"column:opened_at"`
	LastAddedAtUnix int64          `gorm:"column:last_added_at"`
	ClosedAtUnix    int64          `gorm:"column:closed_at"`
	ExitReasons     datatypes.JSON `gorm:"column:exit_reasons;type:TEXT"`
	CreatedAtUnix   int64          `gorm:"column:created_at"`
	UpdatedAtUnix   int64          `gorm:"column:updated_at"`
}

func (PositionLedgerModel) TableName() string { return "position_ledger" }

// PendingOrderModel queues decisions made while the market is closed. The
// queue is replaced wholesale each closed-market cycle so only the latest
// evaluation ever reaches the broker.
type PendingOrderModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	ClientID      string         `gorm:"column:client_id;uniqueIndex"`
	Symbol        string         `gorm:"column:symbol"`
	Side          string         `gorm:"column:side"`
	Action        string         `gorm:"column:action"`
	Quantity      int64          `gorm:"column:quantity"`
	TargetPct     float64        `gorm:"column:target_pct"`
	Price         float64        `gorm:"column:price"`
	Reasons       datatypes.JSON `gorm:"column:reasons;type:TEXT"`
	Status        string         `gorm:"column:status"`
	QueuedAtUnix  int64          `gorm:"column:queued_at"`
	CreatedAtUnix int64          `gorm:"column:created_at"`
	UpdatedAtUnix int64          `gorm:"column:updated_at"`
}

func (PendingOrderModel) TableName() string { return "pending_orders" }
