// Package position owns the book of open holdings and the per-cycle decision
// pass over it: exit rules first, then entry and add sizing under the
// exposure caps. The manager is pure over its inputs; the trader applies its
// decisions to the book and the brokerage.
package position

import (
	"math"
	"time"

	"swell/internal/market"
)

// State tracks a position through its order lifecycle. OPENING and ADDING
// are request states awaiting fill confirmation. CLOSING positions stay in
// the book but release their exposure to the same cycle's entry pass.
type State string

const (
	StateOpening State = "OPENING"
	StateOpen    State = "OPEN"
	StateAdding  State = "ADDING"
	StateClosing State = "CLOSING"
	StateClosed  State = "CLOSED"
)

// Position is one open holding plus the metadata the exit rules need.
// Quantity is always positive; direction lives in Side.
type Position struct {
	Symbol       string      `json:"symbol"`
	Side         market.Side `json:"side"`
	State        State       `json:"state"`
	Quantity     float64     `json:"quantity"`
	EntryPrice   float64     `json:"entry_price"`
	CurrentPrice float64     `json:"current_price"`
	OpenedAt     time.Time   `json:"opened_at"`
	LastAddedAt  time.Time   `json:"last_added_at,omitempty"`
}

// UnrealizedPLPct is the side-aware return in percent: positive means the
// position is in profit regardless of direction.
func (p Position) UnrealizedPLPct() float64 {
	if p.EntryPrice <= 0 {
		return 0
	}
	return (p.CurrentPrice/p.EntryPrice - 1) * p.Side.Sign() * 100
}

// MarketValue is the absolute notional at the current price.
func (p Position) MarketValue() float64 {
	return math.Abs(p.Quantity * p.CurrentPrice)
}

// AgeDays is the holding age in whole days as of now.
func (p Position) AgeDays(now time.Time) int {
	if p.OpenedAt.IsZero() || now.Before(p.OpenedAt) {
		return 0
	}
	return int(now.Sub(p.OpenedAt).Hours() / 24)
}
