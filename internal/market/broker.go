package market

import (
	"context"
	"fmt"
	"time"
)

// AccountSnapshot is the equity view read once at the start of a cycle.
type AccountSnapshot struct {
	Equity      float64   `json:"equity"`
	BuyingPower float64   `json:"buying_power"`
	Currency    string    `json:"currency"`
	FetchedAt   time.Time `json:"fetched_at"`
}

// BrokerPosition is an open position as the brokerage reports it. Quantity is
// always positive; direction lives in Side. QtyAvailable excludes shares held
// for working orders.
type BrokerPosition struct {
	Symbol          string  `json:"symbol"`
	Side            Side    `json:"side"`
	Quantity        float64 `json:"quantity"`
	QtyAvailable    float64 `json:"qty_available"`
	EntryPrice      float64 `json:"entry_price"`
	CurrentPrice    float64 `json:"current_price"`
	MarketValue     float64 `json:"market_value"`
	UnrealizedPLPct float64 `json:"unrealized_pl_pct"`
}

// Clock reports market session state.
type Clock struct {
	IsOpen    bool      `json:"is_open"`
	Now       time.Time `json:"now"`
	NextOpen  time.Time `json:"next_open"`
	NextClose time.Time `json:"next_close"`
}

// OrderRequest is one decision translated to brokerage terms. Quantity is in
// whole shares; TargetPct records the exposure step that produced it.
type OrderRequest struct {
	ClientID  string  `json:"client_id"`
	Symbol    string  `json:"symbol"`
	Side      Side    `json:"side"`
	Action    Action  `json:"action"`
	Quantity  int64   `json:"quantity"`
	TargetPct float64 `json:"target_pct"`
}

// Order is the brokerage's acknowledgement of a request. Open (unfilled)
// orders come back through Broker.OpenOrders so the book can mark in-flight
// symbols and skip duplicate submissions.
type Order struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Symbol      string    `json:"symbol"`
	Side        Side      `json:"side"`
	Quantity    float64   `json:"quantity"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// OrderRejectedError reports a brokerage rejection. The Book treats a
// rejection as a no-op: the fill never happened, state stays as it was.
type OrderRejectedError struct {
	Symbol string
	Reason string
}

func (e *OrderRejectedError) Error() string {
	return fmt.Sprintf("order rejected for %s: %s", e.Symbol, e.Reason)
}

// Broker is the order-execution and book-state collaborator. One
// implementation (Alpaca) lives under internal/gateway/alpaca.
type Broker interface {
	Account(ctx context.Context) (AccountSnapshot, error)
	Positions(ctx context.Context) ([]BrokerPosition, error)
	// SubmitOrder places a day market order. Rejections surface as
	// *OrderRejectedError.
	SubmitOrder(ctx context.Context, req OrderRequest) (Order, error)
	// ClosePosition liquidates the full remaining quantity of a symbol.
	ClosePosition(ctx context.Context, symbol string) (Order, error)
	// OpenOrders lists orders submitted but not yet filled or cancelled.
	OpenOrders(ctx context.Context) ([]Order, error)
	Clock(ctx context.Context) (Clock, error)
}
