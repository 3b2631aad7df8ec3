// Package alpaca adapts the Alpaca trading and market-data APIs to the
// market.Broker and market.Source interfaces. The v3 SDK does not accept a
// context, so every method checks ctx before the call; a cancelled cycle
// stops between requests, not mid-request.
package alpaca

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"swell/internal/market"

	tradeapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	dataapi "github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/shopspring/decimal"
)

const (
	defaultLookback = 100
	openOrdersLimit = 500
)

// Broker talks to one Alpaca account. It is safe for concurrent use; both
// underlying SDK clients are stateless over a shared http.Client.
type Broker struct {
	cfg     Config
	trading *tradeapi.Client
	data    *dataapi.Client
}

func New(cfg Config) (*Broker, error) {
	final := cfg.withDefaults()
	if final.APIKey == "" || final.APISecret == "" {
		return nil, fmt.Errorf("alpaca credentials are required")
	}
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	trading := tradeapi.NewClient(tradeapi.ClientOpts{
		APIKey:     final.APIKey,
		APISecret:  final.APISecret,
		BaseURL:    final.BaseURL,
		HTTPClient: httpClient,
	})
	data := dataapi.NewClient(dataapi.ClientOpts{
		APIKey:     final.APIKey,
		APISecret:  final.APISecret,
		BaseURL:    final.DataBaseURL,
		HTTPClient: httpClient,
	})
	return &Broker{cfg: final, trading: trading, data: data}, nil
}

func (b *Broker) Account(ctx context.Context) (market.AccountSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return market.AccountSnapshot{}, err
	}
	acct, err := b.trading.GetAccount()
	if err != nil {
		return market.AccountSnapshot{}, fmt.Errorf("alpaca account: %w", err)
	}
	return market.AccountSnapshot{
		Equity:      acct.Equity.InexactFloat64(),
		BuyingPower: acct.BuyingPower.InexactFloat64(),
		Currency:    acct.Currency,
		FetchedAt:   time.Now().UTC(),
	}, nil
}

func (b *Broker) Positions(ctx context.Context) ([]market.BrokerPosition, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	positions, err := b.trading.GetPositions()
	if err != nil {
		return nil, fmt.Errorf("alpaca positions: %w", err)
	}
	out := make([]market.BrokerPosition, 0, len(positions))
	for i := range positions {
		out = append(out, toBrokerPosition(&positions[i]))
	}
	return out, nil
}

func (b *Broker) SubmitOrder(ctx context.Context, req market.OrderRequest) (market.Order, error) {
	if err := ctx.Err(); err != nil {
		return market.Order{}, err
	}
	if req.Quantity <= 0 {
		return market.Order{}, fmt.Errorf("alpaca order %s: quantity must be positive", req.Symbol)
	}
	qty := decimal.NewFromInt(req.Quantity)
	placed, err := b.trading.PlaceOrder(tradeapi.PlaceOrderRequest{
		Symbol:        req.Symbol,
		Qty:           &qty,
		Side:          orderSide(req.Side, req.Action),
		Type:          tradeapi.Market,
		TimeInForce:   tradeapi.Day,
		ClientOrderID: req.ClientID,
	})
	if err != nil {
		return market.Order{}, submitErr(req.Symbol, err)
	}
	return toOrder(placed), nil
}

func (b *Broker) ClosePosition(ctx context.Context, symbol string) (market.Order, error) {
	if err := ctx.Err(); err != nil {
		return market.Order{}, err
	}
	order, err := b.trading.ClosePosition(symbol, tradeapi.ClosePositionRequest{})
	if err != nil {
		return market.Order{}, submitErr(symbol, err)
	}
	return toOrder(order), nil
}

func (b *Broker) OpenOrders(ctx context.Context) ([]market.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	orders, err := b.trading.GetOrders(tradeapi.GetOrdersRequest{
		Status: "open",
		Limit:  openOrdersLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("alpaca open orders: %w", err)
	}
	out := make([]market.Order, 0, len(orders))
	for i := range orders {
		out = append(out, toOrder(&orders[i]))
	}
	return out, nil
}

func (b *Broker) Clock(ctx context.Context) (market.Clock, error) {
	if err := ctx.Err(); err != nil {
		return market.Clock{}, err
	}
	clock, err := b.trading.GetClock()
	if err != nil {
		return market.Clock{}, fmt.Errorf("alpaca clock: %w", err)
	}
	return market.Clock{
		IsOpen:    clock.IsOpen,
		Now:       clock.Timestamp,
		NextOpen:  clock.NextOpen,
		NextClose: clock.NextClose,
	}, nil
}

// FetchHistory returns up to lookback daily bars, split-adjusted, ascending.
// The start date is padded past the trading-day count so weekends and
// holidays do not shorten the window.
func (b *Broker) FetchHistory(ctx context.Context, symbol string, lookback int) (market.Series, error) {
	if err := ctx.Err(); err != nil {
		return market.Series{}, err
	}
	if lookback <= 0 {
		lookback = defaultLookback
	}
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return market.Series{}, fmt.Errorf("symbol is required")
	}
	start := time.Now().UTC().AddDate(0, 0, -calendarSpan(lookback))
	bars, err := b.data.GetBars(symbol, dataapi.GetBarsRequest{
		TimeFrame:  dataapi.OneDay,
		Adjustment: dataapi.Split,
		Start:      start,
		Feed:       dataapi.Feed(b.cfg.Feed),
	})
	if err != nil {
		return market.Series{}, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}
	if len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	out := make([]market.Bar, len(bars))
	for i, bar := range bars {
		out[i] = market.Bar{
			Timestamp: bar.Timestamp,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    float64(bar.Volume),
		}
	}
	series, err := market.NewSeries(out)
	if err != nil {
		return market.Series{}, fmt.Errorf("alpaca bars %s: %w", symbol, err)
	}
	return series, nil
}

// calendarSpan widens a trading-day lookback to calendar days: 7/5 for
// weekends plus slack for market holidays.
func calendarSpan(lookback int) int {
	return lookback*7/5 + 10
}

// orderSide maps a book action to the brokerage trade direction. Closing is
// the opposite trade of the side held.
func orderSide(side market.Side, action market.Action) tradeapi.Side {
	buy := side == market.SideLong
	if action == market.ActionClose {
		buy = !buy
	}
	if buy {
		return tradeapi.Buy
	}
	return tradeapi.Sell
}

// submitErr keeps brokerage rejections distinguishable from transport
// failures: a 4xx from the API means the order was refused and the book
// should stay as it was, not retry.
func submitErr(symbol string, err error) error {
	var apiErr *tradeapi.APIError
	if errors.As(err, &apiErr) &&
		apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
		apiErr.StatusCode != http.StatusTooManyRequests {
		return &market.OrderRejectedError{Symbol: symbol, Reason: apiErr.Message}
	}
	return fmt.Errorf("alpaca order %s: %w", symbol, err)
}

func toBrokerPosition(p *tradeapi.Position) market.BrokerPosition {
	side := market.SideLong
	if strings.EqualFold(string(p.Side), "short") {
		side = market.SideShort
	}
	return market.BrokerPosition{
		Symbol:          p.Symbol,
		Side:            side,
		Quantity:        p.Qty.Abs().InexactFloat64(),
		QtyAvailable:    p.QtyAvailable.Abs().InexactFloat64(),
		EntryPrice:      p.AvgEntryPrice.InexactFloat64(),
		CurrentPrice:    deref(p.CurrentPrice),
		MarketValue:     decimalAbs(p.MarketValue),
		UnrealizedPLPct: deref(p.UnrealizedPLPC) * 100,
	}
}

func toOrder(o *tradeapi.Order) market.Order {
	qty := 0.0
	if o.Qty != nil {
		qty = o.Qty.InexactFloat64()
	}
	side := market.SideLong
	if o.Side == tradeapi.Sell {
		side = market.SideShort
	}
	return market.Order{
		ID:          o.ID,
		ClientID:    o.ClientOrderID,
		Symbol:      o.Symbol,
		Side:        side,
		Quantity:    qty,
		Status:      o.Status,
		SubmittedAt: o.SubmittedAt,
	}
}

func deref(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.InexactFloat64()
}

func decimalAbs(d *decimal.Decimal) float64 {
	if d == nil {
		return 0
	}
	return d.Abs().InexactFloat64()
}
