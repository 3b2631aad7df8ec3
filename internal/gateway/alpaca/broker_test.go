package alpaca

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"swell/internal/market"

	tradeapi "github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestConfigDefaults(t *testing.T) {
	cfg := Config{APIKey: " key ", APISecret: "secret"}
	final := cfg.withDefaults()
	require.Equal(t, "key", final.APIKey)
	require.Equal(t, DefaultBaseURL, final.BaseURL)
	require.Equal(t, "iex", final.Feed)
	require.Equal(t, 15*time.Second, final.HTTPTimeout)

	cfg = Config{
		APIKey:      "key",
		APISecret:   "secret",
		BaseURL:     "https://api.alpaca.markets",
		Feed:        "SIP",
		HTTPTimeout: 3 * time.Second,
	}
	final = cfg.withDefaults()
	require.Equal(t, "https://api.alpaca.markets", final.BaseURL)
	require.Equal(t, "sip", final.Feed)
	require.Equal(t, 3*time.Second, final.HTTPTimeout)
}

func TestNewRequiresCredentials(t *testing.T) {
	_, err := New(Config{APIKey: "key"})
	require.Error(t, err)
	_, err = New(Config{APIKey: "key", APISecret: "secret"})
	require.NoError(t, err)
}

func TestOrderSideMapping(t *testing.T) {
	cases := []struct {
		side   market.Side
		action market.Action
		want   tradeapi.Side
	}{
		{market.SideLong, market.ActionOpen, tradeapi.Buy},
		{market.SideLong, market.ActionAdd, tradeapi.Buy},
		{market.SideLong, market.ActionClose, tradeapi.Sell},
		{market.SideShort, market.ActionOpen, tradeapi.Sell},
		{market.SideShort, market.ActionAdd, tradeapi.Sell},
		{market.SideShort, market.ActionClose, tradeapi.Buy},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, orderSide(tc.side, tc.action), "%s %s", tc.side, tc.action)
	}
}

func TestSubmitErrSeparatesRejections(t *testing.T) {
	var rejected *market.OrderRejectedError

	err := submitErr("TSLA", &tradeapi.APIError{StatusCode: 403, Message: "insufficient buying power"})
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, "TSLA", rejected.Symbol)
	require.Contains(t, rejected.Reason, "buying power")

	err = submitErr("TSLA", &tradeapi.APIError{StatusCode: 422, Message: "asset not shortable"})
	require.ErrorAs(t, err, &rejected)

	// Rate limits and server faults are transient, not rejections.
	err = submitErr("TSLA", &tradeapi.APIError{StatusCode: 429, Message: "too many requests"})
	require.False(t, errors.As(err, &rejected))

	err = submitErr("TSLA", &tradeapi.APIError{StatusCode: 500, Message: "internal"})
	require.False(t, errors.As(err, &rejected))

	err = submitErr("TSLA", fmt.Errorf("dial tcp: timeout"))
	require.False(t, errors.As(err, &rejected))
}

func TestPositionConversion(t *testing.T) {
	current := decimal.NewFromFloat(24)
	value := decimal.NewFromFloat(-960)
	plpc := decimal.NewFromFloat(0.0588)
	p := tradeapi.Position{
		Symbol:         "GME",
		Side:           "short",
		Qty:            decimal.NewFromInt(-40),
		QtyAvailable:   decimal.NewFromInt(-40),
		AvgEntryPrice:  decimal.NewFromFloat(25.5),
		CurrentPrice:   &current,
		MarketValue:    &value,
		UnrealizedPLPC: &plpc,
	}

	got := toBrokerPosition(&p)
	require.Equal(t, "GME", got.Symbol)
	require.Equal(t, market.SideShort, got.Side)
	require.Equal(t, 40.0, got.Quantity)
	require.Equal(t, 40.0, got.QtyAvailable)
	require.Equal(t, 25.5, got.EntryPrice)
	require.Equal(t, 24.0, got.CurrentPrice)
	require.Equal(t, 960.0, got.MarketValue)
	require.InDelta(t, 5.88, got.UnrealizedPLPct, 1e-9)
}

func TestPositionConversionNilPointers(t *testing.T) {
	p := tradeapi.Position{
		Symbol:        "AAPL",
		Side:          "long",
		Qty:           decimal.NewFromInt(10),
		AvgEntryPrice: decimal.NewFromFloat(180),
	}
	got := toBrokerPosition(&p)
	require.Equal(t, market.SideLong, got.Side)
	require.Zero(t, got.CurrentPrice)
	require.Zero(t, got.MarketValue)
	require.Zero(t, got.UnrealizedPLPct)
}

func TestOrderConversion(t *testing.T) {
	qty := decimal.NewFromInt(25)
	submitted := time.Date(2025, 8, 14, 14, 30, 0, 0, time.UTC)
	o := tradeapi.Order{
		ID:            "ord-1",
		ClientOrderID: "client-1",
		Symbol:        "NVDA",
		Side:          tradeapi.Sell,
		Qty:           &qty,
		Status:        "new",
		SubmittedAt:   submitted,
	}
	got := toOrder(&o)
	require.Equal(t, "ord-1", got.ID)
	require.Equal(t, "client-1", got.ClientID)
	require.Equal(t, market.SideShort, got.Side)
	require.Equal(t, 25.0, got.Quantity)
	require.Equal(t, "new", got.Status)
	require.Equal(t, submitted, got.SubmittedAt)
}

func TestCalendarSpanCoversWeekendsAndHolidays(t *testing.T) {
	// 100 trading days is roughly 140 calendar days plus holiday slack.
	require.GreaterOrEqual(t, calendarSpan(100), 145)
	require.GreaterOrEqual(t, calendarSpan(50), 75)
}
