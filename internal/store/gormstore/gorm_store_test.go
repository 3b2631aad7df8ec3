package gormstore

import (
	"testing"
	"time"

	"swell/internal/market"
	"swell/internal/position"

	"github.com/stretchr/testify/require"
)

func TestLedgerRecordRoundTrip(t *testing.T) {
	opened := time.Date(2025, 8, 8, 14, 30, 0, 0, time.UTC)
	added := time.Date(2025, 8, 11, 15, 0, 0, 0, time.UTC)
	rec := LedgerRecord{
		Symbol:      "nvda",
		Side:        market.SideShort,
		State:       position.StateOpen,
		Quantity:    40,
		EntryPrice:  118.25,
		OpenedAt:    opened,
		LastAddedAt: added,
		ExitReasons: []string{"stop loss: unrealized P&L -5.20%"},
	}

	got := ledgerModelToRecord(newLedgerModel(rec))
	require.Equal(t, "NVDA", got.Symbol)
	require.Equal(t, market.SideShort, got.Side)
	require.Equal(t, position.StateOpen, got.State)
	require.Equal(t, 40.0, got.Quantity)
	require.Equal(t, 118.25, got.EntryPrice)
	require.True(t, got.OpenedAt.Equal(opened))
	require.True(t, got.LastAddedAt.Equal(added))
	require.True(t, got.ClosedAt.IsZero())
	require.Equal(t, rec.ExitReasons, got.ExitReasons)
}

func TestLedgerRecordZeroTimesStayZero(t *testing.T) {
	got := ledgerModelToRecord(newLedgerModel(LedgerRecord{
		Symbol: "AAPL",
		Side:   market.SideLong,
		State:  position.StateOpening,
	}))
	require.True(t, got.OpenedAt.IsZero())
	require.True(t, got.LastAddedAt.IsZero())
	require.Empty(t, got.ExitReasons)
}

func TestPendingOrderRoundTrip(t *testing.T) {
	now := time.Date(2025, 8, 14, 21, 0, 0, 0, time.UTC)
	o := PendingOrder{
		ClientID:  "cycle-1-AAPL",
		Symbol:    "aapl",
		Side:      market.SideLong,
		Action:    market.ActionOpen,
		Quantity:  12,
		TargetPct: 0.02,
		Price:     187.44,
		Reasons:   []string{"rank 1, score 0.78, momentum 3.10%"},
	}

	got := pendingModelToRecord(newPendingModel(o, now))
	require.Equal(t, "cycle-1-AAPL", got.ClientID)
	require.Equal(t, "AAPL", got.Symbol)
	require.Equal(t, market.ActionOpen, got.Action)
	require.Equal(t, int64(12), got.Quantity)
	require.Equal(t, 0.02, got.TargetPct)
	require.Equal(t, 187.44, got.Price)
	require.Equal(t, PendingQueued, got.Status)
	require.True(t, got.QueuedAt.Equal(now))
	require.Equal(t, o.Reasons, got.Reasons)
}
