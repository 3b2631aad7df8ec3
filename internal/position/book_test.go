package position

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swell/internal/market"
)

func openPos(symbol string, side market.Side, qty, entry, current float64) Position {
	return Position{
		Symbol:       symbol,
		Side:         side,
		State:        StateOpen,
		Quantity:     qty,
		EntryPrice:   entry,
		CurrentPrice: current,
	}
}

func testBook(equity float64, positions ...Position) *Book {
	b := NewBook(equity, DefaultLimits())
	for _, p := range positions {
		b.Upsert(p)
	}
	return b
}

func TestBookExposureTotals(t *testing.T) {
	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 100, 48, 50),
		openPos("MSFT", market.SideLong, 30, 95, 100),
		openPos("GME", market.SideShort, 200, 22, 20),
	)

	assert.InDelta(t, 0.08, b.LongExposure(), 1e-12)
	assert.InDelta(t, 0.04, b.ShortExposure(), 1e-12)
	assert.InDelta(t, 0.12, b.TotalExposure(), 1e-12)
	assert.InDelta(t, 0.05, b.ExposureOf("AAPL"), 1e-12)
	assert.Zero(t, b.ExposureOf("TSLA"))
}

func TestBookClosingReleasesExposure(t *testing.T) {
	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 100, 48, 50),
		openPos("MSFT", market.SideLong, 30, 95, 100),
	)

	require.True(t, b.RequestClose("AAPL"))
	assert.InDelta(t, 0.03, b.LongExposure(), 1e-12)
	assert.Zero(t, b.ExposureOf("AAPL"))

	got, ok := b.Get("AAPL")
	require.True(t, ok)
	assert.Equal(t, StateClosing, got.State)

	// repeat request is a no-op
	assert.False(t, b.RequestClose("AAPL"))
	assert.False(t, b.RequestClose("TSLA"))
}

func TestBookUpsertReplaces(t *testing.T) {
	b := testBook(100_000, openPos("AAPL", market.SideLong, 100, 50, 50))
	assert.InDelta(t, 0.05, b.LongExposure(), 1e-12)

	b.Upsert(openPos("AAPL", market.SideLong, 100, 50, 60))
	assert.InDelta(t, 0.06, b.LongExposure(), 1e-12)
	assert.Equal(t, 1, b.Len())
}

func TestCanStepPositionCeiling(t *testing.T) {
	// landing exactly on the per-symbol ceiling is allowed
	b := testBook(100_000, openPos("AAPL", market.SideLong, 600, 10, 10))
	assert.NoError(t, b.CanStep("AAPL", market.SideLong, 0.02))

	// one tick past it is not
	b = testBook(100_000, openPos("AAPL", market.SideLong, 650, 10, 10))
	err := b.CanStep("AAPL", market.SideLong, 0.02)
	var viol *ExposureViolationError
	require.ErrorAs(t, err, &viol)
	assert.Equal(t, LimitPosition, viol.Limit)
	assert.InDelta(t, 0.085, viol.Proposed, 1e-12)
}

func TestCanStepSideWall(t *testing.T) {
	// long side at 78%: a 2% step projects exactly onto the 80% wall and is
	// rejected, not clipped
	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 3900, 10, 10),
		openPos("MSFT", market.SideLong, 3900, 10, 10),
	)
	require.InDelta(t, 0.78, b.LongExposure(), 1e-12)

	err := b.CanStep("NEW", market.SideLong, 0.02)
	var viol *ExposureViolationError
	require.ErrorAs(t, err, &viol)
	assert.Equal(t, LimitSide, viol.Limit)
	assert.InDelta(t, 0.78, viol.Current, 1e-12)
	assert.InDelta(t, 0.80, viol.Proposed, 1e-12)
	assert.InDelta(t, 0.80, viol.Cap, 1e-12)

	// the short side is untouched
	assert.NoError(t, b.CanStep("NEW", market.SideShort, 0.02))
}

func TestCanStepAggregateWall(t *testing.T) {
	// drift pushed the long side past its wall; the short side still has
	// room, but the aggregate wall does not
	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 8500, 8, 10),
		openPos("GME", market.SideShort, 3700, 22, 20),
	)
	require.InDelta(t, 1.59, b.TotalExposure(), 1e-12)

	err := b.CanStep("NEW", market.SideShort, 0.02)
	var viol *ExposureViolationError
	require.ErrorAs(t, err, &viol)
	assert.Equal(t, LimitAggregate, viol.Limit)
	assert.InDelta(t, 1.61, viol.Proposed, 1e-12)
	assert.InDelta(t, 1.60, viol.Cap, 1e-12)
}

func TestReservationsAccumulateWithinPass(t *testing.T) {
	b := testBook(100_000, openPos("AAPL", market.SideLong, 7700, 10, 10))
	require.InDelta(t, 0.77, b.LongExposure(), 1e-12)

	r := b.NewReservations()
	assert.NoError(t, r.Step("NEW1", market.SideLong, 0.02))

	// the first step's capacity is claimed: the second one hits the wall
	err := r.Step("NEW2", market.SideLong, 0.02)
	var viol *ExposureViolationError
	require.ErrorAs(t, err, &viol)
	assert.Equal(t, LimitSide, viol.Limit)
	assert.InDelta(t, 0.79, viol.Current, 1e-12)

	// a fresh check against the book alone still passes
	assert.NoError(t, b.CanStep("NEW2", market.SideLong, 0.02))
}

func TestBookPositionsSorted(t *testing.T) {
	b := testBook(100_000,
		openPos("MSFT", market.SideLong, 10, 100, 100),
		openPos("AAPL", market.SideLong, 10, 50, 50),
		openPos("GME", market.SideShort, 10, 20, 20),
	)

	got := b.Positions()
	require.Len(t, got, 3)
	assert.Equal(t, "AAPL", got[0].Symbol)
	assert.Equal(t, "GME", got[1].Symbol)
	assert.Equal(t, "MSFT", got[2].Symbol)

	snap := b.Snapshot()
	assert.InDelta(t, 100_000, snap.Equity, 1e-9)
	assert.Len(t, snap.Positions, 3)
	assert.InDelta(t, snap.LongExposure+snap.ShortExposure, snap.TotalExposure, 1e-12)
}

func TestBookInflight(t *testing.T) {
	b := testBook(100_000)
	assert.False(t, b.Inflight("NEW"))
	b.MarkInflight("NEW", market.SideLong)
	assert.True(t, b.Inflight("NEW"))
}

func TestExposureViolationUnwrapsAsItself(t *testing.T) {
	b := testBook(100_000, openPos("AAPL", market.SideLong, 3900, 10, 10))
	b.Upsert(openPos("MSFT", market.SideLong, 3900, 10, 10))

	err := b.CanStep("NEW", market.SideLong, 0.02)
	require.Error(t, err)
	assert.True(t, errors.As(err, new(*ExposureViolationError)))
	assert.Contains(t, err.Error(), "side cap")
}
