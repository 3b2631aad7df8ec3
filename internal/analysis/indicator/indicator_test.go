package indicator

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swell/internal/market"
)

func seriesFromCloses(t *testing.T, closes []float64) market.Series {
	t.Helper()
	base := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]market.Bar, len(closes))
	for i, c := range closes {
		bars[i] = market.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      c,
			High:      c * 1.01,
			Low:       c * 0.99,
			Close:     c,
			Volume:    1000,
		}
	}
	s, err := market.NewSeries(bars)
	require.NoError(t, err)
	return s
}

func risingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 100 + float64(i)
	}
	return out
}

func fallingCloses(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = 200 - float64(i)
	}
	return out
}

func TestComputeInsufficientHistory(t *testing.T) {
	s := seriesFromCloses(t, risingCloses(49))
	_, err := Compute("AAPL", market.SideLong, s, DefaultConfig())
	require.Error(t, err)
	assert.True(t, errors.Is(err, market.ErrInsufficientHistory))

	var detail *market.InsufficientHistoryError
	require.True(t, errors.As(err, &detail))
	assert.Equal(t, 49, detail.Got)
	assert.Equal(t, 50, detail.Required)
}

func TestComputeScoreBoundsAndDeterminism(t *testing.T) {
	cases := map[string][]float64{
		"rising":  risingCloses(60),
		"falling": fallingCloses(60),
		"choppy": func() []float64 {
			out := make([]float64, 60)
			for i := range out {
				out[i] = 100 + float64(i%7) - float64(i%3)
			}
			return out
		}(),
	}
	for name, closes := range cases {
		t.Run(name, func(t *testing.T) {
			s := seriesFromCloses(t, closes)
			for _, side := range []market.Side{market.SideLong, market.SideShort} {
				first, err := Compute("X", side, s, DefaultConfig())
				require.NoError(t, err)
				assert.GreaterOrEqual(t, first.Score, 0.0)
				assert.LessOrEqual(t, first.Score, 1.0)

				second, err := Compute("X", side, s, DefaultConfig())
				require.NoError(t, err)
				assert.Equal(t, first, second)
			}
		})
	}
}

func TestComputeSideFavorability(t *testing.T) {
	s := seriesFromCloses(t, risingCloses(60))

	long, err := Compute("UP", market.SideLong, s, DefaultConfig())
	require.NoError(t, err)
	short, err := Compute("UP", market.SideShort, s, DefaultConfig())
	require.NoError(t, err)

	assert.Greater(t, long.Score, short.Score, "an uptrend must favor the long read")
	assert.Positive(t, long.MomentumPct)
	assert.Equal(t, long.MomentumPct, short.MomentumPct, "momentum is side-independent")

	down := seriesFromCloses(t, fallingCloses(60))
	dLong, err := Compute("DOWN", market.SideLong, down, DefaultConfig())
	require.NoError(t, err)
	dShort, err := Compute("DOWN", market.SideShort, down, DefaultConfig())
	require.NoError(t, err)
	assert.Greater(t, dShort.Score, dLong.Score, "a downtrend must favor the short read")
	assert.Negative(t, dShort.MomentumPct)
}

func TestComputeMomentumLookback(t *testing.T) {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 100
	}
	// Default lookback compares against the fifth bar from the end.
	closes[55] = 100
	closes[59] = 105
	s := seriesFromCloses(t, closes)

	read, err := Compute("M", market.SideLong, s, DefaultConfig())
	require.NoError(t, err)
	assert.InDelta(t, 5.0, read.MomentumPct, 1e-9)
}

func TestComputeDegenerateSeries(t *testing.T) {
	// Strictly rising closes never print a loss: the RSI window is
	// degenerate and must pin to 100 without failing the read.
	s := seriesFromCloses(t, risingCloses(60))
	read, err := Compute("MONO", market.SideLong, s, DefaultConfig())
	require.NoError(t, err)
	assert.Equal(t, 100.0, read.RSI)
	require.NotEmpty(t, read.Warnings)
	assert.Contains(t, read.Warnings[0], "zero average loss")
}

func TestReversalCount(t *testing.T) {
	t.Run("long all against", func(t *testing.T) {
		r := Read{
			Side:       market.SideLong,
			Price:      90,
			SMA20:      95,
			SMA50:      100,
			MACDLine:   -1,
			MACDSignal: 0.5,
			RSI:        42,
		}
		assert.Equal(t, 3, r.ReversalCount())
	})
	t.Run("long one against", func(t *testing.T) {
		r := Read{
			Side:       market.SideLong,
			Price:      105,
			SMA20:      100,
			SMA50:      95,
			MACDLine:   -1,
			MACDSignal: 0.5,
			RSI:        61,
		}
		assert.Equal(t, 1, r.ReversalCount())
	})
	t.Run("short mirrored", func(t *testing.T) {
		r := Read{
			Side:       market.SideShort,
			Price:      110,
			SMA20:      105,
			SMA50:      100,
			MACDLine:   2,
			MACDSignal: 1,
			RSI:        66,
		}
		assert.Equal(t, 3, r.ReversalCount())
	})
}
