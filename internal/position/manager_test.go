package position

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swell/internal/analysis/indicator"
	"swell/internal/market"
	"swell/internal/rank"
)

// holdRead is a read that trips no exit rule for its side: trend aligned,
// RSI and MACD on the favorable side, mild momentum.
func holdRead(symbol string, side market.Side, price, score float64) indicator.Read {
	r := indicator.Read{
		Symbol:      symbol,
		Side:        side,
		Price:       price,
		Score:       score,
		MomentumPct: side.Sign() * 1.0,
		BBUpper:     price * 1.05,
		BBMiddle:    price,
		BBLower:     price * 0.95,
	}
	if side == market.SideLong {
		r.SMA20, r.SMA50 = price*0.98, price*0.96
		r.RSI = 55
		r.MACDLine, r.MACDSignal = 1.2, 1.0
	} else {
		r.SMA20, r.SMA50 = price*1.02, price*1.04
		r.RSI = 45
		r.MACDLine, r.MACDSignal = -1.2, -1.0
	}
	return r
}

func rankedSymbols(side market.Side, symbols ...string) []rank.Composite {
	out := make([]rank.Composite, len(symbols))
	for i, s := range symbols {
		out[i] = rank.Composite{Symbol: s, Side: side, TechnicalRank: i + 1, FinalScore: float64(i + 1)}
	}
	return out
}

func candidate(symbol string, side market.Side, price float64) rank.Composite {
	return rank.Composite{
		Symbol:         symbol,
		Side:           side,
		TechnicalScore: 0.75,
		Percentile:     0.90,
		MomentumPct:    side.Sign() * 3.0,
		Price:          price,
		Eligible:       true,
	}
}

var testNow = time.Date(2025, 8, 14, 15, 0, 0, 0, time.UTC)

func exitInputs(reads map[string]indicator.Read, rankings map[market.Side][]rank.Composite) ExitInputs {
	return ExitInputs{Reads: reads, Rankings: rankings, Now: testNow}
}

func TestExitStopLoss(t *testing.T) {
	p := openPos("AAPL", market.SideLong, 100, 100, 94.9)
	p.OpenedAt = testNow.Add(-24 * time.Hour)
	b := testBook(100_000, p)
	m := NewManager(DefaultLimits())

	got := m.EvaluateExits(b, exitInputs(
		map[string]indicator.Read{"AAPL": holdRead("AAPL", market.SideLong, 94.9, 0.60)},
		map[market.Side][]rank.Composite{market.SideLong: rankedSymbols(market.SideLong, "AAPL")},
	))

	require.Len(t, got, 1)
	assert.Equal(t, market.ActionClose, got[0].Action)
	assert.Equal(t, int64(100), got[0].Quantity)
	require.Len(t, got[0].Reasons, 1)
	assert.Contains(t, got[0].Reasons[0], "stop loss")
}

func TestExitMomentumAgainstSide(t *testing.T) {
	m := NewManager(DefaultLimits())

	cases := []struct {
		name     string
		side     market.Side
		momentum float64
		want     bool
	}{
		{"long well against", market.SideLong, -2.5, true},
		{"long exactly at threshold", market.SideLong, -2.0, false},
		{"long mild drawdown", market.SideLong, -1.9, false},
		{"short well against", market.SideShort, 2.5, true},
		{"short favorable", market.SideShort, -2.5, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := openPos("GME", tc.side, 100, 20, 20)
			p.OpenedAt = testNow.Add(-24 * time.Hour)
			b := testBook(100_000, p)

			read := holdRead("GME", tc.side, 20, 0.60)
			read.MomentumPct = tc.momentum
			got := m.EvaluateExits(b, exitInputs(
				map[string]indicator.Read{"GME": read},
				map[market.Side][]rank.Composite{tc.side: rankedSymbols(tc.side, "GME")},
			))

			if !tc.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Contains(t, got[0].Reasons[0], "momentum")
		})
	}
}

func TestExitScoreFloor(t *testing.T) {
	m := NewManager(DefaultLimits())
	rankings := map[market.Side][]rank.Composite{market.SideLong: rankedSymbols(market.SideLong, "AAPL")}

	p := openPos("AAPL", market.SideLong, 100, 50, 50)
	p.OpenedAt = testNow.Add(-24 * time.Hour)
	b := testBook(100_000, p)

	got := m.EvaluateExits(b, exitInputs(
		map[string]indicator.Read{"AAPL": holdRead("AAPL", market.SideLong, 50, 0.30)}, rankings))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Reasons[0], "below exit floor")

	// the floor is strict
	got = m.EvaluateExits(b, exitInputs(
		map[string]indicator.Read{"AAPL": holdRead("AAPL", market.SideLong, 50, 0.35)}, rankings))
	assert.Empty(t, got)
}

func TestExitTwoOfThreeReversal(t *testing.T) {
	m := NewManager(DefaultLimits())
	rankings := map[market.Side][]rank.Composite{market.SideLong: rankedSymbols(market.SideLong, "AAPL")}
	p := openPos("AAPL", market.SideLong, 100, 50, 50)
	p.OpenedAt = testNow.Add(-24 * time.Hour)
	b := testBook(100_000, p)

	read := holdRead("AAPL", market.SideLong, 50, 0.60)
	read.RSI = 45
	read.MACDLine, read.MACDSignal = 0.8, 1.0
	require.Equal(t, 2, read.ReversalCount())

	got := m.EvaluateExits(b, exitInputs(map[string]indicator.Read{"AAPL": read}, rankings))
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Reasons[0], "signals reversed")

	// a single reversal signal is not enough
	read = holdRead("AAPL", market.SideLong, 50, 0.60)
	read.RSI = 45
	require.Equal(t, 1, read.ReversalCount())
	got = m.EvaluateExits(b, exitInputs(map[string]indicator.Read{"AAPL": read}, rankings))
	assert.Empty(t, got)
}

func TestExitStagnation(t *testing.T) {
	m := NewManager(DefaultLimits())
	rankings := map[market.Side][]rank.Composite{market.SideLong: rankedSymbols(market.SideLong, "AAPL")}

	cases := []struct {
		name    string
		ageDays int
		current float64
		want    bool
	}{
		{"old and flat", 6, 100.3, true},
		{"old but moving", 6, 101.5, false},
		{"young and flat", 4, 100.3, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := openPos("AAPL", market.SideLong, 100, 100, tc.current)
			p.OpenedAt = testNow.Add(-time.Duration(tc.ageDays) * 24 * time.Hour)
			b := testBook(100_000, p)

			got := m.EvaluateExits(b, exitInputs(
				map[string]indicator.Read{"AAPL": holdRead("AAPL", market.SideLong, tc.current, 0.60)},
				rankings,
			))
			if !tc.want {
				assert.Empty(t, got)
				return
			}
			require.Len(t, got, 1)
			assert.Contains(t, got[0].Reasons[0], "stagnant")
		})
	}
}

func TestExitRankDrop(t *testing.T) {
	m := NewManager(DefaultLimits())
	twelve := rankedSymbols(market.SideLong,
		"S01", "S02", "S03", "S04", "S05", "S06", "S07", "S08", "S09", "S10", "S11", "LAST")

	run := func(score float64, rankings []rank.Composite) []Decision {
		p := openPos("LAST", market.SideLong, 100, 50, 50)
		p.OpenedAt = testNow.Add(-24 * time.Hour)
		b := testBook(100_000, p)
		return m.EvaluateExits(b, exitInputs(
			map[string]indicator.Read{"LAST": holdRead("LAST", market.SideLong, 50, score)},
			map[market.Side][]rank.Composite{market.SideLong: rankings},
		))
	}

	got := run(0.38, twelve)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Reasons[0], "out of top 10")

	// weak score alone is not enough while the symbol still ranks
	assert.Empty(t, run(0.38, rankedSymbols(market.SideLong, "LAST")))

	// a poor standing alone is not enough either
	assert.Empty(t, run(0.45, twelve))

	// dropping out of the ranking entirely counts as a rank drop
	got = run(0.38, nil)
	require.Len(t, got, 1)
	assert.Contains(t, got[0].Reasons[0], "out of ranking")
}

func TestExitOverexposedWeakestFirst(t *testing.T) {
	m := NewManager(DefaultLimits())
	aaa := openPos("AAA", market.SideLong, 6000, 10, 10)
	bbb := openPos("BBB", market.SideLong, 6000, 10, 10)
	ccc := openPos("CCC", market.SideShort, 3000, 20, 20)
	aaa.OpenedAt, bbb.OpenedAt, ccc.OpenedAt = testNow.Add(-24*time.Hour), testNow.Add(-24*time.Hour), testNow.Add(-24*time.Hour)
	b := testBook(100_000, aaa, bbb, ccc)
	require.Greater(t, b.TotalExposure(), 1.60)

	got := m.EvaluateExits(b, exitInputs(
		map[string]indicator.Read{
			"AAA": holdRead("AAA", market.SideLong, 10, 0.45),
			"BBB": holdRead("BBB", market.SideLong, 10, 0.40),
			"CCC": holdRead("CCC", market.SideShort, 20, 0.60),
		},
		map[market.Side][]rank.Composite{
			market.SideLong:  rankedSymbols(market.SideLong, "AAA", "BBB"),
			market.SideShort: rankedSymbols(market.SideShort, "CCC"),
		},
	))

	require.Len(t, got, 2)
	assert.Equal(t, "BBB", got[0].Symbol)
	assert.Equal(t, "AAA", got[1].Symbol)
	for _, d := range got {
		assert.Contains(t, d.Reasons[0], "aggregate cap")
	}
}

func TestExitRuleHitsPrecedeOverexposureShedding(t *testing.T) {
	m := NewManager(DefaultLimits())
	aaa := openPos("AAA", market.SideLong, 6000, 10, 10)
	ddd := openPos("DDD", market.SideLong, 6000, 10, 10)
	eee := openPos("EEE", market.SideShort, 3000, 20, 20)
	aaa.OpenedAt, ddd.OpenedAt, eee.OpenedAt = testNow.Add(-24*time.Hour), testNow.Add(-24*time.Hour), testNow.Add(-24*time.Hour)
	b := testBook(100_000, aaa, ddd, eee)
	require.Greater(t, b.TotalExposure(), 1.60)

	// DDD trips the exit floor outright, AAA only the over-exposure rule
	got := m.EvaluateExits(b, exitInputs(
		map[string]indicator.Read{
			"AAA": holdRead("AAA", market.SideLong, 10, 0.45),
			"DDD": holdRead("DDD", market.SideLong, 10, 0.30),
			"EEE": holdRead("EEE", market.SideShort, 20, 0.60),
		},
		map[market.Side][]rank.Composite{
			market.SideLong:  rankedSymbols(market.SideLong, "AAA", "DDD"),
			market.SideShort: rankedSymbols(market.SideShort, "EEE"),
		},
	))

	require.Len(t, got, 2)
	assert.Equal(t, "DDD", got[0].Symbol)
	require.Len(t, got[0].Reasons, 2)
	assert.Equal(t, "AAA", got[1].Symbol)
}

func TestExitSkipsPendingAndUnreadPositions(t *testing.T) {
	m := NewManager(DefaultLimits())

	closing := openPos("AAPL", market.SideLong, 100, 100, 90)
	closing.State = StateClosing
	opening := openPos("MSFT", market.SideLong, 0, 0, 0)
	opening.State = StateOpening
	unread := openPos("GME", market.SideShort, 100, 20, 30)
	b := testBook(100_000, closing, opening, unread)

	got := m.EvaluateExits(b, exitInputs(
		map[string]indicator.Read{
			"AAPL": holdRead("AAPL", market.SideLong, 90, 0.60),
			"MSFT": holdRead("MSFT", market.SideLong, 100, 0.60),
		},
		nil,
	))
	assert.Empty(t, got)
}

func TestExitPassIsRepeatable(t *testing.T) {
	m := NewManager(DefaultLimits())
	p := openPos("AAPL", market.SideLong, 100, 100, 94.0)
	p.OpenedAt = testNow.Add(-24 * time.Hour)
	b := testBook(100_000, p)
	in := exitInputs(
		map[string]indicator.Read{"AAPL": holdRead("AAPL", market.SideLong, 94.0, 0.60)},
		map[market.Side][]rank.Composite{market.SideLong: rankedSymbols(market.SideLong, "AAPL")},
	)

	first := m.EvaluateExits(b, in)
	second := m.EvaluateExits(b, in)
	require.Equal(t, first, second)
	require.Len(t, first, 1)

	// once the close is applied the position stops being evaluated
	require.True(t, b.RequestClose("AAPL"))
	assert.Empty(t, m.EvaluateExits(b, in))
}

func TestEntryOpensTopCandidates(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000)

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong:  {candidate("AAA", market.SideLong, 50), candidate("BBB", market.SideLong, 20)},
		market.SideShort: {candidate("NOPE", market.SideShort, 10)},
	})

	require.Empty(t, res.Rejections)
	assert.False(t, res.Frozen)
	require.Len(t, res.Decisions, 3)

	assert.Equal(t, "AAA", res.Decisions[0].Symbol)
	assert.Equal(t, market.ActionOpen, res.Decisions[0].Action)
	assert.Equal(t, int64(40), res.Decisions[0].Quantity)
	assert.InDelta(t, 0.02, res.Decisions[0].StepFrac, 1e-12)

	assert.Equal(t, "BBB", res.Decisions[1].Symbol)
	assert.Equal(t, int64(100), res.Decisions[1].Quantity)

	assert.Equal(t, "NOPE", res.Decisions[2].Symbol)
	assert.Equal(t, market.SideShort, res.Decisions[2].Side)
	assert.Equal(t, int64(200), res.Decisions[2].Quantity)
}

func TestEntryWindowCountsRawStandings(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000)

	var ranking []rank.Composite
	for i := 0; i < 11; i++ {
		c := candidate(string(rune('A'+i))+"X", market.SideLong, 10)
		if i == 2 {
			c.Eligible = false
		}
		ranking = append(ranking, c)
	}

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{market.SideLong: ranking})
	require.Len(t, res.Decisions, 9)
	for _, d := range res.Decisions {
		assert.NotEqual(t, "CX", d.Symbol)
		assert.NotEqual(t, "KX", d.Symbol)
	}
}

func TestEntryRejectedAtSideWall(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 3900, 10, 10),
		openPos("MSFT", market.SideLong, 3900, 10, 10),
	)
	require.InDelta(t, 0.78, b.LongExposure(), 1e-12)

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("NEW", market.SideLong, 10)},
	})

	assert.Empty(t, res.Decisions)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "NEW", res.Rejections[0].Symbol)
	assert.Equal(t, market.ActionOpen, res.Rejections[0].Action)
	assert.Contains(t, res.Rejections[0].Reason, "side cap")
}

func TestEntryAddsRemainingHeadroom(t *testing.T) {
	m := NewManager(DefaultLimits())

	p := openPos("AAPL", market.SideLong, 700, 10, 10)
	p.OpenedAt = testNow.Add(-24 * time.Hour)
	b := testBook(100_000, p)

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("AAPL", market.SideLong, 10)},
	})

	require.Len(t, res.Decisions, 1)
	d := res.Decisions[0]
	assert.Equal(t, market.ActionAdd, d.Action)
	assert.InDelta(t, 0.01, d.StepFrac, 1e-9)
	assert.Equal(t, int64(100), d.Quantity)

	// at the ceiling there is nothing left to add
	b.Upsert(openPos("AAPL", market.SideLong, 800, 10, 10))
	res = m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("AAPL", market.SideLong, 10)},
	})
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Rejections)
}

func TestEntryAddBlockedOnDrawdown(t *testing.T) {
	m := NewManager(DefaultLimits())

	p := openPos("AAPL", market.SideLong, 700, 10, 9.7)
	b := testBook(100_000, p)
	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("AAPL", market.SideLong, 9.7)},
	})
	assert.Empty(t, res.Decisions)

	// a milder drawdown still allows building
	b.Upsert(openPos("AAPL", market.SideLong, 700, 10, 9.9))
	res = m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("AAPL", market.SideLong, 9.9)},
	})
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, market.ActionAdd, res.Decisions[0].Action)
	assert.Equal(t, int64(108), res.Decisions[0].Quantity)
}

func TestEntryFreezeNearAggregateCap(t *testing.T) {
	m := NewManager(DefaultLimits())
	ranking := map[market.Side][]rank.Composite{
		market.SideLong: {candidate("NEW", market.SideLong, 10)},
	}

	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 7300, 10, 10),
		openPos("GME", market.SideShort, 3600, 20, 20),
	)
	require.InDelta(t, 1.45, b.TotalExposure(), 1e-12)

	res := m.EvaluateEntries(b, ranking)
	assert.True(t, res.Frozen)
	assert.Empty(t, res.Decisions)

	// exactly at the freeze level entries still run
	b = testBook(100_000,
		openPos("AAPL", market.SideLong, 7200, 10, 10),
		openPos("GME", market.SideShort, 3600, 20, 20),
	)
	require.InDelta(t, 1.44, b.TotalExposure(), 1e-12)

	res = m.EvaluateEntries(b, ranking)
	assert.False(t, res.Frozen)
	require.Len(t, res.Decisions, 1)
}

func TestEntrySkipsUnfillableShare(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000)

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("BRK", market.SideLong, 2500)},
	})
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Rejections)
}

func TestEntrySkipsOppositeSideAndInflight(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000, openPos("AAPL", market.SideLong, 100, 10, 10))
	b.MarkInflight("NEW", market.SideLong)

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong:  {candidate("NEW", market.SideLong, 10)},
		market.SideShort: {candidate("AAPL", market.SideShort, 10)},
	})
	assert.Empty(t, res.Decisions)
	assert.Empty(t, res.Rejections)
}

func TestEntryStepsSeeEachOther(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000, openPos("AAPL", market.SideLong, 7700, 10, 10))
	require.InDelta(t, 0.77, b.LongExposure(), 1e-12)

	res := m.EvaluateEntries(b, map[market.Side][]rank.Composite{
		market.SideLong: {candidate("N1", market.SideLong, 10), candidate("N2", market.SideLong, 10)},
	})

	require.Len(t, res.Decisions, 1)
	assert.Equal(t, "N1", res.Decisions[0].Symbol)
	require.Len(t, res.Rejections, 1)
	assert.Equal(t, "N2", res.Rejections[0].Symbol)
}

func TestEntryUsesCapacityFreedByExits(t *testing.T) {
	m := NewManager(DefaultLimits())
	b := testBook(100_000,
		openPos("AAPL", market.SideLong, 7400, 10, 10),
		openPos("MSFT", market.SideLong, 500, 10, 10),
	)
	ranking := map[market.Side][]rank.Composite{
		market.SideLong: {candidate("NEW", market.SideLong, 10)},
	}

	res := m.EvaluateEntries(b, ranking)
	require.Len(t, res.Rejections, 1)

	require.True(t, b.RequestClose("MSFT"))
	res = m.EvaluateEntries(b, ranking)
	require.Len(t, res.Decisions, 1)
	assert.Equal(t, "NEW", res.Decisions[0].Symbol)
}
