package sentiment

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeSingleSourceKeepsNormalizedRank(t *testing.T) {
	lists := []SourceList{
		{Source: "apewisdom", Cap: 20, Entries: []Entry{
			{Symbol: "GME", Rank: 1, Mentions: 900},
			{Symbol: "AMC", Rank: 4, Mentions: 300},
		}},
	}
	out := Merge(lists, 0)
	require.Len(t, out, 2)
	assert.Equal(t, 1.0, out["GME"].Rank)
	assert.Equal(t, 4.0, out["AMC"].Rank)
	assert.Equal(t, []string{"apewisdom"}, out["GME"].PresentIn)
}

func TestMergeTwoSourcesUsesMean(t *testing.T) {
	// Common scale: rank 3 on one feed and rank 7 on the other average to 5.
	lists := []SourceList{
		{Source: "apewisdom", Cap: 20, Entries: []Entry{{Symbol: "X", Rank: 3}}},
		{Source: "stocktwits", Cap: 20, Entries: []Entry{{Symbol: "X", Rank: 7}}},
	}
	out := Merge(lists, 0)
	require.Contains(t, out, "X")
	assert.Equal(t, 5.0, out["X"].Rank)
	assert.Equal(t, []string{"apewisdom", "stocktwits"}, out["X"].PresentIn)
}

func TestMergeThreeSourcesUsesBestRank(t *testing.T) {
	// Three or more sources fall back to the best rank, not the mean.
	lists := []SourceList{
		{Source: "a", Cap: 20, Entries: []Entry{{Symbol: "X", Rank: 9}}},
		{Source: "b", Cap: 20, Entries: []Entry{{Symbol: "X", Rank: 2}}},
		{Source: "c", Cap: 20, Entries: []Entry{{Symbol: "X", Rank: 15}}},
	}
	out := Merge(lists, 0)
	require.Contains(t, out, "X")
	assert.Equal(t, 2.0, out["X"].Rank)
}

func TestMergeNormalizesDifferentCaps(t *testing.T) {
	// Rank 5 of 50 rescaled to a cap of 20 is 2; mean with rank 4 of 20 is 3.
	lists := []SourceList{
		{Source: "wide", Cap: 50, Entries: []Entry{{Symbol: "X", Rank: 5}}},
		{Source: "narrow", Cap: 20, Entries: []Entry{{Symbol: "X", Rank: 4}}},
	}
	out := Merge(lists, 20)
	require.Contains(t, out, "X")
	assert.InDelta(t, 3.0, out["X"].Rank, 1e-9)
}

func TestMergeAbsentSymbolHasNoEntry(t *testing.T) {
	lists := []SourceList{
		{Source: "apewisdom", Cap: 20, Entries: []Entry{{Symbol: "GME", Rank: 1}}},
	}
	out := Merge(lists, 0)
	_, ok := out["TSLA"]
	assert.False(t, ok, "a symbol in zero sources must not be ranked at all")
}

func TestMergeSkipsDuplicateAndInvalidEntries(t *testing.T) {
	lists := []SourceList{
		{Source: "apewisdom", Cap: 20, Entries: []Entry{
			{Symbol: "gme", Rank: 2, Mentions: 10},
			{Symbol: "GME", Rank: 9, Mentions: 99}, // duplicate after normalization
			{Symbol: "", Rank: 3},
			{Symbol: "BAD", Rank: 0},
		}},
	}
	out := Merge(lists, 0)
	require.Len(t, out, 1)
	assert.Equal(t, 2.0, out["GME"].Rank)
	assert.Equal(t, int64(10), out["GME"].Mentions)
}

type stubFeed struct {
	name    string
	cap     int
	entries []Entry
	err     error
}

func (f stubFeed) Name() string { return f.name }
func (f stubFeed) Cap() int     { return f.cap }
func (f stubFeed) Fetch(context.Context) ([]Entry, error) {
	return f.entries, f.err
}

func TestScannerDropsFailedSources(t *testing.T) {
	scanner := NewScanner([]Feed{
		stubFeed{name: "apewisdom", cap: 20, entries: []Entry{{Symbol: "GME", Rank: 1}}},
		stubFeed{name: "stocktwits", cap: 20, err: errors.New("503: " + ErrSourceUnavailable.Error())},
	}, 0)

	unified, stats := scanner.Scan(context.Background())
	require.Contains(t, unified, "GME")
	assert.Equal(t, []string{"stocktwits"}, stats.Failed)
	assert.Equal(t, 2, stats.Sources)
	assert.Equal(t, 1, stats.Symbols)
}

func TestScannerFiltersCryptoTickers(t *testing.T) {
	scanner := NewScanner([]Feed{
		stubFeed{name: "stocktwits", cap: 20, entries: []Entry{
			{Symbol: "BTC.X", Rank: 1},
			{Symbol: "NVDA", Rank: 2},
		}},
	}, 0)

	unified, stats := scanner.Scan(context.Background())
	assert.NotContains(t, unified, "BTC.X")
	assert.Contains(t, unified, "NVDA")
	assert.Equal(t, 1, stats.Symbols)
}
