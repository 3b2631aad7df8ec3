// Package rank combines unified sentiment ranks with technical reads into a
// single comparable score per (symbol, side) and orders the cycle's
// candidates. Lower final score = stronger candidate.
package rank

import (
	"sort"

	"swell/internal/analysis/indicator"
	"swell/internal/market"
	"swell/internal/sentiment"
)

// Thresholds gate candidate eligibility. They are cycle-constant: Tighten
// derives an adjusted copy once per cycle, never mutates in place.
type Thresholds struct {
	// EntryPercentile is the cross-sectional bar a side score must clear,
	// expressed as a percentile rank in (0,1).
	EntryPercentile float64 `json:"entry_percentile"`
	// ScoreFloor is the minimum side score for any candidate.
	ScoreFloor float64 `json:"score_floor"`
	// TightenLevel and TightenMargin implement the capacity hysteresis:
	// above TightenLevel of the aggregate cap the percentile bar rises by
	// TightenMargin.
	TightenLevel  float64 `json:"tighten_level"`
	TightenMargin float64 `json:"tighten_margin"`
}

// Tighten returns the thresholds adjusted for current total exposure. Above
// TightenLevel of the aggregate cap the entry bar rises so new risk slows as
// the book fills. Pure: the receiver is never modified.
func (t Thresholds) Tighten(totalExposure, aggregateCap float64) Thresholds {
	if aggregateCap <= 0 {
		return t
	}
	if totalExposure > t.TightenLevel*aggregateCap {
		t.EntryPercentile += t.TightenMargin
		if t.EntryPercentile > 0.99 {
			t.EntryPercentile = 0.99
		}
	}
	return t
}

// Composite is one (symbol, side) standing in the cycle's ranking.
// FinalScore = sentiment rank + technical rank; ties resolve by the stronger
// technical score. Eligible marks entry candidates: the full ordered list
// still carries ineligible symbols because open positions are judged by
// their standing in it.
type Composite struct {
	Symbol         string      `json:"symbol"`
	Side           market.Side `json:"side"`
	SentimentRank  float64     `json:"sentiment_rank"`
	TechnicalRank  int         `json:"technical_rank"`
	FinalScore     float64     `json:"final_score"`
	TechnicalScore float64     `json:"technical_score"`
	Percentile     float64     `json:"percentile"`
	MomentumPct    float64     `json:"momentum_pct"`
	Price          float64     `json:"price"`
	Eligible       bool        `json:"eligible"`
}

// Build ranks every symbol that has both a unified sentiment rank and a
// technical read for the side. The returned slice is ordered ascending by
// FinalScore (ties: technical score descending, then symbol) and covers the
// whole pool; eligibility flags which entries clear the candidate filters.
func Build(side market.Side, unified map[string]sentiment.UnifiedRank, reads map[string]indicator.Read, th Thresholds) []Composite {
	pool := make([]Composite, 0, len(unified))
	scores := make([]float64, 0, len(unified))
	for symbol, u := range unified {
		read, ok := reads[symbol]
		if !ok || read.Side != side {
			continue
		}
		pool = append(pool, Composite{
			Symbol:         symbol,
			Side:           side,
			SentimentRank:  u.Rank,
			TechnicalScore: read.Score,
			MomentumPct:    read.MomentumPct,
			Price:          read.Price,
		})
		scores = append(scores, read.Score)
	}
	if len(pool) == 0 {
		return nil
	}

	// Technical rank 1 = strongest side score; symbol order breaks exact
	// score ties so reruns stay deterministic.
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].TechnicalScore != pool[j].TechnicalScore {
			return pool[i].TechnicalScore > pool[j].TechnicalScore
		}
		return pool[i].Symbol < pool[j].Symbol
	})
	for i := range pool {
		pool[i].TechnicalRank = i + 1
		pool[i].FinalScore = pool[i].SentimentRank + float64(pool[i].TechnicalRank)
	}

	for i := range pool {
		c := &pool[i]
		c.Percentile = percentileRank(scores, c.TechnicalScore)
		momentumOK := c.MomentumPct > 0
		if side == market.SideShort {
			momentumOK = c.MomentumPct < 0
		}
		c.Eligible = c.TechnicalScore > th.ScoreFloor &&
			c.Percentile > th.EntryPercentile &&
			momentumOK
	}

	sort.Slice(pool, func(i, j int) bool {
		if pool[i].FinalScore != pool[j].FinalScore {
			return pool[i].FinalScore < pool[j].FinalScore
		}
		if pool[i].TechnicalScore != pool[j].TechnicalScore {
			return pool[i].TechnicalScore > pool[j].TechnicalScore
		}
		return pool[i].Symbol < pool[j].Symbol
	})
	return pool
}

// Candidates filters the top window of the ordered ranking down to entry
// candidates: eligible and not already held. The window counts raw standings,
// so a held or ineligible symbol inside it still occupies its slot; nothing
// below the window ever enters.
func Candidates(ranking []Composite, open map[string]bool, window int) []Composite {
	out := make([]Composite, 0, window)
	for i, c := range ranking {
		if i == window {
			break
		}
		if !c.Eligible || open[c.Symbol] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Standing reports a symbol's 1-based position in the ordered ranking; ok is
// false when the symbol is not ranked this cycle (dropped from every
// sentiment source, or history too short to read).
func Standing(ranking []Composite, symbol string) (int, bool) {
	for i, c := range ranking {
		if c.Symbol == symbol {
			return i + 1, true
		}
	}
	return 0, false
}

// percentileRank is the pandas-style percentage rank: the average ordinal
// position of the value among all scores, divided by the count. Equal values
// share the average of their positions.
func percentileRank(scores []float64, v float64) float64 {
	if len(scores) == 0 {
		return 0
	}
	below := 0
	equal := 0
	for _, s := range scores {
		switch {
		case s < v:
			below++
		case s == v:
			equal++
		}
	}
	rank := float64(below) + float64(equal+1)/2
	return rank / float64(len(scores))
}
