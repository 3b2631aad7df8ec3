// Package sentiment normalizes bounded per-source symbol rankings into one
// unified rank per symbol. Source-specific shapes stop at this boundary; the
// ranking engine downstream only ever sees UnifiedRank.
package sentiment

import (
	"context"
	"errors"
)

// ErrSourceUnavailable marks a feed that could not be fetched or parsed this
// cycle. The source's contribution is dropped; the cycle continues.
var ErrSourceUnavailable = errors.New("sentiment source unavailable")

// Entry is one symbol in one source's bounded ranking. Rank is 1-based and
// smaller means more bullish attention.
type Entry struct {
	Symbol   string `json:"symbol"`
	Rank     int    `json:"rank"`
	Mentions int64  `json:"mentions,omitempty"`
}

// Feed is a named, bounded ranking source (an ApeWisdom-style aggregator, a
// Stocktwits-style trending list). Cap is the largest rank the feed reports.
type Feed interface {
	Name() string
	Cap() int
	Fetch(ctx context.Context) ([]Entry, error)
}

// SourceList is one feed's fetch result, tagged for the merger.
type SourceList struct {
	Source  string
	Cap     int
	Entries []Entry
}

// UnifiedRank is the cross-source rank for one symbol. Smaller is better.
// Symbols absent from every source have no UnifiedRank at all; absence is
// never encoded as a worst-case rank.
type UnifiedRank struct {
	Symbol    string   `json:"symbol"`
	Rank      float64  `json:"rank"`
	Mentions  int64    `json:"mentions"`
	PresentIn []string `json:"present_in"`
}
