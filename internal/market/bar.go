package market

import (
	"errors"
	"sort"
	"time"
)

// Bar is one daily OHLCV bar.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
}

// Series is an immutable price history: ascending by timestamp, no duplicate
// timestamps. Construct through NewSeries; never mutate after construction.
type Series struct {
	bars []Bar
}

var errEmptySeries = errors.New("market: empty price series")

// NewSeries normalizes raw bars into a Series: sorts ascending and keeps the
// last bar seen for a duplicated timestamp (feeds occasionally resend the
// current day). An empty input is an error.
func NewSeries(bars []Bar) (Series, error) {
	if len(bars) == 0 {
		return Series{}, errEmptySeries
	}
	sorted := make([]Bar, len(bars))
	copy(sorted, bars)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})
	out := sorted[:0]
	for _, b := range sorted {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(b.Timestamp) {
			out[n-1] = b
			continue
		}
		out = append(out, b)
	}
	return Series{bars: out}, nil
}

func (s Series) Len() int { return len(s.bars) }

// Bars returns a copy so callers cannot mutate the series.
func (s Series) Bars() []Bar {
	out := make([]Bar, len(s.bars))
	copy(out, s.bars)
	return out
}

// Closes returns the close column, oldest first.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s.bars))
	for i, b := range s.bars {
		out[i] = b.Close
	}
	return out
}

// Last returns the most recent bar; ok is false for an empty series.
func (s Series) Last() (Bar, bool) {
	if len(s.bars) == 0 {
		return Bar{}, false
	}
	return s.bars[len(s.bars)-1], true
}
