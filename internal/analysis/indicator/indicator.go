// Package indicator converts daily price history into side-aware technical
// reads: SMA trend, RSI band, MACD state, Bollinger position, short-window
// momentum, and a weighted score in [0,1]. Everything here is a pure function
// of its inputs; reads are computed fresh each cycle and never cached.
package indicator

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"swell/internal/market"
)

// Weights are the fixed contributions of each signal to the raw score. The
// raw score lives in [-100, +120] (the momentum bonus is one-sided) and is
// normalized by (raw+100)/200, clamped to [0,1].
type Weights struct {
	Trend         float64 `json:"trend"`
	RSIBand       float64 `json:"rsi_band"`
	MACDState     float64 `json:"macd_state"`
	Bollinger     float64 `json:"bollinger"`
	MomentumBonus float64 `json:"momentum_bonus"`
}

// Config fixes lookbacks and weights. These are static per process, not
// tunable per call.
type Config struct {
	SMAFast          int     // 20
	SMASlow          int     // 50
	RSIPeriod        int     // 14
	RSIOversold      float64 // 30
	RSIOverbought    float64 // 70
	MACDFast         int     // 12
	MACDSlow         int     // 26
	MACDSignal       int     // 9
	BBPeriod         int     // 5, the talib default the reference relied on
	BBDev            float64 // 2
	MomentumLookback int     // 5 bars back, one trading week
	MinHistory       int     // 50, the longest lookback
	Weights          Weights
}

// DefaultConfig returns the documented reference parameters.
func DefaultConfig() Config {
	return Config{
		SMAFast:          20,
		SMASlow:          50,
		RSIPeriod:        14,
		RSIOversold:      30,
		RSIOverbought:    70,
		MACDFast:         12,
		MACDSlow:         26,
		MACDSignal:       9,
		BBPeriod:         5,
		BBDev:            2,
		MomentumLookback: 5,
		MinHistory:       50,
		Weights: Weights{
			Trend:         20,
			RSIBand:       30,
			MACDState:     25,
			Bollinger:     25,
			MomentumBonus: 20,
		},
	}
}

// Read is one symbol's technical state evaluated for one side. Score is
// side-favorability: high means conditions favor the evaluated side, for
// longs and shorts alike.
type Read struct {
	Symbol      string      `json:"symbol"`
	Side        market.Side `json:"side"`
	Price       float64     `json:"price"`
	SMA20       float64     `json:"sma20"`
	SMA50       float64     `json:"sma50"`
	RSI         float64     `json:"rsi"`
	MACDLine    float64     `json:"macd_line"`
	MACDSignal  float64     `json:"macd_signal"`
	BBUpper     float64     `json:"bb_upper"`
	BBMiddle    float64     `json:"bb_middle"`
	BBLower     float64     `json:"bb_lower"`
	MomentumPct float64     `json:"momentum_pct"`
	RawScore    float64     `json:"raw_score"`
	Score       float64     `json:"score"`
	Signals     []string    `json:"signals,omitempty"`
	Warnings    []string    `json:"warnings,omitempty"`
}

// ReversalCount returns how many of the three reversal signals currently
// read against the evaluated side: price beyond both SMAs the wrong way,
// MACD line on the wrong side of its signal, RSI across the 50 midline the
// wrong way. Exit policy treats any two together as a reversal.
func (r Read) ReversalCount() int {
	n := 0
	if r.Side == market.SideLong {
		if r.Price < r.SMA20 && r.Price < r.SMA50 {
			n++
		}
		if r.MACDLine < r.MACDSignal {
			n++
		}
		if r.RSI < 50 {
			n++
		}
		return n
	}
	if r.Price > r.SMA20 && r.Price > r.SMA50 {
		n++
	}
	if r.MACDLine > r.MACDSignal {
		n++
	}
	if r.RSI > 50 {
		n++
	}
	return n
}

// Compute evaluates one symbol for one side. It fails with
// market.ErrInsufficientHistory below cfg.MinHistory bars. A zero-loss RSI
// window is not an error: RSI pins to 100 with a warning on the read.
func Compute(symbol string, side market.Side, series market.Series, cfg Config) (Read, error) {
	read := Read{Symbol: symbol, Side: side}
	if n := series.Len(); n < cfg.MinHistory {
		return read, &market.InsufficientHistoryError{Symbol: symbol, Got: n, Required: cfg.MinHistory}
	}
	closes := series.Closes()
	last := len(closes) - 1
	read.Price = closes[last]

	read.SMA20 = lastValid(talib.Sma(closes, cfg.SMAFast))
	read.SMA50 = lastValid(talib.Sma(closes, cfg.SMASlow))

	rsi, degenerate := rsiWithFallback(closes, cfg.RSIPeriod)
	read.RSI = rsi
	if degenerate {
		read.Warnings = append(read.Warnings, fmt.Sprintf("degenerate rsi window for %s: zero average loss, pinned to 100", symbol))
	}

	macdLine, macdSignal, _ := talib.Macd(closes, cfg.MACDFast, cfg.MACDSlow, cfg.MACDSignal)
	read.MACDLine = lastValid(macdLine)
	read.MACDSignal = lastValid(macdSignal)

	upper, middle, lower := talib.BBands(closes, cfg.BBPeriod, cfg.BBDev, cfg.BBDev, talib.SMA)
	read.BBUpper = lastValid(upper)
	read.BBMiddle = lastValid(middle)
	read.BBLower = lastValid(lower)

	weekAgo := closes[len(closes)-cfg.MomentumLookback]
	if weekAgo != 0 {
		read.MomentumPct = round4((read.Price/weekAgo - 1) * 100)
	}

	scoreRead(&read, cfg)
	return read, nil
}

// scoreRead fills RawScore/Score/Signals. Each component contributes its
// weight positively when it favors the evaluated side and negatively when it
// reads against it; the momentum bonus only ever adds.
func scoreRead(r *Read, cfg Config) {
	w := cfg.Weights
	long := r.Side == market.SideLong
	raw := 0.0

	if r.SMA20 > r.SMA50 {
		if long {
			raw += w.Trend
			r.Signals = append(r.Signals, "uptrend: SMA20 above SMA50")
		} else {
			raw -= w.Trend
			r.Signals = append(r.Signals, "against short: SMA20 above SMA50")
		}
	} else {
		if long {
			raw -= w.Trend
			r.Signals = append(r.Signals, "against long: SMA20 below SMA50")
		} else {
			raw += w.Trend
			r.Signals = append(r.Signals, "downtrend: SMA20 below SMA50")
		}
	}

	switch {
	case r.RSI < cfg.RSIOversold:
		if long {
			raw += w.RSIBand
			r.Signals = append(r.Signals, fmt.Sprintf("oversold: RSI %.1f", r.RSI))
		} else {
			raw -= w.RSIBand
			r.Signals = append(r.Signals, fmt.Sprintf("against short: RSI oversold at %.1f", r.RSI))
		}
	case r.RSI > cfg.RSIOverbought:
		if long {
			raw -= w.RSIBand
			r.Signals = append(r.Signals, fmt.Sprintf("against long: RSI overbought at %.1f", r.RSI))
		} else {
			raw += w.RSIBand
			r.Signals = append(r.Signals, fmt.Sprintf("overbought: RSI %.1f", r.RSI))
		}
	default:
		r.Signals = append(r.Signals, fmt.Sprintf("RSI neutral at %.1f", r.RSI))
	}

	if r.MACDLine > r.MACDSignal {
		if long {
			raw += w.MACDState
			r.Signals = append(r.Signals, "MACD above signal")
		} else {
			raw -= w.MACDState
			r.Signals = append(r.Signals, "against short: MACD above signal")
		}
	} else {
		if long {
			raw -= w.MACDState
			r.Signals = append(r.Signals, "against long: MACD below signal")
		} else {
			raw += w.MACDState
			r.Signals = append(r.Signals, "MACD below signal")
		}
	}

	switch {
	case r.Price < r.BBLower:
		if long {
			raw += w.Bollinger
			r.Signals = append(r.Signals, "price below lower band")
		} else {
			raw -= w.Bollinger
			r.Signals = append(r.Signals, "against short: price below lower band")
		}
	case r.Price > r.BBUpper:
		if long {
			raw -= w.Bollinger
			r.Signals = append(r.Signals, "against long: price above upper band")
		} else {
			raw += w.Bollinger
			r.Signals = append(r.Signals, "price above upper band")
		}
	}

	if long && r.MomentumPct > 0 {
		raw += w.MomentumBonus
		r.Signals = append(r.Signals, fmt.Sprintf("momentum +%.1f%%", r.MomentumPct))
	}
	if !long && r.MomentumPct < 0 {
		raw += w.MomentumBonus
		r.Signals = append(r.Signals, fmt.Sprintf("momentum %.1f%%", r.MomentumPct))
	}

	r.RawScore = raw
	r.Score = round4(clamp01((raw + 100) / 200))
}

// rsiWithFallback computes RSI(period) on the close column and reports
// whether the series was degenerate. Wilder smoothing divides by average
// loss, and average loss is zero only when the series never moved down, so
// that case is pinned to 100 here rather than trusted to float division.
func rsiWithFallback(closes []float64, period int) (float64, bool) {
	hasLoss := false
	for i := 1; i < len(closes); i++ {
		if closes[i] < closes[i-1] {
			hasLoss = true
			break
		}
	}
	if !hasLoss {
		return 100, true
	}
	return lastValid(talib.Rsi(closes, period)), false
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if !math.IsNaN(series[i]) && !math.IsInf(series[i], 0) {
			return series[i]
		}
	}
	return 0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
