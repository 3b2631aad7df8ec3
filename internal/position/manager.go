package position

import (
	"fmt"
	"math"
	"sort"
	"time"

	"swell/internal/analysis/indicator"
	"swell/internal/market"
	"swell/internal/rank"
)

// Decision is one proposed order. Quantity is whole shares; StepFrac is the
// exposure step that produced it, zero for closes.
type Decision struct {
	Symbol   string        `json:"symbol"`
	Side     market.Side   `json:"side"`
	Action   market.Action `json:"action"`
	Quantity int64         `json:"quantity"`
	Price    float64       `json:"price"`
	StepFrac float64       `json:"step_frac,omitempty"`
	Score    float64       `json:"score"`
	Reasons  []string      `json:"reasons"`
}

// Rejection is a proposed action the caps refused.
type Rejection struct {
	Symbol string        `json:"symbol"`
	Side   market.Side   `json:"side"`
	Action market.Action `json:"action"`
	Reason string        `json:"reason"`
}

// ExitInputs carries the per-position reads and the full side rankings the
// exit rules judge against. Reads are keyed by symbol and computed for the
// position's own side.
type ExitInputs struct {
	Reads    map[string]indicator.Read
	Rankings map[market.Side][]rank.Composite
	Now      time.Time
}

// EntryResult separates accepted decisions from cap rejections. Frozen marks
// a cycle where total exposure crossed the freeze level and the entry pass
// did not run.
type EntryResult struct {
	Decisions  []Decision  `json:"decisions"`
	Rejections []Rejection `json:"rejections,omitempty"`
	Frozen     bool        `json:"frozen,omitempty"`
}

// Manager runs the decision pass. It never mutates the book or talks to the
// brokerage: given the same book view, reads and rankings it returns the
// same decisions.
type Manager struct {
	limits Limits
}

func NewManager(limits Limits) *Manager {
	return &Manager{limits: limits}
}

// EvaluateExits applies the exit rules to every tradable position. Positions
// without a fresh read are held. Positions closed only for over-exposure are
// emitted after all other exits, weakest score first, so the brokerage sheds
// the worst risk as soon as the book is past the aggregate cap.
func (m *Manager) EvaluateExits(book *Book, in ExitInputs) []Decision {
	var out, overflow []Decision
	overCap := book.TotalExposure() > m.limits.MaxTotalExposure

	for _, p := range book.Positions() {
		if p.State != StateOpen && p.State != StateAdding {
			continue
		}
		read, ok := in.Reads[p.Symbol]
		if !ok {
			continue
		}
		reasons := m.exitReasons(p, read, in.Rankings[p.Side], in.Now)
		overExposed := overCap && read.Score < m.limits.OverexposedScore
		if len(reasons) == 0 && !overExposed {
			continue
		}
		if overExposed {
			reasons = append(reasons, fmt.Sprintf("book past aggregate cap with score %.2f below %.2f", read.Score, m.limits.OverexposedScore))
		}
		d := Decision{
			Symbol:   p.Symbol,
			Side:     p.Side,
			Action:   market.ActionClose,
			Quantity: int64(math.Round(p.Quantity)),
			Price:    read.Price,
			Score:    read.Score,
			Reasons:  reasons,
		}
		if overExposed && len(reasons) == 1 {
			overflow = append(overflow, d)
			continue
		}
		out = append(out, d)
	}

	sort.SliceStable(overflow, func(i, j int) bool {
		if overflow[i].Score != overflow[j].Score {
			return overflow[i].Score < overflow[j].Score
		}
		return overflow[i].Symbol < overflow[j].Symbol
	})
	return append(out, overflow...)
}

func (m *Manager) exitReasons(p Position, read indicator.Read, ranking []rank.Composite, now time.Time) []string {
	var reasons []string

	if p.Side == market.SideLong && read.MomentumPct < -m.limits.MomentumExitPct {
		reasons = append(reasons, fmt.Sprintf("momentum %.2f%% against long", read.MomentumPct))
	}
	if p.Side == market.SideShort && read.MomentumPct > m.limits.MomentumExitPct {
		reasons = append(reasons, fmt.Sprintf("momentum %.2f%% against short", read.MomentumPct))
	}

	if read.Score < m.limits.ExitScoreFloor {
		reasons = append(reasons, fmt.Sprintf("score %.2f below exit floor %.2f", read.Score, m.limits.ExitScoreFloor))
	}
	if n := read.ReversalCount(); n >= 2 {
		reasons = append(reasons, fmt.Sprintf("%d of 3 signals reversed", n))
	}

	pl := p.UnrealizedPLPct()
	if pl <= m.limits.StopLossPct {
		reasons = append(reasons, fmt.Sprintf("stop loss: unrealized P&L %.2f%%", pl))
	}

	if age := p.AgeDays(now); age > m.limits.MaxAgeDays && math.Abs(pl) < m.limits.StagnationPct {
		reasons = append(reasons, fmt.Sprintf("stagnant: %d days at %.2f%%", age, pl))
	}

	standing, ranked := rank.Standing(ranking, p.Symbol)
	if (!ranked || standing > m.limits.TopWindow) && read.Score < m.limits.EntryScoreFloor {
		if ranked {
			reasons = append(reasons, fmt.Sprintf("rank %d out of top %d with score %.2f", standing, m.limits.TopWindow, read.Score))
		} else {
			reasons = append(reasons, fmt.Sprintf("out of ranking with score %.2f", read.Score))
		}
	}
	return reasons
}

// EvaluateEntries walks each side's top ranking window after exits are
// applied, sizing one step per symbol: new symbols open with the standard
// step, held symbols add the remaining headroom to the per-symbol ceiling.
// The caps gate the requested step before whole-share flooring, so a step
// the walls cannot fit is rejected whole rather than quietly shrunk.
func (m *Manager) EvaluateEntries(book *Book, rankings map[market.Side][]rank.Composite) EntryResult {
	var res EntryResult
	if book.TotalExposure() > m.limits.FreezeLevel*m.limits.MaxTotalExposure {
		res.Frozen = true
		return res
	}
	equity := book.Equity()
	if equity <= 0 {
		return res
	}

	reserved := book.NewReservations()
	for _, side := range []market.Side{market.SideLong, market.SideShort} {
		for i, c := range rankings[side] {
			if i >= m.limits.TopWindow {
				break
			}
			if !c.Eligible || c.Price <= 0 {
				continue
			}

			step := m.limits.StepExposure
			action := market.ActionOpen
			reason := fmt.Sprintf("rank %d, score %.2f, momentum %.2f%%", i+1, c.TechnicalScore, c.MomentumPct)

			if pos, held := book.Get(c.Symbol); held {
				if pos.Side != side || pos.State != StateOpen {
					continue
				}
				if pos.UnrealizedPLPct() < m.limits.AddBlockPLPct {
					continue
				}
				headroom := book.Headroom(c.Symbol)
				if headroom <= 0 {
					continue
				}
				if step > headroom {
					step = headroom
				}
				action = market.ActionAdd
				reason = fmt.Sprintf("add at rank %d, score %.2f, P&L %.2f%%", i+1, c.TechnicalScore, pos.UnrealizedPLPct())
			} else if book.Inflight(c.Symbol) {
				continue
			}

			if err := reserved.Step(c.Symbol, side, step); err != nil {
				res.Rejections = append(res.Rejections, Rejection{
					Symbol: c.Symbol,
					Side:   side,
					Action: action,
					Reason: err.Error(),
				})
				continue
			}

			qty := int64(math.Floor(step * equity / c.Price))
			if qty < 1 {
				continue
			}
			res.Decisions = append(res.Decisions, Decision{
				Symbol:   c.Symbol,
				Side:     side,
				Action:   action,
				Quantity: qty,
				Price:    c.Price,
				StepFrac: step,
				Score:    c.TechnicalScore,
				Reasons:  []string{reason},
			})
		}
	}
	return res
}
