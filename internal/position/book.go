package position

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"swell/internal/market"
)

// Cap names carried on ExposureViolationError.
const (
	LimitPosition  = "position cap"
	LimitSide      = "side cap"
	LimitAggregate = "aggregate cap"
)

// ExposureViolationError reports a proposed step the caps refused. Violations
// are rejected and surfaced in the cycle report, never clipped; the caller
// retries against a fresh book next cycle.
type ExposureViolationError struct {
	Symbol   string
	Side     market.Side
	Limit    string
	Current  float64
	Proposed float64
	Cap      float64
}

func (e *ExposureViolationError) Error() string {
	return fmt.Sprintf("%s %s step would breach %s: %.4f -> %.4f, cap %.4f",
		e.Symbol, e.Side, e.Limit, e.Current, e.Proposed, e.Cap)
}

// Book is the cycle's view of all open positions plus running per-side
// exposure totals, each a fraction of account equity. It is the single
// source of truth for exposure: cap checks run on decimals so boundary
// comparisons are exact. Single-writer: the trader rebuilds it once per
// cycle and applies every mutation itself.
type Book struct {
	equity    decimal.Decimal
	limits    Limits
	positions map[string]*Position
	inflight  map[string]market.Side
	long      decimal.Decimal
	short     decimal.Decimal
}

func NewBook(equity float64, limits Limits) *Book {
	return &Book{
		equity:    decimal.NewFromFloat(equity),
		limits:    limits,
		positions: make(map[string]*Position),
		inflight:  make(map[string]market.Side),
	}
}

func (b *Book) Equity() float64 { return b.equity.InexactFloat64() }

// Upsert inserts or replaces a position and refreshes the totals.
func (b *Book) Upsert(p Position) {
	cp := p
	b.positions[p.Symbol] = &cp
	b.recalc()
}

func (b *Book) Get(symbol string) (Position, bool) {
	p, ok := b.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

func (b *Book) Has(symbol string) bool {
	_, ok := b.positions[symbol]
	return ok
}

func (b *Book) Len() int { return len(b.positions) }

// Positions returns copies ordered by symbol.
func (b *Book) Positions() []Position {
	out := make([]Position, 0, len(b.positions))
	for _, p := range b.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// OpenSymbols is the held-symbol set in the shape the ranking filter takes.
func (b *Book) OpenSymbols() map[string]bool {
	out := make(map[string]bool, len(b.positions))
	for sym := range b.positions {
		out[sym] = true
	}
	return out
}

// MarkInflight records a submitted open for a symbol with no filled position
// yet, so later passes and cycles do not submit a duplicate.
func (b *Book) MarkInflight(symbol string, side market.Side) {
	b.inflight[symbol] = side
}

func (b *Book) Inflight(symbol string) bool {
	_, ok := b.inflight[symbol]
	return ok
}

// RequestAdd moves a position to ADDING after an add order is submitted.
func (b *Book) RequestAdd(symbol string) bool {
	p, ok := b.positions[symbol]
	if !ok || p.State != StateOpen {
		return false
	}
	p.State = StateAdding
	return true
}

// RequestClose moves a position to CLOSING. Its exposure is released to the
// same cycle's entry pass; the confirmed fill removes it later.
func (b *Book) RequestClose(symbol string) bool {
	p, ok := b.positions[symbol]
	if !ok || p.State == StateClosing {
		return false
	}
	p.State = StateClosing
	b.recalc()
	return true
}

func (b *Book) LongExposure() float64 { return b.long.InexactFloat64() }

func (b *Book) ShortExposure() float64 { return b.short.InexactFloat64() }

func (b *Book) TotalExposure() float64 { return b.long.Add(b.short).InexactFloat64() }

// ExposureOf is one symbol's contribution as a fraction of equity, zero once
// it is CLOSING.
func (b *Book) ExposureOf(symbol string) float64 {
	return b.exposureDec(symbol).InexactFloat64()
}

// Headroom is the step capacity left under the per-symbol ceiling, computed
// in decimal so a full build lands exactly on the ceiling instead of a float
// hair past it.
func (b *Book) Headroom(symbol string) float64 {
	left := decimal.NewFromFloat(b.limits.MaxPositionExposure).Sub(b.exposureDec(symbol))
	if left.IsNegative() {
		return 0
	}
	return left.InexactFloat64()
}

// CanStep validates adding stepFrac of exposure on symbol against all three
// caps without mutating anything. The per-symbol ceiling admits equality;
// the side and aggregate walls do not: a projected exposure that reaches
// them is already a breach.
func (b *Book) CanStep(symbol string, side market.Side, stepFrac float64) error {
	return b.NewReservations().check(symbol, side, stepFrac)
}

// Reservations is a cycle-scoped overlay for the entry pass: capacity
// claimed by an accepted step is visible to every later check in the same
// pass, so two steps cannot jointly breach a wall each clears alone. Create
// a fresh one per pass; it never writes back to the book.
type Reservations struct {
	book      *Book
	perSymbol map[string]decimal.Decimal
	long      decimal.Decimal
	short     decimal.Decimal
}

func (b *Book) NewReservations() *Reservations {
	return &Reservations{book: b, perSymbol: make(map[string]decimal.Decimal)}
}

// Step validates stepFrac against the caps including reserved capacity and
// claims it on success.
func (r *Reservations) Step(symbol string, side market.Side, stepFrac float64) error {
	if err := r.check(symbol, side, stepFrac); err != nil {
		return err
	}
	step := decimal.NewFromFloat(stepFrac)
	r.perSymbol[symbol] = r.perSymbol[symbol].Add(step)
	if side == market.SideShort {
		r.short = r.short.Add(step)
	} else {
		r.long = r.long.Add(step)
	}
	return nil
}

func (r *Reservations) check(symbol string, side market.Side, stepFrac float64) error {
	b := r.book
	step := decimal.NewFromFloat(stepFrac)

	cur := b.exposureDec(symbol).Add(r.perSymbol[symbol])
	if limit := decimal.NewFromFloat(b.limits.MaxPositionExposure); cur.Add(step).GreaterThan(limit) {
		return b.violation(symbol, side, LimitPosition, cur, step, limit)
	}

	sideCur := b.sideDec(side).Add(r.sideRes(side))
	if limit := decimal.NewFromFloat(b.limits.MaxSideExposure); sideCur.Add(step).GreaterThanOrEqual(limit) {
		return b.violation(symbol, side, LimitSide, sideCur, step, limit)
	}

	total := b.long.Add(b.short).Add(r.long).Add(r.short)
	if limit := decimal.NewFromFloat(b.limits.MaxTotalExposure); total.Add(step).GreaterThanOrEqual(limit) {
		return b.violation(symbol, side, LimitAggregate, total, step, limit)
	}
	return nil
}

func (r *Reservations) sideRes(side market.Side) decimal.Decimal {
	if side == market.SideShort {
		return r.short
	}
	return r.long
}

// Snapshot is the serializable view served by the live API.
type Snapshot struct {
	Equity        float64    `json:"equity"`
	LongExposure  float64    `json:"long_exposure"`
	ShortExposure float64    `json:"short_exposure"`
	TotalExposure float64    `json:"total_exposure"`
	Positions     []Position `json:"positions"`
}

func (b *Book) Snapshot() Snapshot {
	return Snapshot{
		Equity:        b.Equity(),
		LongExposure:  b.LongExposure(),
		ShortExposure: b.ShortExposure(),
		TotalExposure: b.TotalExposure(),
		Positions:     b.Positions(),
	}
}

func (b *Book) violation(symbol string, side market.Side, limit string, cur, step, capV decimal.Decimal) error {
	return &ExposureViolationError{
		Symbol:   symbol,
		Side:     side,
		Limit:    limit,
		Current:  cur.InexactFloat64(),
		Proposed: cur.Add(step).InexactFloat64(),
		Cap:      capV.InexactFloat64(),
	}
}

func (b *Book) sideDec(side market.Side) decimal.Decimal {
	if side == market.SideShort {
		return b.short
	}
	return b.long
}

func (b *Book) exposureDec(symbol string) decimal.Decimal {
	p, ok := b.positions[symbol]
	if !ok || p.State == StateClosing || !b.equity.IsPositive() {
		return decimal.Zero
	}
	return decimal.NewFromFloat(p.Quantity).
		Mul(decimal.NewFromFloat(p.CurrentPrice)).
		Abs().
		Div(b.equity)
}

func (b *Book) recalc() {
	long, short := decimal.Zero, decimal.Zero
	if b.equity.IsPositive() {
		for _, p := range b.positions {
			if p.State == StateClosing {
				continue
			}
			v := decimal.NewFromFloat(p.Quantity).
				Mul(decimal.NewFromFloat(p.CurrentPrice)).
				Abs().
				Div(b.equity)
			if p.Side == market.SideShort {
				short = short.Add(v)
			} else {
				long = long.Add(v)
			}
		}
	}
	b.long, b.short = long, short
}
