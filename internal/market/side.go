package market

// Side is the evaluated direction of a read, score, or position. It is part
// of the key everywhere a symbol is scored: the same symbol carries distinct
// long and short reads in one cycle.
type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

// Sign is +1 for long, -1 for short; handy for P&L and momentum checks.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// Action is what the decision core asks the brokerage to do.
type Action string

const (
	ActionOpen  Action = "open"
	ActionAdd   Action = "add"
	ActionClose Action = "close"
)
