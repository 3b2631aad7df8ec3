package market

import (
	"context"
	"errors"
	"fmt"
)

// ErrInsufficientHistory marks a symbol whose price history is shorter than
// the longest indicator lookback. Callers skip the symbol for the cycle;
// they never proceed with partial indicators.
var ErrInsufficientHistory = errors.New("insufficient price history")

// InsufficientHistoryError wraps ErrInsufficientHistory with the observed and
// required lengths so logs can say which feed came up short.
type InsufficientHistoryError struct {
	Symbol   string
	Got      int
	Required int
}

func (e *InsufficientHistoryError) Error() string {
	return fmt.Sprintf("%s: %d of %d required bars", e.Symbol, e.Got, e.Required)
}

func (e *InsufficientHistoryError) Unwrap() error { return ErrInsufficientHistory }

// Source supplies daily price history for one symbol. Implementations live
// under internal/gateway; the decision core only sees this interface.
type Source interface {
	// FetchHistory returns up to lookback daily bars ending at the most
	// recent session, ascending. Shorter histories are returned as-is;
	// length checks belong to the indicator engine.
	FetchHistory(ctx context.Context, symbol string, lookback int) (Series, error)
}
