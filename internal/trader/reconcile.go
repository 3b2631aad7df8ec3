package trader

import (
	"context"
	"strings"
	"time"

	"swell/internal/logger"
	"swell/internal/market"
	"swell/internal/position"
	"swell/internal/store/gormstore"
)

// rebuildBook reconciles brokerage truth with the ledger into the cycle's
// book. The brokerage decides what is held and at what price; the ledger
// contributes lifecycle state, open timestamps and exit reasons. Requests
// whose orders are gone resolve here: filled opens promote to OPEN, filled
// closes leave the ledger, vanished orders fall back to what the brokerage
// reports.
func (t *Trader) rebuildBook(ctx context.Context, acct market.AccountSnapshot, held []market.BrokerPosition, rows []gormstore.LedgerRecord, orders []market.Order, limits position.Limits, now time.Time) *position.Book {
	book := position.NewBook(acct.Equity, limits)

	rowBySymbol := make(map[string]gormstore.LedgerRecord, len(rows))
	for _, row := range rows {
		rowBySymbol[row.Symbol] = row
	}
	working := make(map[string]market.Order, len(orders))
	for _, o := range orders {
		working[o.Symbol] = o
	}
	heldSet := make(map[string]struct{}, len(held))

	for _, bp := range held {
		heldSet[bp.Symbol] = struct{}{}
		row, tracked := rowBySymbol[bp.Symbol]
		_, hasOrder := working[bp.Symbol]

		state := position.StateOpen
		openedAt := now
		var lastAddedAt time.Time

		if tracked {
			state = row.State
			openedAt = row.OpenedAt
			lastAddedAt = row.LastAddedAt
			switch {
			case (state == position.StateOpening || state == position.StateAdding) && !hasOrder:
				// Order gone, position present: the fill landed.
				state = position.StateOpen
				t.persist(ctx, gormstore.LedgerRecord{
					Symbol:      bp.Symbol,
					Side:        bp.Side,
					State:       position.StateOpen,
					Quantity:    bp.Quantity,
					EntryPrice:  bp.EntryPrice,
					OpenedAt:    openedAt,
					LastAddedAt: lastAddedAt,
				})
			case state == position.StateClosing && !hasOrder:
				// Close submitted, yet the position is still here with no
				// working order. The close never landed; resume managing it.
				state = position.StateOpen
				t.persist(ctx, gormstore.LedgerRecord{
					Symbol:      bp.Symbol,
					Side:        bp.Side,
					State:       position.StateOpen,
					Quantity:    bp.Quantity,
					EntryPrice:  bp.EntryPrice,
					OpenedAt:    openedAt,
					LastAddedAt: lastAddedAt,
				})
				logger.Warnf("Close for %s not confirmed, resuming OPEN", bp.Symbol)
			}
		} else {
			logger.Warnf("Adopting unmanaged position %s %s qty=%.2f", bp.Symbol, bp.Side, bp.Quantity)
			t.persist(ctx, gormstore.LedgerRecord{
				Symbol:     bp.Symbol,
				Side:       bp.Side,
				State:      position.StateOpen,
				Quantity:   bp.Quantity,
				EntryPrice: bp.EntryPrice,
				OpenedAt:   now,
			})
		}

		price := bp.CurrentPrice
		if price <= 0 {
			price = bp.EntryPrice
		}
		book.Upsert(position.Position{
			Symbol:       bp.Symbol,
			Side:         bp.Side,
			State:        state,
			Quantity:     bp.Quantity,
			EntryPrice:   bp.EntryPrice,
			CurrentPrice: price,
			OpenedAt:     openedAt,
			LastAddedAt:  lastAddedAt,
		})
	}

	for _, row := range rows {
		if _, stillHeld := heldSet[row.Symbol]; stillHeld {
			continue
		}
		_, hasOrder := working[row.Symbol]
		switch {
		case row.State == position.StateClosing && !hasOrder:
			logger.Infof("Close confirmed %s: %s", row.Symbol, strings.Join(row.ExitReasons, "; "))
			t.closeOut(ctx, row.Symbol, row.ExitReasons, now)
		case row.State == position.StateOpening && hasOrder:
			// Open still working: hold the intended exposure so the entry
			// pass cannot double-spend it.
			book.Upsert(position.Position{
				Symbol:       row.Symbol,
				Side:         row.Side,
				State:        position.StateOpening,
				Quantity:     row.Quantity,
				EntryPrice:   row.EntryPrice,
				CurrentPrice: row.EntryPrice,
				OpenedAt:     row.OpenedAt,
			})
			book.MarkInflight(row.Symbol, row.Side)
		case row.State == position.StateOpening && !hasOrder:
			logger.Warnf("Open for %s expired unfilled", row.Symbol)
			t.closeOut(ctx, row.Symbol, []string{"open order expired unfilled"}, now)
		default:
			// OPEN or ADDING, but the brokerage no longer reports it.
			logger.Warnf("Position %s gone from brokerage, closing ledger row", row.Symbol)
			t.closeOut(ctx, row.Symbol, []string{"position no longer reported by brokerage"}, now)
		}
	}

	for symbol, o := range working {
		book.MarkInflight(symbol, o.Side)
	}
	return book
}

// persist and closeOut are best-effort: a ledger write failure is logged and
// the cycle continues on the in-memory book, which reconciles again from
// brokerage truth next cycle.
func (t *Trader) persist(ctx context.Context, rec gormstore.LedgerRecord) {
	if err := t.ledger.UpsertPosition(ctx, rec); err != nil {
		logger.Errorf("Ledger update %s: %v", rec.Symbol, err)
	}
}

func (t *Trader) closeOut(ctx context.Context, symbol string, reasons []string, at time.Time) {
	if err := t.ledger.CloseOut(ctx, symbol, reasons, at); err != nil {
		logger.Errorf("Ledger close %s: %v", symbol, err)
	}
}
