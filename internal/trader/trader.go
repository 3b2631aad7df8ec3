// Package trader runs the decision cycle end to end: read the brokerage,
// rebuild the book, scan sentiment, score the pool, evaluate exits and
// entries, then submit while the market is open or queue while it is closed.
// Every cycle lands in the journal under one trace id.
package trader

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"swell/internal/analysis/indicator"
	"swell/internal/logger"
	"swell/internal/market"
	"swell/internal/position"
	"swell/internal/profile"
	"swell/internal/rank"
	"swell/internal/sentiment"
	"swell/internal/store/cyclelog"
	"swell/internal/store/gormstore"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Ledger is the persistence the trader needs from the position store.
type Ledger interface {
	UpsertPosition(ctx context.Context, rec gormstore.LedgerRecord) error
	ListOpenPositions(ctx context.Context) ([]gormstore.LedgerRecord, error)
	CloseOut(ctx context.Context, symbol string, reasons []string, at time.Time) error
	ReplaceQueue(ctx context.Context, orders []gormstore.PendingOrder) error
	QueuedOrders(ctx context.Context) ([]gormstore.PendingOrder, error)
	MarkPending(ctx context.Context, clientID, status string) error
}

// Journal records finished cycles.
type Journal interface {
	Append(ctx context.Context, rec cyclelog.CycleRecord) (int64, error)
}

// Profiles supplies the current risk profile snapshot.
type Profiles interface {
	Snapshot() profile.Snapshot
}

// CycleView is the latest finished cycle, kept in memory for the live API.
// Candidates is each side's entry window with held symbols filtered out; the
// full Rankings keep them because exit rule standings are judged there.
type CycleView struct {
	TraceID    string                           `json:"trace_id"`
	At         time.Time                        `json:"at"`
	MarketOpen bool                             `json:"market_open"`
	Frozen     bool                             `json:"frozen"`
	Queued     bool                             `json:"queued"`
	Sentiment  sentiment.ScanStats              `json:"sentiment"`
	Book       position.Snapshot                `json:"book"`
	Rankings   map[market.Side][]rank.Composite `json:"rankings"`
	Candidates map[market.Side][]rank.Composite `json:"candidates"`
	Decisions  []position.Decision              `json:"decisions"`
	Rejections []position.Rejection             `json:"rejections"`
}

type Params struct {
	Broker   market.Broker
	Source   market.Source
	Scanner  *sentiment.Scanner
	Profiles Profiles
	Ledger   Ledger
	Journal  Journal

	// Lookback is the daily-bar history per symbol; FetchWorkers bounds
	// concurrent history fetches.
	Lookback     int
	FetchWorkers int
}

type Trader struct {
	broker   market.Broker
	source   market.Source
	scanner  *sentiment.Scanner
	profiles Profiles
	ledger   Ledger
	journal  Journal

	indicatorCfg indicator.Config
	lookback     int
	fetchWorkers int

	mu        sync.RWMutex
	lastCycle *CycleView
}

func New(p Params) *Trader {
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = 100
	}
	workers := p.FetchWorkers
	if workers <= 0 {
		workers = 4
	}
	return &Trader{
		broker:       p.Broker,
		source:       p.Source,
		scanner:      p.Scanner,
		profiles:     p.Profiles,
		ledger:       p.Ledger,
		journal:      p.Journal,
		indicatorCfg: indicator.DefaultConfig(),
		lookback:     lookback,
		fetchWorkers: workers,
	}
}

// LastCycle returns the most recent finished cycle, if any.
func (t *Trader) LastCycle() (CycleView, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastCycle == nil {
		return CycleView{}, false
	}
	return *t.lastCycle, true
}

// RunCycle executes one full decision cycle. Errors reading the brokerage or
// the ledger abort the cycle: evaluating against a partial book risks
// breaching the caps, so nothing is decided on incomplete state.
func (t *Trader) RunCycle(ctx context.Context) error {
	start := time.Now()
	traceID := uuid.NewString()

	clock, err := t.broker.Clock(ctx)
	if err != nil {
		return t.fail(ctx, traceID, fmt.Errorf("clock: %w", err))
	}
	acct, err := t.broker.Account(ctx)
	if err != nil {
		return t.fail(ctx, traceID, fmt.Errorf("account: %w", err))
	}
	brokerPositions, err := t.broker.Positions(ctx)
	if err != nil {
		return t.fail(ctx, traceID, fmt.Errorf("positions: %w", err))
	}
	openOrders, err := t.broker.OpenOrders(ctx)
	if err != nil {
		return t.fail(ctx, traceID, fmt.Errorf("open orders: %w", err))
	}
	ledgerRows, err := t.ledger.ListOpenPositions(ctx)
	if err != nil {
		return t.fail(ctx, traceID, fmt.Errorf("ledger: %w", err))
	}

	snap := t.profiles.Snapshot()
	limits := snap.Profile.Limits()
	book := t.rebuildBook(ctx, acct, brokerPositions, ledgerRows, openOrders, limits, clock.Now)

	logger.Infof("Decision cycle start trace=%s market_open=%v equity=%.2f positions=%d profile_version=%d",
		traceID, clock.IsOpen, acct.Equity, book.Len(), snap.Version)

	if clock.IsOpen {
		t.flushQueue(ctx, book, clock.Now)
	}

	unified, stats := t.scanner.Scan(ctx)
	if len(unified) == 0 && book.Len() == 0 {
		logger.Infof("Decision cycle end trace=%s: empty pool, empty book, duration=%s", traceID, time.Since(start))
		t.record(ctx, CycleView{
			TraceID: traceID, At: clock.Now, MarketOpen: clock.IsOpen, Sentiment: stats,
			Book: book.Snapshot(),
		}, acct, nil)
		return nil
	}

	reads := t.fetchReads(ctx, poolSymbols(unified, book))
	th := snap.Profile.Thresholds().Tighten(book.TotalExposure(), limits.MaxTotalExposure)
	rankings := map[market.Side][]rank.Composite{
		market.SideLong:  rank.Build(market.SideLong, unified, reads[market.SideLong], th),
		market.SideShort: rank.Build(market.SideShort, unified, reads[market.SideShort], th),
	}

	mgr := position.NewManager(limits)
	exits := mgr.EvaluateExits(book, position.ExitInputs{
		Reads:    exitReads(book, reads),
		Rankings: rankings,
		Now:      clock.Now,
	})
	// Closes release their exposure before the entry pass sizes against it.
	for _, d := range exits {
		book.RequestClose(d.Symbol)
	}
	entry := mgr.EvaluateEntries(book, rankings)
	if entry.Frozen {
		logger.Warnf("Entries frozen trace=%s: total exposure %.1f%% past freeze level", traceID, book.TotalExposure()*100)
	}

	openSet := book.OpenSymbols()
	candidates := map[market.Side][]rank.Composite{
		market.SideLong:  rank.Candidates(rankings[market.SideLong], openSet, limits.TopWindow),
		market.SideShort: rank.Candidates(rankings[market.SideShort], openSet, limits.TopWindow),
	}

	decisions := make([]position.Decision, 0, len(exits)+len(entry.Decisions))
	decisions = append(decisions, exits...)
	decisions = append(decisions, entry.Decisions...)
	rejections := entry.Rejections

	queued := false
	if clock.IsOpen {
		rejections = append(rejections, t.submit(ctx, book, traceID, exits, entry.Decisions, clock.Now)...)
	} else {
		queued = t.queue(ctx, traceID, decisions, clock.Now)
	}

	view := CycleView{
		TraceID:    traceID,
		At:         clock.Now,
		MarketOpen: clock.IsOpen,
		Frozen:     entry.Frozen,
		Queued:     queued,
		Sentiment:  stats,
		Book:       book.Snapshot(),
		Rankings:   rankings,
		Candidates: candidates,
		Decisions:  decisions,
		Rejections: rejections,
	}
	t.record(ctx, view, acct, sortedSymbols(unified))

	logger.Infof("Decision cycle end trace=%s decisions=%d rejections=%d queued=%v duration=%s",
		traceID, len(decisions), len(rejections), queued, time.Since(start))
	return nil
}

// submit sends exits first, then entries. If any close submission fails the
// entries are skipped: the freed capacity they were sized against is not
// confirmed, and the next cycle re-evaluates from brokerage truth anyway.
func (t *Trader) submit(ctx context.Context, book *position.Book, traceID string, exits, entries []position.Decision, now time.Time) []position.Rejection {
	var rejections []position.Rejection
	closeFailed := false

	for _, d := range exits {
		_, err := t.broker.ClosePosition(ctx, d.Symbol)
		if err != nil {
			closeFailed = true
			var rej *market.OrderRejectedError
			if errors.As(err, &rej) {
				rejections = append(rejections, position.Rejection{Symbol: d.Symbol, Side: d.Side, Action: market.ActionClose, Reason: rej.Reason})
				logger.Warnf("Close rejected %s: %s", d.Symbol, rej.Reason)
			} else {
				logger.Errorf("Close failed %s: %v", d.Symbol, err)
			}
			continue
		}
		t.markClosing(ctx, book, d.Symbol, d.Reasons)
		logger.Infof("Close submitted %s %s qty=%d: %s", d.Symbol, d.Side, d.Quantity, strings.Join(d.Reasons, "; "))
	}

	if closeFailed && len(entries) > 0 {
		logger.Warnf("Skipping %d entries trace=%s: close submissions failed, freed capacity unconfirmed", len(entries), traceID)
		return rejections
	}

	for _, d := range entries {
		req := market.OrderRequest{
			ClientID:  clientOrderID(traceID, d.Action, d.Symbol),
			Symbol:    d.Symbol,
			Side:      d.Side,
			Action:    d.Action,
			Quantity:  d.Quantity,
			TargetPct: d.StepFrac,
		}
		order, err := t.broker.SubmitOrder(ctx, req)
		if err != nil {
			var rej *market.OrderRejectedError
			if errors.As(err, &rej) {
				rejections = append(rejections, position.Rejection{Symbol: d.Symbol, Side: d.Side, Action: d.Action, Reason: rej.Reason})
				logger.Warnf("Order rejected %s %s: %s", d.Action, d.Symbol, rej.Reason)
			} else {
				logger.Errorf("Order failed %s %s: %v", d.Action, d.Symbol, err)
			}
			continue
		}
		t.markSubmitted(ctx, book, d, now)
		logger.Infof("Order submitted %s %s %s qty=%d order=%s", d.Action, d.Symbol, d.Side, d.Quantity, order.ID)
	}
	return rejections
}

// queue replaces the closed-market queue with this cycle's decisions. It
// always replaces, so a cycle with nothing to do clears stale orders from
// the previous evaluation.
func (t *Trader) queue(ctx context.Context, traceID string, decisions []position.Decision, now time.Time) bool {
	orders := make([]gormstore.PendingOrder, 0, len(decisions))
	for _, d := range decisions {
		orders = append(orders, gormstore.PendingOrder{
			ClientID:  clientOrderID(traceID, d.Action, d.Symbol),
			Symbol:    d.Symbol,
			Side:      d.Side,
			Action:    d.Action,
			Quantity:  d.Quantity,
			TargetPct: d.StepFrac,
			Price:     d.Price,
			Reasons:   d.Reasons,
			QueuedAt:  now,
		})
	}
	if err := t.ledger.ReplaceQueue(ctx, orders); err != nil {
		logger.Errorf("Queue replace failed trace=%s: %v", traceID, err)
		return false
	}
	if len(orders) > 0 {
		logger.Infof("Market closed: queued %d orders for the next session trace=%s", len(orders), traceID)
	}
	return len(orders) > 0
}

// flushQueue submits orders queued while the market was closed. Closes go
// first; if one fails, the opens sized against its capacity stay queued for
// the next cycle.
func (t *Trader) flushQueue(ctx context.Context, book *position.Book, now time.Time) {
	queued, err := t.ledger.QueuedOrders(ctx)
	if err != nil {
		logger.Errorf("Queued orders unavailable: %v", err)
		return
	}
	if len(queued) == 0 {
		return
	}
	logger.Infof("Flushing %d queued orders", len(queued))

	sort.SliceStable(queued, func(i, j int) bool {
		return actionRank(queued[i].Action) < actionRank(queued[j].Action)
	})

	closeFailed := false
	for _, q := range queued {
		if q.Action == market.ActionClose {
			pos, held := book.Get(q.Symbol)
			if !held || pos.State == position.StateClosing {
				_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingRejected)
				continue
			}
			if _, err := t.broker.ClosePosition(ctx, q.Symbol); err != nil {
				closeFailed = true
				var rej *market.OrderRejectedError
				if errors.As(err, &rej) {
					_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingRejected)
					logger.Warnf("Queued close rejected %s: %s", q.Symbol, rej.Reason)
				} else {
					logger.Errorf("Queued close failed %s: %v", q.Symbol, err)
				}
				continue
			}
			t.markClosing(ctx, book, q.Symbol, q.Reasons)
			_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingSubmitted)
			continue
		}

		if closeFailed {
			continue
		}
		if q.Action == market.ActionOpen && (book.Has(q.Symbol) || book.Inflight(q.Symbol)) {
			_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingRejected)
			continue
		}
		if q.Action == market.ActionAdd {
			pos, held := book.Get(q.Symbol)
			if !held || pos.State != position.StateOpen || pos.Side != q.Side {
				_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingRejected)
				continue
			}
		}
		// The step was sized against a closed-market book; it must clear the
		// caps against today's too.
		if err := book.CanStep(q.Symbol, q.Side, q.TargetPct); err != nil {
			_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingRejected)
			logger.Warnf("Queued %s %s no longer fits: %v", q.Action, q.Symbol, err)
			continue
		}
		req := market.OrderRequest{
			ClientID:  q.ClientID,
			Symbol:    q.Symbol,
			Side:      q.Side,
			Action:    q.Action,
			Quantity:  q.Quantity,
			TargetPct: q.TargetPct,
		}
		if _, err := t.broker.SubmitOrder(ctx, req); err != nil {
			var rej *market.OrderRejectedError
			if errors.As(err, &rej) {
				_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingRejected)
				logger.Warnf("Queued order rejected %s %s: %s", q.Action, q.Symbol, rej.Reason)
			} else {
				logger.Errorf("Queued order failed %s %s: %v", q.Action, q.Symbol, err)
			}
			continue
		}
		t.markSubmitted(ctx, book, position.Decision{
			Symbol: q.Symbol, Side: q.Side, Action: q.Action,
			Quantity: q.Quantity, Price: q.Price,
		}, now)
		_ = t.ledger.MarkPending(ctx, q.ClientID, gormstore.PendingSubmitted)
	}
}

// markClosing flips book and ledger state after a close submission. The
// ledger keeps the reasons; CloseOut stamps them once the brokerage confirms
// the position is gone.
func (t *Trader) markClosing(ctx context.Context, book *position.Book, symbol string, reasons []string) {
	book.RequestClose(symbol)
	pos, ok := book.Get(symbol)
	if !ok {
		return
	}
	if err := t.ledger.UpsertPosition(ctx, gormstore.LedgerRecord{
		Symbol:      pos.Symbol,
		Side:        pos.Side,
		State:       position.StateClosing,
		Quantity:    pos.Quantity,
		EntryPrice:  pos.EntryPrice,
		OpenedAt:    pos.OpenedAt,
		LastAddedAt: pos.LastAddedAt,
		ExitReasons: reasons,
	}); err != nil {
		logger.Errorf("Ledger close mark %s: %v", symbol, err)
	}
}

// markSubmitted records a filled-or-working entry in the ledger and the
// in-cycle book.
func (t *Trader) markSubmitted(ctx context.Context, book *position.Book, d position.Decision, now time.Time) {
	switch d.Action {
	case market.ActionOpen:
		book.MarkInflight(d.Symbol, d.Side)
		book.Upsert(position.Position{
			Symbol:       d.Symbol,
			Side:         d.Side,
			State:        position.StateOpening,
			Quantity:     float64(d.Quantity),
			EntryPrice:   d.Price,
			CurrentPrice: d.Price,
			OpenedAt:     now,
		})
		if err := t.ledger.UpsertPosition(ctx, gormstore.LedgerRecord{
			Symbol:     d.Symbol,
			Side:       d.Side,
			State:      position.StateOpening,
			Quantity:   float64(d.Quantity),
			EntryPrice: d.Price,
			OpenedAt:   now,
		}); err != nil {
			logger.Errorf("Ledger open mark %s: %v", d.Symbol, err)
		}
	case market.ActionAdd:
		book.RequestAdd(d.Symbol)
		pos, ok := book.Get(d.Symbol)
		if !ok {
			return
		}
		if err := t.ledger.UpsertPosition(ctx, gormstore.LedgerRecord{
			Symbol:      pos.Symbol,
			Side:        pos.Side,
			State:       position.StateAdding,
			Quantity:    pos.Quantity,
			EntryPrice:  pos.EntryPrice,
			OpenedAt:    pos.OpenedAt,
			LastAddedAt: now,
		}); err != nil {
			logger.Errorf("Ledger add mark %s: %v", d.Symbol, err)
		}
	}
}

// fetchReads pulls daily history once per symbol and computes both side
// reads. Symbols whose history is short or unavailable are dropped; exits
// hold positions without a read rather than act blind.
func (t *Trader) fetchReads(ctx context.Context, symbols []string) map[market.Side]map[string]indicator.Read {
	out := map[market.Side]map[string]indicator.Read{
		market.SideLong:  make(map[string]indicator.Read, len(symbols)),
		market.SideShort: make(map[string]indicator.Read, len(symbols)),
	}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.fetchWorkers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			series, err := t.source.FetchHistory(gctx, symbol, t.lookback)
			if err != nil {
				logger.Warnf("History dropped %s: %v", symbol, err)
				return nil
			}
			for _, side := range []market.Side{market.SideLong, market.SideShort} {
				read, err := indicator.Compute(symbol, side, series, t.indicatorCfg)
				if err != nil {
					logger.Debugf("Read skipped %s %s: %v", symbol, side, err)
					continue
				}
				mu.Lock()
				out[side][symbol] = read
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (t *Trader) record(ctx context.Context, view CycleView, acct market.AccountSnapshot, symbols []string) {
	t.mu.Lock()
	v := view
	t.lastCycle = &v
	t.mu.Unlock()

	if t.journal == nil {
		return
	}
	rec := cyclelog.CycleRecord{
		TraceID:       view.TraceID,
		Timestamp:     view.At.UnixMilli(),
		MarketOpen:    view.MarketOpen,
		Frozen:        view.Frozen,
		Queued:        view.Queued,
		Equity:        acct.Equity,
		LongExposure:  view.Book.LongExposure,
		ShortExposure: view.Book.ShortExposure,
		Symbols:       symbols,
		FailedSources: view.Sentiment.Failed,
		Rankings:      view.Rankings,
		Decisions:     view.Decisions,
		Rejections:    view.Rejections,
	}
	if _, err := t.journal.Append(ctx, rec); err != nil {
		logger.Errorf("Journal append failed trace=%s: %v", view.TraceID, err)
	}
}

func (t *Trader) fail(ctx context.Context, traceID string, err error) error {
	logger.Errorf("Decision cycle aborted trace=%s: %v", traceID, err)
	if t.journal != nil {
		rec := cyclelog.CycleRecord{
			TraceID:   traceID,
			Timestamp: time.Now().UnixMilli(),
			Error:     err.Error(),
		}
		if _, jerr := t.journal.Append(ctx, rec); jerr != nil {
			logger.Errorf("Journal append failed trace=%s: %v", traceID, jerr)
		}
	}
	return err
}

// exitReads keys each held symbol to the read computed for the position's
// own side.
func exitReads(book *position.Book, reads map[market.Side]map[string]indicator.Read) map[string]indicator.Read {
	out := make(map[string]indicator.Read, book.Len())
	for _, p := range book.Positions() {
		if read, ok := reads[p.Side][p.Symbol]; ok {
			out[p.Symbol] = read
		}
	}
	return out
}

// poolSymbols is the fetch set: every ranked symbol plus every held symbol.
func poolSymbols(unified map[string]sentiment.UnifiedRank, book *position.Book) []string {
	set := make(map[string]struct{}, len(unified)+book.Len())
	for symbol := range unified {
		set[symbol] = struct{}{}
	}
	for _, p := range book.Positions() {
		set[p.Symbol] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for symbol := range set {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func sortedSymbols(unified map[string]sentiment.UnifiedRank) []string {
	out := make([]string, 0, len(unified))
	for symbol := range unified {
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}

func clientOrderID(traceID string, action market.Action, symbol string) string {
	short := traceID
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("swell-%s-%s-%s", action, symbol, short)
}

func actionRank(a market.Action) int {
	if a == market.ActionClose {
		return 0
	}
	return 1
}
