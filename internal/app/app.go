// Package app assembles and runs the trading process: brokerage, sentiment
// feeds, risk profile, stores, the decision trader, the live HTTP API and
// the aligned scheduler that paces it all.
package app

import (
	"context"
	"fmt"
	"time"

	swcfg "swell/internal/config"
	"swell/internal/logger"
	"swell/internal/scheduler"
	"swell/internal/store/cyclelog"
	"swell/internal/store/gormstore"
	"swell/internal/trader"
	livehttp "swell/internal/transport/http/live"

	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg     *swcfg.Config
	trader  *trader.Trader
	httpSrv *livehttp.Server
	ledger  *gormstore.GormStore
	journal *cyclelog.Journal

	interval       time.Duration
	offset         time.Duration
	runImmediately bool

	Summary *StartupSummary
}

// NewApp builds the application from config and credentials without
// starting anything.
func NewApp(cfg *swcfg.Config, creds Credentials) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(context.Background(), cfg, creds)
}

// Run starts the live HTTP server and the decision loop, and blocks until
// the context is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.trader == nil {
		return fmt.Errorf("trader not initialized")
	}

	if a.Summary != nil {
		a.Summary.Print()
	}

	group, ctx := errgroup.WithContext(ctx)

	if a.httpSrv != nil {
		group.Go(func() error {
			if err := a.httpSrv.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}

	group.Go(func() error {
		defer a.close()
		sched := scheduler.NewAlignedScheduler(ctx, a.interval, a.offset)
		sched.RunImmediately = a.runImmediately
		sched.Start(func() { a.runCycle(ctx) })
		return nil
	})

	return group.Wait()
}

// runCycle bounds one cycle by the scheduling interval; a failed cycle logs
// and the loop waits for the next tick.
func (a *App) runCycle(ctx context.Context) {
	cycleCtx, cancel := context.WithTimeout(ctx, a.interval)
	defer cancel()
	if err := a.trader.RunCycle(cycleCtx); err != nil {
		logger.Errorf("Decision cycle failed: %v", err)
	}
}

// Trader exposes the decision core for test and replay harnesses.
func (a *App) Trader() *trader.Trader {
	if a == nil {
		return nil
	}
	return a.trader
}

func (a *App) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			logger.Errorf("Close position ledger: %v", err)
		}
	}
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			logger.Errorf("Close cycle journal: %v", err)
		}
	}
}
