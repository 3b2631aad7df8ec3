// Package scheduler drives the decision cycle on a wall-clock aligned
// cadence. Ticks land on interval boundaries (a 15m interval fires at :00,
// :15, :30, :45) so every run sees the same slice of the trading day no
// matter when the process started.
package scheduler

import (
	"context"
	"strconv"
	"strings"
	"time"

	"swell/internal/logger"
)

// AlignedScheduler runs a task once per Interval, aligned to the wall
// clock. Offset delays each tick past the boundary, leaving the sentiment
// aggregators and the brokerage time to settle the interval just closed.
type AlignedScheduler struct {
	Interval       time.Duration
	Offset         time.Duration
	RunImmediately bool

	ctx   context.Context
	nowFn func() time.Time
}

func NewAlignedScheduler(ctx context.Context, interval, offset time.Duration) *AlignedScheduler {
	if ctx == nil {
		ctx = context.Background()
	}
	return &AlignedScheduler{
		Interval: interval,
		Offset:   offset,
		ctx:      ctx,
		nowFn:    time.Now,
	}
}

// Start blocks until the context is cancelled, invoking task at every
// aligned tick. The task owns its failures: a cycle that errors logs inside
// the task and the loop waits for the next boundary.
func (s *AlignedScheduler) Start(task func()) {
	if s == nil {
		return
	}
	if task == nil {
		logger.Warnf("Scheduler: task is nil, exit")
		return
	}
	if s.Interval <= 0 {
		logger.Warnf("Scheduler: invalid interval=%s, exit", s.Interval)
		return
	}
	if s.Offset < 0 {
		logger.Warnf("Scheduler: negative offset=%s, clamp to 0", s.Offset)
		s.Offset = 0
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.nowFn == nil {
		s.nowFn = time.Now
	}

	startAt := s.nowFn().UTC()
	logger.Infof("Scheduler started interval=%s offset=%s run_immediately=%v at=%s",
		s.Interval, s.Offset, s.RunImmediately, startAt.Format(time.RFC3339))

	if s.RunImmediately {
		logger.Infof("Scheduler: immediate run before alignment loop")
		task()
	}

	for {
		now := s.nowFn().UTC()
		nextClose, wakeAt, wait := s.nextTimes(now)

		logger.Infof("Scheduler: next cycle %s (boundary %s, in %s) uptime=%s",
			wakeAt.Format(time.RFC3339),
			nextClose.Format(time.RFC3339),
			wait.Truncate(time.Second),
			now.Sub(startAt).Truncate(time.Second),
		)

		if wait <= 0 {
			task()
			continue
		}

		timer := time.NewTimer(wait)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			logger.Infof("Scheduler: context done, exit")
			return
		case <-timer.C:
		}
		task()
	}
}

// nextTimes aligns to the first boundary strictly after now. Truncate works
// against the Unix epoch, so boundaries agree across restarts.
func (s *AlignedScheduler) nextTimes(now time.Time) (nextClose, wakeAt time.Time, wait time.Duration) {
	now = now.UTC()
	nextClose = now.Truncate(s.Interval).Add(s.Interval)
	wakeAt = nextClose.Add(s.Offset)
	wait = wakeAt.Sub(now)
	return nextClose, wakeAt, wait
}

// ParseInterval reads cadence strings from configuration: "15m", "1h",
// "4h", "1d", "1w". Returns (0, false) on anything else.
func ParseInterval(interval string) (time.Duration, bool) {
	interval = strings.ToLower(strings.TrimSpace(interval))
	if interval == "" {
		return 0, false
	}
	unit := interval[len(interval)-1]
	numStr := strings.TrimSpace(interval[:len(interval)-1])
	if numStr == "" {
		return 0, false
	}
	n, err := strconv.Atoi(numStr)
	if err != nil || n <= 0 {
		return 0, false
	}
	switch unit {
	case 'm':
		return time.Duration(n) * time.Minute, true
	case 'h':
		return time.Duration(n) * time.Hour, true
	case 'd':
		return time.Duration(n) * 24 * time.Hour, true
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, true
	default:
		return 0, false
	}
}
