package sentiment

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"swell/internal/logger"
)

// ScanStats records what one scan saw, for the cycle journal.
type ScanStats struct {
	Sources int      `json:"sources"`
	Failed  []string `json:"failed,omitempty"`
	Symbols int      `json:"symbols"`
}

// Scanner fetches every configured feed and merges the results. Feeds are
// fetched concurrently; a failing feed is logged and dropped (its absence
// just means fewer unified ranks), so a scan itself never fails.
type Scanner struct {
	feeds     []Feed
	commonCap float64
}

func NewScanner(feeds []Feed, commonCap float64) *Scanner {
	return &Scanner{feeds: feeds, commonCap: commonCap}
}

// Scan returns unified ranks keyed by symbol. Crypto-style tickers (the
// ".X" suffix convention on social feeds) are dropped at this boundary; this
// system trades listed equities only.
func (s *Scanner) Scan(ctx context.Context) (map[string]UnifiedRank, ScanStats) {
	stats := ScanStats{Sources: len(s.feeds)}
	lists := make([]SourceList, len(s.feeds))
	failures := make([]string, len(s.feeds))

	g, gctx := errgroup.WithContext(ctx)
	for i, feed := range s.feeds {
		i, feed := i, feed
		g.Go(func() error {
			entries, err := feed.Fetch(gctx)
			if err != nil {
				logger.Warnf("sentiment source %s dropped: %v", feed.Name(), err)
				failures[i] = feed.Name()
				return nil
			}
			lists[i] = SourceList{Source: feed.Name(), Cap: feed.Cap(), Entries: filterEquities(entries)}
			return nil
		})
	}
	_ = g.Wait()

	for _, name := range failures {
		if name != "" {
			stats.Failed = append(stats.Failed, name)
		}
	}
	sort.Strings(stats.Failed)

	unified := Merge(lists, s.commonCap)
	stats.Symbols = len(unified)
	return unified, stats
}

func filterEquities(entries []Entry) []Entry {
	out := entries[:0]
	for _, e := range entries {
		if strings.Contains(strings.ToUpper(e.Symbol), ".X") {
			continue
		}
		out = append(out, e)
	}
	return out
}
