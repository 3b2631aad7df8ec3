package app

import (
	"fmt"
	"strings"

	"swell/internal/logger"
)

// StartupSummary is the one-screen recap logged before the first cycle, so
// an operator can confirm what the process is about to trade with.
type StartupSummary struct {
	Market    MarketSummary
	Broker    BrokerSummary
	Sentiment SentimentSummary
	Profile   ProfileSummary
	Stores    StoreSummary
	HTTPAddr  string
}

type MarketSummary struct {
	CycleInterval  string
	OffsetSeconds  int
	RunImmediately bool
	LookbackDays   int
	FetchWorkers   int
}

type BrokerSummary struct {
	BaseURL string
	Feed    string
}

type SentimentSummary struct {
	Sources   []string
	CommonCap float64
}

type ProfileSummary struct {
	Path        string
	Version     int64
	MaxPosition float64
	Step        float64
	MaxSide     float64
	MaxTotal    float64
	TopWindow   int
}

type StoreSummary struct {
	LedgerPath  string
	JournalPath string
}

func (s *StartupSummary) Print() {
	var b strings.Builder
	line := strings.Repeat("=", 72)

	fmt.Fprintln(&b, line)
	fmt.Fprintln(&b, "STARTUP SUMMARY")
	fmt.Fprintln(&b, line)

	fmt.Fprintln(&b, "[MARKET]")
	fmt.Fprintf(&b, "  cycle interval: %s (+%ds offset)\n", s.Market.CycleInterval, s.Market.OffsetSeconds)
	fmt.Fprintf(&b, "  run immediately: %v\n", s.Market.RunImmediately)
	fmt.Fprintf(&b, "  history lookback: %d daily bars, %d fetch workers\n", s.Market.LookbackDays, s.Market.FetchWorkers)

	fmt.Fprintln(&b, "[BROKER]")
	fmt.Fprintf(&b, "  api: %s\n", s.Broker.BaseURL)
	fmt.Fprintf(&b, "  data feed: %s\n", s.Broker.Feed)

	fmt.Fprintln(&b, "[SENTIMENT]")
	fmt.Fprintf(&b, "  sources: %s\n", formatList(s.Sentiment.Sources))
	if s.Sentiment.CommonCap > 0 {
		fmt.Fprintf(&b, "  common cap: %.0f\n", s.Sentiment.CommonCap)
	} else {
		fmt.Fprintln(&b, "  common cap: auto (deepest source)")
	}

	fmt.Fprintln(&b, "[RISK PROFILE]")
	fmt.Fprintf(&b, "  file: %s (version %d, hot reload)\n", s.Profile.Path, s.Profile.Version)
	fmt.Fprintf(&b, "  caps: position %.0f%% / side %.0f%% / total %.0f%%, step %.0f%%\n",
		s.Profile.MaxPosition*100, s.Profile.MaxSide*100, s.Profile.MaxTotal*100, s.Profile.Step*100)
	fmt.Fprintf(&b, "  entry window: top %d per side\n", s.Profile.TopWindow)

	fmt.Fprintln(&b, "[STORES]")
	fmt.Fprintf(&b, "  position ledger: %s\n", s.Stores.LedgerPath)
	fmt.Fprintf(&b, "  cycle journal: %s\n", s.Stores.JournalPath)

	fmt.Fprintln(&b, "[HTTP]")
	fmt.Fprintf(&b, "  live api: %s\n", s.HTTPAddr)

	fmt.Fprintln(&b, line)
	logger.InfoBlock(b.String())
}

func formatList(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
