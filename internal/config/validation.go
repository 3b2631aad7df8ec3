package config

import (
	"fmt"
	"strings"

	"swell/internal/scheduler"
)

// knownSentimentSources are the feeds the app knows how to construct.
var knownSentimentSources = map[string]bool{
	"apewisdom":  true,
	"stocktwits": true,
}

func validate(c *Config) error {
	if err := c.Market.validate(); err != nil {
		return err
	}
	if err := c.Broker.validate(); err != nil {
		return err
	}
	if err := c.Sentiment.validate(); err != nil {
		return err
	}
	if err := c.Ranking.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.HTTP.validate(); err != nil {
		return err
	}
	return nil
}

func (m *MarketConfig) validate() error {
	if _, ok := scheduler.ParseInterval(m.CycleInterval); !ok {
		return fmt.Errorf("market.cycle_interval %q is not a valid interval (want 5m, 15m, 1h, ...)", m.CycleInterval)
	}
	if m.OffsetSeconds < 0 {
		return fmt.Errorf("market.offset_seconds must be >= 0")
	}
	// SMA50 plus MACD warmup needs about 60 bars before reads stabilize.
	if m.LookbackDays < 60 || m.LookbackDays > 1000 {
		return fmt.Errorf("market.lookback_days must be in [60,1000]")
	}
	if m.FetchWorkers <= 0 {
		return fmt.Errorf("market.fetch_workers must be > 0")
	}
	return nil
}

func (b *BrokerConfig) validate() error {
	switch strings.ToLower(strings.TrimSpace(b.Feed)) {
	case "iex", "sip", "otc":
	default:
		return fmt.Errorf("broker.feed must be iex, sip or otc, got %q", b.Feed)
	}
	if b.TimeoutSeconds <= 0 {
		return fmt.Errorf("broker.timeout_seconds must be > 0")
	}
	return nil
}

func (s *SentimentConfig) validate() error {
	seen := make(map[string]bool, len(s.Sources))
	enabled := 0
	for _, src := range s.Sources {
		if !knownSentimentSources[src.Name] {
			return fmt.Errorf("sentiment source %q is not supported", src.Name)
		}
		if seen[src.Name] {
			return fmt.Errorf("sentiment source %s listed twice", src.Name)
		}
		seen[src.Name] = true
		if src.Cap <= 0 {
			return fmt.Errorf("sentiment source %s cap must be > 0", src.Name)
		}
		if src.TimeoutSeconds <= 0 {
			return fmt.Errorf("sentiment source %s timeout_seconds must be > 0", src.Name)
		}
		if src.Enabled {
			enabled++
		}
	}
	if enabled == 0 {
		return fmt.Errorf("sentiment.sources requires at least one enabled source")
	}
	return nil
}

func (r *RankingConfig) validate() error {
	if strings.TrimSpace(r.ProfilePath) == "" {
		return fmt.Errorf("ranking.profile_path cannot be empty")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	if strings.TrimSpace(s.LedgerPath) == "" {
		return fmt.Errorf("store.ledger_path cannot be empty")
	}
	if strings.TrimSpace(s.JournalPath) == "" {
		return fmt.Errorf("store.journal_path cannot be empty")
	}
	return nil
}

func (h *HTTPConfig) validate() error {
	if strings.TrimSpace(h.Addr) == "" {
		return fmt.Errorf("http.addr cannot be empty")
	}
	return nil
}
