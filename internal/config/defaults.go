package config

import "strings"

const (
	defaultAppEnv      = "dev"
	defaultAppLogLevel = "info"
	defaultAppLogPath  = "/data/logs/swell-live.log"

	defaultCycleInterval = "5m"
	defaultOffsetSeconds = 10
	defaultLookbackDays  = 100
	defaultFetchWorkers  = 4

	defaultBrokerBaseURL = "https://paper-api.alpaca.markets"
	defaultBrokerFeed    = "iex"
	defaultBrokerTimeout = 15

	defaultProfilePath = "configs/risk_profile.yaml"

	defaultLedgerPath  = "/data/live/ledger.db"
	defaultJournalPath = "/data/live/cycles.db"

	defaultHTTPAddr = ":9991"

	defaultSourceCap     = 20
	defaultSourceTimeout = 15
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Market.applyDefaults(keys)
	c.Broker.applyDefaults(keys)
	c.Sentiment.applyDefaults(keys)
	c.Ranking.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.HTTP.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_path", &a.LogPath, defaultAppLogPath),
	)
}

func (m *MarketConfig) applyDefaults(keys keySet) {
	if m == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("market.cycle_interval", &m.CycleInterval, defaultCycleInterval),
		boolFieldDefault("market.run_immediately", &m.RunImmediately, true),
		fieldDefault{
			key:   "market.offset_seconds",
			need:  func() bool { return m.OffsetSeconds <= 0 },
			apply: func() { m.OffsetSeconds = defaultOffsetSeconds },
		},
		fieldDefault{
			key:   "market.lookback_days",
			need:  func() bool { return m.LookbackDays <= 0 },
			apply: func() { m.LookbackDays = defaultLookbackDays },
		},
		fieldDefault{
			key:   "market.fetch_workers",
			need:  func() bool { return m.FetchWorkers <= 0 },
			apply: func() { m.FetchWorkers = defaultFetchWorkers },
		},
	)
}

func (b *BrokerConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("broker.base_url", &b.BaseURL, defaultBrokerBaseURL),
		stringFieldDefault("broker.feed", &b.Feed, defaultBrokerFeed),
		fieldDefault{
			key:   "broker.timeout_seconds",
			need:  func() bool { return b.TimeoutSeconds <= 0 },
			apply: func() { b.TimeoutSeconds = defaultBrokerTimeout },
		},
	)
}

// applyDefaults normalizes the source list in place. Per-entry fields are
// clamped directly: list items carry no usable key paths.
func (s *SentimentConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	if len(s.Sources) == 0 {
		s.Sources = []SentimentSource{
			{Name: "apewisdom", Enabled: true},
			{Name: "stocktwits", Enabled: true},
		}
	}
	for i := range s.Sources {
		src := &s.Sources[i]
		src.Name = strings.ToLower(strings.TrimSpace(src.Name))
		src.URL = strings.TrimSpace(src.URL)
		if src.Cap <= 0 {
			src.Cap = defaultSourceCap
		}
		if src.TimeoutSeconds <= 0 {
			src.TimeoutSeconds = defaultSourceTimeout
		}
	}
	if s.CommonCap < 0 {
		s.CommonCap = 0
	}
}

func (r *RankingConfig) applyDefaults(keys keySet) {
	if r == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("ranking.profile_path", &r.ProfilePath, defaultProfilePath),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("store.ledger_path", &s.LedgerPath, defaultLedgerPath),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
	)
}

func (h *HTTPConfig) applyDefaults(keys keySet) {
	if h == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("http.addr", &h.Addr, defaultHTTPAddr),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
