package config

import "strings"

// Config is the full runtime configuration.
type Config struct {
	App       AppConfig       `toml:"app"`
	Market    MarketConfig    `toml:"market"`
	Broker    BrokerConfig    `toml:"broker"`
	Sentiment SentimentConfig `toml:"sentiment"`
	Ranking   RankingConfig   `toml:"ranking"`
	Store     StoreConfig     `toml:"store"`
	HTTP      HTTPConfig      `toml:"http"`
}

type AppConfig struct {
	Env      string `toml:"env"`
	LogLevel string `toml:"log_level"`
	LogPath  string `toml:"log_path"`
}

// MarketConfig sets the decision cadence and the history window behind the
// technical reads.
type MarketConfig struct {
	CycleInterval  string `toml:"cycle_interval"`
	OffsetSeconds  int    `toml:"offset_seconds"`
	RunImmediately bool   `toml:"run_immediately"`
	LookbackDays   int    `toml:"lookback_days"`
	FetchWorkers   int    `toml:"fetch_workers"`
}

// BrokerConfig points at the brokerage API hosts. Credentials never live in
// the config file; they come from the environment.
type BrokerConfig struct {
	BaseURL        string `toml:"base_url"`
	DataBaseURL    string `toml:"data_base_url"`
	Feed           string `toml:"feed"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type SentimentConfig struct {
	// CommonCap rescales per-source ranks onto one ladder. <= 0 lets the
	// merger use the deepest list present in the scan.
	CommonCap float64           `toml:"common_cap"`
	Sources   []SentimentSource `toml:"sources"`
}

type SentimentSource struct {
	Name           string `toml:"name"`
	Enabled        bool   `toml:"enabled"`
	URL            string `toml:"url"`
	Cap            int    `toml:"cap"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

type RankingConfig struct {
	ProfilePath string `toml:"profile_path"`
}

type StoreConfig struct {
	LedgerPath  string `toml:"ledger_path"`
	JournalPath string `toml:"journal_path"`
}

type HTTPConfig struct {
	Addr string `toml:"addr"`
}

// EnabledSources returns the sentiment sources the app will construct.
func (s SentimentConfig) EnabledSources() []SentimentSource {
	out := make([]SentimentSource, 0, len(s.Sources))
	for _, src := range s.Sources {
		if src.Enabled {
			out = append(out, src)
		}
	}
	return out
}

// keySet tracks the config paths set explicitly in the files, so a default
// never overrides a deliberate zero.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault is one default rule: applied when the key was never written
// and the current value needs it.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
