package alpaca

import (
	"strings"
	"time"
)

// DefaultBaseURL points at the paper-trading API. Live trading requires an
// explicit override in the config file.
const DefaultBaseURL = "https://paper-api.alpaca.markets"

type Config struct {
	APIKey    string
	APISecret string

	// BaseURL is the trading API host. DataBaseURL is the market-data host;
	// empty keeps the SDK default.
	BaseURL     string
	DataBaseURL string

	// Feed selects the equities data feed. Free keys only see "iex".
	Feed string

	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.APIKey = strings.TrimSpace(out.APIKey)
	out.APISecret = strings.TrimSpace(out.APISecret)
	out.BaseURL = strings.TrimSpace(out.BaseURL)
	if out.BaseURL == "" {
		out.BaseURL = DefaultBaseURL
	}
	out.DataBaseURL = strings.TrimSpace(out.DataBaseURL)
	out.Feed = strings.ToLower(strings.TrimSpace(out.Feed))
	if out.Feed == "" {
		out.Feed = "iex"
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	return out
}
