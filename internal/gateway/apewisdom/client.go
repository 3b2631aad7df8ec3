// Package apewisdom implements sentiment.Feed over the public ApeWisdom
// aggregator, the primary mention-ranking source.
package apewisdom

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"swell/internal/sentiment"
)

const (
	DefaultURL = "https://apewisdom.io/api/v1.0/filter/all-stocks/page/1"

	defaultCap     = 20
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20

	// The API answers plain http clients with a bot page; a browser UA gets
	// the JSON.
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"
)

type Config struct {
	URL     string
	Cap     int
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if strings.TrimSpace(c.URL) == "" {
		c.URL = DefaultURL
	}
	if c.Cap <= 0 {
		c.Cap = defaultCap
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

type Client struct {
	cfg        Config
	httpClient *http.Client
}

func New(cfg Config) *Client {
	final := cfg.withDefaults()
	return &Client{
		cfg:        final,
		httpClient: &http.Client{Timeout: final.Timeout},
	}
}

func (c *Client) Name() string { return "apewisdom" }

func (c *Client) Cap() int { return c.cfg.Cap }

// Fetch returns the top entries of the current mention ranking. Every
// failure mode wraps sentiment.ErrSourceUnavailable: the scanner drops the
// source for the cycle and carries on.
func (c *Client) Fetch(ctx context.Context) ([]sentiment.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build apewisdom request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: apewisdom: %v", sentiment.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: apewisdom returned %s", sentiment.ErrSourceUnavailable, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read apewisdom response: %v", sentiment.ErrSourceUnavailable, err)
	}
	return parseResults(raw, c.cfg.Cap)
}

func parseResults(raw []byte, limit int) ([]sentiment.Entry, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: apewisdom payload is not json", sentiment.ErrSourceUnavailable)
	}
	results := gjson.GetBytes(raw, "results")
	if !results.IsArray() {
		return nil, fmt.Errorf("%w: apewisdom payload has no results array", sentiment.ErrSourceUnavailable)
	}

	entries := make([]sentiment.Entry, 0, limit)
	results.ForEach(func(_, item gjson.Result) bool {
		symbol := strings.ToUpper(strings.TrimSpace(item.Get("ticker").String()))
		rankV := item.Get("rank").Int()
		if symbol == "" || rankV <= 0 {
			return true
		}
		entries = append(entries, sentiment.Entry{
			Symbol:   symbol,
			Rank:     int(rankV),
			Mentions: item.Get("mentions").Int(),
		})
		return len(entries) < limit
	})
	if len(entries) == 0 {
		return nil, fmt.Errorf("%w: apewisdom returned no usable entries", sentiment.ErrSourceUnavailable)
	}
	return entries, nil
}
