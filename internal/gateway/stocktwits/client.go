// Package stocktwits implements sentiment.Feed over the Stocktwits trending
// endpoint. The API reports watchlist counts, not ranks; entries are ranked
// here by count descending so the merger sees the same shape as every other
// feed.
package stocktwits

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"swell/internal/sentiment"
)

const (
	DefaultURL = "https://api.stocktwits.com/api/2/trending/symbols.json"

	defaultCap     = 20
	defaultTimeout = 15 * time.Second
	maxBodyBytes   = 1 << 20
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

func (c *Client) Name() string { return "stocktwits" }

func (c *Client) Cap() int { return c.cfg.Cap }

func (c *Client) Fetch(ctx context.Context) ([]sentiment.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build stocktwits request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: stocktwits: %v", sentiment.ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: stocktwits returned %s", sentiment.ErrSourceUnavailable, resp.Status)
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read stocktwits response: %v", sentiment.ErrSourceUnavailable, err)
	}
	return parseSymbols(raw, c.cfg.Cap)
}

type trendingRow struct {
	symbol string
	count  int64
}

func parseSymbols(raw []byte, limit int) ([]sentiment.Entry, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: stocktwits payload is not json", sentiment.ErrSourceUnavailable)
	}
	symbols := gjson.GetBytes(raw, "symbols")
	if !symbols.IsArray() {
		return nil, fmt.Errorf("%w: stocktwits payload has no symbols array", sentiment.ErrSourceUnavailable)
	}

	var rows []trendingRow
	symbols.ForEach(func(_, item gjson.Result) bool {
		symbol := strings.ToUpper(strings.TrimSpace(item.Get("symbol").String()))
		if symbol == "" {
			return true
		}
		rows = append(rows, trendingRow{symbol: symbol, count: item.Get("watchlist_count").Int()})
		return true
	})
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: stocktwits returned no usable entries", sentiment.ErrSourceUnavailable)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].count != rows[j].count {
			return rows[i].count > rows[j].count
		}
		return rows[i].symbol < rows[j].symbol
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}

	entries := make([]sentiment.Entry, len(rows))
	for i, row := range rows {
		entries[i] = sentiment.Entry{Symbol: row.symbol, Rank: i + 1, Mentions: row.count}
	}
	return entries, nil
}
