package app

import (
	"context"
	"fmt"
	"time"

	swcfg "swell/internal/config"
	"swell/internal/gateway/alpaca"
	"swell/internal/gateway/apewisdom"
	"swell/internal/gateway/stocktwits"
	"swell/internal/logger"
	"swell/internal/profile"
	"swell/internal/scheduler"
	"swell/internal/sentiment"
	"swell/internal/store/cyclelog"
	"swell/internal/store/gormstore"
	"swell/internal/trader"
	livehttp "swell/internal/transport/http/live"
)

// Credentials carries the brokerage keys. cmd/swell reads them from the
// environment; they never appear in the config file.
type Credentials struct {
	APIKey    string
	APISecret string
}

// AppBuilder assembles the runtime graph. Each constructor lives behind a
// function field so tests can swap in fakes without touching the wiring.
type AppBuilder struct {
	cfg   *swcfg.Config
	creds Credentials

	brokerFn   func(alpaca.Config) (*alpaca.Broker, error)
	feedsFn    func(swcfg.SentimentConfig) ([]sentiment.Feed, error)
	profilesFn func(string) (trader.Profiles, error)
	ledgerFn   func(string) (*gormstore.GormStore, error)
	journalFn  func(string) (*cyclelog.Journal, error)
	serverFn   func(livehttp.ServerConfig) (*livehttp.Server, error)
}

type AppBuilderOption func(*AppBuilder)

func NewAppBuilder(cfg *swcfg.Config, creds Credentials, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		creds:      creds,
		brokerFn:   alpaca.New,
		feedsFn:    buildFeeds,
		profilesFn: loadProfiles,
		ledgerFn:   gormstore.NewGormStore,
		journalFn:  cyclelog.NewJournal,
		serverFn:   livehttp.NewServer,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if b.cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	cfg := b.cfg
	logger.SetLevel(cfg.App.LogLevel)

	interval, ok := scheduler.ParseInterval(cfg.Market.CycleInterval)
	if !ok {
		return nil, fmt.Errorf("invalid cycle interval %q", cfg.Market.CycleInterval)
	}

	broker, err := b.brokerFn(alpaca.Config{
		APIKey:      b.creds.APIKey,
		APISecret:   b.creds.APISecret,
		BaseURL:     cfg.Broker.BaseURL,
		DataBaseURL: cfg.Broker.DataBaseURL,
		Feed:        cfg.Broker.Feed,
		HTTPTimeout: time.Duration(cfg.Broker.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init brokerage failed: %w", err)
	}
	logger.Infof("Brokerage ready: %s (feed=%s)", cfg.Broker.BaseURL, cfg.Broker.Feed)

	feeds, err := b.feedsFn(cfg.Sentiment)
	if err != nil {
		return nil, err
	}
	scanner := sentiment.NewScanner(feeds, cfg.Sentiment.CommonCap)
	logger.Infof("Sentiment scanner ready: %d sources", len(feeds))

	profiles, err := b.profilesFn(cfg.Ranking.ProfilePath)
	if err != nil {
		return nil, fmt.Errorf("load risk profile failed: %w", err)
	}
	if reg, ok := profiles.(*profile.Registry); ok {
		reg.OnChange(logProfileChange)
	}

	ledger, err := b.ledgerFn(cfg.Store.LedgerPath)
	if err != nil {
		return nil, fmt.Errorf("open position ledger failed: %w", err)
	}
	journal, err := b.journalFn(cfg.Store.JournalPath)
	if err != nil {
		return nil, fmt.Errorf("open cycle journal failed: %w", err)
	}

	tr := trader.New(trader.Params{
		Broker:       broker,
		Source:       broker,
		Scanner:      scanner,
		Profiles:     profiles,
		Ledger:       ledger,
		Journal:      journal,
		Lookback:     cfg.Market.LookbackDays,
		FetchWorkers: cfg.Market.FetchWorkers,
	})

	router := livehttp.NewRouter(tr, journal, broker, cfg.Market.LookbackDays)
	server, err := b.serverFn(livehttp.ServerConfig{
		Addr:   cfg.HTTP.Addr,
		Router: router,
	})
	if err != nil {
		return nil, fmt.Errorf("init live HTTP failed: %w", err)
	}
	logger.Infof("Live HTTP listening on %s", server.Addr())

	snap := profiles.Snapshot()
	return &App{
		cfg:            cfg,
		trader:         tr,
		httpSrv:        server,
		ledger:         ledger,
		journal:        journal,
		interval:       interval,
		offset:         time.Duration(cfg.Market.OffsetSeconds) * time.Second,
		runImmediately: cfg.Market.RunImmediately,
		Summary: &StartupSummary{
			Market: MarketSummary{
				CycleInterval:  cfg.Market.CycleInterval,
				OffsetSeconds:  cfg.Market.OffsetSeconds,
				RunImmediately: cfg.Market.RunImmediately,
				LookbackDays:   cfg.Market.LookbackDays,
				FetchWorkers:   cfg.Market.FetchWorkers,
			},
			Broker: BrokerSummary{
				BaseURL: cfg.Broker.BaseURL,
				Feed:    cfg.Broker.Feed,
			},
			Sentiment: SentimentSummary{
				Sources:   describeSources(cfg.Sentiment),
				CommonCap: cfg.Sentiment.CommonCap,
			},
			Profile: ProfileSummary{
				Path:        cfg.Ranking.ProfilePath,
				Version:     snap.Version,
				MaxPosition: snap.Profile.MaxPositionExposure,
				Step:        snap.Profile.StepExposure,
				MaxSide:     snap.Profile.MaxSideExposure,
				MaxTotal:    snap.Profile.MaxTotalExposure,
				TopWindow:   snap.Profile.TopWindow,
			},
			Stores: StoreSummary{
				LedgerPath:  cfg.Store.LedgerPath,
				JournalPath: cfg.Store.JournalPath,
			},
			HTTPAddr: server.Addr(),
		},
	}, nil
}

// buildFeeds maps configured source names to their clients. Zero values in
// an entry fall through to the client's own defaults.
func buildFeeds(cfg swcfg.SentimentConfig) ([]sentiment.Feed, error) {
	enabled := cfg.EnabledSources()
	feeds := make([]sentiment.Feed, 0, len(enabled))
	for _, src := range enabled {
		timeout := time.Duration(src.TimeoutSeconds) * time.Second
		switch src.Name {
		case "apewisdom":
			feeds = append(feeds, apewisdom.New(apewisdom.Config{URL: src.URL, Cap: src.Cap, Timeout: timeout}))
		case "stocktwits":
			feeds = append(feeds, stocktwits.New(stocktwits.Config{URL: src.URL, Cap: src.Cap, Timeout: timeout}))
		default:
			return nil, fmt.Errorf("sentiment source %q is not supported", src.Name)
		}
	}
	if len(feeds) == 0 {
		return nil, fmt.Errorf("no sentiment sources enabled")
	}
	return feeds, nil
}

func loadProfiles(path string) (trader.Profiles, error) {
	return profile.NewRegistry(path)
}

// logProfileChange states the numbers now in force after an operator edits
// the profile file; the next cycle trades under them.
func logProfileChange(snap profile.Snapshot) {
	p := snap.Profile
	logger.Infof("Risk profile v%d in force: position %.0f%% step %.0f%% side %.0f%% total %.0f%% window %d",
		snap.Version, p.MaxPositionExposure*100, p.StepExposure*100,
		p.MaxSideExposure*100, p.MaxTotalExposure*100, p.TopWindow)
}

func describeSources(cfg swcfg.SentimentConfig) []string {
	enabled := cfg.EnabledSources()
	out := make([]string, 0, len(enabled))
	for _, src := range enabled {
		out = append(out, fmt.Sprintf("%s (cap %d)", src.Name, src.Cap))
	}
	return out
}

func WithBroker(fn func(alpaca.Config) (*alpaca.Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.brokerFn = fn
		}
	}
}

func WithFeeds(fn func(swcfg.SentimentConfig) ([]sentiment.Feed, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.feedsFn = fn
		}
	}
}

func WithProfiles(fn func(string) (trader.Profiles, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.profilesFn = fn
		}
	}
}

func WithLedger(fn func(string) (*gormstore.GormStore, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.ledgerFn = fn
		}
	}
}

func WithJournal(fn func(string) (*cyclelog.Journal, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.journalFn = fn
		}
	}
}

func WithHTTPServer(fn func(livehttp.ServerConfig) (*livehttp.Server, error)) AppBuilderOption {
	return func(b *AppBuilder) {
		if fn != nil {
			b.serverFn = fn
		}
	}
}
