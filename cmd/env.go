package main

import (
	"context"

	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospector/internal/config"
	"github.com/sells-group/prospector/internal/cost"
	"github.com/sells-group/prospector/internal/crawler"
	"github.com/sells-group/prospector/internal/db"
	"github.com/sells-group/prospector/internal/discovery"
	"github.com/sells-group/prospector/internal/extract"
	"github.com/sells-group/prospector/internal/monitoring"
	"github.com/sells-group/prospector/internal/pipeline"
	"github.com/sells-group/prospector/internal/resilience"
	"github.com/sells-group/prospector/internal/store"
	"github.com/sells-group/prospector/pkg/google"
	"github.com/sells-group/prospector/pkg/registry"
)

// appEnv holds the store and the pipeline components shared by the
// discover, work, status and await commands.
type appEnv struct {
	Store        *store.PostgresStore
	Businesses   *discovery.PostgresStore
	Contacts     *extract.PostgresStore
	Places       google.Client // nil when no key is configured
	Discovery    *discovery.Engine
	Orchestrator *pipeline.Orchestrator

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	e.closers = nil
}

// initStore opens the Postgres pool and wraps it in the job store.
func initStore(ctx context.Context, c *config.Config) (*store.PostgresStore, error) {
	pool, err := db.Connect(ctx, c.Store.DatabaseURL, db.PoolConfig{
		MaxConns: c.Store.MaxConns,
		MinConns: c.Store.MinConns,
	})
	if err != nil {
		return nil, err
	}
	return store.NewPostgres(pool, pool.Close), nil
}

// initEnv validates cfg for mode and builds the store, the API clients and
// the discovery orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, c *config.Config, mode string) (*appEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}
	env := &appEnv{
		Store:      st,
		Businesses: discovery.NewPostgresStore(st.Pool()),
		Contacts:   extract.NewPostgresStore(st.Pool()),
		closers:    []func(){func() { _ = st.Close() }},
	}

	if c.Google.Key != "" {
		env.Places = google.NewClient(c.Google.Key,
			google.WithBaseURL(c.Google.BaseURL),
			google.WithRateLimit(c.Google.RateLimit),
		)
		zap.L().Info("place search enabled")
	} else {
		zap.L().Debug("PROSPECTOR_GOOGLE_KEY not set, grid discovery and place fallback disabled")
	}

	catalog, err := discovery.LoadCatalog(c.Discovery.CatalogPath)
	if err != nil {
		env.Close()
		return nil, eris.Wrap(err, "load industry catalog")
	}

	env.Discovery = discovery.NewEngine(env.Businesses, catalog, cost.NewCalculator(c.Pricing), discoveryOptions(c, env.Places)...)
	env.Orchestrator = pipeline.NewOrchestrator(st, env.Discovery, c.Crawl.MaxPages)
	return env, nil
}

// discoveryOptions registers a source per configured provider.
func discoveryOptions(c *config.Config, places google.Client) []discovery.EngineOption {
	var opts []discovery.EngineOption
	if c.Registry.BaseURL != "" {
		limiter := registry.NewLimiter(registry.LimiterConfig{
			CallsPerWindow: c.Registry.CallsPerWindow,
			Window:         c.Registry.Window(),
			MinDelay:       c.Registry.MinDelay(),
		}, nil)
		client := registry.NewClient(registry.Config{
			BaseURL:     c.Registry.BaseURL,
			APIKey:      c.Registry.APIKey,
			PageSize:    c.Registry.PageSize,
			MaxPages:    c.Registry.MaxPages,
			Sort:        c.Registry.Sort,
			ActiveOnly:  c.Registry.ActiveOnly,
			BackoffBase: c.Registry.BackoffBase(),
			MaxRetries:  c.Registry.MaxRetries,
			PairWorkers: c.Registry.PairWorkers,
		}, limiter, registry.WithObserver(monitoring.ObserveRegistryResponse))
		opts = append(opts, discovery.WithSource(discovery.ModeRegistry, discovery.NewRegistrySource(client)))
	}
	if places != nil {
		opts = append(opts, discovery.WithSource(discovery.ModeGrid, discovery.NewGridSource(places, discovery.GridConfig{
			SpacingKM:         c.Discovery.GridSpacingKM,
			RadiusKM:          c.Discovery.GridRadiusKM,
			BatchSize:         c.Discovery.GridBatchSize,
			NewRatioThreshold: c.Discovery.NewRatioThreshold,
			LowYieldBatches:   c.Discovery.LowYieldBatches,
			Workers:           c.Discovery.GridWorkers,
			LanguageCode:      c.Discovery.LanguageCode,
		})))
	}
	if len(c.Discovery.DirectoryHosts) > 0 {
		opts = append(opts, discovery.WithDirectoryBlocklist(c.Discovery.DirectoryHosts))
	}
	return opts
}

// initRobotsCache shares robots.txt decisions through Redis when an address
// is configured, otherwise keeps them in process memory.
func initRobotsCache(ctx context.Context, c *config.Config) (crawler.RobotsCache, func(), error) {
	if c.Redis.Addr == "" {
		return crawler.NewMemoryRobotsCache(c.Crawl.RobotsTTL()), func() {}, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, nil, eris.Wrap(err, "redis: ping")
	}
	zap.L().Info("robots cache using redis", zap.String("addr", c.Redis.Addr))
	return crawler.NewRedisRobotsCache(client, c.Crawl.RobotsTTL()), func() { _ = client.Close() }, nil
}

// initFetcher builds the configured page fetcher.
func initFetcher(c *config.Config) (crawler.SessionFactory, func()) {
	if c.Crawl.Fetcher == "browser" {
		b := crawler.NewBrowserFetcher(crawler.BrowserConfig{
			UserAgent:  c.Crawl.UserAgent,
			NavTimeout: c.Crawl.NavTimeout(),
			ExecPath:   c.Crawl.BrowserPath,
		})
		return b, b.Close
	}
	return crawler.NewHTTPFetcher(c.Crawl.UserAgent, c.Crawl.NavTimeout()), func() {}
}

// initWorkers assembles the crawl and extraction engines and the worker
// pools on top of env.
func initWorkers(ctx context.Context, c *config.Config, env *appEnv) (*pipeline.Workers, error) {
	robotsCache, closeRobots, err := initRobotsCache(ctx, c)
	if err != nil {
		return nil, err
	}
	env.closers = append(env.closers, closeRobots)

	fetcher, closeFetcher := initFetcher(c)
	env.closers = append(env.closers, closeFetcher)

	crawls := crawler.New(env.Store, fetcher, crawler.NewRobots(robotsCache, c.Crawl.UserAgent), crawler.Config{
		MaxPages:     c.Crawl.MaxPages,
		ExcludePaths: c.Crawl.ExcludePaths,
	})

	breakerCfg := resilience.NewBreakerConfig("places", c.Google.BreakerFailures, c.Google.BreakerResetSecs)
	breakerCfg.OnChange = monitoring.ObserveBreaker
	breaker := resilience.NewBreaker(breakerCfg)
	blocklist := discovery.DefaultDirectoryBlocklist
	if len(c.Discovery.DirectoryHosts) > 0 {
		blocklist = c.Discovery.DirectoryHosts
	}
	extractions := extract.NewEngine(env.Contacts, env.Store, env.Places, breaker, extract.Config{
		PagesLimit:   c.Extract.PagesLimit,
		LanguageCode: c.Discovery.LanguageCode,
		Blocklist:    blocklist,
	})

	return pipeline.NewWorkers(env.Store, env.Orchestrator, crawls, extractions, env.Contacts, pipeline.PoolConfig{
		CrawlWorkers:     c.Workers.Crawl,
		ExtractWorkers:   c.Workers.Extract,
		DiscoveryWorkers: c.Workers.Discovery,
		BatchSize:        c.Workers.BatchSize,
		PollInterval:     c.Workers.PollInterval(),
	}), nil
}
