package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/prospector/internal/cost"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Registry  RegistryConfig  `yaml:"registry" mapstructure:"registry"`
	Google    GoogleConfig    `yaml:"google" mapstructure:"google"`
	Crawl     CrawlConfig     `yaml:"crawl" mapstructure:"crawl"`
	Redis     RedisConfig     `yaml:"redis" mapstructure:"redis"`
	Discovery DiscoveryConfig `yaml:"discovery" mapstructure:"discovery"`
	Extract   ExtractConfig   `yaml:"extract" mapstructure:"extract"`
	Workers   WorkersConfig   `yaml:"workers" mapstructure:"workers"`
	Await     AwaitConfig     `yaml:"await" mapstructure:"await"`
	Pricing   cost.Rates      `yaml:"pricing" mapstructure:"pricing"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres job store.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// RegistryConfig configures the business registry client and its call budget.
type RegistryConfig struct {
	BaseURL         string `yaml:"base_url" mapstructure:"base_url"`
	APIKey          string `yaml:"api_key" mapstructure:"api_key"`
	PageSize        int    `yaml:"page_size" mapstructure:"page_size"`
	MaxPages        int    `yaml:"max_pages" mapstructure:"max_pages"`
	Sort            string `yaml:"sort" mapstructure:"sort"`
	ActiveOnly      bool   `yaml:"active_only" mapstructure:"active_only"`
	WindowSecs      int    `yaml:"window_secs" mapstructure:"window_secs"`
	CallsPerWindow  int    `yaml:"calls_per_window" mapstructure:"calls_per_window"`
	MinDelayMs      int    `yaml:"min_delay_ms" mapstructure:"min_delay_ms"`
	BackoffBaseSecs int    `yaml:"backoff_base_secs" mapstructure:"backoff_base_secs"`
	MaxRetries      int    `yaml:"max_retries" mapstructure:"max_retries"`
	PairWorkers     int    `yaml:"pair_workers" mapstructure:"pair_workers"`
}

// Window returns the rolling limiter window.
func (c RegistryConfig) Window() time.Duration {
	return time.Duration(c.WindowSecs) * time.Second
}

// MinDelay returns the minimum gap between registry calls.
func (c RegistryConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelayMs) * time.Millisecond
}

// BackoffBase returns the first 429 backoff.
func (c RegistryConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSecs) * time.Second
}

// GoogleConfig configures the Places API client.
type GoogleConfig struct {
	Key       string  `yaml:"key" mapstructure:"key"`
	BaseURL   string  `yaml:"base_url" mapstructure:"base_url"`
	RateLimit float64 `yaml:"rate_limit" mapstructure:"rate_limit"`
	// Breaker settings guard the extraction fallback.
	BreakerFailures  int `yaml:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerResetSecs int `yaml:"breaker_reset_secs" mapstructure:"breaker_reset_secs"`
}

// CrawlConfig configures website crawling.
type CrawlConfig struct {
	// Fetcher is "http" or "browser".
	Fetcher           string   `yaml:"fetcher" mapstructure:"fetcher"`
	BrowserPath       string   `yaml:"browser_path" mapstructure:"browser_path"`
	NavTimeoutSecs    int      `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs"`
	MaxPages          int      `yaml:"max_pages" mapstructure:"max_pages"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
	ExcludePaths      []string `yaml:"exclude_paths" mapstructure:"exclude_paths"`
	RobotsCacheTTLMin int      `yaml:"robots_cache_ttl_mins" mapstructure:"robots_cache_ttl_mins"`
}

// NavTimeout returns the per-page fetch timeout.
func (c CrawlConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSecs) * time.Second
}

// RobotsTTL returns how long robots.txt decisions are cached.
func (c CrawlConfig) RobotsTTL() time.Duration {
	return time.Duration(c.RobotsCacheTTLMin) * time.Minute
}

// RedisConfig configures the optional shared robots.txt cache. An empty
// Addr keeps the cache in process memory.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
}

// DiscoveryConfig configures business discovery.
type DiscoveryConfig struct {
	// CatalogPath overrides the embedded industry catalog.
	CatalogPath       string   `yaml:"catalog_path" mapstructure:"catalog_path"`
	GridSpacingKM     float64  `yaml:"grid_spacing_km" mapstructure:"grid_spacing_km"`
	GridRadiusKM      float64  `yaml:"grid_radius_km" mapstructure:"grid_radius_km"`
	GridBatchSize     int      `yaml:"grid_batch_size" mapstructure:"grid_batch_size"`
	GridWorkers       int      `yaml:"grid_workers" mapstructure:"grid_workers"`
	NewRatioThreshold float64  `yaml:"new_ratio_threshold" mapstructure:"new_ratio_threshold"`
	LowYieldBatches   int      `yaml:"low_yield_batches" mapstructure:"low_yield_batches"`
	LanguageCode      string   `yaml:"language_code" mapstructure:"language_code"`
	DirectoryHosts    []string `yaml:"directory_hosts" mapstructure:"directory_hosts"`
}

// ExtractConfig configures contact extraction.
type ExtractConfig struct {
	PagesLimit int `yaml:"pages_limit" mapstructure:"pages_limit"`
}

// WorkersConfig sizes the worker pools.
type WorkersConfig struct {
	Crawl            int `yaml:"crawl" mapstructure:"crawl"`
	Extract          int `yaml:"extract" mapstructure:"extract"`
	Discovery        int `yaml:"discovery" mapstructure:"discovery"`
	BatchSize        int `yaml:"batch_size" mapstructure:"batch_size"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
	MetricsSecs      int `yaml:"metrics_secs" mapstructure:"metrics_secs"`
}

// PollInterval returns the idle poll interval.
func (c WorkersConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSecs) * time.Second
}

// AwaitConfig bounds how long a caller waits for a dataset to settle.
type AwaitConfig struct {
	MaxWaitSecs      int `yaml:"max_wait_secs" mapstructure:"max_wait_secs"`
	PollIntervalSecs int `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs"`
}

// ServerConfig configures the worker's health and metrics listener.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PROSPECTOR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 10)
	v.SetDefault("store.min_conns", 1)
	v.SetDefault("registry.base_url", "")
	v.SetDefault("registry.api_key", "")
	v.SetDefault("registry.page_size", 100)
	v.SetDefault("registry.max_pages", 50)
	v.SetDefault("registry.sort", "")
	v.SetDefault("registry.active_only", true)
	v.SetDefault("registry.window_secs", 60)
	v.SetDefault("registry.calls_per_window", 20)
	v.SetDefault("registry.min_delay_ms", 500)
	v.SetDefault("registry.backoff_base_secs", 30)
	v.SetDefault("registry.max_retries", 3)
	v.SetDefault("registry.pair_workers", 2)
	v.SetDefault("google.key", "")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("google.rate_limit", 5.0)
	v.SetDefault("google.breaker_failures", 5)
	v.SetDefault("google.breaker_reset_secs", 60)
	v.SetDefault("crawl.fetcher", "http")
	v.SetDefault("crawl.browser_path", "")
	v.SetDefault("crawl.nav_timeout_secs", 30)
	v.SetDefault("crawl.max_pages", 25)
	v.SetDefault("crawl.user_agent", "")
	v.SetDefault("crawl.exclude_paths", []string{})
	v.SetDefault("crawl.robots_cache_ttl_mins", 1440)
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("discovery.catalog_path", "")
	v.SetDefault("discovery.grid_spacing_km", 2.0)
	v.SetDefault("discovery.grid_radius_km", 5.0)
	v.SetDefault("discovery.grid_batch_size", 10)
	v.SetDefault("discovery.grid_workers", 4)
	v.SetDefault("discovery.new_ratio_threshold", 0.1)
	v.SetDefault("discovery.low_yield_batches", 3)
	v.SetDefault("discovery.language_code", "ja")
	v.SetDefault("discovery.directory_hosts", []string{})
	v.SetDefault("extract.pages_limit", 25)
	v.SetDefault("workers.crawl", 4)
	v.SetDefault("workers.extract", 4)
	v.SetDefault("workers.discovery", 1)
	v.SetDefault("workers.batch_size", 10)
	v.SetDefault("workers.poll_interval_secs", 5)
	v.SetDefault("workers.metrics_secs", 30)
	v.SetDefault("await.max_wait_secs", 1800)
	v.SetDefault("await.poll_interval_secs", 10)
	rates := cost.DefaultRates()
	v.SetDefault("pricing.registry_per_call", rates.RegistryPerCall)
	v.SetDefault("pricing.places_search", rates.PlacesSearch)
	v.SetDefault("pricing.places_detail", rates.PlacesDetail)
	v.SetDefault("pricing.crawl_per_page", rates.CrawlPerPage)
	v.SetDefault("pricing.export_per_record", rates.ExportPerRecord)
	v.SetDefault("pricing.refresh_per_record", rates.RefreshPerRecord)
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. Mode is the command name:
// migrate, discover, work, status or await.
func (c *Config) Validate(mode string) error {
	var errs []string
	need := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "migrate", "status", "await":
		need(c.Store.DatabaseURL != "", "store.database_url is required")
	case "discover":
		need(c.Store.DatabaseURL != "", "store.database_url is required")
		need(c.Registry.BaseURL != "" || c.Google.Key != "", "registry.base_url or google.key is required")
		need(c.Registry.BaseURL == "" || c.Registry.CallsPerWindow > 0, "registry.calls_per_window must be > 0")
	case "work":
		need(c.Store.DatabaseURL != "", "store.database_url is required")
		need(c.Server.Port > 0 && c.Server.Port <= 65535, "server.port must be > 0 and <= 65535")
		need(c.Crawl.Fetcher == "http" || c.Crawl.Fetcher == "browser", `crawl.fetcher must be "http" or "browser"`)
		need(c.Workers.Crawl >= 1 && c.Workers.Crawl <= 64, "workers.crawl must be between 1 and 64")
		need(c.Workers.Extract >= 1 && c.Workers.Extract <= 64, "workers.extract must be between 1 and 64")
		need(c.Workers.Discovery >= 1 && c.Workers.Discovery <= 8, "workers.discovery must be between 1 and 8")
		need(c.Workers.BatchSize > 0, "workers.batch_size must be > 0")
		need(c.Registry.BaseURL != "" || c.Google.Key != "", "registry.base_url or google.key is required")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if c.Discovery.NewRatioThreshold < 0 || c.Discovery.NewRatioThreshold > 1 {
		errs = append(errs, "discovery.new_ratio_threshold must be between 0 and 1")
	}
	if c.Crawl.MaxPages < 0 {
		errs = append(errs, "crawl.max_pages must be >= 0")
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: %s", strings.Join(errs, "; ")))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
