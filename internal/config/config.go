// Package config loads marketfeed settings from an optional YAML file and
// the environment. Environment variables win over the file, and the file
// wins over built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"

	"github.com/colthorp/marketfeed-go/internal/cache"
	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/feed"
)

// Config is the full marketfeed configuration.
type Config struct {
	CacheBackend string        `yaml:"cache_backend" env:"MARKETFEED_CACHE_BACKEND"`
	CacheDir     string        `yaml:"cache_dir"`
	SQLitePath   string        `yaml:"sqlite_path"`
	Redis        RedisConfig   `yaml:"redis"`
	Timezone     string        `yaml:"timezone"`
	HTTPTimeout  time.Duration `yaml:"http_timeout"`
	Feeds        FeedsConfig   `yaml:"feeds"`
}

// RedisConfig configures the Redis cache backend.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"MARKETFEED_REDIS_ADDR"`
	Password string        `yaml:"password" env:"MARKETFEED_REDIS_PASSWORD"`
	DB       int           `yaml:"db"`
	Expiry   time.Duration `yaml:"expiry"`
}

// FeedsConfig configures the dashboard feeds.
type FeedsConfig struct {
	FMPKey         string        `yaml:"fmp_key" env:"FMP_API_KEY"`
	ForceDemo      bool          `yaml:"force_demo" env:"MARKETFEED_FORCE_DEMO"`
	Symbols        []string      `yaml:"symbols"`
	TickerEndpoint string        `yaml:"ticker_endpoint"`
	FMPBaseURL     string        `yaml:"fmp_base_url"`
	SparkProxyURL  string        `yaml:"spark_proxy_url"`
	TTL            time.Duration `yaml:"ttl"`
	BackoffBase    time.Duration `yaml:"backoff_base"`
	Retries        int           `yaml:"retries"`
	TickerRefresh  time.Duration `yaml:"ticker_refresh"`
	StockRefresh   time.Duration `yaml:"stock_refresh"`
	SparkWorkers   int           `yaml:"spark_workers"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		CacheBackend: core.BackendFilesystem,
		CacheDir:     core.CacheRoot(),
		SQLitePath:   core.SQLitePath(),
		Timezone:     core.DefaultTZ,
		HTTPTimeout:  core.DefaultHTTPTimeout,
		Feeds: FeedsConfig{
			Symbols:        append([]string(nil), core.DefaultStockSymbols...),
			TickerEndpoint: core.TickerEndpoint,
			FMPBaseURL:     core.FMPBaseURL,
			SparkProxyURL:  core.DefaultSparkProxyURL,
			TTL:            core.DefaultTTL,
			BackoffBase:    core.DefaultBackoffBase,
			Retries:        core.DefaultRetries,
			TickerRefresh:  core.TickerRefresh,
			StockRefresh:   core.StockRefresh,
			SparkWorkers:   core.SparkMaxWorkers,
		},
	}
}

// Load reads the configuration. An explicit filePath must exist; without
// one, marketfeed.yaml is looked up in the working directory and in
// ~/.marketfeed, and a missing file is not an error. The returned string is
// the config file used, if any.
func Load(filePath string) (*Config, string, error) {
	if filePath == "" {
		filePath = os.Getenv(core.ConfigEnvVar)
	}

	v := viper.New()
	if len(filePath) > 0 {
		v.SetConfigFile(filePath)
	} else {
		v.SetConfigName("marketfeed")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(core.HomeDir())
	}

	cfg := Default()
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if len(filePath) > 0 || !errors.As(err, &notFound) {
			return nil, "", fmt.Errorf("failed to read config: %w", err)
		}
	} else {
		decoderOpt := func(cfg *mapstructure.DecoderConfig) {
			cfg.ErrorUnused = true
			cfg.TagName = "yaml"
			cfg.WeaklyTypedInput = true
		}
		// A configured list replaces the default symbols outright.
		cfg.Feeds.Symbols = nil
		if err := v.Unmarshal(cfg, decoderOpt); err != nil {
			return nil, "", fmt.Errorf("failed to unmarshal config: %w", err)
		}
		if len(cfg.Feeds.Symbols) == 0 {
			cfg.Feeds.Symbols = append([]string(nil), core.DefaultStockSymbols...)
		}
	}

	if err := ParseEnv(cfg); err != nil {
		return nil, "", err
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, v.ConfigFileUsed(), nil
}

// ParseEnv applies environment overrides to target.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate checks values that would otherwise fail deep inside a fetch.
func (c *Config) Validate() error {
	switch c.CacheBackend {
	case core.BackendFilesystem, core.BackendMemory, core.BackendRedis, core.BackendSQLite:
	default:
		return fmt.Errorf("unknown cache backend %q (want one of %s)", c.CacheBackend,
			strings.Join([]string{core.BackendFilesystem, core.BackendMemory, core.BackendRedis, core.BackendSQLite}, ", "))
	}
	if c.CacheBackend == core.BackendRedis && c.Redis.Addr == "" {
		return errors.New("redis cache backend requires redis.addr or MARKETFEED_REDIS_ADDR")
	}
	if c.Redis.Expiry < 0 {
		return errors.New("redis.expiry must not be negative")
	}
	if c.Feeds.TTL <= 0 {
		return fmt.Errorf("feeds.ttl must be positive, got %s", c.Feeds.TTL)
	}
	if c.Feeds.BackoffBase <= 0 {
		return fmt.Errorf("feeds.backoff_base must be positive, got %s", c.Feeds.BackoffBase)
	}
	if c.Feeds.Retries < 0 {
		return fmt.Errorf("feeds.retries must not be negative, got %d", c.Feeds.Retries)
	}
	if c.HTTPTimeout <= 0 {
		return fmt.Errorf("http_timeout must be positive, got %s", c.HTTPTimeout)
	}
	return nil
}

// CacheOptions maps the configuration onto cache.Open options.
func (c *Config) CacheOptions() cache.Options {
	return cache.Options{
		Backend:       c.CacheBackend,
		Dir:           c.CacheDir,
		RedisAddr:     c.Redis.Addr,
		RedisPassword: c.Redis.Password,
		RedisDB:       c.Redis.DB,
		RedisExpiry:   c.Redis.Expiry,
		SQLitePath:    c.SQLitePath,
	}
}

// FeedConfig maps the configuration onto feed.Config.
func (c *Config) FeedConfig() feed.Config {
	return feed.Config{
		TickerEndpoint: c.Feeds.TickerEndpoint,
		FMPBaseURL:     c.Feeds.FMPBaseURL,
		SparkProxyURL:  c.Feeds.SparkProxyURL,
		FMPKey:         c.Feeds.FMPKey,
		ForceDemo:      c.Feeds.ForceDemo,
		Symbols:        append([]string(nil), c.Feeds.Symbols...),
		TTL:            c.Feeds.TTL,
		BackoffBase:    c.Feeds.BackoffBase,
		Retries:        c.Feeds.Retries,
		SparkWorkers:   c.Feeds.SparkWorkers,
	}
}

// WatchOptions maps the refresh intervals onto feed.WatchOptions.
func (c *Config) WatchOptions() feed.WatchOptions {
	return feed.WatchOptions{
		TickerEvery: c.Feeds.TickerRefresh,
		StocksEvery: c.Feeds.StockRefresh,
	}
}
