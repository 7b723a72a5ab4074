package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/marketfeed-go/internal/core"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marketfeed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		core.FMPKeyEnvVar, core.ForceDemoEnvVar, core.ConfigEnvVar,
		"MARKETFEED_CACHE_BACKEND", "MARKETFEED_REDIS_ADDR", "MARKETFEED_REDIS_PASSWORD",
	} {
		t.Setenv(name, "")
		require.NoError(t, os.Unsetenv(name))
	}
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, used, err := Load("")
	require.NoError(t, err)

	assert.Empty(t, used)
	assert.Equal(t, core.BackendFilesystem, cfg.CacheBackend)
	assert.Equal(t, 10*time.Minute, cfg.Feeds.TTL)
	assert.Equal(t, 600*time.Millisecond, cfg.Feeds.BackoffBase)
	assert.Equal(t, 2, cfg.Feeds.Retries)
	assert.Equal(t, []string{"AAPL", "MSFT", "NVDA"}, cfg.Feeds.Symbols)
	assert.Empty(t, cfg.Feeds.FMPKey)
}

func TestLoadFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
cache_backend: sqlite
sqlite_path: /tmp/feeds.db
timezone: America/New_York
feeds:
  symbols: [amd, tsla]
  ttl: 5m
  backoff_base: 250ms
  retries: 0
  ticker_refresh: 10s
  fmp_key: from-file
`)

	cfg, used, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, path, used)
	assert.Equal(t, core.BackendSQLite, cfg.CacheBackend)
	assert.Equal(t, "/tmp/feeds.db", cfg.SQLitePath)
	assert.Equal(t, "America/New_York", cfg.Timezone)
	assert.Equal(t, []string{"amd", "tsla"}, cfg.Feeds.Symbols)
	assert.Equal(t, 5*time.Minute, cfg.Feeds.TTL)
	assert.Equal(t, 250*time.Millisecond, cfg.Feeds.BackoffBase)
	assert.Equal(t, 0, cfg.Feeds.Retries)
	assert.Equal(t, 10*time.Second, cfg.Feeds.TickerRefresh)
	assert.Equal(t, 30*time.Second, cfg.Feeds.StockRefresh, "unset keys keep defaults")
	assert.Equal(t, "from-file", cfg.Feeds.FMPKey)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
feeds:
  fmp_key: from-file
`)
	t.Setenv(core.FMPKeyEnvVar, "from-env")
	t.Setenv(core.ForceDemoEnvVar, "1")
	t.Setenv("MARKETFEED_CACHE_BACKEND", "redis")
	t.Setenv("MARKETFEED_REDIS_ADDR", "localhost:6379")

	cfg, _, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Feeds.FMPKey)
	assert.True(t, cfg.Feeds.ForceDemo)
	assert.Equal(t, core.BackendRedis, cfg.CacheBackend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
}

func TestLoadConfigPathFromEnv(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "cache_backend: memory\n")
	t.Setenv(core.ConfigEnvVar, path)

	cfg, used, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, path, used)
	assert.Equal(t, core.BackendMemory, cfg.CacheBackend)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, "cache_backnd: memory\n")

	_, _, err := Load(path)
	assert.ErrorContains(t, err, "failed to unmarshal config")
}

func TestLoadMissingExplicitFile(t *testing.T) {
	clearEnv(t)
	_, _, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config")
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown backend", func(c *Config) { c.CacheBackend = "etcd" }, "unknown cache backend"},
		{"redis without addr", func(c *Config) { c.CacheBackend = core.BackendRedis }, "requires redis.addr"},
		{"negative redis expiry", func(c *Config) { c.Redis.Expiry = -time.Second }, "redis.expiry"},
		{"zero ttl", func(c *Config) { c.Feeds.TTL = 0 }, "feeds.ttl"},
		{"zero backoff", func(c *Config) { c.Feeds.BackoffBase = 0 }, "feeds.backoff_base"},
		{"negative retries", func(c *Config) { c.Feeds.Retries = -1 }, "feeds.retries"},
		{"zero timeout", func(c *Config) { c.HTTPTimeout = 0 }, "http_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestMappings(t *testing.T) {
	cfg := Default()
	cfg.CacheBackend = core.BackendRedis
	cfg.Redis = RedisConfig{Addr: "r:6379", Password: "pw", DB: 2, Expiry: time.Hour}
	cfg.Feeds.FMPKey = "k"
	cfg.Feeds.ForceDemo = true

	opts := cfg.CacheOptions()
	assert.Equal(t, core.BackendRedis, opts.Backend)
	assert.Equal(t, "r:6379", opts.RedisAddr)
	assert.Equal(t, 2, opts.RedisDB)
	assert.Equal(t, time.Hour, opts.RedisExpiry)

	fc := cfg.FeedConfig()
	assert.Equal(t, "k", fc.FMPKey)
	assert.True(t, fc.ForceDemo)
	assert.Equal(t, cfg.Feeds.Symbols, fc.Symbols)

	wo := cfg.WatchOptions()
	assert.Equal(t, 20*time.Second, wo.TickerEvery)
	assert.Equal(t, 30*time.Second, wo.StocksEvery)
}
