// Package core provides shared constants and helpers for the marketfeed CLI.
package core

import (
	"os"
	"path/filepath"
	"time"
)

// Upstream endpoints
const (
	TickerEndpoint       = "https://api.coingecko.com/api/v3/coins/markets?vs_currency=usd&order=market_cap_desc&per_page=6&page=1&price_change_percentage=24h"
	FMPBaseURL           = "https://financialmodelingprep.com/api/v3"
	DefaultSparkProxyURL = "http://localhost:3000/api/fmp-history"
	FMPDemoKey           = "demo"
)

// Environment variables
const (
	FMPKeyEnvVar    = "FMP_API_KEY"
	ForceDemoEnvVar = "MARKETFEED_FORCE_DEMO"
	ConfigEnvVar    = "MARKETFEED_CONFIG"
)

// Cache keys used by the dashboard feeds. These match the keys the browser
// widgets wrote so exported local-storage dumps can be imported as-is.
const (
	TickerCacheKey      = "fintech_live_ticker_cache"
	StockCacheKey       = "fintech_stock_cache"
	SparkCacheKeyPrefix = "fmp_spark_"
)

// Feed defaults
const (
	DefaultTTL         = 10 * time.Minute
	DefaultBackoffBase = 600 * time.Millisecond
	DefaultRetries     = 2
	DefaultHTTPTimeout = 15 * time.Second

	TickerLimit   = 6
	TickerRefresh = 20 * time.Second
	StockLimit    = 3
	StockRefresh  = 30 * time.Second

	SparkDefaultPoints = 12
	SparkMaxPoints     = 200
	SparkMirrorRetries = 1
	SparkMaxWorkers    = 3
)

// DefaultStockSymbols are tracked when no symbols are configured.
var DefaultStockSymbols = []string{"AAPL", "MSFT", "NVDA"}

// Cache backends
const (
	BackendMemory     = "memory"
	BackendFilesystem = "file"
	BackendRedis      = "redis"
	BackendSQLite     = "sqlite"
)

// DefaultTZ is used for display timestamps when --timezone is unset.
const DefaultTZ = "Local"

// HomeDir returns the marketfeed state directory (~/.marketfeed).
func HomeDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".marketfeed")
}

// CacheRoot returns the default filesystem cache directory path.
func CacheRoot() string {
	return filepath.Join(HomeDir(), "cache")
}

// SQLitePath returns the default SQLite cache database path.
func SQLitePath() string {
	return filepath.Join(HomeDir(), "snapshots.db")
}

// Version is the current CLI version.
const Version = "0.3.0"
