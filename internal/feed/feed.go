// Package feed implements the market-data feeds shown by marketfeed: the
// crypto ticker, the stock tracker and per-symbol sparkline history. Each
// feed owns its endpoint, cache key, retry policy, payload normalisation
// and demo data, and delegates the fetch cycle to the fetcher package.
package feed

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

var (
	// ErrMissingCredentials means no FMP API key is configured; the stock
	// feed serves demo data without touching the network.
	ErrMissingCredentials = errors.New("no FMP API key configured")

	// ErrDemoMode means live feeds were disabled by configuration.
	ErrDemoMode = errors.New("demo mode forced")

	// ErrEmptyFeed marks a well-formed response with no usable rows.
	ErrEmptyFeed = errors.New("feed returned no data")

	// ErrInvalidSymbol is returned for empty or malformed ticker symbols.
	ErrInvalidSymbol = errors.New("invalid symbol")
)

// Config holds the feed endpoints and policies.
type Config struct {
	TickerEndpoint string
	FMPBaseURL     string
	SparkProxyURL  string
	FMPKey         string
	ForceDemo      bool
	Symbols        []string

	TTL          time.Duration
	BackoffBase  time.Duration
	Retries      int
	SparkWorkers int
}

// DefaultConfig returns the dashboard's stock settings.
func DefaultConfig() Config {
	return Config{
		TickerEndpoint: core.TickerEndpoint,
		FMPBaseURL:     core.FMPBaseURL,
		SparkProxyURL:  core.DefaultSparkProxyURL,
		Symbols:        append([]string(nil), core.DefaultStockSymbols...),
		TTL:            core.DefaultTTL,
		BackoffBase:    core.DefaultBackoffBase,
		Retries:        core.DefaultRetries,
		SparkWorkers:   core.SparkMaxWorkers,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.TickerEndpoint == "" {
		c.TickerEndpoint = d.TickerEndpoint
	}
	if c.FMPBaseURL == "" {
		c.FMPBaseURL = d.FMPBaseURL
	}
	if c.SparkProxyURL == "" {
		c.SparkProxyURL = d.SparkProxyURL
	}
	if len(c.Symbols) == 0 {
		c.Symbols = d.Symbols
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = d.BackoffBase
	}
	if c.Retries < 0 {
		c.Retries = d.Retries
	}
	if c.SparkWorkers <= 0 {
		c.SparkWorkers = d.SparkWorkers
	}
	return c
}

// Service serves the dashboard feeds through a shared Fetcher.
type Service struct {
	fetcher *fetcher.Fetcher
	cfg     Config
	logger  *zap.Logger
}

// NewService creates a feed service. Empty endpoints, empty symbol lists
// and non-positive durations take the dashboard defaults; a zero Retries is
// honoured.
func NewService(f *fetcher.Fetcher, cfg Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		fetcher: f,
		cfg:     cfg.withDefaults(),
		logger:  logger,
	}
}

// Config returns the effective configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// firstN keeps the first limit elements of a non-empty JSON array.
func firstN(limit int) fetcher.NormalizeFunc {
	return func(body []byte) ([]byte, error) {
		r := gjson.ParseBytes(body)
		if !r.IsArray() {
			return nil, fmt.Errorf("expected a JSON array, got %s", r.Type)
		}
		items := r.Array()
		if len(items) == 0 {
			return nil, ErrEmptyFeed
		}
		if len(items) > limit {
			items = items[:limit]
		}
		return joinRaw(items), nil
	}
}

func joinRaw(items []gjson.Result) []byte {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(it.Raw)
	}
	buf.WriteByte(']')
	return buf.Bytes()
}

// firstNumber returns the first present numeric field among paths. Numeric
// strings are accepted since some providers quote prices.
func firstNumber(r gjson.Result, paths ...string) float64 {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v.Float()
		}
	}
	return 0
}

func firstString(r gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.String() != "" {
			return v.String()
		}
	}
	return ""
}

// arrayItems returns the elements of a JSON array payload.
func arrayItems(payload []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(payload) {
		return nil, errors.New("payload is not valid JSON")
	}
	r := gjson.ParseBytes(payload)
	if !r.IsArray() {
		return nil, fmt.Errorf("expected a JSON array, got %s", r.Type)
	}
	return r.Array(), nil
}
