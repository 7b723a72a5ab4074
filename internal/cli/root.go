// Package cli implements the command-line interface for marketfeed.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/colthorp/marketfeed-go/internal/api"
	"github.com/colthorp/marketfeed-go/internal/cache"
	"github.com/colthorp/marketfeed-go/internal/config"
	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/feed"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

// Global flags
var (
	verbose      bool
	quiet        bool
	raw          bool
	configPath   string
	cacheBackend string
	timezone     string
)

// newTransport builds the HTTP transport used by every command. Tests swap
// it for a scripted transport.
var newTransport = func(timeout time.Duration, logger *zap.Logger) api.Transport {
	return api.NewClient(timeout, logger)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "marketfeed",
	Short: "marketfeed – live market data with cache and demo fallback",
	Long: `A command-line dashboard for crypto and stock prices. Every feed falls back
to the last good snapshot, and then to demo data, when the upstream API is down.`,
	Version:       core.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	// Persistent flags available to all commands
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose debug output to stderr")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "Suppress progress messages")
	rootCmd.PersistentFlags().BoolVar(&raw, "raw", false, "Emit raw JSON instead of tables")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: ./marketfeed.yaml or ~/.marketfeed/marketfeed.yaml)")
	rootCmd.PersistentFlags().StringVar(&cacheBackend, "cache-backend", "", "Snapshot store: file, memory, redis or sqlite")
	rootCmd.PersistentFlags().StringVar(&timezone, "timezone", "", fmt.Sprintf("Timezone for displayed times (default: %s)", core.DefaultTZ))
}

// app holds everything a command needs to fetch and render feeds.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	backend  cache.Backend
	fetcher  *fetcher.Fetcher
	feeds    *feed.Service
	registry *prometheus.Registry
	loc      *time.Location
}

// newApp loads configuration, applies the global flags and opens the
// snapshot store. Callers must Close the app.
func newApp(ctx context.Context) (*app, error) {
	logger := core.NewLogger(verbose)

	cfg, used, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if used != "" {
		logger.Debug("loaded config", zap.String("path", used))
	}
	if cacheBackend != "" {
		cfg.CacheBackend = cacheBackend
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	if timezone != "" {
		cfg.Timezone = timezone
	}

	backend, err := cache.Open(ctx, cfg.CacheOptions(), logger)
	if err != nil {
		return nil, fmt.Errorf("open %s cache: %w", cfg.CacheBackend, err)
	}

	registry := prometheus.NewRegistry()
	metrics := fetcher.NewMetrics(prometheus.WrapRegistererWithPrefix("marketfeed_", registry))

	f, err := fetcher.New(fetcher.Options{
		Transport: newTransport(cfg.HTTPTimeout, logger),
		Backend:   backend,
		Logger:    logger,
		Metrics:   metrics,
	})
	if err != nil {
		backend.Close()
		return nil, err
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		backend:  backend,
		fetcher:  f,
		feeds:    feed.NewService(f, cfg.FeedConfig(), logger),
		registry: registry,
		loc:      core.GetTZ(cfg.Timezone),
	}, nil
}

// Close releases the snapshot store and flushes the logger.
func (a *app) Close() {
	if err := a.backend.Close(); err != nil {
		a.logger.Warn("close cache", zap.Error(err))
	}
	_ = a.logger.Sync()
}

// withApp runs fn with a freshly opened app.
func withApp(cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
