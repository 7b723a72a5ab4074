package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/colthorp/marketfeed-go/internal/cache"
	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/feed"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
	"github.com/colthorp/marketfeed-go/internal/output"
)

func init() {
	// Add all subcommands
	rootCmd.AddCommand(tickerCmd)
	rootCmd.AddCommand(stocksCmd)
	rootCmd.AddCommand(sparklineCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(mcpCmd)

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheShowCmd)
	cacheCmd.AddCommand(cacheClearCmd)

	// Sparkline command flags
	sparklineCmd.Flags().Int("points", core.SparkDefaultPoints, fmt.Sprintf("Points per series (1-%d)", core.SparkMaxPoints))
	sparklineCmd.Flags().IntP("parallel", "p", 0, "Max symbols to fetch in parallel (default from config)")

	// Fetch command flags
	fetchCmd.Flags().String("key", "", "Snapshot key (default: fetch:<url>)")
	fetchCmd.Flags().Duration("ttl", 0, "Snapshot freshness window (default from config)")
	fetchCmd.Flags().Int("retries", -1, "Retries after the first attempt (default from config)")
	fetchCmd.Flags().Duration("backoff", 0, "Wait before the first retry; doubles per retry (default from config)")
	fetchCmd.Flags().String("fallback", "null", "JSON returned when neither live nor cached data is available")

	// Watch command flags
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().Bool("no-ticker", false, "Do not refresh the crypto ticker")
	watchCmd.Flags().Bool("no-stocks", false, "Do not refresh the stock tracker")
}

// tickerCmd prints the crypto ticker
var tickerCmd = &cobra.Command{
	Use:   "ticker",
	Short: "Show the top crypto assets by market cap",
	Args:  cobra.NoArgs,
	RunE:  handleTicker,
}

// stocksCmd prints the stock tracker
var stocksCmd = &cobra.Command{
	Use:   "stocks",
	Short: "Show quotes for the tracked stock symbols",
	Args:  cobra.NoArgs,
	RunE:  handleStocks,
}

// sparklineCmd prints price histories
var sparklineCmd = &cobra.Command{
	Use:   "sparkline SYMBOL...",
	Short: "Show recent closing prices as sparklines",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handleSparkline,
}

// fetchCmd runs a generic fetch against any JSON endpoint
var fetchCmd = &cobra.Command{
	Use:   "fetch URL",
	Short: "Fetch a JSON endpoint with retries, snapshot cache and fallback",
	Args:  cobra.ExactArgs(1),
	RunE:  handleFetch,
}

// watchCmd keeps refreshing the dashboard feeds
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Refresh the ticker and stocks until interrupted",
	Args:  cobra.NoArgs,
	RunE:  handleWatch,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "List, inspect or clear stored snapshots",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the keys of stored snapshots",
	Args:  cobra.NoArgs,
	RunE:  handleCacheList,
}

var cacheShowCmd = &cobra.Command{
	Use:   "show KEY",
	Short: "Print the snapshot stored under KEY (ticker, stocks, spark:SYMBOL or a raw key)",
	Args:  cobra.ExactArgs(1),
	RunE:  handleCacheShow,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear KEY",
	Short: "Delete the snapshot stored under KEY",
	Args:  cobra.ExactArgs(1),
	RunE:  handleCacheClear,
}

// mcpCmd starts the MCP server
var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP server for AI integration",
	Args:  cobra.NoArgs,
	RunE:  handleMCP,
}

func handleTicker(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		core.ProgressPrint("Fetching market ticker…", quiet)

		v, err := a.feeds.Ticker(cmd.Context())
		if err != nil {
			return err
		}
		if raw {
			return output.WriteRaw(cmd.OutOrStdout(), v.Result)
		}
		output.NewPrinter(cmd.OutOrStdout(), a.loc).Ticker(v)
		return nil
	})
}

func handleStocks(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		core.ProgressPrint(fmt.Sprintf("Fetching quotes for %s…", strings.Join(a.feeds.Config().Symbols, ", ")), quiet)

		v, err := a.feeds.Stocks(cmd.Context())
		if err != nil {
			return err
		}
		if raw {
			return output.WriteRaw(cmd.OutOrStdout(), v.Result)
		}
		output.NewPrinter(cmd.OutOrStdout(), a.loc).Stocks(v)
		return nil
	})
}

func handleSparkline(cmd *cobra.Command, args []string) error {
	points, _ := cmd.Flags().GetInt("points")
	parallel, _ := cmd.Flags().GetInt("parallel")

	return withApp(cmd, func(a *app) error {
		core.ProgressPrint(fmt.Sprintf("Fetching %d-point history for %s…", feed.ClampPoints(points), strings.Join(args, ", ")), quiet)

		series, err := a.feeds.Sparklines(cmd.Context(), args, points, parallel)
		if err != nil {
			return err
		}
		if raw {
			results := make(map[string]fetcher.Result, len(series))
			for _, s := range series {
				results[s.Symbol] = s.Result
			}
			return output.WriteRawKeyed(cmd.OutOrStdout(), results)
		}
		output.NewPrinter(cmd.OutOrStdout(), a.loc).Sparklines(series)
		return nil
	})
}

func handleFetch(cmd *cobra.Command, args []string) error {
	endpoint := args[0]
	key, _ := cmd.Flags().GetString("key")
	ttl, _ := cmd.Flags().GetDuration("ttl")
	retries, _ := cmd.Flags().GetInt("retries")
	backoff, _ := cmd.Flags().GetDuration("backoff")
	fallback, _ := cmd.Flags().GetString("fallback")

	return withApp(cmd, func(a *app) error {
		req := fetchRequest(a, endpoint, key, ttl, retries, backoff, fallback)

		core.ProgressPrint(fmt.Sprintf("Fetching %s…", endpoint), quiet)
		res, err := a.fetcher.Fetch(cmd.Context(), req)
		if err != nil {
			return err
		}
		if raw {
			return output.WriteRaw(cmd.OutOrStdout(), res)
		}
		return output.NewPrinter(cmd.OutOrStdout(), a.loc).Result(endpoint, res)
	})
}

// fetchRequest fills unset fetch flags from the feed configuration.
func fetchRequest(a *app, endpoint, key string, ttl time.Duration, retries int, backoff time.Duration, fallback string) fetcher.Request {
	if key == "" {
		key = "fetch:" + endpoint
	}
	if ttl <= 0 {
		ttl = a.cfg.Feeds.TTL
	}
	if retries < 0 {
		retries = a.cfg.Feeds.Retries
	}
	if backoff <= 0 {
		backoff = a.cfg.Feeds.BackoffBase
	}
	return fetcher.Request{
		Endpoint:    endpoint,
		CacheKey:    key,
		TTL:         ttl,
		Retries:     retries,
		BackoffBase: backoff,
		Fallback:    json.RawMessage(fallback),
	}
}

func handleWatch(cmd *cobra.Command, args []string) error {
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
	noTicker, _ := cmd.Flags().GetBool("no-ticker")
	noStocks, _ := cmd.Flags().GetBool("no-stocks")

	return withApp(cmd, func(a *app) error {
		ctx := cmd.Context()

		if metricsAddr != "" {
			stop, err := serveMetrics(ctx, a, metricsAddr)
			if err != nil {
				return err
			}
			defer stop()
		}

		opts := a.cfg.WatchOptions()
		opts.SkipTicker = noTicker
		opts.SkipStocks = noStocks

		core.ProgressPrint(fmt.Sprintf("Watching feeds (ticker every %s, stocks every %s); Ctrl-C to stop", opts.TickerEvery, opts.StocksEvery), quiet)

		out := cmd.OutOrStdout()
		printer := output.NewPrinter(out, a.loc)
		return a.feeds.Watch(ctx, opts, func(u feed.Update) {
			if raw {
				results := make(map[string]fetcher.Result, 1)
				if u.Ticker != nil {
					results["ticker"] = u.Ticker.Result
				}
				if u.Stocks != nil {
					results["stocks"] = u.Stocks.Result
				}
				if err := output.WriteRawKeyed(out, results); err != nil {
					a.logger.Warn("write update", zap.Error(err))
				}
				return
			}
			if u.Ticker != nil {
				printer.Ticker(*u.Ticker)
			}
			if u.Stocks != nil {
				printer.Stocks(*u.Stocks)
			}
		})
	})
}

// serveMetrics exposes the app's registry on addr until ctx is done or the
// returned stop function is called.
func serveMetrics(ctx context.Context, a *app, addr string) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}, nil
}

// snapshotKey maps the short names accepted by the cache commands onto
// storage keys. Anything else is used verbatim.
func snapshotKey(name string) string {
	switch {
	case name == "ticker":
		return core.TickerCacheKey
	case name == "stocks":
		return core.StockCacheKey
	case strings.HasPrefix(name, "spark:"):
		return feed.SparkCacheKey(strings.ToUpper(strings.TrimPrefix(name, "spark:")))
	default:
		return name
	}
}

func handleCacheList(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		keys, err := a.backend.Keys(cmd.Context())
		if err != nil {
			return fmt.Errorf("list snapshots: %w", err)
		}
		if raw {
			if keys == nil {
				keys = []string{}
			}
			return json.NewEncoder(cmd.OutOrStdout()).Encode(keys)
		}
		if len(keys) == 0 {
			core.ProgressPrint("No snapshots stored", quiet)
			return nil
		}
		for _, key := range keys {
			fmt.Fprintln(cmd.OutOrStdout(), key)
		}
		return nil
	})
}

func handleCacheShow(cmd *cobra.Command, args []string) error {
	key := snapshotKey(args[0])

	return withApp(cmd, func(a *app) error {
		data, ok, err := a.backend.Get(cmd.Context(), key)
		if err != nil {
			return fmt.Errorf("read snapshot %q: %w", key, err)
		}
		if !ok {
			return fmt.Errorf("no snapshot stored under %q", key)
		}
		snap, err := cache.DecodeSnapshot(data)
		if err != nil {
			return fmt.Errorf("snapshot %q: %w", key, err)
		}

		res := fetcher.Cached(snap.Payload, snap.FetchedAt(), snap.Age(time.Now()))
		if raw {
			return output.WriteRaw(cmd.OutOrStdout(), res)
		}
		return output.NewPrinter(cmd.OutOrStdout(), a.loc).Result(key, res)
	})
}

func handleCacheClear(cmd *cobra.Command, args []string) error {
	key := snapshotKey(args[0])

	return withApp(cmd, func(a *app) error {
		if err := a.backend.Delete(cmd.Context(), key); err != nil {
			return fmt.Errorf("delete snapshot %q: %w", key, err)
		}
		core.ProgressPrint(fmt.Sprintf("Cleared snapshot %q", key), quiet)
		return nil
	})
}

func handleMCP(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(a *app) error {
		return runMCPServer(cmd.Context(), a.feeds)
	})
}
