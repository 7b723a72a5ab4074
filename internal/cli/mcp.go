package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/feed"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
	"github.com/colthorp/marketfeed-go/internal/output"
)

// SourceInfo tells an MCP client where a feed's data came from.
type SourceInfo struct {
	Kind      string `json:"kind" jsonschema:"live, cached or fallback"`
	Indicator string `json:"indicator" jsonschema:"human readable freshness line"`
	FetchedAt string `json:"fetched_at,omitempty" jsonschema:"RFC 3339 time the data was fetched; empty for fallback data"`
	AgeMillis int64  `json:"age_millis,omitempty" jsonschema:"age of cached data in milliseconds"`
	Attempts  int    `json:"attempts" jsonschema:"HTTP requests made for this call"`
	Error     string `json:"error,omitempty" jsonschema:"why live data was not used"`
}

// FetchTickerInput is the input for the fetch_ticker tool.
type FetchTickerInput struct{}

// FetchTickerResult is the output of the fetch_ticker tool.
type FetchTickerResult struct {
	Source SourceInfo   `json:"source" jsonschema:"where the data came from"`
	Assets []feed.Asset `json:"assets" jsonschema:"top assets by market cap"`
}

// FetchStocksInput is the input for the fetch_stocks tool.
type FetchStocksInput struct{}

// StockQuote is one row of the fetch_stocks output.
type StockQuote struct {
	Symbol        string  `json:"symbol" jsonschema:"ticker symbol"`
	Price         float64 `json:"price" jsonschema:"last price in USD"`
	ChangePercent float64 `json:"change_percent" jsonschema:"percentage change on the day"`
	DayLow        float64 `json:"day_low" jsonschema:"lowest price of the day"`
	DayHigh       float64 `json:"day_high" jsonschema:"highest price of the day"`
	Direction     string  `json:"direction" jsonschema:"up, down or flat versus the previous snapshot"`
}

// FetchStocksResult is the output of the fetch_stocks tool.
type FetchStocksResult struct {
	Source    SourceInfo   `json:"source" jsonschema:"where the data came from"`
	Quotes    []StockQuote `json:"quotes" jsonschema:"tracked stock quotes"`
	AvgChange float64      `json:"average_change" jsonschema:"mean percentage change across quotes"`
}

// FetchSparklineInput is the input for the fetch_sparkline tool.
type FetchSparklineInput struct {
	Symbol string `json:"symbol" jsonschema:"ticker symbol such as AAPL"`
	Points int    `json:"points,omitempty" jsonschema:"number of closing prices to return (1-200, default 12)"`
}

// FetchSparklineResult is the output of the fetch_sparkline tool.
type FetchSparklineResult struct {
	Source SourceInfo `json:"source" jsonschema:"where the data came from"`
	Symbol string     `json:"symbol" jsonschema:"normalized ticker symbol"`
	Points []float64  `json:"points" jsonschema:"closing prices, oldest first"`
}

func sourceInfo(res fetcher.Result) SourceInfo {
	info := SourceInfo{
		Kind:      res.Kind.String(),
		Indicator: output.Indicator(res, time.UTC),
		AgeMillis: res.Age.Milliseconds(),
		Attempts:  res.Attempts,
	}
	if !res.FetchedAt.IsZero() {
		info.FetchedAt = res.FetchedAt.UTC().Format(time.RFC3339)
	}
	if res.Err != nil {
		info.Error = res.Err.Error()
	}
	return info
}

// newMCPServer registers the feed tools on a new server.
func newMCPServer(feeds *feed.Service) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "marketfeed", Version: core.Version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_ticker",
		Description: "Fetch the top crypto assets by market cap with 24h change. Falls back to the last snapshot, then demo data, when the feed is down.",
	}, fetchTickerHandler(feeds))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_stocks",
		Description: "Fetch quotes for the tracked stock symbols, with direction versus the previous snapshot and the average change.",
	}, fetchStocksHandler(feeds))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "fetch_sparkline",
		Description: "Fetch recent closing prices for one stock symbol, oldest first.",
	}, fetchSparklineHandler(feeds))

	return server
}

func fetchTickerHandler(feeds *feed.Service) mcp.ToolHandlerFor[FetchTickerInput, FetchTickerResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ FetchTickerInput) (*mcp.CallToolResult, FetchTickerResult, error) {
		v, err := feeds.Ticker(ctx)
		if err != nil {
			return nil, FetchTickerResult{}, fmt.Errorf("fetch ticker: %w", err)
		}
		return nil, FetchTickerResult{Source: sourceInfo(v.Result), Assets: v.Assets}, nil
	}
}

func fetchStocksHandler(feeds *feed.Service) mcp.ToolHandlerFor[FetchStocksInput, FetchStocksResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ FetchStocksInput) (*mcp.CallToolResult, FetchStocksResult, error) {
		v, err := feeds.Stocks(ctx)
		if err != nil {
			return nil, FetchStocksResult{}, fmt.Errorf("fetch stocks: %w", err)
		}
		quotes := make([]StockQuote, len(v.Quotes))
		for i, q := range v.Quotes {
			quotes[i] = StockQuote{
				Symbol:        q.Symbol,
				Price:         q.Price,
				ChangePercent: q.ChangePercent,
				DayLow:        q.DayLow,
				DayHigh:       q.DayHigh,
				Direction:     q.Direction.String(),
			}
		}
		return nil, FetchStocksResult{Source: sourceInfo(v.Result), Quotes: quotes, AvgChange: v.AvgChange}, nil
	}
}

func fetchSparklineHandler(feeds *feed.Service) mcp.ToolHandlerFor[FetchSparklineInput, FetchSparklineResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input FetchSparklineInput) (*mcp.CallToolResult, FetchSparklineResult, error) {
		s, err := feeds.Sparkline(ctx, input.Symbol, input.Points)
		if err != nil {
			return nil, FetchSparklineResult{}, err
		}
		return nil, FetchSparklineResult{Source: sourceInfo(s.Result), Symbol: s.Symbol, Points: s.Points}, nil
	}
}

// runMCPServer serves the feed tools over stdio until ctx is cancelled or
// the client disconnects.
func runMCPServer(ctx context.Context, feeds *feed.Service) error {
	return serveMCP(ctx, newMCPServer(feeds), &mcp.StdioTransport{})
}

func serveMCP(ctx context.Context, server *mcp.Server, transport mcp.Transport) error {
	err := server.Run(ctx, transport)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("serve MCP: %w", err)
	}
	return nil
}
