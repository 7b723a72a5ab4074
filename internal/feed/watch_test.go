package feed

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/marketfeed-go/internal/api"
	"github.com/colthorp/marketfeed-go/internal/core"
)

func TestWatchHydratesThenRefreshes(t *testing.T) {
	fx := newFixture(t, nil)
	fx.seed(t, core.TickerCacheKey, `[{"id":"bitcoin","symbol":"btc","current_price":1}]`, t0.Add(-time.Minute))
	fx.tr.On(testTickerURL, api.JSON(geckoMarkets))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var updates []Update
	err := fx.svc.Watch(ctx, WatchOptions{
		TickerEvery: 5 * time.Millisecond,
		StocksEvery: time.Hour,
	}, func(u Update) {
		updates = append(updates, u)
		if len(updates) == 4 {
			cancel()
		}
	})
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(updates), 4)

	first := updates[0]
	assert.True(t, first.Hydrated)
	require.NotNil(t, first.Ticker)
	assert.True(t, first.Ticker.Result.IsCached())

	second := updates[1]
	assert.False(t, second.Hydrated)
	require.NotNil(t, second.Ticker)
	assert.True(t, second.Ticker.Result.IsLive())

	third := updates[2]
	require.NotNil(t, third.Stocks)
	assert.True(t, third.Stocks.Result.IsFallback(), "no API key configured")

	fourth := updates[3]
	require.NotNil(t, fourth.Ticker, "ticker refreshes on its own interval")
}

func TestWatchSkipsDisabledFeeds(t *testing.T) {
	fx := newFixture(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var updates []Update
	err := fx.svc.Watch(ctx, WatchOptions{SkipTicker: true, StocksEvery: time.Hour}, func(u Update) {
		updates = append(updates, u)
		cancel()
	})
	require.NoError(t, err)
	require.Len(t, updates, 1)
	assert.Nil(t, updates[0].Ticker)
	assert.NotNil(t, updates[0].Stocks)
	assert.Zero(t, fx.tr.RequestsMade())
}
