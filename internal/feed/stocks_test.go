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

const quoteURL = testFMPBase + "/quote/AAPL,MSFT,NVDA?apikey=k"

const fmpQuotes = `[
	{"symbol":"AAPL","price":210,"changesPercentage":1.5,"dayLow":205,"dayHigh":212},
	{"symbol":"MSFT","price":390,"changesPercentage":-0.5,"dayLow":388,"dayHigh":401},
	{"symbol":"NVDA","price":1000,"changesPercentage":2,"dayLow":990,"dayHigh":1010},
	{"symbol":"TSLA","price":180,"changesPercentage":4,"dayLow":170,"dayHigh":185}
]`

func withKey(cfg *Config) { cfg.FMPKey = "k" }

func TestStocksEndpoint(t *testing.T) {
	fx := newFixture(t, withKey)
	assert.Equal(t, quoteURL, fx.svc.StocksEndpoint())

	fx = newFixture(t, func(cfg *Config) { cfg.Symbols = []string{"brk.b", "amd"} })
	assert.Equal(t, testFMPBase+"/quote/BRK.B,AMD?apikey=demo", fx.svc.StocksEndpoint())
}

func TestStocksWithoutKeyServesDemo(t *testing.T) {
	fx := newFixture(t, nil)

	view, err := fx.svc.Stocks(context.Background())
	require.NoError(t, err)

	assert.True(t, view.Result.IsFallback())
	assert.ErrorIs(t, view.Result.Err, ErrMissingCredentials)
	assert.Equal(t, DemoQuotes, view.Quotes)
	assert.Zero(t, fx.tr.RequestsMade())
}

func TestStocksForcedDemo(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) {
		cfg.FMPKey = "k"
		cfg.ForceDemo = true
	})

	view, err := fx.svc.Stocks(context.Background())
	require.NoError(t, err)

	assert.True(t, view.Result.IsFallback())
	assert.ErrorIs(t, view.Result.Err, ErrDemoMode)
	assert.Zero(t, fx.tr.RequestsMade())
}

func TestStocksLiveAfterRetries(t *testing.T) {
	fx := newFixture(t, withKey)
	fx.tr.On(quoteURL, api.Status(500), api.Status(502), api.JSON(fmpQuotes))

	view, err := fx.svc.Stocks(context.Background())
	require.NoError(t, err)

	assert.True(t, view.Result.IsLive())
	assert.Equal(t, 3, view.Result.Attempts)
	require.Len(t, view.Quotes, 3)
	assert.Equal(t, Quote{Symbol: "AAPL", Price: 210, ChangePercent: 1.5, DayLow: 205, DayHigh: 212}, view.Quotes[0])
	assert.InDelta(t, 1.0, view.AvgChange, 1e-9)

	snap := fx.snapshot(t, core.StockCacheKey)
	require.NotNil(t, snap)
	cached, err := ParseQuotes(snap.Payload)
	require.NoError(t, err)
	assert.Len(t, cached, 3)
}

func TestStocksDirectionAgainstPreviousSnapshot(t *testing.T) {
	fx := newFixture(t, withKey)
	fx.seed(t, core.StockCacheKey,
		`[{"symbol":"AAPL","price":200},{"symbol":"MSFT","price":400},{"symbol":"NVDA","price":1000}]`,
		t0.Add(-time.Minute))
	fx.tr.On(quoteURL, api.JSON(fmpQuotes))

	view, err := fx.svc.Stocks(context.Background())
	require.NoError(t, err)
	require.True(t, view.Result.IsLive())

	dirs := map[string]Direction{}
	for _, q := range view.Quotes {
		dirs[q.Symbol] = q.Direction
	}
	assert.Equal(t, map[string]Direction{"AAPL": Up, "MSFT": Down, "NVDA": Flat}, dirs)
}

func TestStocksExhaustedRetriesUseCache(t *testing.T) {
	fx := newFixture(t, withKey)
	fx.seed(t, core.StockCacheKey, `[{"symbol":"AAPL","price":200}]`, t0.Add(-5*time.Minute))
	fx.tr.On(quoteURL, api.Status(500))

	view, err := fx.svc.Stocks(context.Background())
	require.NoError(t, err)

	assert.True(t, view.Result.IsCached())
	assert.Equal(t, 5*time.Minute, view.Result.Age)
	assert.Equal(t, 3, fx.tr.RequestsTo(quoteURL))
	require.Len(t, view.Quotes, 1)
	assert.Equal(t, Flat, view.Quotes[0].Direction)
}

func TestParseQuotesAlternateFields(t *testing.T) {
	quotes, err := ParseQuotes([]byte(`[{"ticker":"amd","latestPrice":"150.5","changePercent":-2}]`))
	require.NoError(t, err)
	require.Len(t, quotes, 1)

	q := quotes[0]
	assert.Equal(t, "AMD", q.Symbol)
	assert.Equal(t, 150.5, q.Price)
	assert.Equal(t, -2.0, q.ChangePercent)
	assert.Equal(t, 150.5, q.DayLow, "range defaults to the price")
	assert.Equal(t, 150.5, q.DayHigh)
}

func TestDirectionString(t *testing.T) {
	assert.Equal(t, "up", Up.String())
	assert.Equal(t, "down", Down.String())
	assert.Equal(t, "flat", Flat.String())
}

func TestAverageChangeEmpty(t *testing.T) {
	assert.Zero(t, averageChange(nil))
}
