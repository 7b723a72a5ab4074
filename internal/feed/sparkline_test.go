package feed

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colthorp/marketfeed-go/internal/api"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

func proxyURL(symbol string, points int) string {
	return fmt.Sprintf("%s?points=%d&symbol=%s", testProxyURL, points, symbol)
}

func directURL(symbol string, points int, key string) string {
	return fmt.Sprintf("%s/historical-price-full/%s?timeseries=%d&apikey=%s", testFMPBase, symbol, points, key)
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"aapl", "AAPL", false},
		{" brk.b ", "BRK.B", false},
		{"^GSPC", "^GSPC", false},
		{"", "", true},
		{"AA PL", "", true},
		{"../etc", "", true},
		{"WAYTOOLONGSYMBOL1", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeSymbol(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSymbol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClampPoints(t *testing.T) {
	assert.Equal(t, 12, ClampPoints(0))
	assert.Equal(t, 1, ClampPoints(-5))
	assert.Equal(t, 1, ClampPoints(1))
	assert.Equal(t, 50, ClampPoints(50))
	assert.Equal(t, 200, ClampPoints(500))
}

func TestDemoSeries(t *testing.T) {
	assert.Equal(t, []float64{100, 102, 103, 104}, DemoSeries(4))
	assert.Empty(t, DemoSeries(0))
}

func TestSparklineFromProxy(t *testing.T) {
	fx := newFixture(t, nil)
	fx.tr.On(proxyURL("AAPL", 5), api.JSON(`{"symbol":"AAPL","series":[1,2,3,4,5,6,7],"demo":false}`))

	s, err := fx.svc.Sparkline(context.Background(), "aapl", 5)
	require.NoError(t, err)

	assert.Equal(t, "AAPL", s.Symbol)
	assert.True(t, s.Result.IsLive())
	assert.Equal(t, []float64{1, 2, 3, 4, 5}, s.Points)
	assert.NotNil(t, fx.snapshot(t, SparkCacheKey("AAPL")))
}

func TestSparklineFallsBackToDirectFMP(t *testing.T) {
	fx := newFixture(t, withKey)
	fx.tr.On(proxyURL("MSFT", 3), api.Status(404))
	fx.tr.On(directURL("MSFT", 3, "k"), api.JSON(`{"symbol":"MSFT","historical":[{"close":5},{"close":4},{"close":3},{"close":2}]}`))

	s, err := fx.svc.Sparkline(context.Background(), "MSFT", 3)
	require.NoError(t, err)

	assert.True(t, s.Result.IsLive())
	assert.Equal(t, []float64{3, 4, 5}, s.Points, "oldest first")
	assert.Equal(t, 3, fx.tr.RequestsTo(proxyURL("MSFT", 3)))
	assert.Equal(t, 1, fx.tr.RequestsTo(directURL("MSFT", 3, "k")))
}

func TestSparklineServesFreshCacheWithoutRequests(t *testing.T) {
	fx := newFixture(t, nil)
	fx.tr.On(proxyURL("NVDA", 4), api.JSON(`{"series":[9,8,7,6]}`))

	first, err := fx.svc.Sparkline(context.Background(), "NVDA", 4)
	require.NoError(t, err)
	require.True(t, first.Result.IsLive())

	second, err := fx.svc.Sparkline(context.Background(), "NVDA", 4)
	require.NoError(t, err)
	assert.True(t, second.Result.IsCached())
	assert.Equal(t, first.Points, second.Points)
	assert.Equal(t, 1, fx.tr.RequestsMade())
}

func TestSparklineDemoWhenEverythingFails(t *testing.T) {
	fx := newFixture(t, nil)

	s, err := fx.svc.Sparkline(context.Background(), "AMD", 4)
	require.NoError(t, err)

	assert.True(t, s.Result.IsFallback())
	assert.Equal(t, DemoSeries(4), s.Points)
	assert.ErrorIs(t, s.Result.Err, fetcher.ErrCacheMiss)
	// proxy: 1 + 2 retries, direct: 1 + 1 retry
	assert.Equal(t, 5, fx.tr.RequestsMade())
	assert.Equal(t, 2, fx.tr.RequestsTo(directURL("AMD", 4, "demo")))
}

func TestSparklineForcedDemo(t *testing.T) {
	fx := newFixture(t, func(cfg *Config) { cfg.ForceDemo = true })

	s, err := fx.svc.Sparkline(context.Background(), "AAPL", 0)
	require.NoError(t, err)

	assert.True(t, s.Result.IsFallback())
	assert.ErrorIs(t, s.Result.Err, ErrDemoMode)
	assert.Len(t, s.Points, 12)
	assert.Zero(t, fx.tr.RequestsMade())
}

func TestSparklineRejectsBadSymbol(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.svc.Sparkline(context.Background(), "", 5)
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestSparklinesKeepOrder(t *testing.T) {
	fx := newFixture(t, nil)
	symbols := []string{"aapl", "msft", "nvda", "amd"}
	for i, sym := range []string{"AAPL", "MSFT", "NVDA", "AMD"} {
		fx.tr.On(proxyURL(sym, 2), api.JSON(fmt.Sprintf(`{"series":[%d,%d]}`, i, i+1)))
	}

	out, err := fx.svc.Sparklines(context.Background(), symbols, 2, 2)
	require.NoError(t, err)
	require.Len(t, out, 4)

	for i, s := range out {
		assert.True(t, s.Result.IsLive(), s.Symbol)
		assert.Equal(t, []float64{float64(i), float64(i + 1)}, s.Points)
	}
	assert.Equal(t, "AMD", out[3].Symbol)
}

func TestSparklinesValidateBeforeFetching(t *testing.T) {
	fx := newFixture(t, nil)

	_, err := fx.svc.Sparklines(context.Background(), []string{"AAPL", "bad symbol"}, 2, 0)
	assert.ErrorIs(t, err, ErrInvalidSymbol)
	assert.Zero(t, fx.tr.RequestsMade())
}

func TestFMPHistoryNormalizer(t *testing.T) {
	norm := fmpHistory(2)

	out, err := norm([]byte(`[{"price":3},{"price":2},{"price":1}]`))
	require.NoError(t, err)
	assert.Equal(t, `[2,3]`, string(out))

	_, err = norm([]byte(`{"historical":[]}`))
	assert.ErrorIs(t, err, ErrEmptyFeed)

	_, err = norm([]byte(`{"Error Message":"Limit Reach"}`))
	assert.Error(t, err)
}

func TestProxySeriesNormalizer(t *testing.T) {
	norm := proxySeries(3)

	out, err := norm([]byte(`{"series":[1.5,2.5]}`))
	require.NoError(t, err)
	assert.Equal(t, `[1.5,2.5]`, string(out))

	_, err = norm([]byte(`{"error":"Missing symbol query param"}`))
	assert.Error(t, err)

	_, err = norm([]byte(`{"series":[]}`))
	assert.ErrorIs(t, err, ErrEmptyFeed)
}
