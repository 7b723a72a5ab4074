package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

var symbolPattern = regexp.MustCompile(`^[A-Z0-9.\-^=]{1,15}$`)

// Series is a sparkline for one symbol, oldest point first.
type Series struct {
	Symbol string
	Points []float64
	Result fetcher.Result
}

// NormalizeSymbol upper-cases and validates a ticker symbol.
func NormalizeSymbol(symbol string) (string, error) {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	if !symbolPattern.MatchString(s) {
		return "", fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	return s, nil
}

// ClampPoints limits a requested series length to [1, SparkMaxPoints].
// Zero selects the default length.
func ClampPoints(points int) int {
	switch {
	case points == 0:
		return core.SparkDefaultPoints
	case points < 1:
		return 1
	case points > core.SparkMaxPoints:
		return core.SparkMaxPoints
	default:
		return points
	}
}

// SparkCacheKey returns the snapshot key for symbol.
func SparkCacheKey(symbol string) string {
	return core.SparkCacheKeyPrefix + symbol
}

// SparklineRequest builds the fetch request for one symbol: the history
// proxy first, then FMP directly. Fresh snapshots are served without a
// request.
func (s *Service) SparklineRequest(symbol string, points int) fetcher.Request {
	proxy := s.cfg.SparkProxyURL + "?" + url.Values{
		"symbol": {symbol},
		"points": {strconv.Itoa(points)},
	}.Encode()

	key := s.cfg.FMPKey
	if key == "" {
		key = core.FMPDemoKey
	}
	direct := fmt.Sprintf("%s/historical-price-full/%s?timeseries=%d&apikey=%s",
		strings.TrimRight(s.cfg.FMPBaseURL, "/"), url.PathEscape(symbol), points, url.QueryEscape(key))

	return fetcher.Request{
		Endpoint:    proxy,
		CacheKey:    SparkCacheKey(symbol),
		TTL:         s.cfg.TTL,
		Retries:     s.cfg.Retries,
		BackoffBase: s.cfg.BackoffBase,
		Fallback:    mustJSON(DemoSeries(points)),
		Normalize:   proxySeries(points),
		Mirrors: []fetcher.Mirror{{
			Endpoint:  direct,
			Retries:   core.SparkMirrorRetries,
			Normalize: fmpHistory(points),
		}},
		CacheFirst: true,
	}
}

// Sparkline fetches the price history for one symbol.
func (s *Service) Sparkline(ctx context.Context, symbol string, points int) (Series, error) {
	sym, err := NormalizeSymbol(symbol)
	if err != nil {
		return Series{}, err
	}
	points = ClampPoints(points)

	if s.cfg.ForceDemo {
		res := fetcher.Fallback(mustJSON(DemoSeries(points)), ErrDemoMode)
		return s.series(sym, points, res), nil
	}

	res, err := s.fetcher.Fetch(ctx, s.SparklineRequest(sym, points))
	if err != nil {
		return Series{}, err
	}
	return s.series(sym, points, res), nil
}

// Sparklines fetches several symbols with at most parallel requests in
// flight. Results keep the order of symbols.
func (s *Service) Sparklines(ctx context.Context, symbols []string, points, parallel int) ([]Series, error) {
	syms := make([]string, len(symbols))
	for i, raw := range symbols {
		sym, err := NormalizeSymbol(raw)
		if err != nil {
			return nil, err
		}
		syms[i] = sym
	}
	if parallel <= 0 {
		parallel = s.cfg.SparkWorkers
	}

	out := make([]Series, len(syms))
	errs := make([]error, len(syms))

	var wg sync.WaitGroup
	semaphore := make(chan struct{}, parallel)

	for i, sym := range syms {
		wg.Add(1)
		go func(i int, sym string) {
			defer wg.Done()
			semaphore <- struct{}{}
			defer func() { <-semaphore }()

			out[i], errs[i] = s.Sparkline(ctx, sym, points)
		}(i, sym)
	}

	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *Service) series(symbol string, points int, res fetcher.Result) Series {
	var values []float64
	if err := res.Decode(&values); err != nil {
		s.logger.Warn("unreadable sparkline payload; showing demo series",
			zap.String("symbol", symbol), zap.Stringer("kind", res.Kind), zap.Error(err))
		values = DemoSeries(points)
	}
	if len(values) > points {
		values = values[len(values)-points:]
	}
	return Series{Symbol: symbol, Points: values, Result: res}
}

// proxySeries reads the history proxy's {symbol, series, demo} body.
func proxySeries(points int) fetcher.NormalizeFunc {
	return func(body []byte) ([]byte, error) {
		series := gjson.GetBytes(body, "series")
		if !series.IsArray() {
			return nil, fmt.Errorf("history proxy response has no series")
		}
		values := numbers(series.Array(), points)
		if len(values) == 0 {
			return nil, ErrEmptyFeed
		}
		return json.Marshal(values)
	}
}

// fmpHistory reads FMP's historical-price-full body, newest first, and
// returns the closes oldest first.
func fmpHistory(points int) fetcher.NormalizeFunc {
	return func(body []byte) ([]byte, error) {
		r := gjson.ParseBytes(body)
		list := r.Get("historical")
		if !list.IsArray() {
			list = r
		}
		if !list.IsArray() {
			return nil, fmt.Errorf("FMP history response has no historical list")
		}
		items := list.Array()
		if len(items) > points {
			items = items[:points]
		}
		values := make([]float64, 0, len(items))
		for i := len(items) - 1; i >= 0; i-- {
			values = append(values, firstNumber(items[i], "close", "price", "value"))
		}
		if len(values) == 0 {
			return nil, ErrEmptyFeed
		}
		return json.Marshal(values)
	}
}

func numbers(items []gjson.Result, limit int) []float64 {
	if len(items) > limit {
		items = items[:limit]
	}
	out := make([]float64, 0, len(items))
	for _, it := range items {
		out = append(out, it.Float())
	}
	return out
}
