package feed

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

// Direction is a quote's move relative to the previously cached price.
type Direction int

const (
	Flat Direction = iota
	Up
	Down
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	default:
		return "flat"
	}
}

// Quote is one stock tracker row.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Price         float64   `json:"price"`
	ChangePercent float64   `json:"changesPercentage"`
	DayLow        float64   `json:"dayLow"`
	DayHigh       float64   `json:"dayHigh"`
	Direction     Direction `json:"-"`
}

// StocksView is a stock fetch result with decoded quotes.
type StocksView struct {
	Result    fetcher.Result
	Quotes    []Quote
	AvgChange float64
}

// StocksEndpoint returns the FMP quote URL for the configured symbols.
func (s *Service) StocksEndpoint() string {
	syms := make([]string, len(s.cfg.Symbols))
	for i, sym := range s.cfg.Symbols {
		syms[i] = url.PathEscape(strings.ToUpper(sym))
	}
	key := s.cfg.FMPKey
	if key == "" {
		key = core.FMPDemoKey
	}
	return fmt.Sprintf("%s/quote/%s?apikey=%s", strings.TrimRight(s.cfg.FMPBaseURL, "/"), strings.Join(syms, ","), url.QueryEscape(key))
}

// StocksRequest builds the fetch request for the stock tracker.
func (s *Service) StocksRequest() fetcher.Request {
	return fetcher.Request{
		Endpoint:    s.StocksEndpoint(),
		CacheKey:    core.StockCacheKey,
		TTL:         s.cfg.TTL,
		Retries:     s.cfg.Retries,
		BackoffBase: s.cfg.BackoffBase,
		Fallback:    mustJSON(DemoQuotes),
		Normalize:   firstN(core.StockLimit),
	}
}

// Stocks runs one stock tracker cycle. Without an API key, or with demo
// mode forced, it returns demo quotes and makes no request.
func (s *Service) Stocks(ctx context.Context) (StocksView, error) {
	previous := s.previousPrices(ctx)

	var res fetcher.Result
	switch {
	case s.cfg.ForceDemo:
		res = fetcher.Fallback(mustJSON(DemoQuotes), ErrDemoMode)
	case s.cfg.FMPKey == "":
		res = fetcher.Fallback(mustJSON(DemoQuotes), ErrMissingCredentials)
	default:
		var err error
		res, err = s.fetcher.Fetch(ctx, s.StocksRequest())
		if err != nil {
			return StocksView{}, err
		}
	}

	view := s.stocksView(res)
	for i := range view.Quotes {
		q := &view.Quotes[i]
		q.Direction = compare(q.Price, previous[q.Symbol])
	}
	return view, nil
}

// PeekStocks returns the cached quotes without a network call.
func (s *Service) PeekStocks(ctx context.Context) (StocksView, bool) {
	res, ok := s.fetcher.Peek(ctx, core.StockCacheKey, s.cfg.TTL)
	if !ok {
		return StocksView{}, false
	}
	return s.stocksView(res), true
}

func (s *Service) previousPrices(ctx context.Context) map[string]float64 {
	prev := make(map[string]float64)
	cached, ok := s.PeekStocks(ctx)
	if !ok {
		return prev
	}
	for _, q := range cached.Quotes {
		prev[q.Symbol] = q.Price
	}
	return prev
}

func (s *Service) stocksView(res fetcher.Result) StocksView {
	quotes, err := ParseQuotes(res.Payload)
	if err != nil {
		s.logger.Sugar().Warnw("unreadable stock payload; showing demo quotes", "kind", res.Kind, "error", err)
		quotes = append([]Quote(nil), DemoQuotes...)
	}
	if len(quotes) > core.StockLimit {
		quotes = quotes[:core.StockLimit]
	}
	return StocksView{Result: res, Quotes: quotes, AvgChange: averageChange(quotes)}
}

func compare(price, prev float64) Direction {
	switch {
	case prev == 0 || price == prev:
		return Flat
	case price > prev:
		return Up
	default:
		return Down
	}
}

func averageChange(quotes []Quote) float64 {
	if len(quotes) == 0 {
		return 0
	}
	var sum float64
	for _, q := range quotes {
		sum += q.ChangePercent
	}
	return sum / float64(len(quotes))
}

// ParseQuotes decodes a stock payload. Alternate field names from other
// quote providers (ticker, latestPrice, changePercent, low, high) are
// accepted.
func ParseQuotes(payload []byte) ([]Quote, error) {
	items, err := arrayItems(payload)
	if err != nil {
		return nil, err
	}
	quotes := make([]Quote, 0, len(items))
	for _, it := range items {
		quotes = append(quotes, parseQuote(it))
	}
	return quotes, nil
}

func parseQuote(it gjson.Result) Quote {
	symbol := firstString(it, "symbol", "ticker")
	if symbol == "" {
		symbol = "--"
	}
	price := firstNumber(it, "price", "latestPrice")
	q := Quote{
		Symbol:        strings.ToUpper(symbol),
		Price:         price,
		ChangePercent: firstNumber(it, "changesPercentage", "changePercent", "changePercent24Hr"),
		DayLow:        price,
		DayHigh:       price,
	}
	if v := firstNumber(it, "dayLow", "low"); v != 0 {
		q.DayLow = v
	}
	if v := firstNumber(it, "dayHigh", "high"); v != 0 {
		q.DayHigh = v
	}
	return q
}
