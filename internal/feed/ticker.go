package feed

import (
	"context"
	"strings"

	"github.com/tidwall/gjson"

	"github.com/colthorp/marketfeed-go/internal/core"
	"github.com/colthorp/marketfeed-go/internal/fetcher"
)

// Asset is one ticker entry.
type Asset struct {
	ID        string  `json:"id"`
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"current_price"`
	Change24h float64 `json:"price_change_percentage_24h"`
}

// TickerView is a ticker fetch result with its decoded assets.
type TickerView struct {
	Result fetcher.Result
	Assets []Asset
}

// TickerRequest builds the fetch request for the crypto ticker. The ticker
// makes a single attempt per refresh; the 20s refresh loop is its retry.
func (s *Service) TickerRequest() fetcher.Request {
	return fetcher.Request{
		Endpoint:    s.cfg.TickerEndpoint,
		CacheKey:    core.TickerCacheKey,
		TTL:         s.cfg.TTL,
		Retries:     0,
		BackoffBase: s.cfg.BackoffBase,
		Fallback:    mustJSON(DemoAssets),
		Normalize:   firstN(core.TickerLimit),
	}
}

// Ticker runs one ticker fetch cycle.
func (s *Service) Ticker(ctx context.Context) (TickerView, error) {
	res, err := s.fetcher.Fetch(ctx, s.TickerRequest())
	if err != nil {
		return TickerView{}, err
	}
	return s.tickerView(res), nil
}

// PeekTicker returns the cached ticker without a network call.
func (s *Service) PeekTicker(ctx context.Context) (TickerView, bool) {
	res, ok := s.fetcher.Peek(ctx, core.TickerCacheKey, s.cfg.TTL)
	if !ok {
		return TickerView{}, false
	}
	return s.tickerView(res), true
}

func (s *Service) tickerView(res fetcher.Result) TickerView {
	assets, err := ParseAssets(res.Payload)
	if err != nil {
		s.logger.Sugar().Warnw("unreadable ticker payload; showing demo assets", "kind", res.Kind, "error", err)
		assets = append([]Asset(nil), DemoAssets...)
	}
	if len(assets) > core.TickerLimit {
		assets = assets[:core.TickerLimit]
	}
	return TickerView{Result: res, Assets: assets}
}

// ParseAssets decodes a ticker payload. It accepts CoinGecko rows and the
// CoinCap-style priceUsd/changePercent24Hr fields.
func ParseAssets(payload []byte) ([]Asset, error) {
	items, err := arrayItems(payload)
	if err != nil {
		return nil, err
	}
	assets := make([]Asset, 0, len(items))
	for _, it := range items {
		assets = append(assets, parseAsset(it))
	}
	return assets, nil
}

func parseAsset(it gjson.Result) Asset {
	symbol := firstString(it, "symbol", "id")
	if symbol == "" {
		symbol = "N/A"
	}
	return Asset{
		ID:     it.Get("id").String(),
		Symbol: strings.ToUpper(symbol),
		Price:  firstNumber(it, "current_price", "priceUsd"),
		Change24h: firstNumber(it,
			"price_change_percentage_24h_in_currency",
			"price_change_percentage_24h",
			"changePercent24Hr"),
	}
}
