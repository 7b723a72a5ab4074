package feed

import (
	"context"
	"time"

	"github.com/colthorp/marketfeed-go/internal/core"
)

// Update is emitted by Watch whenever a feed has something new to show.
// Exactly one of Ticker and Stocks is set.
type Update struct {
	Ticker   *TickerView
	Stocks   *StocksView
	Hydrated bool
}

// WatchOptions configures the refresh loop.
type WatchOptions struct {
	TickerEvery time.Duration
	StocksEvery time.Duration
	SkipTicker  bool
	SkipStocks  bool
}

func (o WatchOptions) withDefaults() WatchOptions {
	if o.TickerEvery <= 0 {
		o.TickerEvery = core.TickerRefresh
	}
	if o.StocksEvery <= 0 {
		o.StocksEvery = core.StockRefresh
	}
	return o
}

// Watch hydrates each feed from cache, fetches it immediately and then
// refreshes it on its own interval until ctx is cancelled. emit is called
// from a single goroutine.
func (s *Service) Watch(ctx context.Context, opts WatchOptions, emit func(Update)) error {
	opts = opts.withDefaults()

	if !opts.SkipTicker {
		if v, ok := s.PeekTicker(ctx); ok {
			emit(Update{Ticker: &v, Hydrated: true})
		}
	}
	if !opts.SkipStocks {
		if v, ok := s.PeekStocks(ctx); ok {
			emit(Update{Stocks: &v, Hydrated: true})
		}
	}

	refreshTicker := func() error {
		v, err := s.Ticker(ctx)
		if err != nil {
			return err
		}
		emit(Update{Ticker: &v})
		return nil
	}
	refreshStocks := func() error {
		v, err := s.Stocks(ctx)
		if err != nil {
			return err
		}
		emit(Update{Stocks: &v})
		return nil
	}

	var tickerC, stocksC <-chan time.Time
	if !opts.SkipTicker {
		if err := refreshTicker(); err != nil {
			return err
		}
		t := time.NewTicker(opts.TickerEvery)
		defer t.Stop()
		tickerC = t.C
	}
	if !opts.SkipStocks {
		if err := refreshStocks(); err != nil {
			return err
		}
		t := time.NewTicker(opts.StocksEvery)
		defer t.Stop()
		stocksC = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tickerC:
			if err := refreshTicker(); err != nil {
				return err
			}
		case <-stocksC:
			if err := refreshStocks(); err != nil {
				return err
			}
		}
	}
}
