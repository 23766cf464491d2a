package engine

import (
	"context"
	"errors"

	"quant_go/internal/domain"
)

// SliceFeed replays a fixed sequence of observations. It is the
// backtest data source: deterministic, returns ErrEndOfStream when
// exhausted.
type SliceFeed struct {
	obs []domain.PriceObservation
	pos int
}

// NewSliceFeed creates a feed over the given bars.
func NewSliceFeed(obs []domain.PriceObservation) *SliceFeed {
	return &SliceFeed{obs: obs}
}

// Next returns the next observation or ErrEndOfStream.
func (f *SliceFeed) Next(ctx context.Context) (domain.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceObservation{}, err
	}
	if f.pos >= len(f.obs) {
		return domain.PriceObservation{}, domain.ErrEndOfStream
	}
	o := f.obs[f.pos]
	f.pos++
	return o, nil
}

// Close implements domain.MarketDataFeed.
func (f *SliceFeed) Close() error { return nil }

// ChainFeed replays a historical feed to completion, then continues on
// a live feed. Real-time strategies use it to warm up on recent bars
// before following the ticker stream.
type ChainFeed struct {
	history domain.MarketDataFeed
	live    domain.MarketDataFeed
	onLive  bool
}

// NewChainFeed chains history before live.
func NewChainFeed(history, live domain.MarketDataFeed) *ChainFeed {
	return &ChainFeed{history: history, live: live}
}

// Next pulls from history until ErrEndOfStream, then from live.
func (f *ChainFeed) Next(ctx context.Context) (domain.PriceObservation, error) {
	if !f.onLive {
		o, err := f.history.Next(ctx)
		if err == nil {
			return o, nil
		}
		if !errors.Is(err, domain.ErrEndOfStream) {
			return domain.PriceObservation{}, err
		}
		f.onLive = true
		_ = f.history.Close()
	}
	return f.live.Next(ctx)
}

// Close closes both underlying feeds.
func (f *ChainFeed) Close() error {
	_ = f.history.Close()
	return f.live.Close()
}
