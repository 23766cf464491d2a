// Package service holds the market data hub that fans live price
// observations out to strategy feeds.
package service

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// MarketHub receives price observations from exchange workers and fans
// them out to per-strategy subscriptions. It also caches the latest
// observation per symbol so queries and warm starts never wait for the
// next tick.
type MarketHub struct {
	mu     sync.RWMutex
	latest map[string]domain.PriceObservation
	subs   map[string]map[int]chan domain.PriceObservation // symbol -> sub id -> channel
	nextID int

	in chan domain.PriceObservation
}

// NewMarketHub creates a hub. The inbound buffer absorbs ticker bursts
// from the websocket worker without backpressuring the read loop.
func NewMarketHub() *MarketHub {
	return &MarketHub{
		latest: make(map[string]domain.PriceObservation),
		subs:   make(map[string]map[int]chan domain.PriceObservation),
		in:     make(chan domain.PriceObservation, 1000),
	}
}

// In returns the inbound channel exchange workers publish to.
func (h *MarketHub) In() chan<- domain.PriceObservation {
	return h.in
}

// Publish delivers one observation directly, bypassing the inbound
// buffer. Used by tests and synchronous sources.
func (h *MarketHub) Publish(obs domain.PriceObservation) {
	h.dispatch(obs)
}

// Start launches the background dispatch loop. It exits when ctx is
// cancelled.
func (h *MarketHub) Start(ctx context.Context) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case obs := <-h.in:
				h.dispatch(obs)
			}
		}
	}()
}

func (h *MarketHub) dispatch(obs domain.PriceObservation) {
	h.mu.Lock()
	h.latest[obs.Symbol] = obs
	subs := h.subs[obs.Symbol]
	for id, ch := range subs {
		select {
		case ch <- obs:
		default:
			// A slow subscriber keeps only the freshest data; stale
			// ticks are dropped, not queued.
			slog.Debug("dropping tick for slow subscriber",
				slog.String("symbol", obs.Symbol), slog.Int("sub", id))
		}
	}
	h.mu.Unlock()
}

// Latest returns the most recent observation for a symbol.
func (h *MarketHub) Latest(symbol string) (domain.PriceObservation, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	obs, ok := h.latest[symbol]
	return obs, ok
}

// LatestPrice returns the most recent price for a symbol, or zero when
// the symbol has not ticked yet.
func (h *MarketHub) LatestPrice(symbol string) decimal.Decimal {
	obs, ok := h.Latest(symbol)
	if !ok {
		return decimal.Zero
	}
	return obs.Price
}

// Symbols returns all symbols seen so far, sorted.
func (h *MarketHub) Symbols() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.latest))
	for sym := range h.latest {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Subscribe opens a feed of observations for one symbol. The returned
// feed implements domain.MarketDataFeed; closing it detaches the
// subscription.
func (h *MarketHub) Subscribe(symbol string) *HubFeed {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan domain.PriceObservation, 64)
	if h.subs[symbol] == nil {
		h.subs[symbol] = make(map[int]chan domain.PriceObservation)
	}
	h.subs[symbol][id] = ch

	return &HubFeed{hub: h, symbol: symbol, id: id, ch: ch, closed: make(chan struct{})}
}

func (h *MarketHub) unsubscribe(symbol string, id int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if subs, ok := h.subs[symbol]; ok {
		delete(subs, id)
		if len(subs) == 0 {
			delete(h.subs, symbol)
		}
	}
}

// HubFeed is a live per-symbol subscription on the hub.
type HubFeed struct {
	hub    *MarketHub
	symbol string
	id     int
	ch     chan domain.PriceObservation

	closeOnce sync.Once
	closed    chan struct{}
}

// Next blocks for the next observation on the subscribed symbol.
func (f *HubFeed) Next(ctx context.Context) (domain.PriceObservation, error) {
	select {
	case <-ctx.Done():
		return domain.PriceObservation{}, ctx.Err()
	case <-f.closed:
		return domain.PriceObservation{}, domain.ErrEndOfStream
	case obs := <-f.ch:
		return obs, nil
	}
}

// Close detaches the subscription from the hub.
func (f *HubFeed) Close() error {
	f.closeOnce.Do(func() {
		f.hub.unsubscribe(f.symbol, f.id)
		close(f.closed)
	})
	return nil
}
