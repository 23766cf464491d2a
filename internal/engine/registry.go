package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"quant_go/internal/domain"
	"quant_go/internal/ledger"
)

// entry is the live state of one registered strategy. entry.mu is the
// per-strategy serialization point: every evaluation cycle and every
// lifecycle transition (stop, delete, forced liquidation) runs with it
// held, so at most one mutation is in flight per strategy ID.
type entry struct {
	mu sync.Mutex

	strategy *domain.Strategy
	ledger   *ledger.Ledger
	eval     domain.SignalEvaluator
	feed     domain.MarketDataFeed
	live     bool // places real orders through the order client

	// lastObs guards against duplicate observation delivery: a tick at
	// or before this time has already been processed.
	lastObs time.Time

	cancel context.CancelFunc
	done   chan struct{} // closed when the runner loop exits
}

// Registry is the concurrent map of running strategies. Values are
// owned by their runner; the registry only mediates membership and the
// duplicate-activation guard on (strategyCode, symbol).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry // by strategy ID
	keys    map[string]string // Strategy.Key() -> ID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		keys:    make(map[string]string),
	}
}

// register adds the entry, rejecting duplicate IDs and duplicate
// (code, symbol) pairs.
func (r *Registry) register(e *entry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[e.strategy.ID]; ok {
		return domain.ErrDuplicateStrategy
	}
	key := e.strategy.Key()
	if _, ok := r.keys[key]; ok {
		return domain.ErrDuplicateStrategy
	}

	r.entries[e.strategy.ID] = e
	r.keys[key] = e.strategy.ID
	return nil
}

// get returns the entry for an ID.
func (r *Registry) get(id string) (*entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// remove deletes the entry only if it is still the one registered
// under the ID (compare-and-remove, so a stop racing a re-start of the
// same ID cannot evict the newcomer).
func (r *Registry) remove(id string, e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, ok := r.entries[id]
	if !ok || cur != e {
		return false
	}
	delete(r.entries, id)
	delete(r.keys, e.strategy.Key())
	return true
}

// hasRunning reports whether a strategy with the given code and symbol
// is registered.
func (r *Registry) hasRunning(strategyCode, symbol string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.keys[strategyCode+"/"+symbol]
	return ok
}

// size returns the number of registered strategies.
func (r *Registry) size() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// snapshot returns copies of all registered strategies, sorted by ID
// for stable listing.
func (r *Registry) snapshot() []*domain.Strategy {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	out := make([]*domain.Strategy, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		cp := *e.strategy
		e.mu.Unlock()
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// all returns the raw entries (for shutdown).
func (r *Registry) all() []*entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
