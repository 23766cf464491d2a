// Package engine schedules and coordinates concurrent strategy
// evaluation loops: a registry of running strategies, bounded worker
// pools, and the lifecycle transitions (start, stop, delete, copy)
// that must stay consistent with in-flight trading.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/internal/infra"
	"quant_go/internal/ledger"
	"quant_go/pkg/id"
)

// FeedFactory builds the market data feed for a strategy.
type FeedFactory func(s *domain.Strategy) (domain.MarketDataFeed, error)

// EvaluatorFactory builds the signal evaluator for a strategy.
type EvaluatorFactory func(s *domain.Strategy) (domain.SignalEvaluator, error)

// Options wires the manager's collaborators. Orders may be nil for
// simulation-only operation; Reporter may be nil to disable reporting.
type Options struct {
	Store      domain.StrategyStore
	Orders     domain.OrderClient
	Reporter   domain.Reporter
	Feeds      FeedFactory
	Evaluators EvaluatorFactory
}

// Manager owns the set of running strategies and drives their
// evaluation loops.
type Manager struct {
	cfg      *infra.Config
	store    domain.StrategyStore
	orders   domain.OrderClient
	reporter domain.Reporter
	feeds    FeedFactory
	evals    EvaluatorFactory

	reg      *Registry
	livePool *Pool

	ctx       context.Context
	cancelAll context.CancelFunc
	closed    atomic.Bool
	wg        sync.WaitGroup
}

// NewManager creates an execution manager. Runners derive from the
// given parent context and exit when Shutdown is called or the parent
// is cancelled.
func NewManager(parent context.Context, cfg *infra.Config, opts Options) *Manager {
	ctx, cancel := context.WithCancel(parent)
	return &Manager{
		cfg:       cfg,
		store:     opts.Store,
		orders:    opts.Orders,
		reporter:  opts.Reporter,
		feeds:     opts.Feeds,
		evals:     opts.Evaluators,
		reg:       NewRegistry(),
		livePool:  NewPool("live", cfg.Engine.LivePoolSize),
		ctx:       ctx,
		cancelAll: cancel,
	}
}

// Start activates a strategy: rejects a duplicate (code, symbol) pair,
// registers the runtime state, persists it, and launches the
// evaluation loop. Returns a snapshot of the started strategy.
func (m *Manager) Start(s *domain.Strategy) (*domain.Strategy, error) {
	if m.closed.Load() {
		return nil, domain.ErrManagerClosed
	}
	if m.reg.hasRunning(s.StrategyCode, s.Symbol) {
		return nil, domain.ErrDuplicateStrategy
	}

	if s.ID == "" {
		s.ID = id.New()
	}
	if s.CreateTime.IsZero() {
		s.CreateTime = time.Now()
	}
	s.Status = domain.StatusRunning
	s.IsActive = true
	s.EndTime = nil
	s.UpdatedAt = time.Now()
	if s.TradeAmount.IsZero() {
		s.TradeAmount = m.cfg.Engine.InitialBalance
	}

	eval, err := m.evals(s)
	if err != nil {
		return nil, err
	}
	feed, err := m.feeds(s)
	if err != nil {
		return nil, err
	}

	led := ledger.New(s.ID, m.cfg.Engine.InitialBalance, m.cfg.Engine.FeeRate)
	if m.cfg.Engine.ClampPolicy == "reject" {
		led.SetPolicy(ledger.PolicyReject)
	}

	runCtx, cancel := context.WithCancel(m.ctx)
	e := &entry{
		strategy: s,
		ledger:   led,
		eval:     eval,
		feed:     feed,
		live:     m.orders != nil,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	if err := m.reg.register(e); err != nil {
		cancel()
		_ = feed.Close()
		return nil, err
	}

	if err := m.store.Save(snapshot(s)); err != nil {
		slog.Error("failed to persist started strategy",
			slog.String("strategy", s.ID), slog.Any("error", err))
	}

	m.wg.Add(1)
	go m.runLoop(runCtx, e)
	infra.GlobalMetrics.IncrementStrategies()

	slog.Info("strategy started",
		slog.String("strategy", s.ID),
		slog.String("code", s.StrategyCode),
		slog.String("symbol", s.Symbol),
		slog.String("interval", s.Interval))

	return snapshot(s), nil
}

// Stop halts a running strategy: liquidates an open long position,
// marks it STOPPED and inactive, persists the final state, and removes
// it from the live registry. The liquidation runs under the same
// per-strategy lock as ordinary evaluation, so it cannot race a
// concurrently firing signal.
func (m *Manager) Stop(strategyID string) error {
	e, ok := m.reg.get(strategyID)
	if !ok {
		return domain.ErrStrategyNotFound
	}

	e.mu.Lock()
	if e.strategy.Status == domain.StatusRunning {
		m.liquidate(m.ctx, e, "strategy stopped")
		now := time.Now()
		e.strategy.Status = domain.StatusStopped
		e.strategy.IsActive = false
		e.strategy.EndTime = &now
		e.strategy.UpdatedAt = now
		if err := m.store.Save(snapshot(e.strategy)); err != nil {
			slog.Error("failed to persist stopped strategy",
				slog.String("strategy", strategyID), slog.Any("error", err))
		}
	}
	e.mu.Unlock()

	e.cancel()
	if m.reg.remove(strategyID, e) {
		infra.GlobalMetrics.DecrementStrategies()
	}
	_ = e.feed.Close()

	slog.Info("strategy stopped", slog.String("strategy", strategyID))
	return nil
}

// Delete stops the strategy (including forced liquidation) and removes
// both the live entry and the persisted record. Trade history is left
// to the store's own retention.
func (m *Manager) Delete(strategyID string) error {
	e, ok := m.reg.get(strategyID)
	if ok {
		e.mu.Lock()
		if e.strategy.Status == domain.StatusRunning {
			m.liquidate(m.ctx, e, "strategy deleted")
		}
		e.mu.Unlock()

		e.cancel()
		if m.reg.remove(strategyID, e) {
			infra.GlobalMetrics.DecrementStrategies()
		}
		_ = e.feed.Close()
	} else {
		// Not running; it must at least exist in the store.
		s, err := m.store.Load(strategyID)
		if err != nil {
			return err
		}
		if s == nil {
			return domain.ErrStrategyNotFound
		}
	}

	if err := m.store.Delete(strategyID); err != nil {
		return err
	}

	slog.Info("strategy deleted", slog.String("strategy", strategyID))
	return nil
}

// Copy clones an existing strategy's configuration under a fresh ID,
// optionally overriding symbol, interval and trade amount, and starts
// it as an independent run.
func (m *Manager) Copy(strategyID, symbol, interval string, tradeAmount decimal.Decimal) (*domain.Strategy, error) {
	var src *domain.Strategy
	if e, ok := m.reg.get(strategyID); ok {
		e.mu.Lock()
		src = snapshot(e.strategy)
		e.mu.Unlock()
	} else {
		s, err := m.store.Load(strategyID)
		if err != nil {
			return nil, err
		}
		if s == nil {
			return nil, domain.ErrStrategyNotFound
		}
		src = s
	}

	cp := src.Clone(id.New(), symbol, interval, tradeAmount)
	started, err := m.Start(cp)
	if err != nil {
		return nil, err
	}
	slog.Info("strategy copied",
		slog.String("from", strategyID), slog.String("to", started.ID))
	return started, nil
}

// ExecuteSignal manually fires a trade signal for a running strategy
// at the last observed price.
func (m *Manager) ExecuteSignal(strategyID string, sig domain.Signal) error {
	e, ok := m.reg.get(strategyID)
	if !ok {
		return domain.ErrStrategyNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.strategy.Status != domain.StatusRunning {
		return domain.ErrStrategyNotFound
	}
	price := e.ledger.LastPrice()
	if !price.IsPositive() {
		return domain.NewFatalNetworkError("execute-signal", domain.ErrEndOfStream)
	}
	obs := domain.PriceObservation{
		Time:     time.Now(),
		Symbol:   e.strategy.Symbol,
		Interval: e.strategy.Interval,
		Price:    price,
	}
	m.executeTradeSignal(m.ctx, e, obs, sig, "manual "+sig.String())
	return nil
}

// Get returns a snapshot of a running strategy's state.
func (m *Manager) Get(strategyID string) (*domain.Strategy, error) {
	e, ok := m.reg.get(strategyID)
	if !ok {
		return nil, domain.ErrStrategyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return snapshot(e.strategy), nil
}

// Summary returns the current performance summary of a running strategy.
func (m *Manager) Summary(strategyID string) (domain.PerformanceSummary, error) {
	e, ok := m.reg.get(strategyID)
	if !ok {
		return domain.PerformanceSummary{}, domain.ErrStrategyNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	sum, _ := e.ledger.Summary()
	return sum, nil
}

// Running returns snapshots of all registered strategies.
func (m *Manager) Running() []*domain.Strategy {
	return m.reg.snapshot()
}

// HasRunning reports whether a strategy with the given code and symbol
// is currently registered.
func (m *Manager) HasRunning(strategyCode, symbol string) bool {
	return m.reg.hasRunning(strategyCode, symbol)
}

// completeRun finishes a strategy whose feed ended normally (a bounded
// replay reaching its last bar). Reports the summary, marks the
// strategy STOPPED and deregisters it.
func (m *Manager) completeRun(e *entry) {
	e.mu.Lock()
	if sum, ok := e.ledger.Summary(); ok && m.reporter != nil {
		m.reporter.ReportSummary(e.strategy.ID, sum)
	}
	now := time.Now()
	e.strategy.Status = domain.StatusStopped
	e.strategy.IsActive = false
	e.strategy.EndTime = &now
	e.strategy.UpdatedAt = now
	if err := m.store.Save(snapshot(e.strategy)); err != nil {
		slog.Error("failed to persist completed strategy",
			slog.String("strategy", e.strategy.ID), slog.Any("error", err))
	}
	e.mu.Unlock()

	if m.reg.remove(e.strategy.ID, e) {
		infra.GlobalMetrics.DecrementStrategies()
	}
	slog.Info("strategy run completed", slog.String("strategy", e.strategy.ID))
}

// failRun stops a strategy whose market data source failed past the
// retry budget. The strategy transitions to STOPPED with an error
// annotation instead of crashing the manager.
func (m *Manager) failRun(e *entry, cause error) {
	e.mu.Lock()
	now := time.Now()
	e.strategy.Status = domain.StatusStopped
	e.strategy.IsActive = false
	e.strategy.EndTime = &now
	e.strategy.ErrorMessage = cause.Error()
	e.strategy.UpdatedAt = now
	if err := m.store.Save(snapshot(e.strategy)); err != nil {
		slog.Error("failed to persist failed strategy",
			slog.String("strategy", e.strategy.ID), slog.Any("error", err))
	}
	e.mu.Unlock()

	if m.reg.remove(e.strategy.ID, e) {
		infra.GlobalMetrics.DecrementStrategies()
	}
	slog.Error("strategy stopped after market data failure",
		slog.String("strategy", e.strategy.ID), slog.Any("error", cause))
}

// Shutdown signals every runner to exit after its current atomic step
// and waits for them, bounded by ctx.
func (m *Manager) Shutdown(ctx context.Context) error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	m.cancelAll()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		m.livePool.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("execution manager shut down")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
