package engine

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
	"quant_go/internal/infra"
	"quant_go/internal/ledger"
)

// runLoop drives one strategy: pull the next observation, evaluate it
// on the live pool, repeat until the feed ends, fails permanently, or
// the strategy is stopped. Runs in its own goroutine; all state
// mutation happens under entry.mu inside evalTick.
func (m *Manager) runLoop(ctx context.Context, e *entry) {
	defer close(e.done)
	defer m.wg.Done()
	// Close is idempotent, so the stop/delete paths closing the feed
	// first is fine. Without this, a feed that fails permanently would
	// keep its hub subscription registered forever.
	defer e.feed.Close()

	retries := 0
	for {
		obs, err := e.feed.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				// Stopped or shutting down; lifecycle is handled by the caller.
				return
			}
			if errors.Is(err, domain.ErrEndOfStream) {
				m.completeRun(e)
				return
			}
			infra.GlobalMetrics.RecordFeedError()
			if domain.IsRetriable(err) && retries < m.cfg.Engine.MaxDataRetries {
				delay := infra.CalculateBackoff(retries)
				retries++
				slog.Warn("market data fetch failed, retrying",
					slog.String("strategy", e.strategy.ID),
					slog.Int("retry", retries),
					slog.Duration("delay", delay),
					slog.Any("error", err))
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
					continue
				}
			}
			m.failRun(e, err)
			return
		}
		retries = 0

		start := time.Now()
		if err := m.livePool.Run(ctx, func() {
			e.mu.Lock()
			defer e.mu.Unlock()
			m.evalTick(ctx, e, obs)
		}); err != nil {
			return // context cancelled while waiting for a pool slot
		}
		infra.GlobalMetrics.RecordTick(time.Since(start).Nanoseconds())
	}
}

// evalTick processes one observation. Caller holds e.mu, so ticks for
// one strategy are strictly serialized and a concurrent stop cannot
// interleave with the ledger mutation.
func (m *Manager) evalTick(ctx context.Context, e *entry, obs domain.PriceObservation) {
	if e.strategy.Status != domain.StatusRunning {
		return // stop or delete won the race
	}
	// Duplicate delivery guard: the same observation pushed twice must
	// not execute twice.
	if !obs.Time.After(e.lastObs) {
		slog.Debug("duplicate observation skipped",
			slog.String("strategy", e.strategy.ID),
			slog.Time("obs", obs.Time))
		return
	}
	e.lastObs = obs.Time

	br := e.ledger.RecordBalance(obs.Time, obs.Price)
	if m.reporter != nil {
		m.reporter.ReportBalance(e.strategy.ID, br)
	}

	sig := e.eval.Evaluate(obs)
	if sig == domain.SignalHold {
		return
	}

	infra.GlobalMetrics.RecordSignal()
	evalCtx, cancel := context.WithTimeout(ctx, m.cfg.EvalTimeout())
	defer cancel()
	m.executeTradeSignal(evalCtx, e, obs, sig, sig.String()+" signal")
}

// executeTradeSignal translates a BUY/SELL decision into a ledger trade
// sized by the strategy's trade amount, updates the runtime state,
// places the real order for live strategies, and persists the result.
// Caller holds e.mu. The ledger is the system of record: an order
// placement failure flags a discrepancy but is never rolled back.
func (m *Manager) executeTradeSignal(ctx context.Context, e *entry, obs domain.PriceObservation, sig domain.Signal, reason string) {
	tr := applySignal(e.strategy, e.ledger, obs, sig, reason)
	if tr == nil {
		return
	}
	infra.GlobalMetrics.RecordTrade()

	if e.live && m.orders != nil {
		orderCtx, cancel := context.WithTimeout(ctx, m.cfg.OrderTimeout())
		res, err := m.orders.PlaceOrder(orderCtx, e.strategy.Symbol, tr.Side, tr.Amount, tr.Price)
		cancel()
		if err != nil {
			oe := &domain.OrderError{Symbol: e.strategy.Symbol, Side: tr.Side, Err: err}
			e.strategy.OrderDiscrepancy = true
			e.strategy.ErrorMessage = oe.Error()
			infra.GlobalMetrics.RecordOrderFailure()
			slog.Error("order placement failed, ledger is ahead of exchange",
				slog.String("strategy", e.strategy.ID),
				slog.Any("error", oe))
		} else {
			slog.Info("order placed",
				slog.String("strategy", e.strategy.ID),
				slog.String("order_id", res.OrderID),
				slog.String("filled_qty", res.FilledQty.String()),
				slog.String("filled_price", res.FilledPrice.String()))
		}
	}

	if err := m.store.Save(snapshot(e.strategy)); err != nil {
		slog.Error("failed to persist strategy state",
			slog.String("strategy", e.strategy.ID), slog.Any("error", err))
	}
	if err := m.store.SaveTrade(tr); err != nil {
		slog.Error("failed to persist trade record",
			slog.String("strategy", e.strategy.ID), slog.Any("error", err))
	}
	if m.reporter != nil {
		m.reporter.ReportTrade(e.strategy.ID, *tr)
	}
}

// applySignal runs the ledger trade for a signal and updates the
// strategy's last-trade and cumulative fields. Shared by live
// execution and backtest replay. Returns nil when the trade degraded
// to a no-op.
func applySignal(s *domain.Strategy, led *ledger.Ledger, obs domain.PriceObservation, sig domain.Signal, reason string) *domain.TradeRecord {
	var (
		tr  *domain.TradeRecord
		err error
	)

	switch sig {
	case domain.SignalBuy:
		if !s.TradeAmount.IsPositive() {
			slog.Warn("buy signal with no trade amount configured", slog.String("strategy", s.ID))
			return nil
		}
		tr, err = led.Buy(obs.Time, obs.Price, signalQty(s.TradeAmount, obs.Price), reason)
	case domain.SignalSell:
		tr, err = led.Sell(obs.Time, obs.Price, led.Position(), reason)
	default:
		return nil
	}

	if err != nil {
		// Reject policy refused the trade; state is untouched.
		slog.Warn("trade rejected",
			slog.String("strategy", s.ID),
			slog.String("signal", sig.String()),
			slog.Any("error", err))
		return nil
	}
	if tr == nil {
		return nil
	}

	if tr.Side == domain.SideSell && s.LastTradeSide == domain.SideBuy {
		realized := tr.Price.Sub(s.LastTradePrice).Mul(tr.Amount).Sub(tr.Fee)
		s.TotalProfit = s.TotalProfit.Add(realized)
	}
	s.LastTradeSide = tr.Side
	s.LastTradePrice = tr.Price
	s.LastTradeQty = tr.Amount
	s.TotalFees = s.TotalFees.Add(tr.Fee)
	s.UpdatedAt = time.Now()

	return tr
}

// liquidate closes an open long position at the last recorded price.
// Caller holds e.mu. Issued by stop and delete so a halted strategy
// never leaves an unmanaged position behind.
func (m *Manager) liquidate(ctx context.Context, e *entry, reason string) {
	if !e.strategy.HoldsPosition() {
		return
	}
	price := e.ledger.LastPrice()
	if !price.IsPositive() {
		slog.Warn("cannot liquidate without an observed price",
			slog.String("strategy", e.strategy.ID))
		return
	}

	obs := domain.PriceObservation{
		Time:     time.Now(),
		Symbol:   e.strategy.Symbol,
		Interval: e.strategy.Interval,
		Price:    price,
	}
	slog.Info("forced liquidation",
		slog.String("strategy", e.strategy.ID),
		slog.String("price", price.String()),
		slog.String("position", e.ledger.Position().String()))
	m.executeTradeSignal(ctx, e, obs, domain.SignalSell, reason)
}

// snapshot returns a persistable copy of the runtime state.
func snapshot(s *domain.Strategy) *domain.Strategy {
	cp := *s
	return &cp
}

// signalQty converts the configured quote-currency trade amount into a
// base quantity at the observed price. The ledger clamps it further if
// cash cannot cover it.
func signalQty(tradeAmount, price decimal.Decimal) decimal.Decimal {
	return tradeAmount.DivRound(price, 8)
}
