package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketDataFeed supplies price observations for one strategy, in
// order. Backtest feeds replay a fixed historical sequence and return
// ErrEndOfStream when exhausted; live feeds block until the next tick
// or context cancellation.
type MarketDataFeed interface {
	Next(ctx context.Context) (PriceObservation, error)
	Close() error
}

// SignalEvaluator turns one observation into a trading decision.
// Implementations are stateful and owned by a single strategy runner,
// so they are never called concurrently for the same strategy.
type SignalEvaluator interface {
	Evaluate(obs PriceObservation) Signal
}

// OrderClient places real orders against an exchange. Only live
// strategies use it; calls may block on network I/O and must honor the
// context deadline.
type OrderClient interface {
	PlaceOrder(ctx context.Context, symbol, side string, qty, price decimal.Decimal) (OrderResult, error)
}

// StrategyStore persists runtime state snapshots and trade history.
// The engine calls it after every ledger-affecting mutation. Load
// returns (nil, nil) when the ID is unknown.
type StrategyStore interface {
	Save(s *Strategy) error
	Load(id string) (*Strategy, error)
	Delete(id string) error
	SaveTrade(tr *TradeRecord) error
}

// Reporter receives trade and summary events for display. It is
// fire-and-forget: implementations must never block or fail the
// trading path.
type Reporter interface {
	ReportTrade(strategyID string, tr TradeRecord)
	ReportBalance(strategyID string, br BalanceRecord)
	ReportSummary(strategyID string, sum PerformanceSummary)
}
