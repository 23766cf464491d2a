package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StrategyStatus is the lifecycle state of a running strategy.
// Transitions: CREATED -> RUNNING <-> STOPPED. Deletion removes the
// record from the live registry; there is no persisted DELETED state.
type StrategyStatus string

const (
	StatusCreated StrategyStatus = "CREATED"
	StatusRunning StrategyStatus = "RUNNING"
	StatusStopped StrategyStatus = "STOPPED"
)

// Strategy is the runtime state of one trading strategy instance.
// Exactly one in-memory instance exists per active strategy ID; the
// engine owns it while running, persisted snapshots belong to storage.
type Strategy struct {
	ID           string `gorm:"primaryKey" json:"id"`
	StrategyCode string `gorm:"index" json:"strategy_code"` // e.g. "SMA_CROSS"
	StrategyName string `json:"strategy_name"`
	Symbol       string `gorm:"index" json:"symbol"` // e.g. "BTC-USDT"
	Interval     string `json:"interval"`            // e.g. "1m", "1H"

	Status   StrategyStatus `gorm:"index" json:"status"`
	IsActive bool           `gorm:"index" json:"is_active"` // auto-restart bookkeeping, orthogonal to Status

	// Sizing: quote-currency amount committed per BUY signal.
	TradeAmount decimal.Decimal `json:"trade_amount"`

	LastTradeSide  string          `json:"last_trade_side"` // SideBuy / SideSell / ""
	LastTradePrice decimal.Decimal `json:"last_trade_price"`
	LastTradeQty   decimal.Decimal `json:"last_trade_qty"`

	TotalProfit decimal.Decimal `json:"total_profit"` // realized, cumulative
	TotalFees   decimal.Decimal `json:"total_fees"`

	// OrderDiscrepancy marks that an external order placement failed after
	// the internal ledger already applied the trade. Cleared manually.
	OrderDiscrepancy bool   `json:"order_discrepancy"`
	ErrorMessage     string `json:"error_message,omitempty"`

	CreateTime time.Time  `json:"create_time"`
	EndTime    *time.Time `json:"end_time,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// HoldsPosition reports whether the last executed trade left the
// strategy long. Stop and delete must liquidate in that case.
func (s *Strategy) HoldsPosition() bool {
	return s.LastTradeSide == SideBuy
}

// Key returns the duplicate-activation key. At most one strategy per
// (code, symbol) pair may be RUNNING at a time.
func (s *Strategy) Key() string {
	return s.StrategyCode + "/" + s.Symbol
}

// Clone returns an independent copy, optionally overriding symbol,
// interval and trade amount. The copy shares no mutable state with the
// original and starts with empty trade bookkeeping.
func (s *Strategy) Clone(id, symbol, interval string, tradeAmount decimal.Decimal) *Strategy {
	cp := &Strategy{
		ID:           id,
		StrategyCode: s.StrategyCode,
		StrategyName: s.StrategyName,
		Symbol:       s.Symbol,
		Interval:     s.Interval,
		Status:       StatusCreated,
		TradeAmount:  s.TradeAmount,
		CreateTime:   time.Now(),
	}
	if symbol != "" {
		cp.Symbol = symbol
	}
	if interval != "" {
		cp.Interval = interval
	}
	if !tradeAmount.IsZero() {
		cp.TradeAmount = tradeAmount
	}
	return cp
}
