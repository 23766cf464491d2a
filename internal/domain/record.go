package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeRecord is one executed ledger trade. Records are appended in
// strict chronological order and never mutated afterwards.
type TradeRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	StrategyID string    `gorm:"index" json:"strategy_id"`
	Time       time.Time `json:"time"`
	Side       string    `json:"side"` // SideBuy, SideSell

	Price  decimal.Decimal `json:"price"`
	Amount decimal.Decimal `json:"amount"`
	Value  decimal.Decimal `json:"value"` // price * amount
	Fee    decimal.Decimal `json:"fee"`

	// Resulting account state after the trade.
	Cash         decimal.Decimal `json:"cash"`
	Position     decimal.Decimal `json:"position"`
	TotalBalance decimal.Decimal `json:"total_balance"`

	// Reason is an opaque annotation; nothing depends on its content.
	Reason string `json:"reason"`
}

// BalanceRecord is one equity-curve sample. One is appended per price
// observation, not per trade, so drawdown is measured at observation
// granularity.
type BalanceRecord struct {
	Time          time.Time       `json:"time"`
	Cash          decimal.Decimal `json:"cash"`
	Position      decimal.Decimal `json:"position"`
	Price         decimal.Decimal `json:"price"`
	PositionValue decimal.Decimal `json:"position_value"`
	TotalBalance  decimal.Decimal `json:"total_balance"`
}

// PerformanceSummary aggregates a run's results for reporting.
type PerformanceSummary struct {
	InitialBalance decimal.Decimal `json:"initial_balance"`
	FinalBalance   decimal.Decimal `json:"final_balance"`
	TotalReturn    decimal.Decimal `json:"total_return"`
	ReturnRate     decimal.Decimal `json:"return_rate"`  // percent, 4dp half-up
	MaxDrawdown    decimal.Decimal `json:"max_drawdown"` // percent, 2dp half-up
	TradeCount     int             `json:"trade_count"`

	FinalCash     decimal.Decimal `json:"final_cash"`
	FinalPosition decimal.Decimal `json:"final_position"`
}
