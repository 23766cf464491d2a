// Package ledger implements the strategy accounting engine: buy/sell
// cash and position bookkeeping, fee accrual, equity-curve sampling and
// drawdown math. It is pure computation, shared unchanged by backtests
// and live trading, and is not safe for concurrent use: each strategy
// runner owns exactly one Ledger.
package ledger

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// ClampPolicy decides how insufficient cash or position is handled.
type ClampPolicy int

const (
	// PolicyClamp silently reduces the trade to the maximum affordable
	// quantity. This reproduces historical backtest results.
	PolicyClamp ClampPolicy = iota
	// PolicyReject fails the trade instead of sizing it down. Meant for
	// live deployments where trading a smaller size than intended is
	// worse than not trading.
	PolicyReject
)

// ErrInsufficientFunds is returned under PolicyReject when a trade
// cannot be executed at the requested size.
var ErrInsufficientFunds = fmt.Errorf("insufficient funds for requested amount")

// amountScale is the quantity precision. Clamped buy amounts are
// truncated (round-down) at this scale.
const amountScale = 8

var hundred = decimal.NewFromInt(100)

// Ledger tracks cash, position and the full trade and equity history of
// one strategy run.
type Ledger struct {
	strategyID     string
	initialBalance decimal.Decimal
	cash           decimal.Decimal
	position       decimal.Decimal
	positionValue  decimal.Decimal
	feeRate        decimal.Decimal
	policy         ClampPolicy

	trades   []domain.TradeRecord
	balances []domain.BalanceRecord
}

// New creates a Ledger with the given starting cash and fee rate.
// Panics on a negative initial balance or a fee rate outside [0,1):
// those are programming errors, not runtime conditions.
func New(strategyID string, initialBalance, feeRate decimal.Decimal) *Ledger {
	if initialBalance.IsNegative() {
		panic(fmt.Sprintf("ledger %s: negative initial balance %s", strategyID, initialBalance))
	}
	if feeRate.IsNegative() || feeRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		panic(fmt.Sprintf("ledger %s: fee rate %s outside [0,1)", strategyID, feeRate))
	}
	return &Ledger{
		strategyID:     strategyID,
		initialBalance: initialBalance,
		cash:           initialBalance,
		position:       decimal.Zero,
		positionValue:  decimal.Zero,
		feeRate:        feeRate,
	}
}

// SetPolicy switches the insufficient-funds policy. Default is PolicyClamp.
func (l *Ledger) SetPolicy(p ClampPolicy) { l.policy = p }

// Buy executes a buy of amount units at price. If cash cannot cover
// value plus fee, the amount is clamped down to the maximum affordable
// quantity (truncated at 8 decimal places); a clamp to zero is a no-op,
// not an error. Returns the appended trade record, or nil when nothing
// was executed.
func (l *Ledger) Buy(t time.Time, price, amount decimal.Decimal, reason string) (*domain.TradeRecord, error) {
	mustPositivePrice(l.strategyID, price)
	mustNonNegativeAmount(l.strategyID, amount)

	value := price.Mul(amount)
	fee := value.Mul(l.feeRate)

	if l.cash.LessThan(value.Add(fee)) {
		if l.policy == PolicyReject {
			return nil, fmt.Errorf("buy %s at %s: %w", amount, price, ErrInsufficientFunds)
		}

		// amount' = floor(cash / (price * (1 + feeRate)), 8dp)
		denom := price.Mul(decimal.NewFromInt(1).Add(l.feeRate))
		clamped, _ := l.cash.QuoRem(denom, amountScale)

		if !clamped.IsPositive() {
			slog.Info("insufficient cash, buy skipped",
				slog.String("strategy", l.strategyID),
				slog.Time("time", t),
				slog.String("price", price.String()),
				slog.String("cash", l.cash.String()))
			return nil, nil
		}

		slog.Info("insufficient cash, buy amount clamped",
			slog.String("strategy", l.strategyID),
			slog.String("requested", amount.String()),
			slog.String("clamped", clamped.String()))

		amount = clamped
		value = price.Mul(amount)
		fee = value.Mul(l.feeRate)
	}

	l.position = l.position.Add(amount)
	l.cash = l.cash.Sub(value).Sub(fee)
	l.positionValue = l.position.Mul(price)

	tr := l.appendTrade(t, domain.SideBuy, price, amount, value, fee, reason)

	slog.Info("buy executed",
		slog.String("strategy", l.strategyID),
		slog.Time("time", t),
		slog.String("price", price.String()),
		slog.String("amount", amount.String()),
		slog.String("fee", fee.String()),
		slog.String("cash", l.cash.String()),
		slog.String("position", l.position.String()),
		slog.String("total", tr.TotalBalance.String()))

	return tr, nil
}

// Sell executes a sell of amount units at price. An amount above the
// held position is clamped to the position; selling with nothing held
// is a no-op.
func (l *Ledger) Sell(t time.Time, price, amount decimal.Decimal, reason string) (*domain.TradeRecord, error) {
	mustPositivePrice(l.strategyID, price)
	mustNonNegativeAmount(l.strategyID, amount)

	if l.position.LessThan(amount) {
		if l.policy == PolicyReject {
			return nil, fmt.Errorf("sell %s with position %s: %w", amount, l.position, ErrInsufficientFunds)
		}
		slog.Info("insufficient position, sell amount clamped",
			slog.String("strategy", l.strategyID),
			slog.String("requested", amount.String()),
			slog.String("clamped", l.position.String()))
		amount = l.position
	}

	if !amount.IsPositive() {
		slog.Info("empty position, sell skipped",
			slog.String("strategy", l.strategyID),
			slog.Time("time", t),
			slog.String("price", price.String()))
		return nil, nil
	}

	value := price.Mul(amount)
	fee := value.Mul(l.feeRate)

	l.position = l.position.Sub(amount)
	l.cash = l.cash.Add(value).Sub(fee)
	l.positionValue = l.position.Mul(price)

	tr := l.appendTrade(t, domain.SideSell, price, amount, value, fee, reason)

	slog.Info("sell executed",
		slog.String("strategy", l.strategyID),
		slog.Time("time", t),
		slog.String("price", price.String()),
		slog.String("amount", amount.String()),
		slog.String("fee", fee.String()),
		slog.String("cash", l.cash.String()),
		slog.String("position", l.position.String()),
		slog.String("total", tr.TotalBalance.String()))

	return tr, nil
}

func (l *Ledger) appendTrade(t time.Time, side string, price, amount, value, fee decimal.Decimal, reason string) *domain.TradeRecord {
	tr := domain.TradeRecord{
		StrategyID:   l.strategyID,
		Time:         t,
		Side:         side,
		Price:        price,
		Amount:       amount,
		Value:        value,
		Fee:          fee,
		Cash:         l.cash,
		Position:     l.position,
		TotalBalance: l.cash.Add(l.positionValue),
		Reason:       reason,
	}
	l.trades = append(l.trades, tr)
	return &l.trades[len(l.trades)-1]
}

// RecordBalance samples the equity curve at the observed price. It must
// be called once per price observation, trade or not, so drawdown is
// measured at observation granularity.
func (l *Ledger) RecordBalance(t time.Time, price decimal.Decimal) domain.BalanceRecord {
	mustPositivePrice(l.strategyID, price)

	l.positionValue = l.position.Mul(price)
	total := l.cash.Add(l.positionValue)

	if n := len(l.balances); n > 0 {
		last := l.balances[n-1]
		if change := price.Sub(last.Price); !change.IsZero() && last.Price.IsPositive() {
			pct := change.DivRound(last.Price, 6).Mul(hundred)
			slog.Debug("price moved",
				slog.String("strategy", l.strategyID),
				slog.String("from", last.Price.String()),
				slog.String("to", price.String()),
				slog.String("change_pct", pct.String()))
		}
	}

	br := domain.BalanceRecord{
		Time:          t,
		Cash:          l.cash,
		Position:      l.position,
		Price:         price,
		PositionValue: l.positionValue,
		TotalBalance:  total,
	}
	l.balances = append(l.balances, br)
	return br
}

// MaxDrawdown returns the maximum peak-to-trough decline of the equity
// curve, in percent rounded to 2 decimal places half-up. Fewer than two
// balance records yield zero.
func (l *Ledger) MaxDrawdown() decimal.Decimal {
	if len(l.balances) < 2 {
		return decimal.Zero
	}

	maxDD := decimal.Zero
	high := l.balances[0].TotalBalance

	for _, br := range l.balances {
		cur := br.TotalBalance
		if cur.GreaterThan(high) {
			high = cur
		} else if high.IsPositive() {
			dd := decimal.NewFromInt(1).Sub(cur.DivRound(high, 6)).Mul(hundred)
			if dd.GreaterThan(maxDD) {
				maxDD = dd
			}
		}
	}

	return maxDD.Round(2)
}

// Summary computes the run's performance figures. The boolean is false
// when no balance has ever been recorded.
func (l *Ledger) Summary() (domain.PerformanceSummary, bool) {
	if len(l.balances) == 0 {
		return domain.PerformanceSummary{}, false
	}

	final := l.balances[len(l.balances)-1].TotalBalance
	totalReturn := final.Sub(l.initialBalance)

	var rate decimal.Decimal
	if l.initialBalance.IsPositive() {
		rate = totalReturn.DivRound(l.initialBalance, 4).Mul(hundred)
	}

	return domain.PerformanceSummary{
		InitialBalance: l.initialBalance,
		FinalBalance:   final,
		TotalReturn:    totalReturn,
		ReturnRate:     rate,
		MaxDrawdown:    l.MaxDrawdown(),
		TradeCount:     len(l.trades),
		FinalCash:      l.cash,
		FinalPosition:  l.position,
	}, true
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal { return l.cash }

// Position returns the currently held quantity.
func (l *Ledger) Position() decimal.Decimal { return l.position }

// PositionValue returns the position valued at the last observed price.
func (l *Ledger) PositionValue() decimal.Decimal { return l.positionValue }

// InitialBalance returns the starting cash.
func (l *Ledger) InitialBalance() decimal.Decimal { return l.initialBalance }

// LastPrice returns the most recently recorded observation price, or
// zero if no balance was ever recorded. Forced liquidation uses it when
// a stop request carries no fresh observation.
func (l *Ledger) LastPrice() decimal.Decimal {
	if n := len(l.balances); n > 0 {
		return l.balances[n-1].Price
	}
	return decimal.Zero
}

// Trades returns a copy of the trade history.
func (l *Ledger) Trades() []domain.TradeRecord {
	out := make([]domain.TradeRecord, len(l.trades))
	copy(out, l.trades)
	return out
}

// Balances returns a copy of the equity curve.
func (l *Ledger) Balances() []domain.BalanceRecord {
	out := make([]domain.BalanceRecord, len(l.balances))
	copy(out, l.balances)
	return out
}

func mustPositivePrice(strategyID string, price decimal.Decimal) {
	if !price.IsPositive() {
		panic(fmt.Sprintf("ledger %s: non-positive price %s", strategyID, price))
	}
}

func mustNonNegativeAmount(strategyID string, amount decimal.Decimal) {
	if amount.IsNegative() {
		panic(fmt.Sprintf("ledger %s: negative amount %s", strategyID, amount))
	}
}
