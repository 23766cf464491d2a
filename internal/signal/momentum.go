package signal

import (
	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// Momentum emits BUY when price has risen by at least threshold percent
// over the lookback window and SELL when it has fallen by the same
// margin. It holds while inside the band, so a sustained trend fires
// once per crossing direction.
type Momentum struct {
	symbol    string
	lookback  int
	threshold decimal.Decimal // percent, e.g. 2 means 2%

	prices []decimal.Decimal
	head   int
	count  int

	lastSignal domain.Signal
}

// NewMomentum creates an evaluator for the given symbol, lookback bar
// count and percent threshold.
func NewMomentum(symbol string, lookback int, threshold decimal.Decimal) *Momentum {
	if lookback <= 0 {
		panic("signal: lookback must be positive")
	}
	if !threshold.IsPositive() {
		panic("signal: threshold must be positive")
	}
	return &Momentum{
		symbol:    symbol,
		lookback:  lookback,
		threshold: threshold,
		prices:    make([]decimal.Decimal, lookback+1),
	}
}

// Evaluate implements domain.SignalEvaluator.
func (m *Momentum) Evaluate(obs domain.PriceObservation) domain.Signal {
	if obs.Symbol != m.symbol {
		return domain.SignalHold
	}

	m.prices[m.head] = obs.Price
	m.head = (m.head + 1) % len(m.prices)
	if m.count < len(m.prices) {
		m.count++
	}
	if m.count < len(m.prices) {
		return domain.SignalHold
	}

	// With the buffer full, m.head points at the observation exactly
	// lookback bars ago.
	base := m.prices[m.head]
	if !base.IsPositive() {
		return domain.SignalHold
	}
	changePct := obs.Price.Sub(base).Div(base).Mul(decimal.NewFromInt(100))

	switch {
	case changePct.GreaterThanOrEqual(m.threshold) && m.lastSignal != domain.SignalBuy:
		m.lastSignal = domain.SignalBuy
		return domain.SignalBuy
	case changePct.LessThanOrEqual(m.threshold.Neg()) && m.lastSignal != domain.SignalSell:
		m.lastSignal = domain.SignalSell
		return domain.SignalSell
	}
	return domain.SignalHold
}
