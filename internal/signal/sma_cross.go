// Package signal holds the built-in signal evaluators and the registry
// that resolves a strategy code to a configured evaluator instance.
package signal

import (
	"github.com/shopspring/decimal"

	"quant_go/internal/domain"
)

// SMACross emits BUY on a golden cross (short SMA crossing above the
// long SMA) and SELL on a dead cross. It is stateful and deterministic:
// the same observation sequence always yields the same signals.
// A ring buffer over the long window keeps evaluation allocation-free
// in the steady state.
type SMACross struct {
	symbol      string
	shortPeriod int
	longPeriod  int

	prices []decimal.Decimal
	head   int // next write position
	count  int
	sum    decimal.Decimal // running sum over the long window

	prevShort decimal.Decimal
	prevLong  decimal.Decimal
	warm      bool // prevShort/prevLong hold a valid pair
}

// NewSMACross creates an evaluator for the given symbol and periods.
func NewSMACross(symbol string, shortPeriod, longPeriod int) *SMACross {
	if shortPeriod <= 0 || shortPeriod >= longPeriod {
		panic("signal: shortPeriod must be positive and less than longPeriod")
	}
	return &SMACross{
		symbol:      symbol,
		shortPeriod: shortPeriod,
		longPeriod:  longPeriod,
		prices:      make([]decimal.Decimal, longPeriod),
	}
}

// Evaluate implements domain.SignalEvaluator.
func (s *SMACross) Evaluate(obs domain.PriceObservation) domain.Signal {
	if obs.Symbol != s.symbol {
		return domain.SignalHold
	}

	// When full, s.head points at the oldest value; retire it from the
	// running sum before overwriting.
	if s.count == s.longPeriod {
		s.sum = s.sum.Sub(s.prices[s.head])
	}
	s.prices[s.head] = obs.Price
	s.sum = s.sum.Add(obs.Price)
	s.head = (s.head + 1) % s.longPeriod
	if s.count < s.longPeriod {
		s.count++
	}

	if s.count < s.longPeriod {
		return domain.SignalHold
	}

	currLong := s.sum.Div(decimal.NewFromInt(int64(s.longPeriod)))
	currShort := s.shortSMA()

	sig := domain.SignalHold
	if s.warm {
		switch {
		case s.prevShort.LessThanOrEqual(s.prevLong) && currShort.GreaterThan(currLong):
			sig = domain.SignalBuy
		case s.prevShort.GreaterThanOrEqual(s.prevLong) && currShort.LessThan(currLong):
			sig = domain.SignalSell
		}
	}

	s.prevShort = currShort
	s.prevLong = currLong
	s.warm = true
	return sig
}

// shortSMA averages the most recent shortPeriod prices by walking the
// ring buffer backwards from the latest write.
func (s *SMACross) shortSMA() decimal.Decimal {
	sum := decimal.Zero
	idx := s.head
	for i := 0; i < s.shortPeriod; i++ {
		idx--
		if idx < 0 {
			idx = s.longPeriod - 1
		}
		sum = sum.Add(s.prices[idx])
	}
	return sum.Div(decimal.NewFromInt(int64(s.shortPeriod)))
}
