package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceObservation is one market price sample. It drives exactly one
// evaluation cycle: a historical bar during replay, a live ticker in
// real-time mode.
type PriceObservation struct {
	Time     time.Time       `json:"time"`
	Symbol   string          `json:"symbol"`
	Interval string          `json:"interval"`
	Price    decimal.Decimal `json:"price"`
}

// Signal is a trading decision for one observation.
type Signal int

const (
	SignalHold Signal = iota
	SignalBuy
	SignalSell
)

// String returns the string representation of Signal.
func (s Signal) String() string {
	switch s {
	case SignalBuy:
		return SideBuy
	case SignalSell:
		return SideSell
	case SignalHold:
		return "HOLD"
	default:
		return "UNKNOWN"
	}
}
