package signal_test

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_go/internal/domain"
	"quant_go/internal/signal"
)

func obs(symbol string, i int, price int64) domain.PriceObservation {
	return domain.PriceObservation{
		Time:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Symbol: symbol,
		Price:  decimal.NewFromInt(price),
	}
}

func TestSMACross_GoldenAndDeadCross(t *testing.T) {
	t.Parallel()

	// Short=3, Long=5.
	eval := signal.NewSMACross("BTC-USDT", 3, 5)

	push := func(i int, price int64) domain.Signal {
		return eval.Evaluate(obs("BTC-USDT", i, price))
	}

	// Warmup: five flat bars fill the long window, no cross yet.
	for i := 0; i < 5; i++ {
		assert.Equal(t, domain.SignalHold, push(i, 100), "bar %d", i)
	}

	// Price jumps to 200: short (100+100+200)/3 crosses above long
	// (100*4+200)/5. Golden cross.
	assert.Equal(t, domain.SignalBuy, push(5, 200))

	// Drop to 50: short 350/3 still above long 550/5, no cross.
	assert.Equal(t, domain.SignalHold, push(6, 50))

	// Drop to 2: short (200+50+2)/3=84 below long 452/5=90.4. Dead cross.
	assert.Equal(t, domain.SignalSell, push(7, 2))
}

func TestSMACross_IgnoresOtherSymbols(t *testing.T) {
	t.Parallel()

	eval := signal.NewSMACross("BTC-USDT", 2, 3)
	for i := 0; i < 10; i++ {
		assert.Equal(t, domain.SignalHold, eval.Evaluate(obs("ETH-USDT", i, int64(100+i*50))))
	}
}

func TestSMACross_Deterministic(t *testing.T) {
	t.Parallel()

	prices := []int64{100, 101, 99, 103, 97, 110, 120, 90, 85, 130, 140, 70}
	run := func() []domain.Signal {
		eval := signal.NewSMACross("BTC-USDT", 3, 5)
		out := make([]domain.Signal, 0, len(prices))
		for i, p := range prices {
			out = append(out, eval.Evaluate(obs("BTC-USDT", i, p)))
		}
		return out
	}
	assert.Equal(t, run(), run())
}

func TestSMACross_RejectsInvalidPeriods(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { signal.NewSMACross("BTC-USDT", 5, 5) })
	assert.Panics(t, func() { signal.NewSMACross("BTC-USDT", 0, 5) })
}

func TestMomentum_FiresOncePerDirection(t *testing.T) {
	t.Parallel()

	// Lookback 2 bars, 5% threshold.
	eval := signal.NewMomentum("BTC-USDT", 2, decimal.NewFromInt(5))

	push := func(i int, price int64) domain.Signal {
		return eval.Evaluate(obs("BTC-USDT", i, price))
	}

	assert.Equal(t, domain.SignalHold, push(0, 100))
	assert.Equal(t, domain.SignalHold, push(1, 100))
	assert.Equal(t, domain.SignalHold, push(2, 102)) // +2% vs bar 0

	assert.Equal(t, domain.SignalBuy, push(3, 110))  // +10% vs bar 1
	assert.Equal(t, domain.SignalHold, push(4, 115)) // still rising, already long

	assert.Equal(t, domain.SignalSell, push(5, 100)) // -9% vs bar 3
	assert.Equal(t, domain.SignalHold, push(6, 100))
}

func TestRegistry_BuildsFromCode(t *testing.T) {
	t.Parallel()

	reg := signal.NewRegistry()

	cases := []struct {
		code string
		ok   bool
	}{
		{"SMA_CROSS", true},
		{"SMA_CROSS:3:7", true},
		{"sma_cross:3:7", true},
		{"MOMENTUM", true},
		{"MOMENTUM:10:2.5", true},
		{"SMA_CROSS:7:3", false},
		{"SMA_CROSS:x:7", false},
		{"MOMENTUM:0", false},
		{"NO_SUCH_STRATEGY", false},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			eval, err := reg.Build(&domain.Strategy{StrategyCode: tc.code, Symbol: "BTC-USDT"})
			if tc.ok {
				require.NoError(t, err)
				assert.NotNil(t, eval)
			} else {
				assert.Error(t, err)
			}
		})
	}
}

func TestRegistry_CustomConstructor(t *testing.T) {
	t.Parallel()

	reg := signal.NewRegistry()
	reg.Register("ALWAYS_BUY", func(*domain.Strategy, []string) (domain.SignalEvaluator, error) {
		return evalFunc(func(domain.PriceObservation) domain.Signal { return domain.SignalBuy }), nil
	})

	eval, err := reg.Build(&domain.Strategy{StrategyCode: "ALWAYS_BUY", Symbol: "BTC-USDT"})
	require.NoError(t, err)
	assert.Equal(t, domain.SignalBuy, eval.Evaluate(obs("BTC-USDT", 0, 100)))
	assert.Contains(t, reg.Names(), "ALWAYS_BUY")
}

type evalFunc func(domain.PriceObservation) domain.Signal

func (f evalFunc) Evaluate(o domain.PriceObservation) domain.Signal { return f(o) }
