package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_go/internal/domain"
)

func TestBacktester_ReplayProducesDeterministicResult(t *testing.T) {
	b := NewBacktester(testConfig(), nil,
		func(*domain.Strategy) (domain.SignalEvaluator, error) {
			return &scriptEval{signals: []domain.Signal{
				domain.SignalBuy, domain.SignalHold, domain.SignalHold, domain.SignalSell,
			}}, nil
		})

	feed := NewSliceFeed([]domain.PriceObservation{
		obsAt(0, "10"), obsAt(1, "12"), obsAt(2, "9"), obsAt(3, "15"),
	})

	res, err := b.Run(context.Background(), testStrategy("MA_CROSS"), feed)
	require.NoError(t, err)

	// Buy 50 units at 10 (500 quote, 0.5 fee), sell all 50 at 15.
	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.SideBuy, res.Trades[0].Side)
	assert.Equal(t, "50", res.Trades[0].Amount.String())
	assert.Equal(t, domain.SideSell, res.Trades[1].Side)
	assert.Equal(t, "50", res.Trades[1].Amount.String())

	assert.Len(t, res.Balances, 4, "one equity sample per bar")
	assert.Equal(t, 2, res.Summary.TradeCount)
	assert.Equal(t, "1248.75", res.Summary.FinalCash.String())
	assert.True(t, res.Summary.FinalPosition.IsZero())
	// Equity is sampled at the bar open, before the bar's trade.
	assert.Equal(t, "1249.5", res.Summary.FinalBalance.String())
	assert.Equal(t, "24.95", res.Summary.ReturnRate.String())
	assert.Equal(t, "13.64", res.Summary.MaxDrawdown.String())

	assert.Equal(t, domain.StatusStopped, res.Strategy.Status)
	assert.NotEmpty(t, res.Strategy.ID)
	assert.Equal(t, domain.SideSell, res.Strategy.LastTradeSide)
}

func TestBacktester_SameInputSameOutput(t *testing.T) {
	script := func(*domain.Strategy) (domain.SignalEvaluator, error) {
		return &scriptEval{signals: []domain.Signal{
			domain.SignalBuy, domain.SignalSell, domain.SignalBuy, domain.SignalSell,
		}}, nil
	}
	bars := []domain.PriceObservation{
		obsAt(0, "100.37"), obsAt(1, "101.11"), obsAt(2, "99.84"), obsAt(3, "103.5"),
	}

	b := NewBacktester(testConfig(), nil, script)
	first, err := b.Run(context.Background(), testStrategy("MA_CROSS"), NewSliceFeed(bars))
	require.NoError(t, err)
	second, err := b.Run(context.Background(), testStrategy("MA_CROSS"), NewSliceFeed(bars))
	require.NoError(t, err)

	assert.True(t, first.Summary.FinalCash.Equal(second.Summary.FinalCash))
	assert.True(t, first.Summary.MaxDrawdown.Equal(second.Summary.MaxDrawdown))
	assert.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		assert.True(t, first.Trades[i].Cash.Equal(second.Trades[i].Cash), "trade %d", i)
		assert.True(t, first.Trades[i].Amount.Equal(second.Trades[i].Amount), "trade %d", i)
	}
}

func TestBacktester_LiveStateUntouched(t *testing.T) {
	b := NewBacktester(testConfig(), nil,
		func(*domain.Strategy) (domain.SignalEvaluator, error) {
			return &scriptEval{signals: []domain.Signal{domain.SignalBuy}}, nil
		})

	src := testStrategy("MA_CROSS")
	src.ID = "live-id"
	res, err := b.Run(context.Background(), src, NewSliceFeed([]domain.PriceObservation{obsAt(0, "10")}))
	require.NoError(t, err)

	assert.Empty(t, src.LastTradeSide, "source strategy must not be mutated")
	assert.Equal(t, domain.SideBuy, res.Strategy.LastTradeSide)
}

func TestBacktester_Cancelled(t *testing.T) {
	b := NewBacktester(testConfig(), nil,
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := b.Run(ctx, testStrategy("MA_CROSS"), NewSliceFeed(nil))
	assert.Error(t, err)
}
