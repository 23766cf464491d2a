package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_go/internal/domain"
)

func TestSliceFeed_ReplaysInOrderThenEnds(t *testing.T) {
	t.Parallel()

	bars := []domain.PriceObservation{obsAt(0, "10"), obsAt(1, "11"), obsAt(2, "12")}
	feed := NewSliceFeed(bars)
	ctx := context.Background()

	for i, want := range bars {
		got, err := feed.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, want.Time, got.Time, "bar %d", i)
		assert.True(t, want.Price.Equal(got.Price))
	}

	_, err := feed.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
	// Exhaustion is sticky.
	_, err = feed.Next(ctx)
	assert.ErrorIs(t, err, domain.ErrEndOfStream)
}

func TestSliceFeed_HonorsContext(t *testing.T) {
	t.Parallel()

	feed := NewSliceFeed([]domain.PriceObservation{obsAt(0, "10")})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := feed.Next(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestChainFeed_HistoryThenLive(t *testing.T) {
	t.Parallel()

	history := NewSliceFeed([]domain.PriceObservation{obsAt(0, "10"), obsAt(1, "11")})
	live := newChanFeed()
	live.ch <- obsAt(2, "12")
	close(live.ch)

	feed := NewChainFeed(history, live)
	ctx := context.Background()

	var prices []string
	for {
		obs, err := feed.Next(ctx)
		if err != nil {
			assert.ErrorIs(t, err, domain.ErrEndOfStream)
			break
		}
		prices = append(prices, obs.Price.String())
	}
	assert.Equal(t, []string{"10", "11", "12"}, prices)
}
