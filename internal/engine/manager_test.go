package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quant_go/internal/domain"
	"quant_go/internal/infra"
)

func testConfig() *infra.Config {
	cfg := &infra.Config{}
	cfg.Engine.InitialBalance = decimal.NewFromInt(1000)
	cfg.Engine.FeeRate = decimal.RequireFromString("0.001")
	cfg.Engine.ClampPolicy = "clamp"
	cfg.Engine.LivePoolSize = 4
	cfg.Engine.BacktestPoolSize = 2
	cfg.Engine.EvalTimeoutSec = 5
	cfg.Engine.OrderTimeoutSec = 2
	cfg.Engine.MaxDataRetries = 2
	return cfg
}

// memStore is an in-memory StrategyStore.
type memStore struct {
	mu         sync.Mutex
	strategies map[string]*domain.Strategy
	trades     []domain.TradeRecord
}

func newMemStore() *memStore {
	return &memStore{strategies: make(map[string]*domain.Strategy)}
}

func (s *memStore) Save(st *domain.Strategy) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.strategies[st.ID] = &cp
	return nil
}

func (s *memStore) Load(id string) (*domain.Strategy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.strategies[id]
	if !ok {
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (s *memStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.strategies, id)
	return nil
}

func (s *memStore) SaveTrade(tr *domain.TradeRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trades = append(s.trades, *tr)
	return nil
}

func (s *memStore) tradesFor(id string) []domain.TradeRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.TradeRecord
	for _, tr := range s.trades {
		if tr.StrategyID == id {
			out = append(out, tr)
		}
	}
	return out
}

// scriptEval returns a fixed sequence of signals, then HOLD forever.
type scriptEval struct {
	mu      sync.Mutex
	signals []domain.Signal
}

func (e *scriptEval) Evaluate(domain.PriceObservation) domain.Signal {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.signals) == 0 {
		return domain.SignalHold
	}
	sig := e.signals[0]
	e.signals = e.signals[1:]
	return sig
}

// chanFeed delivers observations pushed by the test.
type chanFeed struct {
	ch chan domain.PriceObservation
}

func newChanFeed() *chanFeed {
	return &chanFeed{ch: make(chan domain.PriceObservation, 16)}
}

func (f *chanFeed) Next(ctx context.Context) (domain.PriceObservation, error) {
	select {
	case <-ctx.Done():
		return domain.PriceObservation{}, ctx.Err()
	case obs, ok := <-f.ch:
		if !ok {
			return domain.PriceObservation{}, domain.ErrEndOfStream
		}
		return obs, nil
	}
}

func (f *chanFeed) Close() error { return nil }

// failFeed always fails with a retriable error.
type failFeed struct{}

func (failFeed) Next(ctx context.Context) (domain.PriceObservation, error) {
	if err := ctx.Err(); err != nil {
		return domain.PriceObservation{}, err
	}
	return domain.PriceObservation{}, domain.NewNetworkError("candles", errors.New("connection reset"))
}

func (failFeed) Close() error { return nil }

// closeCountFeed wraps a feed and counts Close calls.
type closeCountFeed struct {
	domain.MarketDataFeed
	closes atomic.Int32
}

func (f *closeCountFeed) Close() error {
	f.closes.Add(1)
	return f.MarketDataFeed.Close()
}

func obsAt(i int, price string) domain.PriceObservation {
	return domain.PriceObservation{
		Time:   time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(i) * time.Minute),
		Symbol: "BTC-USDT",
		Price:  decimal.RequireFromString(price),
	}
}

func testStrategy(code string) *domain.Strategy {
	return &domain.Strategy{
		StrategyCode: code,
		StrategyName: code,
		Symbol:       "BTC-USDT",
		Interval:     "1m",
		TradeAmount:  decimal.NewFromInt(500),
	}
}

func newTestManager(t *testing.T, store *memStore, feeds FeedFactory, evals EvaluatorFactory) *Manager {
	t.Helper()
	m := NewManager(context.Background(), testConfig(), Options{
		Store:      store,
		Feeds:      feeds,
		Evaluators: evals,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})
	return m
}

// waitFor polls until cond passes or the deadline expires.
func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestStart_DuplicateRejected(t *testing.T) {
	store := newMemStore()
	feed := newChanFeed()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return feed, nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	)

	first, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)
	require.Equal(t, domain.StatusRunning, first.Status)
	require.Equal(t, 1, m.reg.size())

	_, err = m.Start(testStrategy("MA_CROSS"))
	assert.ErrorIs(t, err, domain.ErrDuplicateStrategy)
	assert.Equal(t, 1, m.reg.size(), "registry size must be unchanged")

	// Different symbol is fine.
	other := testStrategy("MA_CROSS")
	other.Symbol = "ETH-USDT"
	otherFeed := newChanFeed()
	m.feeds = func(*domain.Strategy) (domain.MarketDataFeed, error) { return otherFeed, nil }
	_, err = m.Start(other)
	assert.NoError(t, err)
	assert.Equal(t, 2, m.reg.size())
}

func TestStop_LiquidatesOpenPosition(t *testing.T) {
	store := newMemStore()
	feed := newChanFeed()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return feed, nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) {
			return &scriptEval{signals: []domain.Signal{domain.SignalBuy}}, nil
		},
	)

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	feed.ch <- obsAt(0, "10")
	waitFor(t, func() bool {
		st, err := m.Get(s.ID)
		return err == nil && st.LastTradeSide == domain.SideBuy
	})

	require.NoError(t, m.Stop(s.ID))

	trades := store.tradesFor(s.ID)
	require.Len(t, trades, 2, "one buy plus exactly one synthesized sell")
	assert.Equal(t, domain.SideBuy, trades[0].Side)
	assert.Equal(t, domain.SideSell, trades[1].Side)
	assert.Equal(t, "strategy stopped", trades[1].Reason)
	assert.True(t, trades[1].Position.IsZero(), "liquidation must close the full position")

	final, err := store.Load(s.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusStopped, final.Status)
	assert.False(t, final.IsActive)
	assert.NotNil(t, final.EndTime)
	assert.Equal(t, 0, m.reg.size())
}

func TestStop_NoPositionNoSynthesizedTrade(t *testing.T) {
	store := newMemStore()
	feed := newChanFeed()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return feed, nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	)

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	feed.ch <- obsAt(0, "10")
	waitFor(t, func() bool {
		sum, err := m.Summary(s.ID)
		return err == nil && sum.TradeCount == 0 && !sum.FinalBalance.IsZero()
	})

	require.NoError(t, m.Stop(s.ID))
	assert.Empty(t, store.tradesFor(s.ID))
}

func TestStop_UnknownStrategy(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return newChanFeed(), nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	)

	assert.ErrorIs(t, m.Stop("no-such-id"), domain.ErrStrategyNotFound)
	assert.ErrorIs(t, m.Delete("no-such-id"), domain.ErrStrategyNotFound)
}

func TestDuplicateObservationNotExecutedTwice(t *testing.T) {
	store := newMemStore()
	feed := newChanFeed()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return feed, nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) {
			return &scriptEval{signals: []domain.Signal{domain.SignalBuy, domain.SignalBuy}}, nil
		},
	)

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	// Same tick delivered twice (duplicate push); only the first may trade.
	dup := obsAt(0, "10")
	feed.ch <- dup
	feed.ch <- dup
	feed.ch <- obsAt(1, "11")

	waitFor(t, func() bool {
		return len(store.tradesFor(s.ID)) >= 2
	})
	// Give the duplicate a chance to (incorrectly) execute.
	time.Sleep(50 * time.Millisecond)

	trades := store.tradesFor(s.ID)
	assert.Len(t, trades, 2, "duplicate tick must not trade; second buy fires on the next tick")
}

func TestConcurrentSignals_SerializePerStrategy(t *testing.T) {
	store := newMemStore()
	feed := newChanFeed()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return feed, nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	)

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	feed.ch <- obsAt(0, "10")
	waitFor(t, func() bool {
		sum, err := m.Summary(s.ID)
		return err == nil && !sum.FinalBalance.IsZero()
	})

	// Fire alternating manual signals from many goroutines; per-strategy
	// locking must keep the ledger consistent (never negative, full
	// position sold by each sell).
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			sig := domain.SignalBuy
			if i%2 == 1 {
				sig = domain.SignalSell
			}
			_ = m.ExecuteSignal(s.ID, sig)
		}(i)
	}
	wg.Wait()

	sum, err := m.Summary(s.ID)
	require.NoError(t, err)
	assert.False(t, sum.FinalCash.IsNegative())
	assert.False(t, sum.FinalPosition.IsNegative())

	// Replaying the persisted trade log must reproduce the same state
	// (no lost or duplicated trades).
	trades := store.tradesFor(s.ID)
	st, err := m.Get(s.ID)
	require.NoError(t, err)
	if len(trades) > 0 {
		last := trades[len(trades)-1]
		assert.Equal(t, last.Side, st.LastTradeSide)
		assert.True(t, last.Cash.Equal(sum.FinalCash))
		assert.True(t, last.Position.Equal(sum.FinalPosition))
	}
}

func TestFeedFailure_StopsStrategyWithError(t *testing.T) {
	store := newMemStore()
	cfg := testConfig()
	cfg.Engine.MaxDataRetries = 0 // fail fast, no backoff sleeps
	m := NewManager(context.Background(), cfg, Options{
		Store:      store,
		Feeds:      func(*domain.Strategy) (domain.MarketDataFeed, error) { return failFeed{}, nil },
		Evaluators: func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Shutdown(ctx)
	})

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	waitFor(t, func() bool {
		st, _ := store.Load(s.ID)
		return st != nil && st.Status == domain.StatusStopped
	})

	st, _ := store.Load(s.ID)
	assert.Contains(t, st.ErrorMessage, "connection reset")
	assert.False(t, st.IsActive)
	assert.Equal(t, 0, m.reg.size())
}

func TestFeedEndOfStream_CompletesRun(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) {
			return NewSliceFeed([]domain.PriceObservation{obsAt(0, "10"), obsAt(1, "11")}), nil
		},
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	)

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	waitFor(t, func() bool {
		st, _ := store.Load(s.ID)
		return st != nil && st.Status == domain.StatusStopped
	})
	assert.Equal(t, 0, m.reg.size())
}

// The run loop owns its feed: when it exits on its own (permanent feed
// failure or end of stream), the feed must still be closed so a hub
// subscription behind it is released.
func TestRunExit_ClosesFeed(t *testing.T) {
	cases := []struct {
		name string
		feed domain.MarketDataFeed
	}{
		{"feed failure", failFeed{}},
		{"end of stream", NewSliceFeed([]domain.PriceObservation{obsAt(0, "10")})},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			cfg := testConfig()
			cfg.Engine.MaxDataRetries = 0 // fail fast, no backoff sleeps
			feed := &closeCountFeed{MarketDataFeed: tc.feed}
			m := NewManager(context.Background(), cfg, Options{
				Store:      store,
				Feeds:      func(*domain.Strategy) (domain.MarketDataFeed, error) { return feed, nil },
				Evaluators: func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
			})
			t.Cleanup(func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = m.Shutdown(ctx)
			})

			s, err := m.Start(testStrategy("MA_CROSS"))
			require.NoError(t, err)

			waitFor(t, func() bool { return feed.closes.Load() > 0 })

			st, _ := store.Load(s.ID)
			require.NotNil(t, st)
			assert.Equal(t, domain.StatusStopped, st.Status)
		})
	}
}

func TestCopy_IndependentRun(t *testing.T) {
	store := newMemStore()
	m := newTestManager(t, store,
		func(*domain.Strategy) (domain.MarketDataFeed, error) { return newChanFeed(), nil },
		func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	)

	s, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	cp, err := m.Copy(s.ID, "ETH-USDT", "5m", decimal.NewFromInt(250))
	require.NoError(t, err)

	assert.NotEqual(t, s.ID, cp.ID)
	assert.Equal(t, "ETH-USDT", cp.Symbol)
	assert.Equal(t, "5m", cp.Interval)
	assert.True(t, cp.TradeAmount.Equal(decimal.NewFromInt(250)))
	assert.Equal(t, "MA_CROSS", cp.StrategyCode)
	assert.Equal(t, 2, m.reg.size())

	// Copying onto the same (code, symbol) as a running strategy fails.
	_, err = m.Copy(s.ID, "", "", decimal.Zero)
	assert.ErrorIs(t, err, domain.ErrDuplicateStrategy)
}

func TestShutdown_RejectsNewStarts(t *testing.T) {
	store := newMemStore()
	m := NewManager(context.Background(), testConfig(), Options{
		Store:      store,
		Feeds:      func(*domain.Strategy) (domain.MarketDataFeed, error) { return newChanFeed(), nil },
		Evaluators: func(*domain.Strategy) (domain.SignalEvaluator, error) { return &scriptEval{}, nil },
	})

	_, err := m.Start(testStrategy("MA_CROSS"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Shutdown(ctx))

	_, err = m.Start(testStrategy("OTHER"))
	assert.ErrorIs(t, err, domain.ErrManagerClosed)
}
