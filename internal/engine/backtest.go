package engine

import (
	"context"
	"errors"
	"log/slog"

	"quant_go/internal/domain"
	"quant_go/internal/infra"
	"quant_go/internal/ledger"
	"quant_go/pkg/id"
)

// BacktestResult carries everything a replay produced.
type BacktestResult struct {
	Strategy *domain.Strategy
	Summary  domain.PerformanceSummary
	Trades   []domain.TradeRecord
	Balances []domain.BalanceRecord
}

// Backtester replays historical bars through the same ledger and
// signal-sizing logic live trading uses. Replays are sequential per
// strategy; concurrency across backtests is bounded by its own pool so
// queued replays never contend with live evaluation latency.
type Backtester struct {
	cfg        *infra.Config
	pool       *Pool
	reporter   domain.Reporter
	evaluators EvaluatorFactory
}

// NewBacktester creates a backtest driver.
func NewBacktester(cfg *infra.Config, reporter domain.Reporter, evaluators EvaluatorFactory) *Backtester {
	return &Backtester{
		cfg:        cfg,
		pool:       NewPool("backtest", cfg.Engine.BacktestPoolSize),
		reporter:   reporter,
		evaluators: evaluators,
	}
}

// Run replays the feed to exhaustion for the given strategy
// configuration and returns the resulting performance. The strategy
// value is private to this run; live state is never touched.
func (b *Backtester) Run(ctx context.Context, s *domain.Strategy, feed domain.MarketDataFeed) (*BacktestResult, error) {
	var (
		res *BacktestResult
		err error
	)
	if poolErr := b.pool.Run(ctx, func() {
		res, err = b.replay(ctx, s, feed)
	}); poolErr != nil {
		return nil, poolErr
	}
	return res, err
}

func (b *Backtester) replay(ctx context.Context, s *domain.Strategy, feed domain.MarketDataFeed) (*BacktestResult, error) {
	defer feed.Close()

	run := snapshot(s)
	if run.ID == "" {
		run.ID = id.New()
	}
	run.Status = domain.StatusRunning

	eval, err := b.evaluators(run)
	if err != nil {
		return nil, err
	}

	led := ledger.New(run.ID, b.cfg.Engine.InitialBalance, b.cfg.Engine.FeeRate)
	if b.cfg.Engine.ClampPolicy == "reject" {
		led.SetPolicy(ledger.PolicyReject)
	}

	bars := 0
	for {
		obs, ferr := feed.Next(ctx)
		if ferr != nil {
			if errors.Is(ferr, domain.ErrEndOfStream) {
				break
			}
			return nil, ferr
		}
		bars++

		br := led.RecordBalance(obs.Time, obs.Price)
		if b.reporter != nil {
			b.reporter.ReportBalance(run.ID, br)
		}

		sig := eval.Evaluate(obs)
		if sig == domain.SignalHold {
			continue
		}
		if tr := applySignal(run, led, obs, sig, sig.String()+" signal"); tr != nil {
			infra.GlobalMetrics.RecordTrade()
			if b.reporter != nil {
				b.reporter.ReportTrade(run.ID, *tr)
			}
		}
	}

	run.Status = domain.StatusStopped
	sum, ok := led.Summary()
	if !ok {
		slog.Warn("backtest produced no balance records",
			slog.String("strategy", run.ID), slog.Int("bars", bars))
	} else if b.reporter != nil {
		b.reporter.ReportSummary(run.ID, sum)
	}

	slog.Info("backtest finished",
		slog.String("strategy", run.ID),
		slog.Int("bars", bars),
		slog.Int("trades", sum.TradeCount),
		slog.String("return_rate", sum.ReturnRate.String()),
		slog.String("max_drawdown", sum.MaxDrawdown.String()))

	return &BacktestResult{
		Strategy: run,
		Summary:  sum,
		Trades:   led.Trades(),
		Balances: led.Balances(),
	}, nil
}
