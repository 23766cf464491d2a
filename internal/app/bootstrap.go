// Package app wires configuration, storage, market data, execution and
// the strategy engine into a runnable system.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"quant_go/internal/domain"
	"quant_go/internal/engine"
	"quant_go/internal/execution"
	"quant_go/internal/infra"
	"quant_go/internal/infra/okx"
	"quant_go/internal/infra/storage"
	"quant_go/internal/report"
	"quant_go/internal/service"
	"quant_go/internal/signal"
)

// warmupBars is how many recent candles each strategy replays before
// following the live stream, enough to fill the default long window.
const warmupBars = 100

// Bootstrap orchestrates the application startup sequence and owns the
// long-lived components.
type Bootstrap struct {
	Config     *infra.Config
	Storage    *storage.Storage
	Hub        *service.MarketHub
	Worker     *okx.Worker
	Client     *okx.Client
	Reporter   *report.AsyncReporter
	Manager    *engine.Manager
	Backtester *engine.Backtester
	Evaluators *signal.Registry
}

// NewBootstrap creates an empty bootstrap.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization: config, logging and
// storage. Market data and the engine are wired separately so backtest
// runs never open a websocket.
func (b *Bootstrap) Initialize(configPath string) error {
	slog.Info("bootstrapping strategy engine")

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("database initialized", slog.String("path", cfg.Storage.Path))

	b.Evaluators = signal.NewRegistry()
	b.Reporter = report.NewAsyncReporter(os.Stdout)
	b.Client = okx.NewClient(cfg)
	b.Backtester = engine.NewBacktester(cfg, b.Reporter, b.Evaluators.Build)
	return nil
}

// StartLive wires the live trading path: market hub, websocket worker,
// and the execution manager. With paper set, orders fill against an
// internal paper exchange instead of OKX.
func (b *Bootstrap) StartLive(ctx context.Context, paper bool) error {
	b.Reporter.Start(ctx)

	b.Hub = service.NewMarketHub()
	b.Hub.Start(ctx)

	symbols, err := b.autoStartSymbols()
	if err != nil {
		return err
	}
	if len(symbols) == 0 {
		// The worker needs at least one subscription to connect; the
		// default symbol keeps the stream warm until a strategy starts.
		symbols = []string{"BTC-USDT"}
	}
	b.Worker = okx.NewWorker(b.Config.API.OKX.WSURL, symbols, b.Hub.In())
	if err := b.Worker.Connect(ctx); err != nil {
		return err
	}

	var orders domain.OrderClient
	if paper {
		pc := execution.NewPaperClient(b.Config.Engine.FeeRate)
		pc.Deposit("USDT", b.Config.Engine.InitialBalance)
		orders = pc
		slog.Info("paper trading enabled")
	} else if b.Config.API.OKX.APIKey != "" {
		orders = b.Client
		slog.Info("live order placement enabled", slog.Bool("simulated", b.Config.API.OKX.Simulated))
	} else {
		slog.Warn("no API key configured, running signal-only")
	}

	b.Manager = engine.NewManager(ctx, b.Config, engine.Options{
		Store:      b.Storage,
		Orders:     orders,
		Reporter:   b.Reporter,
		Feeds:      b.liveFeed,
		Evaluators: b.Evaluators.Build,
	})
	return nil
}

// liveFeed builds a strategy's market data source: recent candle
// history chained into the live ticker subscription.
func (b *Bootstrap) liveFeed(s *domain.Strategy) (domain.MarketDataFeed, error) {
	if err := b.Worker.Subscribe(s.Symbol); err != nil {
		slog.Warn("live subscription failed, relying on reconnect",
			slog.String("symbol", s.Symbol), slog.Any("error", err))
	}
	live := b.Hub.Subscribe(s.Symbol)

	history, err := b.Client.GetCandles(context.Background(), s.Symbol, s.Interval, warmupBars)
	if err != nil {
		// Warmup is best effort; the evaluator fills its window from
		// live ticks instead.
		slog.Warn("candle warmup failed",
			slog.String("symbol", s.Symbol), slog.Any("error", err))
		return live, nil
	}
	return engine.NewChainFeed(engine.NewSliceFeed(history), live), nil
}

// AutoStart resumes every strategy that was active and RUNNING when
// the process last stopped.
func (b *Bootstrap) AutoStart() error {
	if b.Manager == nil {
		return fmt.Errorf("manager not started")
	}
	list, err := b.Storage.ListAutoStart()
	if err != nil {
		return err
	}
	for i := range list {
		s := list[i]
		if _, err := b.Manager.Start(&s); err != nil {
			slog.Error("failed to resume strategy",
				slog.String("strategy", s.ID),
				slog.String("code", s.StrategyCode),
				slog.Any("error", err))
			continue
		}
		slog.Info("strategy resumed",
			slog.String("strategy", s.ID),
			slog.String("code", s.StrategyCode),
			slog.String("symbol", s.Symbol))
	}
	return nil
}

// Shutdown stops the manager and the market data worker in dependency
// order, bounded by ctx.
func (b *Bootstrap) Shutdown(ctx context.Context) error {
	var firstErr error
	if b.Manager != nil {
		if err := b.Manager.Shutdown(ctx); err != nil {
			firstErr = err
		}
	}
	if b.Worker != nil {
		b.Worker.Disconnect()
	}
	if b.Reporter != nil {
		b.Reporter.Wait()
	}
	return firstErr
}

// autoStartSymbols collects the distinct symbols of resumable
// strategies for the initial websocket subscription.
func (b *Bootstrap) autoStartSymbols() ([]string, error) {
	list, err := b.Storage.ListAutoStart()
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool)
	var out []string
	for _, s := range list {
		if !seen[s.Symbol] {
			seen[s.Symbol] = true
			out = append(out, s.Symbol)
		}
	}
	return out, nil
}
