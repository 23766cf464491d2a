package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"quant_go/internal/app"
	"quant_go/internal/domain"
	"quant_go/internal/engine"
	"quant_go/pkg/id"

	_ "net/http/pprof" // For pprof profiling
)

var (
	configPath string
	pprofAddr  string
)

func main() {
	root := &cobra.Command{
		Use:          "quant",
		Short:        "Strategy accounting and execution engine",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "configs/config.yaml", "path to configuration file")
	root.PersistentFlags().StringVar(&pprofAddr, "pprof", "", "pprof listen address (e.g. localhost:6060)")

	root.AddCommand(newRunCmd(), newBacktestCmd(), newCreateCmd(), newListCmd(), newTradesCmd(), newStopCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initBootstrap() (*app.Bootstrap, error) {
	b := app.NewBootstrap()
	if err := b.Initialize(configPath); err != nil {
		return nil, err
	}
	if pprofAddr != "" {
		go func() {
			slog.Info("pprof server started", slog.String("addr", pprofAddr))
			if err := http.ListenAndServe(pprofAddr, nil); err != nil {
				slog.Error("pprof server failed", slog.Any("error", err))
			}
		}()
	}
	return b, nil
}

func newRunCmd() *cobra.Command {
	var paper bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the live engine, resuming active strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := initBootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := b.StartLive(ctx, paper); err != nil {
				return err
			}
			if err := b.AutoStart(); err != nil {
				return err
			}

			slog.Info("engine running, press Ctrl+C to exit")
			<-ctx.Done()

			slog.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return b.Shutdown(shutdownCtx)
		},
	}
	cmd.Flags().BoolVar(&paper, "paper", false, "fill orders against an internal paper exchange")
	return cmd
}

func newBacktestCmd() *cobra.Command {
	var (
		code     string
		symbol   string
		interval string
		amount   string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "Replay recent candles through a strategy",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := initBootstrap()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			tradeAmount := b.Config.Engine.InitialBalance
			if amount != "" {
				if tradeAmount, err = decimal.NewFromString(amount); err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
			}

			history, err := b.Client.GetCandles(ctx, symbol, interval, limit)
			if err != nil {
				return err
			}
			if len(history) == 0 {
				return fmt.Errorf("no candles returned for %s %s", symbol, interval)
			}

			reporterCtx, cancelReporter := context.WithCancel(context.Background())
			b.Reporter.Start(reporterCtx)

			s := &domain.Strategy{
				StrategyCode: code,
				StrategyName: code,
				Symbol:       symbol,
				Interval:     interval,
				TradeAmount:  tradeAmount,
			}
			res, err := b.Backtester.Run(ctx, s, engine.NewSliceFeed(history))

			cancelReporter()
			b.Reporter.Wait()
			if err != nil {
				return err
			}

			fmt.Printf("backtest complete: %d bars, %d trades, return %s%%, max drawdown %s%%\n",
				len(history), res.Summary.TradeCount, res.Summary.ReturnRate, res.Summary.MaxDrawdown)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "SMA_CROSS:5:20", "strategy code with parameters")
	cmd.Flags().StringVar(&symbol, "symbol", "BTC-USDT", "instrument to replay")
	cmd.Flags().StringVar(&interval, "interval", "1m", "candle interval")
	cmd.Flags().StringVar(&amount, "amount", "", "quote amount per BUY (default: initial balance)")
	cmd.Flags().IntVar(&limit, "limit", 300, "number of candles to fetch")
	return cmd
}

func newCreateCmd() *cobra.Command {
	var (
		code     string
		symbol   string
		interval string
		amount   string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an active strategy; the run command resumes it",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := initBootstrap()
			if err != nil {
				return err
			}

			tradeAmount := b.Config.Engine.InitialBalance
			if amount != "" {
				if tradeAmount, err = decimal.NewFromString(amount); err != nil {
					return fmt.Errorf("invalid --amount: %w", err)
				}
			}

			s := &domain.Strategy{
				ID:           id.New(),
				StrategyCode: code,
				StrategyName: code,
				Symbol:       symbol,
				Interval:     interval,
				Status:       domain.StatusRunning,
				IsActive:     true,
				TradeAmount:  tradeAmount,
				CreateTime:   time.Now(),
				UpdatedAt:    time.Now(),
			}
			// Fail fast on an unknown code before persisting.
			if _, err := b.Evaluators.Build(s); err != nil {
				return err
			}
			if err := b.Storage.Save(s); err != nil {
				return err
			}
			fmt.Printf("created strategy %s (%s on %s %s)\n", s.ID, code, symbol, interval)
			return nil
		},
	}
	cmd.Flags().StringVar(&code, "code", "", "strategy code with parameters (required)")
	cmd.Flags().StringVar(&symbol, "symbol", "BTC-USDT", "instrument to trade")
	cmd.Flags().StringVar(&interval, "interval", "1m", "candle interval")
	cmd.Flags().StringVar(&amount, "amount", "", "quote amount per BUY (default: initial balance)")
	_ = cmd.MarkFlagRequired("code")
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		status string
		code   string
		symbol string
		since  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored strategies",
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := initBootstrap()
			if err != nil {
				return err
			}

			var list []domain.Strategy
			switch {
			case code != "":
				list, err = b.Storage.ListByCode(code)
			case symbol != "":
				list, err = b.Storage.ListBySymbol(symbol)
			case since > 0:
				list, err = b.Storage.ListByTimeRange(time.Now().Add(-since), time.Now())
			case status != "":
				list, err = b.Storage.ListByStatus(domain.StrategyStatus(status))
			default:
				list, err = b.Storage.ListAll()
			}
			if err != nil {
				return err
			}

			for _, s := range list {
				active := " "
				if s.IsActive {
					active = "*"
				}
				fmt.Printf("%s %-26s %-20s %-10s %-4s %-8s profit=%s fees=%s\n",
					active, s.ID, s.StrategyCode, s.Symbol, s.Interval, s.Status,
					s.TotalProfit, s.TotalFees)
			}
			fmt.Printf("%d strategies\n", len(list))
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by status (CREATED, RUNNING, STOPPED)")
	cmd.Flags().StringVar(&code, "code", "", "filter by strategy code")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol")
	cmd.Flags().DurationVar(&since, "since", 0, "only strategies created within this window (e.g. 24h)")
	return cmd
}

func newTradesCmd() *cobra.Command {
	var (
		from string
		to   string
	)
	cmd := &cobra.Command{
		Use:   "trades <strategy-id>",
		Short: "Print a strategy's trade history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := initBootstrap()
			if err != nil {
				return err
			}

			var trades []domain.TradeRecord
			if from != "" || to != "" {
				fromT, toT, err := parseTimeRange(from, to)
				if err != nil {
					return err
				}
				trades, err = b.Storage.TradesBetween(args[0], fromT, toT)
				if err != nil {
					return err
				}
			} else {
				if trades, err = b.Storage.TradesFor(args[0]); err != nil {
					return err
				}
			}

			for _, tr := range trades {
				fmt.Printf("%s %-4s %s @ %s  fee=%s cash=%s position=%s  %s\n",
					tr.Time.Format("2006-01-02 15:04:05"), tr.Side,
					tr.Amount, tr.Price, tr.Fee, tr.Cash, tr.Position, tr.Reason)
			}
			fmt.Printf("%d trades\n", len(trades))
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start of time range (RFC 3339, e.g. 2024-03-01T00:00:00Z)")
	cmd.Flags().StringVar(&to, "to", "", "end of time range (RFC 3339)")
	return cmd
}

// parseTimeRange fills an open end of the range with the epoch or now.
func parseTimeRange(from, to string) (time.Time, time.Time, error) {
	fromT, toT := time.Unix(0, 0), time.Now()
	var err error
	if from != "" {
		if fromT, err = time.Parse(time.RFC3339, from); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --from: %w", err)
		}
	}
	if to != "" {
		if toT, err = time.Parse(time.RFC3339, to); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --to: %w", err)
		}
	}
	return fromT, toT, nil
}

func newStopCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <strategy-id>",
		Short: "Deactivate a stored strategy so run no longer resumes it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := initBootstrap()
			if err != nil {
				return err
			}
			if err := b.Storage.SetActive(args[0], false); err != nil {
				return err
			}
			fmt.Printf("strategy %s deactivated\n", args[0])
			return nil
		},
	}
	return cmd
}
