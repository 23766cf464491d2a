// Package report renders trade activity and performance summaries for
// humans. The async reporter decouples rendering from the evaluation
// path: reporting never blocks a trade.
package report

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"quant_go/internal/domain"
)

const timeLayout = "2006-01-02 15:04:05"

// event is one queued reporting item.
type event struct {
	strategyID string
	trade      *domain.TradeRecord
	balance    *domain.BalanceRecord
	summary    *domain.PerformanceSummary
}

// AsyncReporter implements domain.Reporter on a buffered channel. When
// the buffer is full the event is dropped; the ledger remains the
// system of record, so a dropped report line loses no state.
type AsyncReporter struct {
	out     io.Writer
	events  chan event
	dropped int

	mu        sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

// NewAsyncReporter creates a reporter writing to out.
func NewAsyncReporter(out io.Writer) *AsyncReporter {
	return &AsyncReporter{
		out:    out,
		events: make(chan event, 256),
		done:   make(chan struct{}),
	}
}

// Start launches the render loop. It drains remaining events after ctx
// is cancelled, then exits.
func (r *AsyncReporter) Start(ctx context.Context) {
	go func() {
		defer close(r.done)
		for {
			select {
			case <-ctx.Done():
				for {
					select {
					case ev := <-r.events:
						r.render(ev)
					default:
						return
					}
				}
			case ev := <-r.events:
				r.render(ev)
			}
		}
	}()
}

// Wait blocks until the render loop has exited.
func (r *AsyncReporter) Wait() {
	<-r.done
}

// ReportTrade implements domain.Reporter.
func (r *AsyncReporter) ReportTrade(strategyID string, tr domain.TradeRecord) {
	r.enqueue(event{strategyID: strategyID, trade: &tr})
}

// ReportBalance implements domain.Reporter.
func (r *AsyncReporter) ReportBalance(strategyID string, br domain.BalanceRecord) {
	r.enqueue(event{strategyID: strategyID, balance: &br})
}

// ReportSummary implements domain.Reporter.
func (r *AsyncReporter) ReportSummary(strategyID string, sum domain.PerformanceSummary) {
	r.enqueue(event{strategyID: strategyID, summary: &sum})
}

// Dropped returns how many events were discarded on a full buffer.
func (r *AsyncReporter) Dropped() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dropped
}

func (r *AsyncReporter) enqueue(ev event) {
	select {
	case r.events <- ev:
	default:
		r.mu.Lock()
		r.dropped++
		r.mu.Unlock()
		slog.Debug("report event dropped", slog.String("strategy", ev.strategyID))
	}
}

func (r *AsyncReporter) render(ev event) {
	switch {
	case ev.trade != nil:
		tr := ev.trade
		fmt.Fprintf(r.out, "[%s] %s %s %s @ %s  value=%s fee=%s cash=%s position=%s\n",
			tr.Time.Format(timeLayout), ev.strategyID, tr.Side, tr.Amount, tr.Price,
			tr.Value, tr.Fee, tr.Cash, tr.Position)
	case ev.balance != nil:
		br := ev.balance
		fmt.Fprintf(r.out, "[%s] %s balance=%s price=%s\n",
			br.Time.Format(timeLayout), ev.strategyID, br.TotalBalance, br.Price)
	case ev.summary != nil:
		r.renderSummary(ev.strategyID, ev.summary)
	}
}

func (r *AsyncReporter) renderSummary(strategyID string, sum *domain.PerformanceSummary) {
	sep := "================================================================"
	fmt.Fprintf(r.out, "\n%s\n", sep)
	fmt.Fprintf(r.out, "==================== Performance Summary ====================\n")
	fmt.Fprintf(r.out, "%s\n", sep)
	fmt.Fprintf(r.out, "Strategy:        %s\n", strategyID)
	fmt.Fprintf(r.out, "Initial balance: %s\n", sum.InitialBalance)
	fmt.Fprintf(r.out, "Final balance:   %s\n", sum.FinalBalance)
	fmt.Fprintf(r.out, "Total return:    %s\n", sum.TotalReturn)
	fmt.Fprintf(r.out, "Return rate:     %s%%\n", sum.ReturnRate)
	fmt.Fprintf(r.out, "Max drawdown:    %s%%\n", sum.MaxDrawdown)
	fmt.Fprintf(r.out, "Trades:          %d\n", sum.TradeCount)
	fmt.Fprintf(r.out, "Final cash:      %s\n", sum.FinalCash)
	fmt.Fprintf(r.out, "Final position:  %s\n", sum.FinalPosition)
	fmt.Fprintf(r.out, "%s\n", sep)
}
