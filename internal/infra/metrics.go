package infra

import (
	"sync/atomic"
	"time"
)

// Metrics provides lightweight observability without external dependencies.
// Uses atomic operations for thread-safety.
type Metrics struct {
	// Counters
	ticksProcessed  atomic.Uint64
	signalsExecuted atomic.Uint64
	tradesExecuted  atomic.Uint64
	orderFailures   atomic.Uint64
	feedErrors      atomic.Uint64

	// Latency of one evaluation cycle
	evalLatencySumNs atomic.Int64
	evalLatencyCount atomic.Uint64

	// Gauges
	activeStrategies atomic.Int32
}

// GlobalMetrics is the singleton metrics instance.
var GlobalMetrics = &Metrics{}

// RecordTick records one processed price observation with its
// evaluation latency.
func (m *Metrics) RecordTick(latencyNs int64) {
	m.ticksProcessed.Add(1)
	m.evalLatencySumNs.Add(latencyNs)
	m.evalLatencyCount.Add(1)
}

// RecordSignal records an executed BUY/SELL signal.
func (m *Metrics) RecordSignal() {
	m.signalsExecuted.Add(1)
}

// RecordTrade records a ledger trade.
func (m *Metrics) RecordTrade() {
	m.tradesExecuted.Add(1)
}

// RecordOrderFailure records a failed external order placement.
func (m *Metrics) RecordOrderFailure() {
	m.orderFailures.Add(1)
}

// RecordFeedError records a market data retrieval failure.
func (m *Metrics) RecordFeedError() {
	m.feedErrors.Add(1)
}

// IncrementStrategies increments the running strategy gauge.
func (m *Metrics) IncrementStrategies() {
	m.activeStrategies.Add(1)
}

// DecrementStrategies decrements the running strategy gauge.
func (m *Metrics) DecrementStrategies() {
	m.activeStrategies.Add(-1)
}

// MetricsSnapshot is a point-in-time view of all metrics.
type MetricsSnapshot struct {
	TicksProcessed   uint64
	SignalsExecuted  uint64
	TradesExecuted   uint64
	OrderFailures    uint64
	FeedErrors       uint64
	AvgEvalLatencyNs int64
	ActiveStrategies int32
	Timestamp        time.Time
}

// Snapshot returns current metrics as a snapshot.
func (m *Metrics) Snapshot() MetricsSnapshot {
	var avgLatency int64
	count := m.evalLatencyCount.Load()
	if count > 0 {
		avgLatency = m.evalLatencySumNs.Load() / int64(count)
	}

	return MetricsSnapshot{
		TicksProcessed:   m.ticksProcessed.Load(),
		SignalsExecuted:  m.signalsExecuted.Load(),
		TradesExecuted:   m.tradesExecuted.Load(),
		OrderFailures:    m.orderFailures.Load(),
		FeedErrors:       m.feedErrors.Load(),
		AvgEvalLatencyNs: avgLatency,
		ActiveStrategies: m.activeStrategies.Load(),
		Timestamp:        time.Now(),
	}
}

// Reset clears all metrics (for testing).
func (m *Metrics) Reset() {
	m.ticksProcessed.Store(0)
	m.signalsExecuted.Store(0)
	m.tradesExecuted.Store(0)
	m.orderFailures.Store(0)
	m.feedErrors.Store(0)
	m.evalLatencySumNs.Store(0)
	m.evalLatencyCount.Store(0)
	m.activeStrategies.Store(0)
}
