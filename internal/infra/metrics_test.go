package infra

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetrics_RecordTick(t *testing.T) {
	m := &Metrics{}

	m.RecordTick(1000)
	m.RecordTick(2000)
	m.RecordTick(3000)

	snap := m.Snapshot()
	assert.Equal(t, uint64(3), snap.TicksProcessed)
	// Average latency: (1000 + 2000 + 3000) / 3 = 2000
	assert.Equal(t, int64(2000), snap.AvgEvalLatencyNs)
}

func TestMetrics_Counters(t *testing.T) {
	m := &Metrics{}

	m.RecordSignal()
	m.RecordSignal()
	m.RecordTrade()
	m.RecordOrderFailure()
	m.RecordFeedError()

	snap := m.Snapshot()
	assert.Equal(t, uint64(2), snap.SignalsExecuted)
	assert.Equal(t, uint64(1), snap.TradesExecuted)
	assert.Equal(t, uint64(1), snap.OrderFailures)
	assert.Equal(t, uint64(1), snap.FeedErrors)
}

func TestMetrics_StrategyGauge(t *testing.T) {
	m := &Metrics{}

	m.IncrementStrategies()
	m.IncrementStrategies()
	m.IncrementStrategies()
	assert.Equal(t, int32(3), m.Snapshot().ActiveStrategies)

	m.DecrementStrategies()
	assert.Equal(t, int32(2), m.Snapshot().ActiveStrategies)
}

func TestMetrics_Reset(t *testing.T) {
	m := &Metrics{}

	m.RecordTick(1000)
	m.RecordTrade()
	m.IncrementStrategies()
	m.Reset()

	snap := m.Snapshot()
	assert.Equal(t, uint64(0), snap.TicksProcessed)
	assert.Equal(t, uint64(0), snap.TradesExecuted)
	assert.Equal(t, int64(0), snap.AvgEvalLatencyNs)
	assert.Equal(t, int32(0), snap.ActiveStrategies)
}
