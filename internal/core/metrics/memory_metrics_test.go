package metrics

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryMetrics_Counters(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	require.NoError(t, m.IncrementCounter("decisions_resolved", nil))
	require.NoError(t, m.AddCounter("decisions_resolved", 4, nil))
	v, err := m.GetCounter("decisions_resolved", nil)
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	assert.Error(t, m.AddCounter("decisions_resolved", -1, nil))
}

func TestMemoryMetrics_LabelsOrderIndependent(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	_ = m.IncrementCounter("x", map[string]string{"a": "1", "b": "2"})
	_ = m.IncrementCounter("x", map[string]string{"b": "2", "a": "1"})
	v, _ := m.GetCounter("x", map[string]string{"a": "1", "b": "2"})
	assert.Equal(t, 2.0, v)
	assert.Contains(t, m.Snapshot(), "x{a=1}{b=2}")
}

func TestMemoryMetrics_Gauges(t *testing.T) {
	m := NewMemoryMetrics(context.Background())
	defer m.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = m.AddGauge(DecisionsInflight, 1, nil)
			_ = m.AddGauge(DecisionsInflight, -1, nil)
		}()
	}
	wg.Wait()
	v, _ := m.GetGauge(DecisionsInflight, nil)
	assert.Equal(t, 0.0, v)

	_ = m.SetGauge(PortBacklog, 12, nil)
	v, _ = m.GetGauge(PortBacklog, nil)
	assert.Equal(t, 12.0, v)
}

func TestBridgeHelpers(t *testing.T) {
	// 未设置全局实例时不 panic
	ResetGlobalMetrics()
	DecisionRequested("response")
	StrayEvent()

	m := NewMemoryMetrics(context.Background())
	defer m.Close()
	require.NoError(t, SetGlobalMetrics(m))
	defer ResetGlobalMetrics()
	assert.ErrorIs(t, SetGlobalMetrics(nil), ErrNilMetrics)

	TaskRegistered()
	DecisionRequested("data")
	DecisionSettled("resolved")
	DecisionRequested("data")
	DecisionSettled("timed_out")
	StrayEvent()
	AddFlushedBytes(30)

	snap := m.Snapshot()
	assert.Equal(t, 1.0, snap[TasksRegistered])
	assert.Equal(t, 0.0, snap[DecisionsInflight])
	assert.Equal(t, 2.0, snap["decisions_requested{kind=data}"])
	assert.Equal(t, 1.0, snap[DecisionsResolved])
	assert.Equal(t, 1.0, snap[DecisionsTimedOut])
	assert.Equal(t, 1.0, snap[EventsStray])
	assert.Equal(t, 30.0, snap[DataFlushed])
}
