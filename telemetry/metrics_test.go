package telemetry

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/lguibr/twothread/bollywood"
	"github.com/lguibr/twothread/logging"
)

func setupTestMetrics(t *testing.T) (*sdkmetric.ManualReader, *Metrics) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	m, err := NewMetrics(Config{Provider: provider})
	require.NoError(t, err)
	return reader, m
}

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func sumOf(t *testing.T, m metricdata.Metrics) int64 {
	t.Helper()
	sum, ok := m.Data.(metricdata.Sum[int64])
	require.True(t, ok, "expected Sum[int64], got %T", m.Data)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestMetrics_DirectCalls(t *testing.T) {
	reader, m := setupTestMetrics(t)
	pid := &bollywood.PID{ID: "q-1", Dispatcher: "d2"}

	m.AgentTransition(pid, "d2", bollywood.StateBound, bollywood.StateRunning)
	m.MessageDelivered(pid, "d2", 3*time.Millisecond)
	m.MessageDelivered(pid, "d2", time.Millisecond)
	m.DeliveryRejected(nil, pid, fmt.Errorf("send: %w", bollywood.ErrMailboxFull))
	m.HandlerFault(bollywood.Failure{Who: pid, Dispatcher: "d2"})
	m.AgentTransition(pid, "d2", bollywood.StateRunning, bollywood.StateStopping)

	got := collect(t, reader)
	assert.Equal(t, int64(2), sumOf(t, got["twothread.agent.transitions"]))
	assert.Equal(t, int64(2), sumOf(t, got["twothread.messages.delivered"]))
	assert.Equal(t, int64(1), sumOf(t, got["twothread.messages.rejected"]))
	assert.Equal(t, int64(1), sumOf(t, got["twothread.handler.faults"]))
	assert.Equal(t, int64(0), sumOf(t, got["twothread.agents.running"]))

	hist, ok := got["twothread.handler.duration"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.Equal(t, uint64(2), hist.DataPoints[0].Count)
}

func TestMetrics_ObservesEngine(t *testing.T) {
	reader, m := setupTestMetrics(t)
	e := bollywood.NewEngine(bollywood.WithLogger(logging.Discard()), bollywood.WithObserver(m))
	d, err := e.NewDispatcher("d1")
	require.NoError(t, err)

	counter := bollywood.NewAgent("counter", 0, func(ctx bollywood.Context, n int, msg bollywood.Message) (int, bollywood.Effects, error) {
		return n + 1, bollywood.Effects{}, nil
	})
	pid, err := e.Bind(counter, d)
	require.NoError(t, err)
	require.NoError(t, e.Start())

	for i := 0; i < 4; i++ {
		require.NoError(t, e.Send(pid, i))
	}
	require.NoError(t, e.Shutdown(2*time.Second))
	assert.Error(t, e.Send(pid, 5))

	got := collect(t, reader)
	assert.Equal(t, int64(4), sumOf(t, got["twothread.messages.delivered"]))
	assert.Equal(t, int64(4), sumOf(t, got["twothread.agent.transitions"]), "bound, running, stopping, stopped")
	assert.Equal(t, int64(1), sumOf(t, got["twothread.messages.rejected"]))
	assert.Equal(t, int64(0), sumOf(t, got["twothread.agents.running"]))
}

func TestRejectionReason(t *testing.T) {
	assert.Equal(t, "stopped", rejectionReason(bollywood.ErrDeliveryRejected))
	assert.Equal(t, "mailbox_full", rejectionReason(bollywood.ErrMailboxFull))
	assert.Equal(t, "unknown_agent", rejectionReason(bollywood.ErrUnknownAgent))
	assert.Equal(t, "other", rejectionReason(nil))
}
