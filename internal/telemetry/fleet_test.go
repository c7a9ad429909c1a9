package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collectGauges(t *testing.T, reader sdkmetric.Reader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := make(map[string][]metricdata.DataPoint[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			g, ok := m.Data.(metricdata.Gauge[int64])
			require.True(t, ok, "metric %s is not an int64 gauge", m.Name)
			out[m.Name] = g.DataPoints
		}
	}
	return out
}

func TestRegisterFleetGauges(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	snap := FleetSnapshot{
		QueuedTasks:   7,
		InFlightTasks: 3,
		Availability:  map[string]int{"available": 2, "unavailable": 1},
	}
	reg, err := RegisterFleetGauges(mp.Meter(MeterName), func() FleetSnapshot { return snap })
	require.NoError(t, err)

	got := collectGauges(t, reader)
	require.Len(t, got["agentfleet.tasks.queued"], 1)
	assert.Equal(t, int64(7), got["agentfleet.tasks.queued"][0].Value)
	require.Len(t, got["agentfleet.tasks.in_flight"], 1)
	assert.Equal(t, int64(3), got["agentfleet.tasks.in_flight"][0].Value)

	byAvailability := map[string]int64{}
	for _, dp := range got["agentfleet.agents"] {
		v, ok := dp.Attributes.Value(attribute.Key("availability"))
		require.True(t, ok)
		byAvailability[v.AsString()] = dp.Value
	}
	assert.Equal(t, map[string]int64{"available": 2, "unavailable": 1}, byAvailability)

	// 回调每次采集都会重新读取快照
	snap.QueuedTasks = 0
	got = collectGauges(t, reader)
	assert.Equal(t, int64(0), got["agentfleet.tasks.queued"][0].Value)

	require.NoError(t, reg.Unregister())
}
