package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/agentfleet/config"
)

// restoreGlobals 在测试结束后还原全局 provider
func restoreGlobals(t *testing.T) {
	t.Helper()
	tp, mp, prop := otel.GetTracerProvider(), otel.GetMeterProvider(), otel.GetTextMapPropagator()
	t.Cleanup(func() {
		otel.SetTracerProvider(tp)
		otel.SetMeterProvider(mp)
		otel.SetTextMapPropagator(prop)
	})
}

func initInMemory(t *testing.T, sampleRate float64) (*tracetest.InMemoryExporter, *sdkmetric.ManualReader) {
	t.Helper()
	restoreGlobals(t)
	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	p, err := Init(config.TelemetryConfig{
		Enabled:     true,
		ServiceName: "agentfleet-test",
		SampleRate:  sampleRate,
	}, zaptest.NewLogger(t), WithSpanExporter(spans), WithMetricReader(reader))
	require.NoError(t, err)
	require.NotNil(t, p.tp)
	require.NotNil(t, p.mp)
	t.Cleanup(func() { _ = p.Shutdown(context.Background()) })
	return spans, reader
}

func TestInit_Disabled(t *testing.T) {
	restoreGlobals(t)
	before := otel.GetTracerProvider()

	p, err := Init(config.TelemetryConfig{Enabled: false}, nil)
	require.NoError(t, err)
	assert.Nil(t, p.tp)
	assert.Nil(t, p.mp)
	assert.Equal(t, before, otel.GetTracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestInit_FleetGaugesFlowThroughGlobalMeter(t *testing.T) {
	_, reader := initInMemory(t, 1)

	reg, err := RegisterFleetGauges(otel.GetMeterProvider().Meter(MeterName), func() FleetSnapshot {
		return FleetSnapshot{QueuedTasks: 4, InFlightTasks: 1, Availability: map[string]int{"available": 3}}
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reg.Unregister() })

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	name, ok := rm.Resource.Set().Value(semconv.ServiceNameKey)
	require.True(t, ok)
	assert.Equal(t, "agentfleet-test", name.AsString())
	ns, ok := rm.Resource.Set().Value(semconv.ServiceNamespaceKey)
	require.True(t, ok)
	assert.Equal(t, "agentfleet", ns.AsString())
	_, ok = rm.Resource.Set().Value(semconv.ServiceInstanceIDKey)
	assert.True(t, ok)

	seen := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if g, ok := m.Data.(metricdata.Gauge[int64]); ok && len(g.DataPoints) > 0 {
				seen[m.Name] = g.DataPoints[0].Value
			}
		}
	}
	assert.Equal(t, int64(4), seen["agentfleet.tasks.queued"])
	assert.Equal(t, int64(1), seen["agentfleet.tasks.in_flight"])
	assert.Equal(t, int64(3), seen["agentfleet.agents"])
}

func TestInit_SamplerFollowsParent(t *testing.T) {
	spans, _ := initInMemory(t, 0)
	tracer := otel.Tracer("agentfleet/test")

	_, root := tracer.Start(context.Background(), "root")
	root.End()
	assert.Empty(t, spans.GetSpans(), "rate 0 drops root spans")

	// 上游已采样的请求在调度链路中保持采样
	parent := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    trace.TraceID{1},
		SpanID:     trace.SpanID{1},
		TraceFlags: trace.FlagsSampled,
		Remote:     true,
	})
	ctx := trace.ContextWithRemoteSpanContext(context.Background(), parent)
	_, child := tracer.Start(ctx, "scheduler.dispatch",
		trace.WithAttributes(attribute.String("agentfleet.agent_id", "a")))
	child.End()

	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "scheduler.dispatch", got[0].Name)
	assert.Equal(t, parent.TraceID(), got[0].SpanContext.TraceID())
}

func TestInit_OTLPPipeline(t *testing.T) {
	restoreGlobals(t)

	// gRPC 导出器延迟连接，没有 collector 也能创建
	p, err := Init(config.TelemetryConfig{
		Enabled:      true,
		OTLPEndpoint: "localhost:4317",
		Insecure:     true,
		SampleRate:   0.5,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, tpIsSDK := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	_, mpIsSDK := otel.GetMeterProvider().(*sdkmetric.MeterProvider)
	assert.True(t, tpIsSDK)
	assert.True(t, mpIsSDK)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	assert.NotPanics(t, func() { _ = p.Shutdown(ctx) })
}

func TestProviders_ShutdownNil(t *testing.T) {
	var p *Providers
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestBuildVersion(t *testing.T) {
	// 测试二进制的主模块版本是 (devel)
	assert.Equal(t, "dev", buildVersion())
}
