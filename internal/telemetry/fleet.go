package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope for fleet gauges.
const MeterName = "github.com/BaSui01/agentfleet"

// FleetSnapshot is the point-in-time view sampled on each collection.
type FleetSnapshot struct {
	QueuedTasks   int
	InFlightTasks int
	// Availability maps an availability label to the number of agents in it.
	Availability map[string]int
}

// RegisterFleetGauges registers observable gauges that call snapshot once
// per collection cycle. Unregister the returned registration on shutdown.
func RegisterFleetGauges(meter metric.Meter, snapshot func() FleetSnapshot) (metric.Registration, error) {
	queued, err := meter.Int64ObservableGauge("agentfleet.tasks.queued",
		metric.WithDescription("Tasks waiting for an agent"))
	if err != nil {
		return nil, fmt.Errorf("create queued gauge: %w", err)
	}
	inFlight, err := meter.Int64ObservableGauge("agentfleet.tasks.in_flight",
		metric.WithDescription("Tasks dispatched and not yet finished"))
	if err != nil {
		return nil, fmt.Errorf("create in-flight gauge: %w", err)
	}
	agents, err := meter.Int64ObservableGauge("agentfleet.agents",
		metric.WithDescription("Registered agents by availability"))
	if err != nil {
		return nil, fmt.Errorf("create agents gauge: %w", err)
	}

	return meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		snap := snapshot()
		o.ObserveInt64(queued, int64(snap.QueuedTasks))
		o.ObserveInt64(inFlight, int64(snap.InFlightTasks))
		for availability, n := range snap.Availability {
			o.ObserveInt64(agents, int64(n),
				metric.WithAttributes(attribute.String("availability", availability)))
		}
		return nil
	}, queued, inFlight, agents)
}
