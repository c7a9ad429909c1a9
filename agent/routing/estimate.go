package routing

import (
	"math"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// ComplexityFactor scales estimates by priority and input size. It is never
// below 1.
func ComplexityFactor(task fleet.Task) float64 {
	size := math.Min(3, 1+float64(len(task.Input))/1000)
	return math.Max(1, task.Priority.ComplexityFactor()*size)
}

// EstimateResponseTime projects the pair's average latency onto this task.
// It is zero without history.
func EstimateResponseTime(stat fleet.PerformanceStat, task fleet.Task) time.Duration {
	if !stat.HasHistory() {
		return 0
	}
	return time.Duration(float64(stat.AvgResponseTime) * ComplexityFactor(task))
}

// EstimateCost projects the agent's declared cost onto this task. It is zero
// when no cost is declared.
func EstimateCost(agent fleet.AgentRecord, task fleet.Task) float64 {
	cost, ok := agent.Cost()
	if !ok {
		return 0
	}
	return cost * ComplexityFactor(task)
}
