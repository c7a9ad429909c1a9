package routing

import (
	"math"
	"sort"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// BestMatch weights.
const (
	weightCapability = 0.4
	weightPriority   = 0.3
	weightLoad       = 0.2
	weightLatency    = 0.1

	// degradedFactor scales the fitness of agents whose heartbeat is late.
	degradedFactor = 0.8
)

// BestMatch ranks by
// 0.4·capability_match + 0.3·priority_fit + 0.2·(1−load) + 0.1·(1−latency).
type BestMatch struct{}

func (BestMatch) Name() fleet.StrategyName { return fleet.StrategyBestMatch }

func (BestMatch) Rank(candidates []Candidate, task fleet.Task) []Scored {
	scored := scoreAll(candidates, task)
	sort.SliceStable(scored, func(i, j int) bool { return byFitness(scored[i], scored[j]) })
	return scored
}

// scoreAll computes the unified fitness of every candidate.
func scoreAll(candidates []Candidate, task fleet.Task) []Scored {
	var maxLatency time.Duration
	for _, c := range candidates {
		if c.Stat.HasHistory() && c.Stat.AvgResponseTime > maxLatency {
			maxLatency = c.Stat.AvgResponseTime
		}
	}

	out := make([]Scored, len(candidates))
	for i, c := range candidates {
		out[i] = Scored{Candidate: c, Score: fitness(c, task, maxLatency)}
	}
	return out
}

func fitness(c Candidate, task fleet.Task, maxLatency time.Duration) float64 {
	capabilityMatch := c.Stat.Suitability()
	priorityFit := 1 - math.Abs(task.Priority.Weight()-c.Agent.Priority)

	load := 1.0
	if c.Agent.MaxConcurrency > 0 {
		load = math.Min(1, float64(c.Agent.CurrentLoad)/float64(c.Agent.MaxConcurrency))
	}

	latency := fleet.NeutralSuitability
	if c.Stat.HasHistory() {
		latency = 0
		if maxLatency > 0 {
			latency = float64(c.Stat.AvgResponseTime) / float64(maxLatency)
		}
	}

	score := weightCapability*capabilityMatch +
		weightPriority*priorityFit +
		weightLoad*(1-load) +
		weightLatency*(1-latency)

	if c.Agent.Availability == fleet.Degraded {
		score *= degradedFactor
	}
	return score
}

// byFitness orders by score descending, then agent id ascending.
func byFitness(a, b Scored) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	return a.Agent.ID < b.Agent.ID
}
