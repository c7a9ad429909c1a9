package routing

import (
	"sort"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// FastestResponse picks the lowest average response time. Agents without
// history rank after every agent with history; if none has history the
// BestMatch order is used.
type FastestResponse struct{}

func (FastestResponse) Name() fleet.StrategyName { return fleet.StrategyFastestResponse }

func (FastestResponse) Rank(candidates []Candidate, task fleet.Task) []Scored {
	scored := scoreAll(candidates, task)
	if !anyHistory(scored) {
		return BestMatch{}.Rank(candidates, task)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		ha, hb := a.Stat.HasHistory(), b.Stat.HasHistory()
		if ha != hb {
			return ha
		}
		if ha && a.Stat.AvgResponseTime != b.Stat.AvgResponseTime {
			return a.Stat.AvgResponseTime < b.Stat.AvgResponseTime
		}
		return byFitness(a, b)
	})
	return scored
}

// LowestCost picks the lowest declared per-request cost. Agents without a
// declared cost rank last; if no agent declares one, or costs tie, BestMatch
// decides.
type LowestCost struct{}

func (LowestCost) Name() fleet.StrategyName { return fleet.StrategyLowestCost }

func (LowestCost) Rank(candidates []Candidate, task fleet.Task) []Scored {
	scored := scoreAll(candidates, task)
	declared := false
	for _, s := range scored {
		if _, ok := s.Agent.Cost(); ok {
			declared = true
			break
		}
	}
	if !declared {
		return BestMatch{}.Rank(candidates, task)
	}
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		ca, oka := a.Agent.Cost()
		cb, okb := b.Agent.Cost()
		if oka != okb {
			return oka
		}
		if oka && ca != cb {
			return ca < cb
		}
		return byFitness(a, b)
	})
	return scored
}

// RoundRobin picks the candidate used longest ago; never-used agents first.
type RoundRobin struct{}

func (RoundRobin) Name() fleet.StrategyName { return fleet.StrategyRoundRobin }

func (RoundRobin) Rank(candidates []Candidate, task fleet.Task) []Scored {
	scored := scoreAll(candidates, task)
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		if !a.Stat.LastUsed.Equal(b.Stat.LastUsed) {
			return a.Stat.LastUsed.Before(b.Stat.LastUsed)
		}
		return a.Agent.ID < b.Agent.ID
	})
	return scored
}

// degradedLoadPenalty is added to a Degraded agent's load when balancing.
const degradedLoadPenalty = 0.5

// LoadBalanced picks the lowest current load, then the lowest average
// response time (no history counts as slowest).
type LoadBalanced struct{}

func (LoadBalanced) Name() fleet.StrategyName { return fleet.StrategyLoadBalanced }

func (LoadBalanced) Rank(candidates []Candidate, task fleet.Task) []Scored {
	scored := scoreAll(candidates, task)
	sort.SliceStable(scored, func(i, j int) bool {
		a, b := scored[i], scored[j]
		la, lb := effectiveLoad(a.Agent), effectiveLoad(b.Agent)
		if la != lb {
			return la < lb
		}
		ra, rb := latencyOrInf(a.Stat), latencyOrInf(b.Stat)
		if ra != rb {
			return ra < rb
		}
		return a.Agent.ID < b.Agent.ID
	})
	return scored
}

func effectiveLoad(a fleet.AgentRecord) float64 {
	load := float64(a.CurrentLoad)
	if a.Availability == fleet.Degraded {
		load += degradedLoadPenalty
	}
	return load
}

func latencyOrInf(s fleet.PerformanceStat) time.Duration {
	if !s.HasHistory() {
		return time.Duration(1<<63 - 1)
	}
	return s.AvgResponseTime
}

func anyHistory(scored []Scored) bool {
	for _, s := range scored {
		if s.Stat.HasHistory() {
			return true
		}
	}
	return false
}
