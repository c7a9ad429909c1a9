package routing

import (
	"fmt"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/types"
)

// Candidate is one schedulable agent with its statistics for the task's
// capability.
type Candidate struct {
	Agent fleet.AgentRecord
	Stat  fleet.PerformanceStat
}

// Scored is a ranked candidate. Score is the unified fitness (the BestMatch
// weighted sum) whichever strategy produced the order.
type Scored struct {
	Candidate
	Score float64
}

// Strategy orders candidates best first. Implementations must not mutate
// their input and must be deterministic for identical input.
type Strategy interface {
	Name() fleet.StrategyName
	Rank(candidates []Candidate, task fleet.Task) []Scored
}

// New returns the strategy registered under name.
func New(name fleet.StrategyName) (Strategy, error) {
	switch name {
	case fleet.StrategyBestMatch:
		return BestMatch{}, nil
	case fleet.StrategyFastestResponse:
		return FastestResponse{}, nil
	case fleet.StrategyLowestCost:
		return LowestCost{}, nil
	case fleet.StrategyRoundRobin:
		return RoundRobin{}, nil
	case fleet.StrategyLoadBalanced:
		return LoadBalanced{}, nil
	default:
		return nil, types.Errorf(types.ErrInvalidStrategy, "unknown strategy %q", name)
	}
}

// MustNew is New for static configuration; it panics on unknown names.
func MustNew(name fleet.StrategyName) Strategy {
	s, err := New(name)
	if err != nil {
		panic(fmt.Sprintf("routing: %v", err))
	}
	return s
}

// Select returns the best candidate. ok is false for an empty set.
func Select(s Strategy, candidates []Candidate, task fleet.Task) (Scored, bool) {
	ranked := s.Rank(candidates, task)
	if len(ranked) == 0 {
		return Scored{}, false
	}
	return ranked[0], true
}

// Decide ranks candidates and builds the allocation decision for the winner.
// The ranking is returned too so callers can fall through to runners-up.
func Decide(s Strategy, candidates []Candidate, task fleet.Task) (fleet.AllocationDecision, []Scored, error) {
	ranked := s.Rank(candidates, task)
	if len(ranked) == 0 {
		return fleet.AllocationDecision{}, nil, types.Errorf(types.ErrNoAvailableAgent,
			"no available agent for capability %q", task.CapabilityID)
	}
	return DecisionFor(s.Name(), ranked, task), ranked, nil
}

// DecisionFor builds the decision for ranked[0] with up to MaxAlternatives
// runners-up.
func DecisionFor(name fleet.StrategyName, ranked []Scored, task fleet.Task) fleet.AllocationDecision {
	best := ranked[0]
	alts := make([]string, 0, fleet.MaxAlternatives)
	for _, r := range ranked[1:] {
		if len(alts) == fleet.MaxAlternatives {
			break
		}
		alts = append(alts, r.Agent.ID)
	}
	return fleet.AllocationDecision{
		TaskID:                task.ID,
		CapabilityID:          task.CapabilityID,
		AgentID:               best.Agent.ID,
		Score:                 best.Score,
		Strategy:              name,
		EstimatedResponseTime: EstimateResponseTime(best.Stat, task),
		EstimatedCost:         EstimateCost(best.Agent, task),
		Alternatives:          alts,
	}
}
