package fleet

import (
	"fmt"
	"strings"
	"time"
)

// StrategyName identifies a selection policy.
type StrategyName string

const (
	StrategyBestMatch       StrategyName = "best_match"
	StrategyFastestResponse StrategyName = "fastest_response"
	StrategyLowestCost      StrategyName = "lowest_cost"
	StrategyRoundRobin      StrategyName = "round_robin"
	StrategyLoadBalanced    StrategyName = "load_balanced"
)

// Strategies lists every supported policy.
var Strategies = []StrategyName{
	StrategyBestMatch,
	StrategyFastestResponse,
	StrategyLowestCost,
	StrategyRoundRobin,
	StrategyLoadBalanced,
}

// ParseStrategy accepts snake_case, kebab-case or CamelCase names.
func ParseStrategy(s string) (StrategyName, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer("-", "", "_", "", " ", "").Replace(norm)
	for _, name := range Strategies {
		if strings.ReplaceAll(string(name), "_", "") == norm {
			return name, nil
		}
	}
	return "", fmt.Errorf("unknown strategy %q", s)
}

// MaxAlternatives bounds the runner-up list of a decision.
const MaxAlternatives = 3

// AllocationDecision records the outcome of one scheduling round.
type AllocationDecision struct {
	TaskID                string        `json:"task_id"`
	CapabilityID          string        `json:"capability_id"`
	AgentID               string        `json:"agent_id"`
	Score                 float64       `json:"score"`
	Strategy              StrategyName  `json:"strategy_used"`
	EstimatedResponseTime time.Duration `json:"estimated_response_time"`
	EstimatedCost         float64       `json:"estimated_cost"`
	Alternatives          []string      `json:"alternatives,omitempty"`
	DecidedAt             time.Time     `json:"decided_at"`
}
