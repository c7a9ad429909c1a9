package fleet

import (
	"math"
	"time"
)

// NeutralSuitability is the score given to a pair with no history.
const NeutralSuitability = 0.5

// latencyCeiling is the response time at which the latency score reaches zero.
const latencyCeiling = 10 * time.Second

// PerformanceStat holds running statistics for one (agent, capability) pair.
type PerformanceStat struct {
	AgentID         string        `json:"agent_id"`
	CapabilityID    string        `json:"capability_id"`
	TotalTasks      int64         `json:"total_tasks"`
	SuccessfulTasks int64         `json:"successful_tasks"`
	FailedTasks     int64         `json:"failed_tasks"`
	SuccessRate     float64       `json:"success_rate"`
	AvgResponseTime time.Duration `json:"avg_response_time"`
	LastUsed        time.Time     `json:"last_used"`
}

// HasHistory reports whether at least one result has been recorded.
func (s PerformanceStat) HasHistory() bool {
	return s.TotalTasks > 0
}

// Suitability is the success rate, or NeutralSuitability without history.
func (s PerformanceStat) Suitability() float64 {
	if !s.HasHistory() {
		return NeutralSuitability
	}
	return s.SuccessRate
}

// PerformanceScore blends success rate and latency into [0,1].
func (s PerformanceStat) PerformanceScore() float64 {
	if !s.HasHistory() {
		return NeutralSuitability
	}
	latency := math.Max(0, 1-float64(s.AvgResponseTime)/float64(latencyCeiling))
	return (s.SuccessRate + latency) / 2
}

// Confidence grows with usage, capped at 1.
func (s PerformanceStat) Confidence() float64 {
	bonus := math.Min(float64(s.TotalTasks)*0.01, 0.2)
	return math.Min(1, s.SuccessRate+bonus)
}
