package scheduler

import (
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// AgentStatus is the dashboard view of one agent.
type AgentStatus struct {
	AgentID          string               `json:"agent_id"`
	Name             string               `json:"name,omitempty"`
	Capabilities     []string             `json:"capabilities"`
	Availability     fleet.Availability   `json:"availability"`
	ReportedStatus   fleet.ReportedStatus `json:"reported_status,omitempty"`
	CurrentLoad      int                  `json:"current_load"`
	MaxConcurrency   int                  `json:"max_concurrency"`
	RestartCount     int                  `json:"restart_count"`
	Excluded         bool                 `json:"excluded"`
	RecoveryDisabled bool                 `json:"recovery_disabled"`
	LastHeartbeat    time.Time            `json:"last_heartbeat"`
	TotalTasks       int64                `json:"total_tasks"`
	SuccessRate      float64              `json:"success_rate"`
	AvgResponseTime  time.Duration        `json:"avg_response_time"`
	PerformanceScore float64              `json:"performance_score"`
	Confidence       float64              `json:"confidence"`
	LastUsed         time.Time            `json:"last_used,omitempty"`
}

// Status is a point-in-time view of the whole fleet.
type Status struct {
	Strategy       fleet.StrategyName         `json:"strategy"`
	Agents         []AgentStatus              `json:"agents"`
	Availability   map[fleet.Availability]int `json:"availability"`
	QueuedTasks    int                        `json:"queued_tasks"`
	QueuedByBand   map[string]int             `json:"queued_by_priority,omitempty"`
	InFlightTasks  int64                      `json:"in_flight_tasks"`
	TotalTasks     int64                      `json:"total_tasks"`
	CompletedTasks int64                      `json:"completed_tasks"`
	FailedTasks    int64                      `json:"failed_tasks"`
	SuccessRate    float64                    `json:"success_rate"`
}

// Status reports per-agent availability, load and statistics together with
// queue and throughput counters.
func (s *Scheduler) Status() Status {
	records := s.roster.Snapshot()
	agents := make([]AgentStatus, 0, len(records))
	for _, rec := range records {
		sum := s.tracker.AgentSummary(rec.ID)
		agents = append(agents, AgentStatus{
			AgentID:          rec.ID,
			Name:             rec.Name,
			Capabilities:     rec.Capabilities,
			Availability:     rec.Availability,
			ReportedStatus:   rec.ReportedStatus,
			CurrentLoad:      rec.CurrentLoad,
			MaxConcurrency:   rec.MaxConcurrency,
			RestartCount:     rec.RestartCount,
			Excluded:         rec.Excluded,
			RecoveryDisabled: rec.RecoveryDisabled,
			LastHeartbeat:    rec.LastHeartbeat,
			TotalTasks:       sum.TotalTasks,
			SuccessRate:      sum.SuccessRate,
			AvgResponseTime:  sum.AvgResponseTime,
			PerformanceScore: sum.PerformanceScore(),
			Confidence:       sum.Confidence(),
			LastUsed:         sum.LastUsed,
		})
	}

	s.mu.Lock()
	queued := s.queue.len()
	bands := make(map[string]int)
	for p, n := range s.queue.bands() {
		bands[p.String()] = n
	}
	s.mu.Unlock()

	st := Status{
		Strategy:       s.strategy.Name(),
		Agents:         agents,
		Availability:   s.roster.Counts(),
		QueuedTasks:    queued,
		QueuedByBand:   bands,
		InFlightTasks:  s.inFlight.Load(),
		TotalTasks:     s.submitted.Load(),
		CompletedTasks: s.completed.Load(),
		FailedTasks:    s.failed.Load(),
	}
	if done := st.CompletedTasks + st.FailedTasks; done > 0 {
		st.SuccessRate = float64(st.CompletedTasks) / float64(done)
	}
	return st
}
