package scheduler

import (
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// Observer receives scheduling events, typically to export metrics.
// Calls are made synchronously and must not block.
type Observer interface {
	TaskSubmitted(task fleet.Task)
	TaskDecided(decision fleet.AllocationDecision, latency time.Duration)
	TaskFinished(task fleet.Task, result fleet.TaskResult)
	QueueDepth(n int)
	AgentLoad(agentID string, load int)
}

type nopObserver struct{}

func (nopObserver) TaskSubmitted(fleet.Task)                            {}
func (nopObserver) TaskDecided(fleet.AllocationDecision, time.Duration) {}
func (nopObserver) TaskFinished(fleet.Task, fleet.TaskResult)           {}
func (nopObserver) QueueDepth(int)                                      {}
func (nopObserver) AgentLoad(string, int)                               {}
