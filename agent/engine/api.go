package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/health"
	"github.com/BaSui01/agentfleet/agent/scheduler"
	"github.com/BaSui01/agentfleet/agent/transport"
	"github.com/BaSui01/agentfleet/types"
)

// Submit enqueues a task and returns its id.
func (e *Engine) Submit(ctx context.Context, task fleet.Task) (string, error) {
	return e.scheduler.Submit(ctx, task)
}

// Result returns the outcome of a task, pending or final.
func (e *Engine) Result(ctx context.Context, taskID string) (scheduler.Outcome, error) {
	return e.scheduler.Result(ctx, taskID)
}

// Wait polls Result until the task has a final result or ctx ends.
func (e *Engine) Wait(ctx context.Context, taskID string, every time.Duration) (fleet.TaskResult, error) {
	if every <= 0 {
		every = 50 * time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		out, err := e.scheduler.Result(ctx, taskID)
		if err != nil {
			return fleet.TaskResult{}, err
		}
		if !out.Pending() {
			return *out.Result, nil
		}
		select {
		case <-ctx.Done():
			return fleet.TaskResult{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Complete delivers a result reported asynchronously by an agent.
func (e *Engine) Complete(ctx context.Context, result fleet.TaskResult) error {
	return e.scheduler.Complete(ctx, result)
}

// Status returns the dashboard view of the fleet.
func (e *Engine) Status() scheduler.Status {
	return e.scheduler.Status()
}

// Decisions returns up to limit recent allocation decisions, oldest first.
func (e *Engine) Decisions(limit int) []fleet.AllocationDecision {
	return e.scheduler.Decisions(limit)
}

// Capabilities lists every capability declared since start.
func (e *Engine) Capabilities() []string {
	return e.index.Capabilities()
}

// Agent returns the current record of one agent.
func (e *Engine) Agent(agentID string) (fleet.AgentRecord, error) {
	rec, ok := e.roster.Get(agentID)
	if !ok {
		return fleet.AgentRecord{}, types.Errorf(types.ErrAgentNotFound, "agent %s not found", agentID).WithAgent(agentID)
	}
	return rec, nil
}

// Heartbeat ingests a pushed heartbeat.
func (e *Engine) Heartbeat(beat health.Beat) error {
	if err := e.monitor.Heartbeat(beat); err != nil {
		return err
	}
	if e.metrics != nil {
		status := beat.Status
		if status == "" {
			status = fleet.StatusRunning
		}
		e.metrics.RecordHeartbeat(status)
	}
	return nil
}

// RegisterAgent adds or replaces an agent served over HTTP.
func (e *Engine) RegisterAgent(ctx context.Context, rec fleet.AgentRecord) error {
	if err := e.registry.RegisterAgent(ctx, rec); err != nil {
		return err
	}
	return e.index.Refresh(ctx)
}

// RegisterLocalAgent adds an agent whose tasks run in-process through handler.
func (e *Engine) RegisterLocalAgent(ctx context.Context, rec fleet.AgentRecord, handler transport.HandlerFunc) error {
	e.local.Register(rec.ID, handler)
	if err := e.RegisterAgent(ctx, rec); err != nil {
		e.local.Unregister(rec.ID)
		return err
	}
	return nil
}

// UnregisterAgent removes an agent. Its statistics are dropped.
func (e *Engine) UnregisterAgent(ctx context.Context, agentID string) error {
	if err := e.registry.UnregisterAgent(ctx, agentID); err != nil {
		return err
	}
	return e.index.Refresh(ctx)
}

// ResetAgent clears the restart counter and exclusion of an agent.
func (e *Engine) ResetAgent(agentID string) error {
	return e.recovery.Reset(agentID)
}

// SetRecoveryEnabled turns automatic restarts on or off for the whole fleet.
func (e *Engine) SetRecoveryEnabled(enabled bool) {
	e.recovery.SetEnabled(enabled)
}

// RecoveryEnabled reports the fleet-wide recovery switch.
func (e *Engine) RecoveryEnabled() bool {
	return e.recovery.Enabled()
}

// SetAgentRecoveryEnabled turns automatic restarts on or off for one agent.
func (e *Engine) SetAgentRecoveryEnabled(agentID string, enabled bool) error {
	if err := e.recovery.SetAgentEnabled(agentID, enabled); err != nil {
		return err
	}
	e.logger.Info("agent recovery toggled",
		zap.String("agent_id", agentID),
		zap.Bool("enabled", enabled))
	return nil
}

// SetAutoStartEnabled turns auto start of auto_start agents on or off.
func (e *Engine) SetAutoStartEnabled(enabled bool) {
	e.autoStart.SetEnabled(enabled)
}

// AutoStartEnabled reports the auto start switch.
func (e *Engine) AutoStartEnabled() bool {
	return e.autoStart.Enabled()
}

// StartAutoStartAgents starts every stopped auto_start agent now and
// returns how many started.
func (e *Engine) StartAutoStartAgents(ctx context.Context) int {
	return e.autoStart.StartAgents(ctx)
}
