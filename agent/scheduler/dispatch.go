package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/persistence"
	"github.com/BaSui01/agentfleet/agent/routing"
	"github.com/BaSui01/agentfleet/agent/transport"
	"github.com/BaSui01/agentfleet/internal/pool"
	"github.com/BaSui01/agentfleet/types"
)

var (
	attributeTaskID     = attribute.Key("agentfleet.task_id")
	attributeCapability = attribute.Key("agentfleet.capability_id")
	attributeAgentID    = attribute.Key("agentfleet.agent_id")
	attributeStrategy   = attribute.Key("agentfleet.strategy")
	attributePriority   = attribute.Key("agentfleet.priority")
	attributeSuccess    = attribute.Key("agentfleet.success")
)

func (s *Scheduler) loop() {
	defer s.loopWG.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		for {
			select {
			case <-s.done:
				return
			default:
			}

			s.mu.Lock()
			e, ok := s.queue.pop()
			if ok {
				e.state = fleet.TaskRouting
			}
			depth := s.queue.len()
			s.mu.Unlock()
			if !ok {
				break
			}
			s.observer.QueueDepth(depth)
			s.route(e)
		}
	}
}

// route picks an agent for e and hands it to a dispatch worker. Failures
// before dispatch are recorded without touching performance statistics.
func (s *Scheduler) route(e *taskEntry) {
	task := e.task
	started := time.Now()

	ctx, cancel := context.WithTimeout(s.baseCtx, task.Timeout)
	records, err := s.index.Candidates(ctx, task.CapabilityID)
	cancel()
	if err != nil {
		s.fail(e, err)
		return
	}

	candidates := make([]routing.Candidate, 0, len(records))
	for _, rec := range records {
		if !s.health.Eligible(rec) || !rec.HasCapacity() {
			continue
		}
		candidates = append(candidates, routing.Candidate{
			Agent: rec,
			Stat:  s.tracker.Stats(rec.ID, task.CapabilityID),
		})
	}

	var decision fleet.AllocationDecision
	var agent fleet.AgentRecord
	for {
		d, ranked, err := routing.Decide(s.strategy, candidates, task)
		if err != nil {
			s.fail(e, err)
			return
		}
		if s.roster.Acquire(d.AgentID) {
			decision, agent = d, ranked[0].Agent
			break
		}
		// 派发瞬间已满载或已不可调度，剔除后同轮重新打分
		s.logger.Debug("agent rejected dispatch, re-scoring",
			zap.String("task_id", task.ID),
			zap.String("agent_id", d.AgentID),
		)
		candidates = withoutAgent(candidates, d.AgentID)
	}

	decision.DecidedAt = time.Now()
	s.history.add(decision)
	s.observer.TaskDecided(decision, time.Since(started))
	s.tracker.MarkDispatched(agent.ID, task.CapabilityID)
	if rec, ok := s.roster.Get(agent.ID); ok {
		s.observer.AgentLoad(agent.ID, rec.CurrentLoad)
	}

	s.mu.Lock()
	e.state = fleet.TaskDispatched
	e.agentID = agent.ID
	s.mu.Unlock()
	s.inFlight.Add(1)
	deadline := time.Now().Add(task.Timeout)

	s.logger.Debug("task routed",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agent.ID),
		zap.Float64("score", decision.Score),
		zap.Strings("alternatives", decision.Alternatives),
	)

	err = s.workers.TrySubmit(s.baseCtx, func(ctx context.Context) error {
		s.execute(e, agent, decision, deadline)
		return nil
	})
	if errors.Is(err, pool.ErrPoolFull) {
		// 并发已由各 Agent 的 max_concurrency 限制，池满时不让路由循环等待
		s.overflow.Add(1)
		go func() {
			defer s.overflow.Done()
			s.execute(e, agent, decision, deadline)
		}()
		err = nil
	}
	if err != nil {
		s.inFlight.Add(-1)
		s.roster.Release(agent.ID)
		s.fail(e, types.NewError(types.ErrEngineStopped, "dispatch pool closed").WithCause(err))
	}
}

func withoutAgent(cands []routing.Candidate, agentID string) []routing.Candidate {
	out := make([]routing.Candidate, 0, len(cands))
	for _, c := range cands {
		if c.Agent.ID != agentID {
			out = append(out, c)
		}
	}
	return out
}

type dispatchOutcome struct {
	result fleet.TaskResult
	err    error
}

// execute dispatches to agent and waits for the first of: the transport's
// result, an external Complete, or the deadline set when the task was routed.
// It releases the load slot exactly once before recording the result.
func (s *Scheduler) execute(e *taskEntry, agent fleet.AgentRecord, decision fleet.AllocationDecision, deadline time.Time) {
	defer s.inFlight.Add(-1)
	task := e.task

	ctx, cancel := context.WithDeadline(s.baseCtx, deadline)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "scheduler.dispatch",
		trace.WithAttributes(
			attributeTaskID.String(task.ID),
			attributeCapability.String(task.CapabilityID),
			attributeAgentID.String(agent.ID),
			attributeStrategy.String(string(decision.Strategy)),
			attributePriority.String(task.Priority.String()),
		))
	defer span.End()

	start := time.Now()
	outcomes := make(chan dispatchOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				outcomes <- dispatchOutcome{err: fmt.Errorf("dispatcher panicked: %v", r)}
			}
		}()
		res, err := s.dispatcher.Dispatch(ctx, agent, task)
		outcomes <- dispatchOutcome{result: res, err: err}
	}()

	var result fleet.TaskResult
	counted := true
	select {
	case out := <-outcomes:
		if errors.Is(out.err, transport.ErrDeferred) {
			result, counted = s.awaitExternal(ctx, e, agent.ID, start)
			break
		}
		if !e.claim() {
			// 外部 Complete 抢先送达
			result = <-e.external
			break
		}
		if out.err != nil {
			result, counted = s.failureResult(task.ID, agent.ID, out.err, time.Since(start))
		} else {
			result = out.result
		}
	case result = <-e.external:
	case <-ctx.Done():
		if e.claim() {
			result, counted = s.failureResult(task.ID, agent.ID, ctx.Err(), time.Since(start))
		} else {
			result = <-e.external
		}
	}

	elapsed := time.Since(start)
	if result.ExecutionTime <= 0 {
		result.ExecutionTime = elapsed
	}
	result.AgentID = agent.ID

	s.roster.Release(agent.ID)
	if rec, ok := s.roster.Get(agent.ID); ok {
		s.observer.AgentLoad(agent.ID, rec.CurrentLoad)
	}

	span.SetAttributes(attributeSuccess.Bool(result.Success))
	if !result.Success {
		span.SetStatus(codes.Error, result.Error)
	}
	s.finish(e, result, counted)
}

// awaitExternal waits for a deferred result delivered through Complete.
func (s *Scheduler) awaitExternal(ctx context.Context, e *taskEntry, agentID string, start time.Time) (fleet.TaskResult, bool) {
	select {
	case res := <-e.external:
		return res, true
	case <-ctx.Done():
		if e.claim() {
			return s.failureResult(e.task.ID, agentID, ctx.Err(), time.Since(start))
		}
		return <-e.external, true
	}
}

// failureResult maps a dispatch error onto a failed result. Timeouts and
// transport errors count against the agent; shutdown does not.
func (s *Scheduler) failureResult(taskID, agentID string, err error, elapsed time.Duration) (fleet.TaskResult, bool) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fleet.FailedResult(taskID, agentID,
			types.Errorf(types.ErrTimeout, "no result within %s", elapsed.Round(time.Millisecond)).WithAgent(agentID),
			elapsed), true
	case errors.Is(err, context.Canceled) && s.baseCtx.Err() != nil:
		return fleet.FailedResult(taskID, agentID,
			types.NewError(types.ErrEngineStopped, "scheduler stopped during dispatch"), elapsed), false
	case types.GetErrorCode(err) != "":
		return fleet.FailedResult(taskID, agentID, err, elapsed), true
	default:
		return fleet.FailedResult(taskID, agentID,
			types.NewError(types.ErrDispatchError, err.Error()).WithCause(err).WithAgent(agentID), elapsed), true
	}
}

// fail records a result for a task that never reached an agent.
func (s *Scheduler) fail(e *taskEntry, err error) {
	s.finish(e, fleet.FailedResult(e.task.ID, "", err, time.Since(e.task.SubmittedAt)), false)
}

// finish stores the result and, when counted, updates the agent's
// statistics. The store's first-write-wins check guarantees a task never
// contributes two observations. A result the store keeps refusing stays on
// the task entry so Result can still return it.
func (s *Scheduler) finish(e *taskEntry, result fleet.TaskResult, counted bool) {
	task := e.task
	result.TaskID = task.ID
	if result.CompletedAt.IsZero() {
		result.CompletedAt = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.config.StoreTimeout)
	defer cancel()

	err := s.retryer.Do(ctx, func(ctx context.Context) error {
		return s.results.PutIfAbsent(ctx, result)
	})
	stored := err == nil
	switch {
	case errors.Is(err, persistence.ErrAlreadyExists):
		s.logger.Warn("duplicate task result ignored",
			zap.String("task_id", task.ID),
			zap.String("agent_id", result.AgentID),
		)
		s.mu.Lock()
		delete(s.tasks, task.ID)
		s.mu.Unlock()
		return
	case err != nil:
		s.logger.Error("failed to store task result, keeping it in memory",
			zap.String("task_id", task.ID),
			zap.Error(err),
		)
	}

	// 已注销 Agent 的统计已被清除，迟到的结果不再重建
	if counted && result.AgentID != "" {
		if _, ok := s.roster.Get(result.AgentID); ok {
			s.tracker.Record(ctx, result.AgentID, task.CapabilityID, result.Success, result.ExecutionTime)
		} else {
			s.logger.Debug("agent gone, result not counted",
				zap.String("task_id", task.ID),
				zap.String("agent_id", result.AgentID),
			)
		}
	}
	if result.Success {
		s.completed.Add(1)
	} else {
		s.failed.Add(1)
	}

	// 条目在统计写入后才移除，Result 在此之前一直返回 pending
	s.mu.Lock()
	if stored {
		delete(s.tasks, task.ID)
	} else {
		e.state = result.State()
		e.agentID = result.AgentID
		e.result = &result
	}
	s.mu.Unlock()
	s.observer.TaskFinished(task, result)

	fields := []zap.Field{
		zap.String("task_id", task.ID),
		zap.String("capability_id", task.CapabilityID),
		zap.String("agent_id", result.AgentID),
		zap.Bool("success", result.Success),
		zap.Duration("execution_time", result.ExecutionTime),
	}
	if result.Success {
		s.logger.Debug("task completed", fields...)
	} else {
		s.logger.Info("task failed", append(fields,
			zap.String("error_code", string(result.ErrorCode)),
			zap.String("error", result.Error),
		)...)
	}
}
