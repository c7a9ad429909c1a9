package transport

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/types"
)

// ErrDeferred means the agent accepted the task and will report the result
// asynchronously.
var ErrDeferred = errors.New("transport: result deferred")

// Dispatcher hands a task to an agent. A returned error is a transport
// failure; an agent-side failure comes back as an unsuccessful TaskResult.
type Dispatcher interface {
	Dispatch(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error)
}

// HandlerFunc executes a task in-process.
type HandlerFunc func(ctx context.Context, task fleet.Task) ([]byte, error)

// LocalDispatcher dispatches to handlers registered per agent id.
type LocalDispatcher struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

func NewLocalDispatcher() *LocalDispatcher {
	return &LocalDispatcher{handlers: make(map[string]HandlerFunc)}
}

// Register binds handler to agentID, replacing any previous one.
func (d *LocalDispatcher) Register(agentID string, handler HandlerFunc) {
	d.mu.Lock()
	d.handlers[agentID] = handler
	d.mu.Unlock()
}

func (d *LocalDispatcher) Unregister(agentID string) {
	d.mu.Lock()
	delete(d.handlers, agentID)
	d.mu.Unlock()
}

// Has reports whether agentID has a local handler.
func (d *LocalDispatcher) Has(agentID string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[agentID]
	return ok
}

func (d *LocalDispatcher) Dispatch(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error) {
	d.mu.RLock()
	h, ok := d.handlers[agent.ID]
	d.mu.RUnlock()
	if !ok {
		return fleet.TaskResult{}, types.Errorf(types.ErrDispatchError, "no local handler for agent %s", agent.ID).
			WithAgent(agent.ID)
	}

	start := time.Now()
	out, err := h(ctx, task)
	elapsed := time.Since(start)
	if err != nil {
		if ctx.Err() != nil {
			return fleet.TaskResult{}, ctx.Err()
		}
		return fleet.FailedResult(task.ID, agent.ID, err, elapsed), nil
	}
	if len(out) > 0 && !json.Valid(out) {
		return fleet.FailedResult(task.ID, agent.ID,
			types.Errorf(types.ErrDispatchError, "agent %s returned output that is not valid JSON", agent.ID).
				WithAgent(agent.ID),
			elapsed), nil
	}
	return fleet.TaskResult{
		TaskID:        task.ID,
		Success:       true,
		Output:        out,
		ExecutionTime: elapsed,
		AgentID:       agent.ID,
		CompletedAt:   time.Now(),
	}, nil
}

// Multi prefers a local handler and falls back to remote for agents with
// an endpoint.
type Multi struct {
	Local  *LocalDispatcher
	Remote Dispatcher
}

func (m Multi) Dispatch(ctx context.Context, agent fleet.AgentRecord, task fleet.Task) (fleet.TaskResult, error) {
	if m.Local != nil && m.Local.Has(agent.ID) {
		return m.Local.Dispatch(ctx, agent, task)
	}
	if m.Remote != nil && agent.Endpoint != "" {
		return m.Remote.Dispatch(ctx, agent, task)
	}
	return fleet.TaskResult{}, types.Errorf(types.ErrDispatchError, "agent %s has no transport", agent.ID).
		WithAgent(agent.ID)
}

var (
	_ Dispatcher = (*LocalDispatcher)(nil)
	_ Dispatcher = Multi{}
)
