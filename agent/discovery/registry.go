package discovery

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/types"
)

// MemoryRegistry is an in-process Registry. Agents are registered directly
// (from configuration or an API call); start/stop is delegated to a Lifecycle.
type MemoryRegistry struct {
	mu     sync.RWMutex
	agents map[string]fleet.AgentRecord

	lifecycle Lifecycle

	handlerMu     sync.RWMutex
	eventHandlers map[string]EventHandler
	subSeq        atomic.Uint64

	logger *zap.Logger
}

// NewMemoryRegistry creates an empty registry. A nil lifecycle accepts every
// start and stop without doing anything.
func NewMemoryRegistry(lifecycle Lifecycle, logger *zap.Logger) *MemoryRegistry {
	if lifecycle == nil {
		lifecycle = NoopLifecycle{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryRegistry{
		agents:        make(map[string]fleet.AgentRecord),
		lifecycle:     lifecycle,
		eventHandlers: make(map[string]EventHandler),
		logger:        logger.With(zap.String("component", "agent_registry")),
	}
}

// RegisterAgent adds or replaces an agent.
func (r *MemoryRegistry) RegisterAgent(ctx context.Context, rec fleet.AgentRecord) error {
	if err := rec.Normalize(); err != nil {
		return types.NewError(types.ErrInvalidRequest, err.Error())
	}
	if len(rec.Capabilities) == 0 {
		return types.Errorf(types.ErrInvalidRequest, "agent %s declares no capabilities", rec.ID)
	}
	if rec.RegisteredAt.IsZero() {
		rec.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	r.agents[rec.ID] = rec.Clone()
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", rec.ID),
		zap.Strings("capabilities", rec.Capabilities),
	)
	r.emitEvent(Event{Type: EventAgentRegistered, AgentID: rec.ID, Timestamp: time.Now()})
	return nil
}

// UnregisterAgent removes an agent.
func (r *MemoryRegistry) UnregisterAgent(ctx context.Context, agentID string) error {
	r.mu.Lock()
	if _, ok := r.agents[agentID]; !ok {
		r.mu.Unlock()
		return types.Errorf(types.ErrAgentNotFound, "agent %s not found", agentID)
	}
	delete(r.agents, agentID)
	r.mu.Unlock()

	r.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	r.emitEvent(Event{Type: EventAgentUnregistered, AgentID: agentID, Timestamp: time.Now()})
	return nil
}

// ListAgents implements Registry. Records are returned by agent id.
func (r *MemoryRegistry) ListAgents(ctx context.Context) ([]fleet.AgentRecord, error) {
	r.mu.RLock()
	out := make([]fleet.AgentRecord, 0, len(r.agents))
	for _, rec := range r.agents {
		out = append(out, rec.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRegistry) get(agentID string) (fleet.AgentRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.agents[agentID]
	if !ok {
		return fleet.AgentRecord{}, types.Errorf(types.ErrAgentNotFound, "agent %s not found", agentID)
	}
	return rec.Clone(), nil
}

// Start implements Registry.
func (r *MemoryRegistry) Start(ctx context.Context, agentID string) (bool, error) {
	rec, err := r.get(agentID)
	if err != nil {
		return false, err
	}
	if err := r.lifecycle.Start(ctx, rec); err != nil {
		r.logger.Warn("agent start failed", zap.String("agent_id", agentID), zap.Error(err))
		return false, nil
	}
	r.emitEvent(Event{Type: EventAgentStarted, AgentID: agentID, Timestamp: time.Now()})
	return true, nil
}

// Stop implements Registry.
func (r *MemoryRegistry) Stop(ctx context.Context, agentID string) (bool, error) {
	rec, err := r.get(agentID)
	if err != nil {
		return false, err
	}
	if err := r.lifecycle.Stop(ctx, rec); err != nil {
		r.logger.Warn("agent stop failed", zap.String("agent_id", agentID), zap.Error(err))
		return false, nil
	}
	r.emitEvent(Event{Type: EventAgentStopped, AgentID: agentID, Timestamp: time.Now()})
	return true, nil
}

// Subscribe registers an event handler and returns its subscription id.
func (r *MemoryRegistry) Subscribe(handler EventHandler) string {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()

	id := fmt.Sprintf("sub-%d", r.subSeq.Add(1))
	r.eventHandlers[id] = handler
	return id
}

// Unsubscribe removes an event handler.
func (r *MemoryRegistry) Unsubscribe(subscriptionID string) {
	r.handlerMu.Lock()
	defer r.handlerMu.Unlock()
	delete(r.eventHandlers, subscriptionID)
}

func (r *MemoryRegistry) emitEvent(event Event) {
	r.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(r.eventHandlers))
	for _, h := range r.eventHandlers {
		handlers = append(handlers, h)
	}
	r.handlerMu.RUnlock()

	for _, handler := range handlers {
		go handler(event)
	}
}

// NoopLifecycle accepts every start and stop.
type NoopLifecycle struct{}

func (NoopLifecycle) Start(ctx context.Context, agent fleet.AgentRecord) error { return nil }
func (NoopLifecycle) Stop(ctx context.Context, agent fleet.AgentRecord) error  { return nil }

var _ Registry = (*MemoryRegistry)(nil)
