package discovery

import (
	"context"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// Registry is the external source of agents and their lifecycle controls.
type Registry interface {
	// ListAgents returns every currently registered agent.
	ListAgents(ctx context.Context) ([]fleet.AgentRecord, error)

	// Start asks the registry to start the agent. ok is false when the
	// registry refused or the start did not complete.
	Start(ctx context.Context, agentID string) (ok bool, err error)

	// Stop asks the registry to stop the agent.
	Stop(ctx context.Context, agentID string) (ok bool, err error)
}

// Lifecycle performs the actual start/stop of an agent for MemoryRegistry.
type Lifecycle interface {
	Start(ctx context.Context, agent fleet.AgentRecord) error
	Stop(ctx context.Context, agent fleet.AgentRecord) error
}

// EventType represents the type of registry event.
type EventType string

const (
	// EventAgentRegistered is emitted when an agent is registered.
	EventAgentRegistered EventType = "agent_registered"
	// EventAgentUnregistered is emitted when an agent is unregistered.
	EventAgentUnregistered EventType = "agent_unregistered"
	// EventAgentStarted is emitted after a successful start.
	EventAgentStarted EventType = "agent_started"
	// EventAgentStopped is emitted after a successful stop.
	EventAgentStopped EventType = "agent_stopped"
)

// Event is a registry change notification.
type Event struct {
	Type      EventType `json:"type"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
}

// EventHandler handles registry events.
type EventHandler func(event Event)
