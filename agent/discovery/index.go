package discovery

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/types"
)

// DeregisterFunc is called for every agent that disappeared from the registry.
type DeregisterFunc func(ctx context.Context, agentID string)

// CapabilityIndex maps capability ids to the agents declaring them. Every
// query re-lists the registry first, so results are never stale.
type CapabilityIndex struct {
	registry Registry
	roster   *fleet.Roster

	// refreshMu serializes registry syncs.
	refreshMu sync.Mutex

	declaredMu sync.RWMutex
	// declared holds every capability seen since startup, even if all its
	// agents have since been deregistered.
	declared map[string]struct{}

	onDeregister []DeregisterFunc
	logger       *zap.Logger
}

// NewCapabilityIndex creates an index feeding roster from registry.
func NewCapabilityIndex(registry Registry, roster *fleet.Roster, logger *zap.Logger) *CapabilityIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CapabilityIndex{
		registry: registry,
		roster:   roster,
		declared: make(map[string]struct{}),
		logger:   logger.With(zap.String("component", "capability_index")),
	}
}

// OnDeregister adds a hook run after an agent leaves the registry.
func (i *CapabilityIndex) OnDeregister(fn DeregisterFunc) {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()
	i.onDeregister = append(i.onDeregister, fn)
}

// Refresh lists the registry and reconciles the roster.
func (i *CapabilityIndex) Refresh(ctx context.Context) error {
	i.refreshMu.Lock()
	defer i.refreshMu.Unlock()

	records, err := i.registry.ListAgents(ctx)
	if err != nil {
		return types.NewError(types.ErrInternalError, "failed to list agents").
			WithCause(err).
			WithRetryable(true)
	}

	i.declaredMu.Lock()
	for _, rec := range records {
		for _, c := range rec.Capabilities {
			i.declared[c] = struct{}{}
		}
	}
	i.declaredMu.Unlock()

	added, removed := i.roster.Sync(records)
	for _, id := range added {
		i.logger.Info("agent joined roster", zap.String("agent_id", id))
	}
	for _, id := range removed {
		i.logger.Info("agent left roster", zap.String("agent_id", id))
		for _, fn := range i.onDeregister {
			fn(ctx, id)
		}
	}
	return nil
}

// Candidates returns every agent declaring capabilityID, whatever its
// availability. It fails with CAPABILITY_NOT_FOUND only when no agent has
// ever declared the capability.
func (i *CapabilityIndex) Candidates(ctx context.Context, capabilityID string) ([]fleet.AgentRecord, error) {
	if err := i.Refresh(ctx); err != nil {
		return nil, err
	}

	i.declaredMu.RLock()
	_, known := i.declared[capabilityID]
	i.declaredMu.RUnlock()
	if !known {
		return nil, types.Errorf(types.ErrCapabilityNotFound, "no agent declares capability %q", capabilityID)
	}
	return i.roster.WithCapability(capabilityID), nil
}

// Capabilities lists every capability declared since startup.
func (i *CapabilityIndex) Capabilities() []string {
	i.declaredMu.RLock()
	out := make([]string, 0, len(i.declared))
	for c := range i.declared {
		out = append(out, c)
	}
	i.declaredMu.RUnlock()
	sort.Strings(out)
	return out
}
