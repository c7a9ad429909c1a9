package performance

import (
	"context"
	"errors"
	"sync"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// ErrStoreClosed is returned by stores after Close.
var ErrStoreClosed = errors.New("performance store is closed")

// Store persists PerformanceStat values so a restarted engine keeps history.
type Store interface {
	// Save upserts one (agent, capability) entry.
	Save(ctx context.Context, stat fleet.PerformanceStat) error

	// LoadAll returns every stored entry.
	LoadAll(ctx context.Context) ([]fleet.PerformanceStat, error)

	// DeleteAgent removes every entry of one agent.
	DeleteAgent(ctx context.Context, agentID string) error

	Close() error
}

// MemoryStore is an in-process Store, useful for tests and single-node runs.
type MemoryStore struct {
	mu     sync.RWMutex
	stats  map[statKey]fleet.PerformanceStat
	closed bool
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[statKey]fleet.PerformanceStat)}
}

func (m *MemoryStore) Save(ctx context.Context, stat fleet.PerformanceStat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	m.stats[statKey{stat.AgentID, stat.CapabilityID}] = stat
	return nil
}

func (m *MemoryStore) LoadAll(ctx context.Context) ([]fleet.PerformanceStat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrStoreClosed
	}
	out := make([]fleet.PerformanceStat, 0, len(m.stats))
	for _, s := range m.stats {
		out = append(out, s)
	}
	return out, nil
}

func (m *MemoryStore) DeleteAgent(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrStoreClosed
	}
	for k := range m.stats {
		if k.agentID == agentID {
			delete(m.stats, k)
		}
	}
	return nil
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}

var _ Store = (*MemoryStore)(nil)
