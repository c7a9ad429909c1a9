package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

type storedResult struct {
	result   fleet.TaskResult
	storedAt time.Time
}

// MemoryResultStore is an in-memory ResultStore. Entries older than the
// retention are evicted lazily on writes.
type MemoryResultStore struct {
	mu        sync.RWMutex
	results   map[string]storedResult
	order     []string
	retention time.Duration
	closed    bool
	now       func() time.Time
}

// NewMemoryResultStore creates a store. retention <= 0 uses DefaultRetention.
func NewMemoryResultStore(retention time.Duration) *MemoryResultStore {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryResultStore{
		results:   make(map[string]storedResult),
		retention: retention,
		now:       time.Now,
	}
}

func (s *MemoryResultStore) PutIfAbsent(ctx context.Context, result fleet.TaskResult) error {
	if result.TaskID == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	s.evictLocked()

	if _, exists := s.results[result.TaskID]; exists {
		return ErrAlreadyExists
	}
	s.results[result.TaskID] = storedResult{result: result, storedAt: s.now()}
	s.order = append(s.order, result.TaskID)
	return nil
}

// evictLocked drops expired entries from the head of the insertion order.
func (s *MemoryResultStore) evictLocked() {
	cutoff := s.now().Add(-s.retention)
	n := 0
	for _, id := range s.order {
		e, ok := s.results[id]
		if ok && e.storedAt.After(cutoff) {
			break
		}
		delete(s.results, id)
		n++
	}
	if n > 0 {
		s.order = append([]string(nil), s.order[n:]...)
	}
}

func (s *MemoryResultStore) Get(ctx context.Context, taskID string) (fleet.TaskResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fleet.TaskResult{}, ErrStoreClosed
	}
	e, ok := s.results[taskID]
	if !ok || s.now().Sub(e.storedAt) > s.retention {
		return fleet.TaskResult{}, ErrNotFound
	}
	return e.result, nil
}

// Len returns the number of retained results.
func (s *MemoryResultStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.results)
}

func (s *MemoryResultStore) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

var _ ResultStore = (*MemoryResultStore)(nil)
