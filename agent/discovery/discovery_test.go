package discovery

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/internal/retry"
	"github.com/BaSui01/agentfleet/types"
)

func TestMemoryRegistry_RegisterList(t *testing.T) {
	reg := NewMemoryRegistry(nil, zap.NewNop())
	ctx := context.Background()

	require.NoError(t, reg.RegisterAgent(ctx, fleet.AgentRecord{ID: "b", Capabilities: []string{"translate"}}))
	require.NoError(t, reg.RegisterAgent(ctx, fleet.AgentRecord{ID: "a", Capabilities: []string{"summarize"}, MaxConcurrency: 2}))

	agents, err := reg.ListAgents(ctx)
	require.NoError(t, err)
	require.Len(t, agents, 2)
	assert.Equal(t, "a", agents[0].ID)
	assert.Equal(t, 2, agents[0].MaxConcurrency)
	assert.Equal(t, fleet.DefaultMaxConcurrency, agents[1].MaxConcurrency)

	err = reg.RegisterAgent(ctx, fleet.AgentRecord{ID: "c"})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	err = reg.RegisterAgent(ctx, fleet.AgentRecord{Capabilities: []string{"x"}})
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	require.NoError(t, reg.UnregisterAgent(ctx, "a"))
	err = reg.UnregisterAgent(ctx, "a")
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))
}

func TestMemoryRegistry_Events(t *testing.T) {
	reg := NewMemoryRegistry(nil, nil)

	var mu sync.Mutex
	var got []EventType
	id := reg.Subscribe(func(e Event) {
		mu.Lock()
		got = append(got, e.Type)
		mu.Unlock()
	})

	require.NoError(t, reg.RegisterAgent(context.Background(), fleet.AgentRecord{ID: "a", Capabilities: []string{"x"}}))
	ok, err := reg.Start(context.Background(), "a")
	require.NoError(t, err)
	assert.True(t, ok)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	reg.Unsubscribe(id)
	require.NoError(t, reg.UnregisterAgent(context.Background(), "a"))
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	assert.ElementsMatch(t, []EventType{EventAgentRegistered, EventAgentStarted}, got)
	mu.Unlock()
}

type failingLifecycle struct{ NoopLifecycle }

func (failingLifecycle) Start(ctx context.Context, agent fleet.AgentRecord) error {
	return errors.New("boot failed")
}

func TestMemoryRegistry_StartStop(t *testing.T) {
	reg := NewMemoryRegistry(failingLifecycle{}, nil)
	ctx := context.Background()
	require.NoError(t, reg.RegisterAgent(ctx, fleet.AgentRecord{ID: "a", Capabilities: []string{"x"}}))

	ok, err := reg.Start(ctx, "a")
	assert.NoError(t, err)
	assert.False(t, ok, "lifecycle failure is a refused start, not an error")

	ok, err = reg.Stop(ctx, "a")
	assert.NoError(t, err)
	assert.True(t, ok)

	_, err = reg.Start(ctx, "ghost")
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))
}

func TestHTTPLifecycle_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/lifecycle/start", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	lc := NewHTTPLifecycle(time.Second, retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)
	err := lc.Start(context.Background(), fleet.AgentRecord{ID: "a", Endpoint: srv.URL + "/"})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestHTTPLifecycle_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown agent", http.StatusNotFound)
	}))
	defer srv.Close()

	lc := NewHTTPLifecycle(time.Second, retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond}, nil)
	err := lc.Stop(context.Background(), fleet.AgentRecord{ID: "a", Endpoint: srv.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.Equal(t, int32(1), calls.Load())

	err = lc.Stop(context.Background(), fleet.AgentRecord{ID: "b"})
	assert.Error(t, err, "missing endpoint")
}

func TestCapabilityIndex_NotFoundVersusEmpty(t *testing.T) {
	ctx := context.Background()
	reg := NewMemoryRegistry(nil, nil)
	require.NoError(t, reg.RegisterAgent(ctx, fleet.AgentRecord{ID: "a", Capabilities: []string{"translate"}}))

	roster := fleet.NewRoster(5)
	var forgotten []string
	idx := NewCapabilityIndex(reg, roster, nil)
	idx.OnDeregister(func(ctx context.Context, agentID string) { forgotten = append(forgotten, agentID) })

	_, err := idx.Candidates(ctx, "ocr")
	assert.True(t, types.IsCode(err, types.ErrCapabilityNotFound))

	cands, err := idx.Candidates(ctx, "translate")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, "a", cands[0].ID)

	// 所有 Agent 都不可用时仍返回候选集合，由调度器过滤
	_, err = roster.SetAvailability("a", fleet.Unavailable)
	require.NoError(t, err)
	cands, err = idx.Candidates(ctx, "translate")
	require.NoError(t, err)
	assert.Len(t, cands, 1)

	require.NoError(t, reg.UnregisterAgent(ctx, "a"))
	cands, err = idx.Candidates(ctx, "translate")
	require.NoError(t, err, "a capability declared once is never NotFound")
	assert.Empty(t, cands)
	assert.Equal(t, []string{"a"}, forgotten)
	assert.Equal(t, []string{"translate"}, idx.Capabilities())
}

type brokenRegistry struct{ *MemoryRegistry }

func (brokenRegistry) ListAgents(ctx context.Context) ([]fleet.AgentRecord, error) {
	return nil, errors.New("registry offline")
}

func TestCapabilityIndex_RegistryError(t *testing.T) {
	idx := NewCapabilityIndex(brokenRegistry{NewMemoryRegistry(nil, nil)}, fleet.NewRoster(5), nil)
	_, err := idx.Candidates(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, types.IsRetryable(err))
}
