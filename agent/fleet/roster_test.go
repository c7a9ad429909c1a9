package fleet

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentfleet/types"
)

func newTestRoster(t *testing.T, records ...AgentRecord) *Roster {
	t.Helper()
	r := NewRoster(5)
	r.Sync(records)
	return r
}

func TestRoster_SyncAddsAndRemoves(t *testing.T) {
	r := newTestRoster(t,
		AgentRecord{ID: "a", Capabilities: []string{"translate", "summarize", "translate"}},
		AgentRecord{ID: "b", Capabilities: []string{"translate"}, MaxConcurrency: 2},
	)

	a, ok := r.Get("a")
	require.True(t, ok)
	assert.Equal(t, []string{"summarize", "translate"}, a.Capabilities)
	assert.Equal(t, 5, a.MaxConcurrency)
	assert.Equal(t, Available, a.Availability)
	assert.False(t, a.LastHeartbeat.IsZero())

	require.True(t, r.Acquire("b"))

	added, removed := r.Sync([]AgentRecord{
		{ID: "b", Capabilities: []string{"translate", "ocr"}, MaxConcurrency: 3},
		{ID: "c", Capabilities: []string{"ocr"}},
	})
	assert.Equal(t, []string{"c"}, added)
	assert.Equal(t, []string{"a"}, removed)

	b, ok := r.Get("b")
	require.True(t, ok)
	assert.Equal(t, 1, b.CurrentLoad, "runtime state survives a sync")
	assert.Equal(t, 3, b.MaxConcurrency)
	assert.True(t, b.HasCapability("ocr"))

	ids := []string{}
	for _, rec := range r.WithCapability("ocr") {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"b", "c"}, ids)
}

func TestRoster_AcquireRespectsCapacityAndAvailability(t *testing.T) {
	r := newTestRoster(t, AgentRecord{ID: "a", Capabilities: []string{"x"}, MaxConcurrency: 2})

	assert.True(t, r.Acquire("a"))
	assert.True(t, r.Acquire("a"))
	assert.False(t, r.Acquire("a"), "full agent must reject")

	r.Release("a")
	_, err := r.SetAvailability("a", Degraded)
	require.NoError(t, err)
	assert.True(t, r.Acquire("a"), "degraded agents stay schedulable")

	r.Release("a")
	_, err = r.SetAvailability("a", Unavailable)
	require.NoError(t, err)
	assert.False(t, r.Acquire("a"))

	_, err = r.SetAvailability("a", Available)
	require.NoError(t, err)
	require.NoError(t, r.SetExcluded("a", true))
	assert.False(t, r.Acquire("a"), "excluded agents never take work")

	assert.False(t, r.Acquire("missing"))
}

func TestRoster_RecordHeartbeatIgnoresStale(t *testing.T) {
	r := newTestRoster(t, AgentRecord{ID: "a", Capabilities: []string{"x"}})
	now := time.Now().Add(-time.Minute)

	_, accepted, err := r.RecordHeartbeat("a", now, StatusRunning)
	require.NoError(t, err)
	assert.True(t, accepted)

	rec, accepted, err := r.RecordHeartbeat("a", now.Add(-time.Second), StatusError)
	require.NoError(t, err)
	assert.False(t, accepted)
	assert.Equal(t, StatusRunning, rec.ReportedStatus)

	_, _, err = r.RecordHeartbeat("ghost", now, StatusRunning)
	assert.True(t, types.IsCode(err, types.ErrAgentNotFound))
}

func TestRoster_ConcurrentAcquireRelease(t *testing.T) {
	r := newTestRoster(t, AgentRecord{ID: "a", Capabilities: []string{"x"}, MaxConcurrency: 3})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Acquire("a") {
				rec, _ := r.Get("a")
				assert.LessOrEqual(t, rec.CurrentLoad, 3)
				r.Release("a")
			}
		}()
	}
	wg.Wait()

	rec, _ := r.Get("a")
	assert.Equal(t, 0, rec.CurrentLoad)
}

// 任意 acquire/release 序列下负载始终非负且不超过上限
func TestProperty_LoadNeverNegative(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxConc := rapid.IntRange(1, 8).Draw(rt, "max")
		r := NewRoster(5)
		r.Upsert(AgentRecord{ID: "a", Capabilities: []string{"x"}, MaxConcurrency: maxConc})

		ops := rapid.SliceOfN(rapid.Bool(), 1, 200).Draw(rt, "ops")
		for _, acquire := range ops {
			if acquire {
				r.Acquire("a")
			} else {
				r.Release("a")
			}
			rec, _ := r.Get("a")
			if rec.CurrentLoad < 0 || rec.CurrentLoad > maxConc {
				rt.Fatalf("load out of range: %d (max %d)", rec.CurrentLoad, maxConc)
			}
		}
	})
}

func TestRoster_CompareAndSetAvailability(t *testing.T) {
	r := newTestRoster(t, AgentRecord{ID: "a", Capabilities: []string{"x"}})

	changed, err := r.CompareAndSetAvailability("a", Available, Degraded)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = r.CompareAndSetAvailability("a", Available, Unavailable)
	require.NoError(t, err)
	assert.False(t, changed, "stale expectation must not apply")

	changed, err = r.CompareAndSetAvailability("a", Degraded, Degraded)
	require.NoError(t, err)
	assert.False(t, changed)

	rec, _ := r.Get("a")
	assert.Equal(t, Degraded, rec.Availability)
}
