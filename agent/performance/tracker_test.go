package performance

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/internal/retry"
)

func TestTracker_FirstObservationSeeds(t *testing.T) {
	tr := NewTracker(zap.NewNop())

	s := tr.Record(context.Background(), "a", "translate", true, 2*time.Second)
	assert.Equal(t, int64(1), s.TotalTasks)
	assert.Equal(t, 2*time.Second, s.AvgResponseTime)
	assert.Equal(t, 1.0, s.SuccessRate)

	s = tr.Record(context.Background(), "b", "translate", false, 3*time.Second)
	assert.Equal(t, 0.0, s.SuccessRate)
	assert.Equal(t, 3*time.Second, s.AvgResponseTime)
}

func TestTracker_IncrementalMean(t *testing.T) {
	tr := NewTracker(nil)
	ctx := context.Background()

	tr.Record(ctx, "a", "x", true, 1*time.Second)
	tr.Record(ctx, "a", "x", true, 2*time.Second)
	s := tr.Record(ctx, "a", "x", false, 6*time.Second)

	assert.Equal(t, 3*time.Second, s.AvgResponseTime)
	assert.InDelta(t, 2.0/3.0, s.SuccessRate, 1e-12)
	assert.Equal(t, int64(1), s.FailedTasks)
}

func TestTracker_UnseenPairIsZero(t *testing.T) {
	tr := NewTracker(nil)
	s := tr.Stats("ghost", "x")

	assert.Equal(t, "ghost", s.AgentID)
	assert.False(t, s.HasHistory())
	assert.Equal(t, fleet.NeutralSuitability, s.Suitability())
}

func TestTracker_MarkDispatchedCreatesLazily(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	tr := NewTracker(nil, WithClock(func() time.Time { return at }))

	tr.MarkDispatched("a", "x")
	s := tr.Stats("a", "x")
	assert.Equal(t, at, s.LastUsed)
	assert.False(t, s.HasHistory())
	assert.Len(t, tr.Snapshot(), 1)
}

func TestTracker_AgentSummaryAndForget(t *testing.T) {
	store := NewMemoryStore()
	tr := NewTracker(nil, WithStore(store))
	ctx := context.Background()

	tr.Record(ctx, "a", "x", true, 1*time.Second)
	tr.Record(ctx, "a", "y", false, 4*time.Second)
	tr.Record(ctx, "a", "y", true, 4*time.Second)
	tr.Record(ctx, "b", "x", true, time.Second)

	sum := tr.AgentSummary("a")
	assert.Equal(t, int64(3), sum.TotalTasks)
	assert.InDelta(t, 2.0/3.0, sum.SuccessRate, 1e-12)
	assert.Equal(t, 3*time.Second, sum.AvgResponseTime)
	assert.Len(t, tr.AgentStats("a"), 2)

	tr.Forget(ctx, "a")
	assert.Empty(t, tr.AgentStats("a"))
	stored, err := store.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "b", stored[0].AgentID)
}

func TestTracker_LoadFromStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, fleet.PerformanceStat{
		AgentID: "a", CapabilityID: "x", TotalTasks: 4, SuccessfulTasks: 3, SuccessRate: 0.75, AvgResponseTime: time.Second,
	}))

	tr := NewTracker(nil, WithStore(store))
	require.NoError(t, tr.Load(ctx))

	s := tr.Record(ctx, "a", "x", true, 6*time.Second)
	assert.Equal(t, int64(5), s.TotalTasks)
	assert.InDelta(t, 0.8, s.SuccessRate, 1e-12)
	assert.Equal(t, 2*time.Second, s.AvgResponseTime)
}

type flakyStore struct {
	*MemoryStore
	mu       sync.Mutex
	failures int
}

func (f *flakyStore) Save(ctx context.Context, stat fleet.PerformanceStat) error {
	f.mu.Lock()
	if f.failures > 0 {
		f.failures--
		f.mu.Unlock()
		return errors.New("connection reset")
	}
	f.mu.Unlock()
	return f.MemoryStore.Save(ctx, stat)
}

func TestTracker_PersistRetries(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), failures: 2}
	tr := NewTracker(nil,
		WithStore(store),
		WithRetryPolicy(retry.Policy{MaxRetries: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond}),
	)

	tr.Record(context.Background(), "a", "x", true, time.Second)

	stored, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	tr := NewTracker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tr.Record(context.Background(), "a", "x", i%4 != 0, time.Millisecond)
		}(i)
	}
	wg.Wait()

	s := tr.Stats("a", "x")
	assert.Equal(t, int64(100), s.TotalTasks)
	assert.InDelta(t, 0.75, s.SuccessRate, 1e-12)
}

// jitterStore 让每次写入耗时不同，并发写入的完成顺序因此被打乱
type jitterStore struct {
	*MemoryStore
	n atomic.Int64
}

func (j *jitterStore) Save(ctx context.Context, stat fleet.PerformanceStat) error {
	time.Sleep(time.Duration(j.n.Add(1)%5) * time.Millisecond)
	return j.MemoryStore.Save(ctx, stat)
}

func TestTracker_ConcurrentRecordPersistsLatest(t *testing.T) {
	store := &jitterStore{MemoryStore: NewMemoryStore()}
	tr := NewTracker(nil, WithStore(store))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Record(context.Background(), "a", "x", true, time.Millisecond)
		}()
	}
	wg.Wait()

	stored, err := store.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, int64(50), stored[0].TotalTasks)
	assert.Equal(t, tr.Stats("a", "x"), stored[0])
}

// n 次记录中 k 次成功 ⇒ success_rate == k/n
func TestProperty_SuccessRateIsExactRatio(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(nil)
		outcomes := rapid.SliceOfN(rapid.Bool(), 1, 300).Draw(rt, "outcomes")

		k := 0
		for _, ok := range outcomes {
			latency := time.Duration(rapid.IntRange(0, 10_000).Draw(rt, "latency_ms")) * time.Millisecond
			tr.Record(context.Background(), "a", "x", ok, latency)
			if ok {
				k++
			}
		}

		s := tr.Stats("a", "x")
		want := float64(k) / float64(len(outcomes))
		if s.SuccessRate != want {
			rt.Fatalf("success_rate = %v, want %v", s.SuccessRate, want)
		}
		if s.TotalTasks != int64(len(outcomes)) || s.SuccessfulTasks != int64(k) {
			rt.Fatalf("counters off: %+v", s)
		}
	})
}

// 平均延迟始终落在观测值的最小值与最大值之间
func TestProperty_AverageWithinObservedRange(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		tr := NewTracker(nil)
		latencies := rapid.SliceOfN(rapid.IntRange(1, 60_000), 1, 100).Draw(rt, "latencies")

		lo, hi := latencies[0], latencies[0]
		for _, ms := range latencies {
			lo, hi = min(lo, ms), max(hi, ms)
			tr.Record(context.Background(), "a", "x", true, time.Duration(ms)*time.Millisecond)
		}

		avg := tr.Stats("a", "x").AvgResponseTime
		// 允许 1ns 的浮点误差
		if avg < time.Duration(lo)*time.Millisecond-1 || avg > time.Duration(hi)*time.Millisecond+1 {
			rt.Fatalf("avg %v outside [%dms, %dms]", avg, lo, hi)
		}
	})
}
