package performance

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/internal/retry"
)

type statKey struct {
	agentID      string
	capabilityID string
}

// Tracker keeps per (agent, capability) statistics. It is the only writer of
// PerformanceStat values. A Store, when set, receives a copy of every update.
type Tracker struct {
	mu    sync.RWMutex
	stats map[statKey]*fleet.PerformanceStat
	// writes 按 pair 串行化存储写入，guarded by mu
	writes map[statKey]*writeState

	store   Store
	retryer *retry.Retryer
	logger  *zap.Logger
	now     func() time.Time
}

// writeState 记录某个 pair 最近一次成功写入存储的 total_tasks
type writeState struct {
	mu    sync.Mutex
	total int64
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists every update to store.
func WithStore(store Store) Option {
	return func(t *Tracker) { t.store = store }
}

// WithRetryPolicy overrides the retry policy used for store writes.
func WithRetryPolicy(p retry.Policy) Option {
	return func(t *Tracker) { t.retryer = retry.New(p, t.logger) }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// NewTracker creates an empty tracker.
func NewTracker(logger *zap.Logger, opts ...Option) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Tracker{
		stats:  make(map[statKey]*fleet.PerformanceStat),
		writes: make(map[statKey]*writeState),
		logger: logger.With(zap.String("component", "performance_tracker")),
		now:    time.Now,
	}
	t.retryer = retry.New(retry.DefaultPolicy(), t.logger)
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Load warms the tracker from its store. Entries already in memory win.
func (t *Tracker) Load(ctx context.Context) error {
	if t.store == nil {
		return nil
	}
	stats, err := t.store.LoadAll(ctx)
	if err != nil {
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range stats {
		s := stats[i]
		k := statKey{s.AgentID, s.CapabilityID}
		if _, ok := t.stats[k]; !ok {
			t.stats[k] = &s
		}
	}
	t.logger.Info("performance stats loaded", zap.Int("count", len(stats)))
	return nil
}

// MarkDispatched creates the pair lazily and stamps last_used.
func (t *Tracker) MarkDispatched(agentID, capabilityID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entry(agentID, capabilityID).LastUsed = t.now()
}

// entry must be called with t.mu held.
func (t *Tracker) entry(agentID, capabilityID string) *fleet.PerformanceStat {
	k := statKey{agentID, capabilityID}
	s, ok := t.stats[k]
	if !ok {
		s = &fleet.PerformanceStat{AgentID: agentID, CapabilityID: capabilityID}
		t.stats[k] = s
	}
	return s
}

// Record folds one observation into the pair's statistics and returns the
// updated value.
//
// The first observation seeds avg_response_time and success_rate directly.
// Later ones use an incremental mean for latency and the exact
// successful/total ratio for success_rate.
func (t *Tracker) Record(ctx context.Context, agentID, capabilityID string, success bool, latency time.Duration) fleet.PerformanceStat {
	if latency < 0 {
		latency = 0
	}

	t.mu.Lock()
	s := t.entry(agentID, capabilityID)
	s.TotalTasks++
	if success {
		s.SuccessfulTasks++
	} else {
		s.FailedTasks++
	}

	if s.TotalTasks == 1 {
		s.AvgResponseTime = latency
	} else {
		old := float64(s.AvgResponseTime)
		s.AvgResponseTime = time.Duration(old + (float64(latency)-old)/float64(s.TotalTasks))
	}
	s.SuccessRate = float64(s.SuccessfulTasks) / float64(s.TotalTasks)
	s.LastUsed = t.now()
	updated := *s
	var w *writeState
	if t.store != nil {
		k := statKey{agentID, capabilityID}
		if w = t.writes[k]; w == nil {
			w = &writeState{}
			t.writes[k] = w
		}
	}
	t.mu.Unlock()

	t.persist(ctx, w, updated)
	return updated
}

// persist 写入 s；同一 pair 的写入串行执行，比已写入版本旧的快照直接丢弃
func (t *Tracker) persist(ctx context.Context, w *writeState, s fleet.PerformanceStat) {
	if t.store == nil || w == nil {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if s.TotalTasks <= w.total {
		return
	}
	err := t.retryer.Do(ctx, func(ctx context.Context) error {
		return t.store.Save(ctx, s)
	})
	if err != nil {
		t.logger.Warn("failed to persist performance stat",
			zap.String("agent_id", s.AgentID),
			zap.String("capability_id", s.CapabilityID),
			zap.Error(err),
		)
		return
	}
	w.total = s.TotalTasks
}

// Stats returns the pair's statistics, or a zero value with the ids filled
// in when nothing has been recorded.
func (t *Tracker) Stats(agentID, capabilityID string) fleet.PerformanceStat {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.stats[statKey{agentID, capabilityID}]; ok {
		return *s
	}
	return fleet.PerformanceStat{AgentID: agentID, CapabilityID: capabilityID}
}

// AgentStats returns every pair recorded for one agent, by capability id.
func (t *Tracker) AgentStats(agentID string) []fleet.PerformanceStat {
	t.mu.RLock()
	out := make([]fleet.PerformanceStat, 0)
	for k, s := range t.stats {
		if k.agentID == agentID {
			out = append(out, *s)
		}
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CapabilityID < out[j].CapabilityID })
	return out
}

// AgentSummary aggregates an agent's pairs. The average latency is weighted
// by task count; last_used is the latest of any pair.
func (t *Tracker) AgentSummary(agentID string) fleet.PerformanceStat {
	sum := fleet.PerformanceStat{AgentID: agentID}
	var weighted float64
	for _, s := range t.AgentStats(agentID) {
		sum.TotalTasks += s.TotalTasks
		sum.SuccessfulTasks += s.SuccessfulTasks
		sum.FailedTasks += s.FailedTasks
		weighted += float64(s.AvgResponseTime) * float64(s.TotalTasks)
		if s.LastUsed.After(sum.LastUsed) {
			sum.LastUsed = s.LastUsed
		}
	}
	if sum.TotalTasks > 0 {
		sum.SuccessRate = float64(sum.SuccessfulTasks) / float64(sum.TotalTasks)
		sum.AvgResponseTime = time.Duration(weighted / float64(sum.TotalTasks))
	}
	return sum
}

// Snapshot returns all statistics ordered by agent then capability.
func (t *Tracker) Snapshot() []fleet.PerformanceStat {
	t.mu.RLock()
	out := make([]fleet.PerformanceStat, 0, len(t.stats))
	for _, s := range t.stats {
		out = append(out, *s)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].AgentID != out[j].AgentID {
			return out[i].AgentID < out[j].AgentID
		}
		return out[i].CapabilityID < out[j].CapabilityID
	})
	return out
}

// Forget drops every pair of a deregistered agent.
func (t *Tracker) Forget(ctx context.Context, agentID string) {
	t.mu.Lock()
	for k := range t.stats {
		if k.agentID == agentID {
			delete(t.stats, k)
			delete(t.writes, k)
		}
	}
	t.mu.Unlock()

	if t.store == nil {
		return
	}
	if err := t.store.DeleteAgent(ctx, agentID); err != nil {
		t.logger.Warn("failed to delete performance stats",
			zap.String("agent_id", agentID),
			zap.Error(err),
		)
	}
}
