package fleet

import (
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/agentfleet/types"
)

// Roster is the shared set of AgentRecords.
//
// Each field has a single writer: the health monitor writes availability and
// heartbeat, fault recovery writes restart_count and exclusion, the scheduler
// writes current_load, and registry sync writes the declared attributes.
// A per-record RWMutex keeps readers from seeing torn updates. There is no lock
// spanning several agents.
type Roster struct {
	mu     sync.RWMutex
	agents map[string]*guardedRecord

	defaultMaxConcurrency int
}

type guardedRecord struct {
	mu  sync.RWMutex
	rec AgentRecord
}

func (g *guardedRecord) snapshot() AgentRecord {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rec.Clone()
}

// NewRoster creates an empty roster. Agents declaring no concurrency limit get
// defaultMaxConcurrency.
func NewRoster(defaultMaxConcurrency int) *Roster {
	if defaultMaxConcurrency <= 0 {
		defaultMaxConcurrency = DefaultMaxConcurrency
	}
	return &Roster{
		agents:                make(map[string]*guardedRecord),
		defaultMaxConcurrency: defaultMaxConcurrency,
	}
}

// Sync reconciles the roster with a registry listing. Declared attributes are
// overwritten; runtime state of known agents is kept. Agents missing from the
// listing are removed and returned.
func (r *Roster) Sync(records []AgentRecord) (added, removed []string) {
	seen := make(map[string]struct{}, len(records))
	for _, rec := range records {
		if r.Upsert(rec) {
			added = append(added, rec.ID)
		}
		seen[rec.ID] = struct{}{}
	}

	r.mu.Lock()
	for id := range r.agents {
		if _, ok := seen[id]; !ok {
			delete(r.agents, id)
			removed = append(removed, id)
		}
	}
	r.mu.Unlock()

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

// Upsert adds or refreshes one agent and reports whether it was new.
func (r *Roster) Upsert(rec AgentRecord) bool {
	if rec.MaxConcurrency <= 0 {
		rec.MaxConcurrency = r.defaultMaxConcurrency
	}
	if err := rec.Normalize(); err != nil {
		return false
	}

	r.mu.Lock()
	g, exists := r.agents[rec.ID]
	if !exists {
		rec = rec.Clone()
		if rec.LastHeartbeat.IsZero() {
			rec.LastHeartbeat = time.Now()
		}
		if rec.RegisteredAt.IsZero() {
			rec.RegisteredAt = time.Now()
		}
		rec.CurrentLoad = 0
		r.agents[rec.ID] = &guardedRecord{rec: rec}
		r.mu.Unlock()
		return true
	}
	r.mu.Unlock()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.rec.Name = rec.Name
	g.rec.Capabilities = append([]string(nil), rec.Capabilities...)
	g.rec.MaxConcurrency = rec.MaxConcurrency
	g.rec.CostPerRequest = rec.CostPerRequest
	g.rec.CostTier = rec.CostTier
	g.rec.Priority = rec.Priority
	g.rec.Endpoint = rec.Endpoint
	g.rec.AutoStart = rec.AutoStart
	g.rec.Metadata = rec.Clone().Metadata
	return false
}

// Remove deletes an agent and reports whether it existed.
func (r *Roster) Remove(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.agents[agentID]; !ok {
		return false
	}
	delete(r.agents, agentID)
	return true
}

func (r *Roster) lookup(agentID string) (*guardedRecord, error) {
	r.mu.RLock()
	g, ok := r.agents[agentID]
	r.mu.RUnlock()
	if !ok {
		return nil, types.Errorf(types.ErrAgentNotFound, "agent %s not found", agentID).WithAgent(agentID)
	}
	return g, nil
}

// Get returns a copy of one record.
func (r *Roster) Get(agentID string) (AgentRecord, bool) {
	g, err := r.lookup(agentID)
	if err != nil {
		return AgentRecord{}, false
	}
	return g.snapshot(), true
}

// Len returns the number of agents.
func (r *Roster) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// Snapshot returns copies of every record ordered by agent id.
func (r *Roster) Snapshot() []AgentRecord {
	r.mu.RLock()
	guards := make([]*guardedRecord, 0, len(r.agents))
	for _, g := range r.agents {
		guards = append(guards, g)
	}
	r.mu.RUnlock()

	out := make([]AgentRecord, 0, len(guards))
	for _, g := range guards {
		out = append(out, g.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// WithCapability returns copies of the records declaring capabilityID.
func (r *Roster) WithCapability(capabilityID string) []AgentRecord {
	all := r.Snapshot()
	out := all[:0]
	for _, rec := range all {
		if rec.HasCapability(capabilityID) {
			out = append(out, rec)
		}
	}
	return out
}

// Counts returns the number of agents per availability.
func (r *Roster) Counts() map[Availability]int {
	counts := map[Availability]int{Available: 0, Degraded: 0, Unavailable: 0}
	for _, rec := range r.Snapshot() {
		counts[rec.Availability]++
	}
	return counts
}

// ---- health monitor writes ----

// SetAvailability stores a new availability and returns the previous one.
func (r *Roster) SetAvailability(agentID string, to Availability) (Availability, error) {
	g, err := r.lookup(agentID)
	if err != nil {
		return "", err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	from := g.rec.Availability
	g.rec.Availability = to
	return from, nil
}

// CompareAndSetAvailability moves the agent to `to` only if it is currently
// in `expected`. It reports whether the value changed.
func (r *Roster) CompareAndSetAvailability(agentID string, expected, to Availability) (bool, error) {
	g, err := r.lookup(agentID)
	if err != nil {
		return false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rec.Availability != expected || expected == to {
		return false, nil
	}
	g.rec.Availability = to
	return true, nil
}

// RecordHeartbeat stores a heartbeat unless an equal or newer one is known.
// It returns the record after the update and whether the beat was accepted.
func (r *Roster) RecordHeartbeat(agentID string, at time.Time, status ReportedStatus) (AgentRecord, bool, error) {
	g, err := r.lookup(agentID)
	if err != nil {
		return AgentRecord{}, false, err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !at.After(g.rec.LastHeartbeat) {
		return g.rec.Clone(), false, nil
	}
	g.rec.LastHeartbeat = at
	g.rec.ReportedStatus = status
	return g.rec.Clone(), true, nil
}

// ---- fault recovery writes ----

// SetRestartCount stores the restart attempt counter.
func (r *Roster) SetRestartCount(agentID string, n int) error {
	g, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.rec.RestartCount = n
	g.mu.Unlock()
	return nil
}

// SetExcluded marks or clears permanent exclusion from scheduling.
func (r *Roster) SetExcluded(agentID string, excluded bool) error {
	g, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.rec.Excluded = excluded
	g.mu.Unlock()
	return nil
}

// SetRecoveryDisabled toggles automatic restarts for one agent.
func (r *Roster) SetRecoveryDisabled(agentID string, disabled bool) error {
	g, err := r.lookup(agentID)
	if err != nil {
		return err
	}
	g.mu.Lock()
	g.rec.RecoveryDisabled = disabled
	g.mu.Unlock()
	return nil
}

// ---- scheduler writes ----

// Acquire reserves one concurrency slot. It fails when the agent is not
// schedulable or already at max_concurrency at this instant.
func (r *Roster) Acquire(agentID string) bool {
	g, err := r.lookup(agentID)
	if err != nil {
		return false
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.rec.Schedulable() || !g.rec.HasCapacity() {
		return false
	}
	g.rec.CurrentLoad++
	return true
}

// Release frees one concurrency slot. Load never drops below zero.
func (r *Roster) Release(agentID string) {
	g, err := r.lookup(agentID)
	if err != nil {
		return
	}
	g.mu.Lock()
	if g.rec.CurrentLoad > 0 {
		g.rec.CurrentLoad--
	}
	g.mu.Unlock()
}
