package fleet

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// DefaultMaxConcurrency is used when an agent declares no limit.
const DefaultMaxConcurrency = 5

// DefaultAgentPriority is the neutral agent priority for priority-fit scoring.
const DefaultAgentPriority = 0.5

// CostTier is a coarse pricing class for agents without an explicit cost.
type CostTier string

const (
	CostStandard   CostTier = "standard"
	CostPremium    CostTier = "premium"
	CostEnterprise CostTier = "enterprise"
)

// Rate returns the per-request cost multiplier of the tier.
func (t CostTier) Rate() float64 {
	switch t {
	case CostStandard:
		return 1.0
	case CostPremium:
		return 2.0
	case CostEnterprise:
		return 5.0
	default:
		return 0
	}
}

// AgentRecord is the scheduling-relevant view of one backend.
type AgentRecord struct {
	ID   string `json:"agent_id"`
	Name string `json:"name,omitempty"`

	// Capabilities is kept sorted and de-duplicated.
	Capabilities []string `json:"capabilities"`

	Availability   Availability   `json:"availability"`
	ReportedStatus ReportedStatus `json:"reported_status,omitempty"`

	// CurrentLoad is written only by the scheduler.
	CurrentLoad    int `json:"current_load"`
	MaxConcurrency int `json:"max_concurrency"`

	// RestartCount and Excluded are written only by fault recovery.
	RestartCount int  `json:"restart_count"`
	Excluded     bool `json:"excluded"`

	// RecoveryDisabled turns off automatic restarts for this agent only.
	RecoveryDisabled bool `json:"recovery_disabled,omitempty"`

	// AutoStart asks the engine to start a stopped agent when it starts.
	AutoStart bool `json:"auto_start,omitempty"`

	LastHeartbeat time.Time `json:"last_heartbeat"`

	// CostPerRequest is the declared cost. Zero means undeclared.
	CostPerRequest float64  `json:"cost_per_request,omitempty"`
	CostTier       CostTier `json:"cost_tier,omitempty"`

	// Priority in [0,1]; urgent tasks fit agents with a high value.
	Priority float64 `json:"priority"`

	Endpoint string            `json:"endpoint,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`

	RegisteredAt time.Time `json:"registered_at"`
}

// HasCapability reports whether the agent declares capabilityID.
func (r AgentRecord) HasCapability(capabilityID string) bool {
	_, found := slices.BinarySearch(r.Capabilities, capabilityID)
	return found
}

// Schedulable reports whether the agent may take new work at all.
func (r AgentRecord) Schedulable() bool {
	return !r.Excluded && r.Availability.Schedulable()
}

// HasCapacity reports whether another task fits under max_concurrency.
func (r AgentRecord) HasCapacity() bool {
	return r.CurrentLoad < r.MaxConcurrency
}

// Cost returns the declared cost per request, falling back to the tier rate.
// ok is false when neither is declared.
func (r AgentRecord) Cost() (cost float64, ok bool) {
	if r.CostPerRequest > 0 {
		return r.CostPerRequest, true
	}
	if rate := r.CostTier.Rate(); rate > 0 {
		return rate, true
	}
	return 0, false
}

// Clone returns a deep copy safe to hand out of the roster.
func (r AgentRecord) Clone() AgentRecord {
	c := r
	c.Capabilities = slices.Clone(r.Capabilities)
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return c
}

// Normalize fills defaults and canonicalizes the capability set.
func (r *AgentRecord) Normalize() error {
	r.ID = strings.TrimSpace(r.ID)
	if r.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	caps := make([]string, 0, len(r.Capabilities))
	for _, c := range r.Capabilities {
		if c = strings.TrimSpace(c); c != "" {
			caps = append(caps, c)
		}
	}
	slices.Sort(caps)
	r.Capabilities = slices.Compact(caps)

	if r.MaxConcurrency <= 0 {
		r.MaxConcurrency = DefaultMaxConcurrency
	}
	if r.Priority <= 0 || r.Priority > 1 {
		r.Priority = DefaultAgentPriority
	}
	if r.CurrentLoad < 0 {
		r.CurrentLoad = 0
	}
	if r.Availability == "" {
		r.Availability = Available
	}
	return nil
}
