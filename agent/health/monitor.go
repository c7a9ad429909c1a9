package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// Config holds the heartbeat thresholds.
type Config struct {
	// Interval is the expected heartbeat period. A heartbeat older than this
	// degrades the agent.
	Interval time.Duration `json:"interval"`

	// Timeout is the hard cutoff after which the agent is unavailable.
	Timeout time.Duration `json:"timeout"`

	// SweepInterval is the period of the background evaluation.
	SweepInterval time.Duration `json:"sweep_interval"`

	// SourceConcurrency bounds parallel polling of heartbeat sources.
	SourceConcurrency int `json:"source_concurrency"`
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		Timeout:           90 * time.Second,
		SweepInterval:     10 * time.Second,
		SourceConcurrency: 4,
	}
}

// Validate checks threshold ordering.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return fmt.Errorf("health interval must be positive")
	}
	if c.Timeout <= c.Interval {
		return fmt.Errorf("health timeout (%s) must exceed interval (%s)", c.Timeout, c.Interval)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("health sweep interval must be positive")
	}
	return nil
}

// Beat is one heartbeat observation.
type Beat struct {
	AgentID   string               `json:"agent_id"`
	Timestamp time.Time            `json:"timestamp"`
	Status    fleet.ReportedStatus `json:"status"`
}

// Source is a poll-based heartbeat feed, consulted on every sweep.
type Source interface {
	Poll(ctx context.Context) ([]Beat, error)
}

// Transition describes one availability change.
type Transition struct {
	AgentID string             `json:"agent_id"`
	From    fleet.Availability `json:"from"`
	To      fleet.Availability `json:"to"`
	Reason  string             `json:"reason"`
	At      time.Time          `json:"at"`
}

// TransitionHandler receives availability changes.
type TransitionHandler func(Transition)

// Monitor owns the availability and last_heartbeat fields of the roster.
type Monitor struct {
	config  Config
	roster  *fleet.Roster
	sources []Source
	now     func() time.Time
	logger  *zap.Logger

	handlerMu sync.RWMutex
	handlers  map[string]TransitionHandler
	subSeq    atomic.Uint64

	runMu   sync.Mutex
	running bool
	done    chan struct{}
	wg      sync.WaitGroup
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithSource adds a poll-based heartbeat source.
func WithSource(src Source) Option {
	return func(m *Monitor) { m.sources = append(m.sources, src) }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// NewMonitor creates a monitor over roster.
func NewMonitor(config Config, roster *fleet.Roster, logger *zap.Logger, opts ...Option) *Monitor {
	def := DefaultConfig()
	if config.Interval <= 0 {
		config.Interval = def.Interval
	}
	if config.Timeout <= config.Interval {
		config.Timeout = 3 * config.Interval
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = def.SweepInterval
	}
	if config.SourceConcurrency <= 0 {
		config.SourceConcurrency = def.SourceConcurrency
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		config:   config,
		roster:   roster,
		now:      time.Now,
		logger:   logger.With(zap.String("component", "health_monitor")),
		handlers: make(map[string]TransitionHandler),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Config returns the effective thresholds.
func (m *Monitor) Config() Config { return m.config }

// Subscribe registers a transition handler and returns its id.
func (m *Monitor) Subscribe(handler TransitionHandler) string {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	id := fmt.Sprintf("sub-%d", m.subSeq.Add(1))
	m.handlers[id] = handler
	return id
}

// Unsubscribe removes a transition handler.
func (m *Monitor) Unsubscribe(id string) {
	m.handlerMu.Lock()
	defer m.handlerMu.Unlock()
	delete(m.handlers, id)
}

// Eligible reports whether rec may be scheduled right now. Besides the
// committed availability it checks heartbeat age directly, so an agent past
// the timeout is rejected even before the next sweep notices.
func (m *Monitor) Eligible(rec fleet.AgentRecord) bool {
	if !rec.Schedulable() {
		return false
	}
	return m.now().Sub(rec.LastHeartbeat) <= m.config.Timeout
}

// Heartbeat ingests one pushed heartbeat. Stale beats are ignored and
// timestamps ahead of the monitor's clock are clamped to it.
func (m *Monitor) Heartbeat(beat Beat) error {
	now := m.now()
	// 时钟超前的 Agent 不能借未来时间戳延长存活
	if beat.Timestamp.IsZero() || beat.Timestamp.After(now) {
		beat.Timestamp = now
	}
	if beat.Status == "" {
		beat.Status = fleet.StatusRunning
	}

	rec, accepted, err := m.roster.RecordHeartbeat(beat.AgentID, beat.Timestamp, beat.Status)
	if err != nil {
		return err
	}
	if !accepted {
		return nil
	}

	switch {
	case beat.Status.Fatal():
		m.transition(rec.ID, rec.Availability, fleet.Unavailable, "reported "+string(beat.Status))
	case beat.Status.Healthy() && now.Sub(beat.Timestamp) <= m.config.Interval:
		// Degraded 收到新心跳恢复；Unavailable 收到 running/idle 视为重连确认
		reason := "heartbeat resumed"
		if rec.Availability == fleet.Unavailable {
			reason = "reconnected"
		}
		m.transition(rec.ID, rec.Availability, fleet.Available, reason)
	}
	return nil
}

// Evaluate returns the availability rec should have at now according to
// heartbeat age. Unavailable agents stay unavailable until a heartbeat
// brings them back.
func (m *Monitor) Evaluate(rec fleet.AgentRecord, now time.Time) (fleet.Availability, string) {
	if rec.Availability == fleet.Unavailable {
		return fleet.Unavailable, ""
	}
	if rec.ReportedStatus.Fatal() {
		return fleet.Unavailable, "reported " + string(rec.ReportedStatus)
	}
	elapsed := now.Sub(rec.LastHeartbeat)
	switch {
	case elapsed > m.config.Timeout:
		return fleet.Unavailable, "heartbeat lost"
	case elapsed > m.config.Interval && rec.Availability == fleet.Available:
		return fleet.Degraded, "heartbeat late"
	default:
		return rec.Availability, ""
	}
}

// Sweep polls the sources and re-evaluates every agent once.
func (m *Monitor) Sweep(ctx context.Context) {
	m.pollSources(ctx)

	now := m.now()
	for _, rec := range m.roster.Snapshot() {
		to, reason := m.Evaluate(rec, now)
		if to != rec.Availability {
			m.transition(rec.ID, rec.Availability, to, reason)
		}
	}
}

func (m *Monitor) pollSources(ctx context.Context) {
	if len(m.sources) == 0 {
		return
	}

	var mu sync.Mutex
	var beats []Beat

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.config.SourceConcurrency)
	for _, src := range m.sources {
		g.Go(func() error {
			got, err := src.Poll(gctx)
			if err != nil {
				m.logger.Warn("heartbeat source poll failed", zap.Error(err))
				return nil
			}
			mu.Lock()
			beats = append(beats, got...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, b := range beats {
		if err := m.Heartbeat(b); err != nil {
			m.logger.Debug("dropping heartbeat", zap.String("agent_id", b.AgentID), zap.Error(err))
		}
	}
}

func (m *Monitor) transition(agentID string, from, to fleet.Availability, reason string) {
	changed, err := m.roster.CompareAndSetAvailability(agentID, from, to)
	if err != nil || !changed {
		return
	}

	t := Transition{AgentID: agentID, From: from, To: to, Reason: reason, At: m.now()}
	if to == fleet.Available {
		m.logger.Info("agent availability changed",
			zap.String("agent_id", agentID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", reason),
		)
	} else {
		m.logger.Warn("agent availability changed",
			zap.String("agent_id", agentID),
			zap.String("from", string(from)),
			zap.String("to", string(to)),
			zap.String("reason", reason),
		)
	}

	m.handlerMu.RLock()
	handlers := make([]TransitionHandler, 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()

	for _, h := range handlers {
		go h(t)
	}
}

// Start runs the sweep loop until Stop or ctx cancellation.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.running {
		return fmt.Errorf("health monitor already running")
	}
	m.running = true
	m.done = make(chan struct{})

	m.wg.Add(1)
	go m.run(ctx, m.done)

	m.logger.Info("health monitor started",
		zap.Duration("interval", m.config.Interval),
		zap.Duration("timeout", m.config.Timeout),
		zap.Duration("sweep_interval", m.config.SweepInterval),
	)
	return nil
}

// Stop ends the sweep loop and waits for it to exit.
func (m *Monitor) Stop(ctx context.Context) error {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return nil
	}
	m.running = false
	close(m.done)
	m.runMu.Unlock()

	waited := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(waited)
	}()
	select {
	case <-waited:
		m.logger.Info("health monitor stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) run(ctx context.Context, done <-chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.Sweep(ctx)
		case <-done:
			return
		case <-ctx.Done():
			return
		}
	}
}
