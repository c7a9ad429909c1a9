package recovery

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/health"
	"github.com/BaSui01/agentfleet/types"
)

// Controller issues lifecycle calls. discovery.Registry satisfies it.
type Controller interface {
	Start(ctx context.Context, agentID string) (bool, error)
	Stop(ctx context.Context, agentID string) (bool, error)
}

// Config holds the restart policy.
type Config struct {
	Enabled            bool          `json:"enabled"`
	MaxRestartAttempts int           `json:"max_restart_attempts"`
	RestartDelay       time.Duration `json:"restart_delay"`
	// CallTimeout bounds each stop or start call.
	CallTimeout time.Duration `json:"call_timeout"`
}

// DefaultConfig returns the default restart policy.
func DefaultConfig() Config {
	return Config{
		Enabled:            true,
		MaxRestartAttempts: 3,
		RestartDelay:       5 * time.Second,
		CallTimeout:        30 * time.Second,
	}
}

// EventKind classifies recovery events.
type EventKind string

const (
	EventAttemptFailed EventKind = "attempt_failed"
	EventRestarted     EventKind = "restarted"
	EventExcluded      EventKind = "excluded"
	EventReset         EventKind = "reset"
)

// Event reports recovery progress.
type Event struct {
	AgentID string    `json:"agent_id"`
	Kind    EventKind `json:"kind"`
	Attempt int       `json:"attempt,omitempty"`
	At      time.Time `json:"at"`
}

// Recovery owns the restart_count and excluded fields of the roster.
type Recovery struct {
	config     Config
	controller Controller
	roster     *fleet.Roster
	logger     *zap.Logger
	enabled    atomic.Bool

	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	inflight map[string]struct{}
	onEvent  []func(Event)

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures Recovery.
type Option func(*Recovery)

// WithSleep replaces the restart delay wait, mainly for tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(r *Recovery) { r.sleep = fn }
}

// New creates a recovery manager.
func New(config Config, controller Controller, roster *fleet.Roster, logger *zap.Logger, opts ...Option) *Recovery {
	def := DefaultConfig()
	if config.MaxRestartAttempts < 0 {
		config.MaxRestartAttempts = 0
	}
	if config.RestartDelay < 0 {
		config.RestartDelay = def.RestartDelay
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = def.CallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Recovery{
		config:     config,
		controller: controller,
		roster:     roster,
		logger:     logger.With(zap.String("component", "fault_recovery")),
		sleep:      sleepCtx,
		inflight:   make(map[string]struct{}),
		ctx:        ctx,
		cancel:     cancel,
	}
	r.enabled.Store(config.Enabled)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// OnEvent registers a callback for recovery events. Callbacks run
// synchronously on the recovery goroutine.
func (r *Recovery) OnEvent(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onEvent = append(r.onEvent, fn)
}

func (r *Recovery) emit(agentID string, kind EventKind, attempt int) {
	r.mu.Lock()
	handlers := append([]func(Event){}, r.onEvent...)
	r.mu.Unlock()

	e := Event{AgentID: agentID, Kind: kind, Attempt: attempt, At: time.Now()}
	for _, fn := range handlers {
		fn(e)
	}
}

// Attach subscribes to monitor transitions and returns the subscription id.
func (r *Recovery) Attach(m *health.Monitor) string {
	return m.Subscribe(r.HandleTransition)
}

// HandleTransition starts recovery in the background when an agent drops
// from Available or Degraded to Unavailable.
func (r *Recovery) HandleTransition(t health.Transition) {
	if t.To != fleet.Unavailable || !t.From.Schedulable() {
		return
	}
	if !r.claim(t.AgentID) {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(t.AgentID)
		if err := r.recover(r.ctx, t.AgentID); err != nil {
			r.logger.Debug("recovery ended", zap.String("agent_id", t.AgentID), zap.Error(err))
		}
	}()
}

// Recover runs the restart policy for one agent and blocks until it
// finishes. It fails if the agent is excluded or already recovering.
func (r *Recovery) Recover(ctx context.Context, agentID string) error {
	if !r.claim(agentID) {
		return types.Errorf(types.ErrInvalidRequest, "recovery already running for agent %s", agentID).WithAgent(agentID)
	}
	defer r.release(agentID)
	return r.recover(ctx, agentID)
}

func (r *Recovery) claim(agentID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, busy := r.inflight[agentID]; busy {
		return false
	}
	r.inflight[agentID] = struct{}{}
	return true
}

func (r *Recovery) release(agentID string) {
	r.mu.Lock()
	delete(r.inflight, agentID)
	r.mu.Unlock()
}

func (r *Recovery) recover(ctx context.Context, agentID string) error {
	rec, ok := r.roster.Get(agentID)
	if !ok {
		return types.Errorf(types.ErrAgentNotFound, "agent %s not found", agentID).WithAgent(agentID)
	}
	if rec.Excluded {
		return types.Errorf(types.ErrAgentExcluded, "agent %s is excluded until reset", agentID).WithAgent(agentID)
	}
	if !r.enabled.Load() || rec.RecoveryDisabled {
		r.logger.Info("automatic recovery disabled, skipping", zap.String("agent_id", agentID))
		return nil
	}

	for attempt := rec.RestartCount + 1; attempt <= r.config.MaxRestartAttempts; attempt++ {
		if err := r.roster.SetRestartCount(agentID, attempt); err != nil {
			return err
		}
		r.logger.Info("restarting agent",
			zap.String("agent_id", agentID),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", r.config.MaxRestartAttempts),
		)

		started, err := r.attempt(ctx, agentID)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if started {
			if err := r.roster.SetRestartCount(agentID, 0); err != nil {
				return err
			}
			r.logger.Info("agent restarted", zap.String("agent_id", agentID), zap.Int("attempt", attempt))
			r.emit(agentID, EventRestarted, attempt)
			return nil
		}

		r.logger.Warn("restart attempt failed",
			zap.String("agent_id", agentID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		r.emit(agentID, EventAttemptFailed, attempt)
	}

	if err := r.roster.SetExcluded(agentID, true); err != nil {
		return err
	}
	r.logger.Error("restart attempts exhausted, agent excluded until reset",
		zap.String("agent_id", agentID),
		zap.Int("max_attempts", r.config.MaxRestartAttempts),
	)
	r.emit(agentID, EventExcluded, r.config.MaxRestartAttempts)
	return types.Errorf(types.ErrAgentExcluded, "agent %s excluded after %d restart attempts",
		agentID, r.config.MaxRestartAttempts).WithAgent(agentID)
}

// attempt issues stop, waits restart_delay, then start.
func (r *Recovery) attempt(ctx context.Context, agentID string) (bool, error) {
	stopCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	stopped, err := r.controller.Stop(stopCtx, agentID)
	cancel()
	if err != nil || !stopped {
		// 崩溃的 Agent 常常无法正常停止，仍继续尝试启动
		r.logger.Debug("stop before restart did not succeed",
			zap.String("agent_id", agentID),
			zap.Bool("stopped", stopped),
			zap.Error(err),
		)
	}

	if err := r.sleep(ctx, r.config.RestartDelay); err != nil {
		return false, err
	}

	startCtx, cancel := context.WithTimeout(ctx, r.config.CallTimeout)
	defer cancel()
	started, err := r.controller.Start(startCtx, agentID)
	if err != nil {
		return false, fmt.Errorf("start: %w", err)
	}
	if !started {
		return false, fmt.Errorf("start refused")
	}
	return true, nil
}

// Reset is the operator action that re-enables an agent: it clears the
// restart counter and the exclusion. Availability is left to the monitor.
func (r *Recovery) Reset(agentID string) error {
	if err := r.roster.SetRestartCount(agentID, 0); err != nil {
		return err
	}
	if err := r.roster.SetExcluded(agentID, false); err != nil {
		return err
	}
	r.logger.Info("agent reset by operator", zap.String("agent_id", agentID))
	r.emit(agentID, EventReset, 0)
	return nil
}

// SetEnabled turns automatic recovery on or off for every agent.
func (r *Recovery) SetEnabled(enabled bool) {
	r.enabled.Store(enabled)
	r.logger.Info("automatic recovery toggled", zap.Bool("enabled", enabled))
}

// Enabled reports whether automatic recovery is on.
func (r *Recovery) Enabled() bool { return r.enabled.Load() }

// SetAgentEnabled turns automatic recovery on or off for one agent.
func (r *Recovery) SetAgentEnabled(agentID string, enabled bool) error {
	return r.roster.SetRecoveryDisabled(agentID, !enabled)
}

// Close cancels running recoveries and waits for them.
func (r *Recovery) Close(ctx context.Context) error {
	r.cancel()
	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
