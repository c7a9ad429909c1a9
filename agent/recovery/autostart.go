package recovery

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentfleet/agent/fleet"
)

// autoStartConcurrency bounds parallel start calls at engine start.
const autoStartConcurrency = 8

// AutoStarter starts agents declared with auto_start when the engine comes up.
type AutoStarter struct {
	controller  Controller
	roster      *fleet.Roster
	callTimeout time.Duration
	logger      *zap.Logger
	enabled     atomic.Bool
}

// NewAutoStarter creates an auto starter. It is enabled by default.
func NewAutoStarter(controller Controller, roster *fleet.Roster, callTimeout time.Duration, logger *zap.Logger) *AutoStarter {
	if callTimeout <= 0 {
		callTimeout = DefaultConfig().CallTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AutoStarter{
		controller:  controller,
		roster:      roster,
		callTimeout: callTimeout,
		logger:      logger.With(zap.String("component", "auto_starter")),
	}
	a.enabled.Store(true)
	return a
}

// SetEnabled turns auto start on or off.
func (a *AutoStarter) SetEnabled(enabled bool) {
	a.enabled.Store(enabled)
	a.logger.Info("auto start toggled", zap.Bool("enabled", enabled))
}

// Enabled reports whether auto start is on.
func (a *AutoStarter) Enabled() bool { return a.enabled.Load() }

// StartAgents issues a start call for every auto_start agent that is not
// running and returns how many started. Failures are logged, not returned.
func (a *AutoStarter) StartAgents(ctx context.Context) int {
	if !a.enabled.Load() {
		return 0
	}

	var candidates []string
	for _, rec := range a.roster.Snapshot() {
		if rec.AutoStart && !rec.Excluded && stoppedStatus(rec.ReportedStatus) {
			candidates = append(candidates, rec.ID)
		}
	}
	if len(candidates) == 0 {
		return 0
	}

	var started atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(autoStartConcurrency)
	for _, id := range candidates {
		g.Go(func() error {
			callCtx, cancel := context.WithTimeout(gctx, a.callTimeout)
			defer cancel()
			ok, err := a.controller.Start(callCtx, id)
			switch {
			case err != nil:
				a.logger.Warn("auto start failed", zap.String("agent_id", id), zap.Error(err))
			case !ok:
				a.logger.Warn("auto start refused", zap.String("agent_id", id))
			default:
				started.Add(1)
				a.logger.Info("agent auto started", zap.String("agent_id", id))
			}
			return nil
		})
	}
	_ = g.Wait()

	n := int(started.Load())
	a.logger.Info("auto start finished", zap.Int("candidates", len(candidates)), zap.Int("started", n))
	return n
}

// 尚未上报状态的 Agent 按已停止处理
func stoppedStatus(s fleet.ReportedStatus) bool {
	switch s {
	case "", fleet.StatusStopped, fleet.StatusOffline:
		return true
	}
	return false
}
