package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/BaSui01/agentfleet/agent/discovery"
	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/health"
	"github.com/BaSui01/agentfleet/agent/performance"
	"github.com/BaSui01/agentfleet/agent/persistence"
	"github.com/BaSui01/agentfleet/agent/recovery"
	"github.com/BaSui01/agentfleet/agent/scheduler"
	"github.com/BaSui01/agentfleet/agent/transport"
	"github.com/BaSui01/agentfleet/config"
	"github.com/BaSui01/agentfleet/internal/metrics"
	"github.com/BaSui01/agentfleet/internal/pool"
	"github.com/BaSui01/agentfleet/internal/retry"
	"github.com/BaSui01/agentfleet/internal/telemetry"
)

// Engine is one scheduling engine instance and everything it owns.
type Engine struct {
	cfg    *config.Config
	logger *zap.Logger

	roster    *fleet.Roster
	registry  *discovery.MemoryRegistry
	index     *discovery.CapabilityIndex
	stats     performance.Store
	tracker   *performance.Tracker
	monitor   *health.Monitor
	recovery  *recovery.Recovery
	autoStart *recovery.AutoStarter
	results   persistence.ResultStore
	local     *transport.LocalDispatcher
	scheduler *scheduler.Scheduler
	metrics   *metrics.Collector

	meter  metric.Meter
	gauges metric.Registration

	mu      sync.Mutex
	running bool
	stopped bool
}

// Option configures an Engine.
type Option func(*options)

type options struct {
	redis     redis.UniversalClient
	db        *gorm.DB
	mongo     *mongo.Database
	lifecycle discovery.Lifecycle
	metrics   *metrics.Collector
	meter     metric.Meter
	healthOps []health.Option
	recovOps  []recovery.Option
}

// WithRedis supplies the client used by the redis storage backends.
func WithRedis(client redis.UniversalClient) Option {
	return func(o *options) { o.redis = client }
}

// WithDatabase supplies the connection used by the database stats backend.
func WithDatabase(db *gorm.DB) Option {
	return func(o *options) { o.db = db }
}

// WithMongo supplies the database used by the mongo results backend.
func WithMongo(db *mongo.Database) Option {
	return func(o *options) { o.mongo = db }
}

// WithLifecycle replaces the HTTP lifecycle client used to start and stop agents.
func WithLifecycle(l discovery.Lifecycle) Option {
	return func(o *options) { o.lifecycle = l }
}

// WithMetrics attaches a Prometheus collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(o *options) { o.metrics = c }
}

// WithMeter overrides the OpenTelemetry meter used for fleet gauges.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithHealthOptions passes options through to the health monitor.
func WithHealthOptions(opts ...health.Option) Option {
	return func(o *options) { o.healthOps = append(o.healthOps, opts...) }
}

// WithRecoveryOptions passes options through to fault recovery.
func WithRecoveryOptions(opts ...recovery.Option) Option {
	return func(o *options) { o.recovOps = append(o.recovOps, opts...) }
}

// New wires an engine from configuration. Nothing runs until Start.
func New(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	strategy, err := fleet.ParseStrategy(cfg.Scheduler.Strategy)
	if err != nil {
		return nil, fmt.Errorf("engine: %w", err)
	}

	e := &Engine{
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "engine")),
		roster:  fleet.NewRoster(cfg.Scheduler.MaxConcurrency),
		local:   transport.NewLocalDispatcher(),
		metrics: o.metrics,
		meter:   o.meter,
	}
	if e.meter == nil {
		e.meter = otel.GetMeterProvider().Meter(telemetry.MeterName)
	}

	lifecycle := o.lifecycle
	if lifecycle == nil {
		lifecycle = discovery.NewHTTPLifecycle(cfg.Recovery.CallTimeout, retry.DefaultPolicy(), logger)
	}
	e.registry = discovery.NewMemoryRegistry(lifecycle, logger)
	e.index = discovery.NewCapabilityIndex(e.registry, e.roster, logger)

	if e.stats, err = newStatsStore(cfg.Storage, o); err != nil {
		return nil, err
	}
	e.tracker = performance.NewTracker(logger, performance.WithStore(e.stats))

	if e.results, err = newResultStore(cfg.Storage, cfg.Mongo.Collection, o); err != nil {
		return nil, err
	}

	healthOps := o.healthOps
	if cfg.Health.PollEnabled {
		poller := health.NewEndpointPoller(e.roster, cfg.Health.PollTimeout, cfg.Health.PollConcurrency, logger)
		healthOps = append(healthOps, health.WithSource(poller))
	}
	e.monitor = health.NewMonitor(health.Config{
		Interval:      cfg.Health.Interval,
		Timeout:       cfg.Health.Timeout,
		SweepInterval: cfg.Health.SweepInterval,
	}, e.roster, logger, healthOps...)

	e.recovery = recovery.New(recovery.Config{
		Enabled:            cfg.Recovery.Enabled,
		MaxRestartAttempts: cfg.Recovery.MaxRestartAttempts,
		RestartDelay:       cfg.Recovery.RestartDelay,
		CallTimeout:        cfg.Recovery.CallTimeout,
	}, e.registry, e.roster, logger, o.recovOps...)
	e.recovery.Attach(e.monitor)
	e.autoStart = recovery.NewAutoStarter(e.registry, e.roster, cfg.Recovery.CallTimeout, logger)
	e.autoStart.SetEnabled(cfg.Recovery.AutoStartEnabled)

	dispatcher := transport.Multi{
		Local:  e.local,
		Remote: transport.NewHTTPDispatcher(transport.HTTPConfig{Timeout: cfg.Scheduler.DispatchTimeout}, logger),
	}

	deps := scheduler.Deps{
		Roster:     e.roster,
		Index:      e.index,
		Health:     e.monitor,
		Tracker:    e.tracker,
		Dispatcher: dispatcher,
		Results:    e.results,
	}
	if e.metrics != nil {
		deps.Observer = e.metrics
	}
	schedCfg := scheduler.DefaultConfig()
	schedCfg.Strategy = strategy
	schedCfg.QueueSize = cfg.Scheduler.QueueSize
	schedCfg.DefaultTaskTimeout = cfg.Scheduler.DefaultTaskTimeout
	schedCfg.DecisionHistory = cfg.Scheduler.DecisionHistory
	if cfg.Scheduler.DispatchWorkers > 0 {
		schedCfg.Dispatch = pool.Config{
			MaxWorkers:  cfg.Scheduler.DispatchWorkers,
			IdleTimeout: schedCfg.Dispatch.IdleTimeout,
		}
	}
	if e.scheduler, err = scheduler.New(schedCfg, deps, logger); err != nil {
		return nil, err
	}

	e.wireHooks()
	return e, nil
}

func newStatsStore(cfg config.StorageConfig, o *options) (performance.Store, error) {
	switch cfg.StatsBackend {
	case "", "memory":
		return performance.NewMemoryStore(), nil
	case "redis":
		if o.redis == nil {
			return nil, errors.New("engine: redis stats backend requires a redis client")
		}
		return performance.NewRedisStore(o.redis, cfg.KeyPrefix), nil
	case "database":
		if o.db == nil {
			return nil, errors.New("engine: database stats backend requires a database connection")
		}
		return performance.NewGormStore(o.db), nil
	default:
		return nil, fmt.Errorf("engine: unknown stats backend %q", cfg.StatsBackend)
	}
}

func newResultStore(cfg config.StorageConfig, collection string, o *options) (persistence.ResultStore, error) {
	switch cfg.ResultsBackend {
	case "", "memory":
		return persistence.NewMemoryResultStore(cfg.ResultRetention), nil
	case "redis":
		if o.redis == nil {
			return nil, errors.New("engine: redis results backend requires a redis client")
		}
		return persistence.NewRedisResultStore(o.redis, cfg.KeyPrefix, cfg.ResultRetention), nil
	case "mongo":
		if o.mongo == nil {
			return nil, errors.New("engine: mongo results backend requires a mongo database")
		}
		return persistence.NewMongoResultStore(o.mongo.Collection(collection), cfg.ResultRetention), nil
	default:
		return nil, fmt.Errorf("engine: unknown results backend %q", cfg.ResultsBackend)
	}
}

// wireHooks connects the event producers to their consumers.
func (e *Engine) wireHooks() {
	e.index.OnDeregister(func(ctx context.Context, agentID string) {
		e.tracker.Forget(ctx, agentID)
		e.local.Unregister(agentID)
		if e.metrics != nil {
			e.metrics.ForgetAgent(agentID)
		}
	})

	if e.metrics == nil {
		return
	}
	e.monitor.Subscribe(func(t health.Transition) {
		e.metrics.RecordAvailabilityTransition(t.AgentID, t.From, t.To)
		e.metrics.SetAvailabilityCounts(e.roster.Counts())
	})
	e.recovery.OnEvent(func(ev recovery.Event) {
		e.metrics.RecordRecoveryEvent(ev.AgentID, string(ev.Kind))
	})
}

// Start loads persisted statistics, registers the configured fleet, starts
// auto_start agents and then the health monitor and the routing loop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return errors.New("engine: already stopped")
	}
	if e.running {
		return nil
	}

	// 统计预热失败不阻止启动，追踪器从空状态开始
	if err := e.tracker.Load(ctx); err != nil {
		e.logger.Warn("failed to warm performance stats", zap.Error(err))
	}
	// 缺少 TTL 索引时结果仍可读写，只是不会被后台清理
	if ix, ok := e.results.(interface{ EnsureIndexes(context.Context) error }); ok {
		if err := ix.EnsureIndexes(ctx); err != nil {
			e.logger.Warn("failed to create result store indexes", zap.Error(err))
		}
	}

	for _, a := range e.cfg.Agents {
		rec := a.Record()
		if rec.MaxConcurrency <= 0 {
			rec.MaxConcurrency = e.cfg.Scheduler.MaxConcurrency
		}
		if err := e.registry.RegisterAgent(ctx, rec); err != nil {
			return fmt.Errorf("register agent %s: %w", a.ID, err)
		}
	}
	if err := e.index.Refresh(ctx); err != nil {
		return err
	}
	e.autoStart.StartAgents(ctx)
	if e.metrics != nil {
		e.metrics.SetAvailabilityCounts(e.roster.Counts())
	}

	if err := e.monitor.Start(ctx); err != nil {
		return err
	}
	if err := e.scheduler.Start(ctx); err != nil {
		_ = e.monitor.Stop(ctx)
		return err
	}

	gauges, err := telemetry.RegisterFleetGauges(e.meter, e.snapshot)
	if err != nil {
		e.logger.Warn("failed to register fleet gauges", zap.Error(err))
	} else {
		e.gauges = gauges
	}

	e.running = true
	e.logger.Info("engine started",
		zap.String("strategy", string(e.scheduler.Strategy())),
		zap.Int("agents", e.roster.Len()),
		zap.String("stats_backend", e.cfg.Storage.StatsBackend),
		zap.String("results_backend", e.cfg.Storage.ResultsBackend),
	)
	return nil
}

// Stop drains the scheduler first, then stops health monitoring and
// recovery together, then closes the stores.
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return nil
	}
	e.stopped = true
	wasRunning := e.running
	e.running = false

	var errs []error
	if wasRunning {
		if err := e.scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop scheduler: %w", err))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if wasRunning {
		g.Go(func() error { return e.monitor.Stop(gctx) })
	}
	g.Go(func() error { return e.recovery.Close(gctx) })
	if err := g.Wait(); err != nil {
		errs = append(errs, err)
	}

	if e.gauges != nil {
		if err := e.gauges.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("unregister gauges: %w", err))
		}
	}
	if err := e.results.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close result store: %w", err))
	}
	if err := e.stats.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stats store: %w", err))
	}

	e.logger.Info("engine stopped")
	return errors.Join(errs...)
}

// Running reports whether the engine accepts work.
func (e *Engine) Running() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

func (e *Engine) snapshot() telemetry.FleetSnapshot {
	st := e.scheduler.Status()
	counts := make(map[string]int, len(st.Availability))
	for a, n := range st.Availability {
		counts[string(a)] = n
	}
	return telemetry.FleetSnapshot{
		QueuedTasks:   st.QueuedTasks,
		InFlightTasks: int(st.InFlightTasks),
		Availability:  counts,
	}
}
