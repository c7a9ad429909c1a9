package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentfleet/agent/fleet"
	"github.com/BaSui01/agentfleet/agent/persistence"
	"github.com/BaSui01/agentfleet/agent/routing"
	"github.com/BaSui01/agentfleet/agent/transport"
	"github.com/BaSui01/agentfleet/internal/pool"
	"github.com/BaSui01/agentfleet/internal/retry"
	"github.com/BaSui01/agentfleet/types"
)

const instrumentationName = "github.com/BaSui01/agentfleet/agent/scheduler"

// CandidateSource resolves the agents declaring a capability.
type CandidateSource interface {
	Candidates(ctx context.Context, capabilityID string) ([]fleet.AgentRecord, error)
}

// EligibilityFilter decides whether an agent may be scheduled right now.
type EligibilityFilter interface {
	Eligible(rec fleet.AgentRecord) bool
}

// StatsRecorder is the performance tracker as seen by the scheduler.
type StatsRecorder interface {
	Stats(agentID, capabilityID string) fleet.PerformanceStat
	MarkDispatched(agentID, capabilityID string)
	Record(ctx context.Context, agentID, capabilityID string, success bool, latency time.Duration) fleet.PerformanceStat
	AgentSummary(agentID string) fleet.PerformanceStat
}

// Config configures the scheduler.
type Config struct {
	Strategy           fleet.StrategyName `json:"strategy" yaml:"strategy"`
	QueueSize          int                `json:"queue_size" yaml:"queue_size"`
	DefaultTaskTimeout time.Duration      `json:"default_task_timeout" yaml:"default_task_timeout"`
	DecisionHistory    int                `json:"decision_history" yaml:"decision_history"`
	// StoreTimeout bounds result store calls made on task completion.
	StoreTimeout time.Duration `json:"store_timeout" yaml:"store_timeout"`
	// StoreRetry governs result store writes; the zero value means retry.DefaultPolicy.
	StoreRetry retry.Policy `json:"-" yaml:"-"`
	// Dispatch sizes the worker pool. Its QueueSize is ignored: a dispatch
	// that finds no idle worker runs on its own goroutine instead of waiting.
	Dispatch pool.Config `json:"dispatch" yaml:"dispatch"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:           fleet.StrategyBestMatch,
		QueueSize:          10000,
		DefaultTaskTimeout: 60 * time.Second,
		DecisionHistory:    DefaultDecisionHistory,
		StoreTimeout:       5 * time.Second,
		StoreRetry:         retry.DefaultPolicy(),
		Dispatch:           pool.Config{MaxWorkers: 256, IdleTimeout: time.Minute},
	}
}

// Deps are the collaborators a scheduler is wired to.
type Deps struct {
	Roster     *fleet.Roster
	Index      CandidateSource
	Health     EligibilityFilter
	Tracker    StatsRecorder
	Dispatcher transport.Dispatcher
	Results    persistence.ResultStore
	// Strategy overrides Config.Strategy when set.
	Strategy routing.Strategy
	Observer Observer
}

// Outcome is what a caller sees for a submitted task.
type Outcome struct {
	TaskID  string            `json:"task_id"`
	State   fleet.TaskState   `json:"state"`
	AgentID string            `json:"agent_id,omitempty"`
	Result  *fleet.TaskResult `json:"result,omitempty"`
}

// Pending reports whether the task has no result yet.
func (o Outcome) Pending() bool { return o.Result == nil }

// taskEntry tracks one task until its result is stored.
type taskEntry struct {
	task    fleet.Task
	state   fleet.TaskState
	agentID string

	// claimed is set by whoever delivers the result first: the dispatch
	// goroutine or an external Complete call.
	claimed  atomic.Bool
	external chan fleet.TaskResult

	// result is kept in memory when the result store refused it.
	result *fleet.TaskResult
}

func (e *taskEntry) claim() bool { return e.claimed.CompareAndSwap(false, true) }

// Scheduler queues tasks, routes them to agents and records their results.
type Scheduler struct {
	config     Config
	roster     *fleet.Roster
	index      CandidateSource
	health     EligibilityFilter
	tracker    StatsRecorder
	dispatcher transport.Dispatcher
	results    persistence.ResultStore
	strategy   routing.Strategy
	observer   Observer
	tracer     trace.Tracer
	workers    *pool.Pool
	retryer    *retry.Retryer
	history    *decisionLog
	logger     *zap.Logger

	mu      sync.Mutex
	queue   *priorityQueue
	tasks   map[string]*taskEntry
	running bool
	stopped bool

	notify   chan struct{}
	done     chan struct{}
	loopWG   sync.WaitGroup
	overflow sync.WaitGroup
	baseCtx  context.Context
	cancel   context.CancelFunc

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	inFlight  atomic.Int64
}

// New creates a scheduler. It does not route anything until Start.
func New(config Config, deps Deps, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Roster == nil || deps.Index == nil || deps.Health == nil ||
		deps.Tracker == nil || deps.Dispatcher == nil || deps.Results == nil {
		return nil, errors.New("scheduler: roster, index, health, tracker, dispatcher and results are required")
	}

	def := DefaultConfig()
	if config.Strategy == "" {
		config.Strategy = def.Strategy
	}
	if config.QueueSize <= 0 {
		config.QueueSize = def.QueueSize
	}
	if config.DefaultTaskTimeout <= 0 {
		config.DefaultTaskTimeout = def.DefaultTaskTimeout
	}
	if config.StoreTimeout <= 0 {
		config.StoreTimeout = def.StoreTimeout
	}
	if config.StoreRetry.MaxRetries == 0 && config.StoreRetry.InitialDelay == 0 {
		config.StoreRetry = def.StoreRetry
	}
	if config.StoreRetry.ShouldRetry == nil {
		config.StoreRetry.ShouldRetry = func(err error) bool {
			return !errors.Is(err, persistence.ErrAlreadyExists)
		}
	}
	// 派发从不在池内排队，超时从路由时刻开始计算
	config.Dispatch.QueueSize = 0

	strategy := deps.Strategy
	if strategy == nil {
		s, err := routing.New(config.Strategy)
		if err != nil {
			return nil, err
		}
		strategy = s
	}
	config.Strategy = strategy.Name()

	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	logger = logger.With(zap.String("component", "scheduler"))
	return &Scheduler{
		config:     config,
		roster:     deps.Roster,
		index:      deps.Index,
		health:     deps.Health,
		tracker:    deps.Tracker,
		dispatcher: deps.Dispatcher,
		results:    deps.Results,
		strategy:   strategy,
		observer:   observer,
		tracer:     otel.Tracer(instrumentationName),
		workers:    pool.New(config.Dispatch, logger),
		retryer:    retry.New(config.StoreRetry, logger),
		history:    newDecisionLog(config.DecisionHistory),
		logger:     logger,
		queue:      newPriorityQueue(config.QueueSize),
		tasks:      make(map[string]*taskEntry),
		notify:     make(chan struct{}, 1),
		done:       make(chan struct{}),
		baseCtx:    ctx,
		cancel:     cancel,
	}, nil
}

// Strategy returns the configured selection policy.
func (s *Scheduler) Strategy() fleet.StrategyName { return s.strategy.Name() }

// Start launches the routing loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return types.NewError(types.ErrEngineStopped, "scheduler already stopped")
	}
	if s.running {
		return nil
	}
	s.running = true

	s.loopWG.Add(1)
	go s.loop()
	s.wake()

	s.logger.Info("scheduler started",
		zap.String("strategy", string(s.strategy.Name())),
		zap.Int("queue_size", s.config.QueueSize),
	)
	return nil
}

// Stop halts routing, fails still-queued tasks with ENGINE_STOPPED and waits
// for in-flight dispatches. When ctx expires first the dispatches are
// cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()

	// 路由循环不会阻塞在派发上；ctx 到期时取消基础上下文让进行中的路由尽快返回
	loopDone := make(chan struct{})
	go func() {
		s.loopWG.Wait()
		close(loopDone)
	}()
	select {
	case <-loopDone:
	case <-ctx.Done():
		s.cancel()
		<-loopDone
	}

	s.mu.Lock()
	var pending []*taskEntry
	for {
		e, ok := s.queue.pop()
		if !ok {
			break
		}
		pending = append(pending, e)
	}
	s.mu.Unlock()
	for _, e := range pending {
		s.fail(e, types.NewError(types.ErrEngineStopped, "scheduler stopped before routing"))
	}

	// 超时后取消剩余派发，派发协程随即以 ENGINE_STOPPED 结束
	err := s.workers.Close(ctx)
	overflowDone := make(chan struct{})
	go func() {
		s.overflow.Wait()
		close(overflowDone)
	}()
	select {
	case <-overflowDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}
	s.cancel()
	<-overflowDone

	s.logger.Info("scheduler stopped", zap.Int("abandoned", len(pending)))
	return err
}

// Submit validates and enqueues task, returning its id. An empty id gets a
// fresh UUID and a zero timeout gets the configured default.
func (s *Scheduler) Submit(ctx context.Context, task fleet.Task) (string, error) {
	if err := task.Validate(); err != nil {
		return "", err
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	} else if _, err := s.results.Get(ctx, task.ID); err == nil {
		return "", types.Errorf(types.ErrDuplicateTask, "task %s already has a result", task.ID)
	}
	if task.Timeout == 0 {
		task.Timeout = s.config.DefaultTaskTimeout
	}
	if task.SubmittedAt.IsZero() {
		task.SubmittedAt = time.Now()
	}

	e := &taskEntry{
		task:     task,
		state:    fleet.TaskQueued,
		external: make(chan fleet.TaskResult, 1),
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return "", types.NewError(types.ErrEngineStopped, "scheduler is stopped")
	}
	if _, exists := s.tasks[task.ID]; exists {
		s.mu.Unlock()
		return "", types.Errorf(types.ErrDuplicateTask, "task %s already submitted", task.ID)
	}
	if !s.queue.push(e) {
		s.mu.Unlock()
		return "", types.Errorf(types.ErrQueueFull, "queue is full (%d tasks)", s.config.QueueSize)
	}
	s.tasks[task.ID] = e
	depth := s.queue.len()
	s.mu.Unlock()

	s.submitted.Add(1)
	s.observer.TaskSubmitted(task)
	s.observer.QueueDepth(depth)
	s.wake()

	s.logger.Debug("task submitted",
		zap.String("task_id", task.ID),
		zap.String("capability_id", task.CapabilityID),
		zap.String("priority", task.Priority.String()),
	)
	return task.ID, nil
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Result returns the task's result, or its current state while pending.
func (s *Scheduler) Result(ctx context.Context, taskID string) (Outcome, error) {
	s.mu.Lock()
	e, ok := s.tasks[taskID]
	var out Outcome
	if ok {
		out = Outcome{TaskID: taskID, State: e.state, AgentID: e.agentID}
		if e.result != nil {
			res := *e.result
			out.Result = &res
		}
	}
	s.mu.Unlock()
	if ok {
		return out, nil
	}

	res, err := s.results.Get(ctx, taskID)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return Outcome{}, types.Errorf(types.ErrTaskNotFound, "task %s not found", taskID)
		}
		return Outcome{}, types.NewError(types.ErrInternalError, "failed to load result").WithCause(err)
	}
	return Outcome{TaskID: taskID, State: res.State(), AgentID: res.AgentID, Result: &res}, nil
}

// Complete delivers a result for a dispatched task from outside the
// transport. Only the first result for a task is accepted.
func (s *Scheduler) Complete(ctx context.Context, result fleet.TaskResult) error {
	if result.TaskID == "" {
		return types.NewError(types.ErrInvalidRequest, "task_id is required")
	}

	s.mu.Lock()
	e, ok := s.tasks[result.TaskID]
	var state fleet.TaskState
	var agentID string
	var finished bool
	if ok {
		state, agentID, finished = e.state, e.agentID, e.result != nil
	}
	s.mu.Unlock()

	if !ok {
		if _, err := s.results.Get(ctx, result.TaskID); err == nil {
			return types.Errorf(types.ErrDuplicateResult, "task %s already has a result", result.TaskID)
		}
		return types.Errorf(types.ErrTaskNotFound, "task %s not found", result.TaskID)
	}
	if finished {
		return types.Errorf(types.ErrDuplicateResult, "task %s already has a result", result.TaskID)
	}
	if state != fleet.TaskDispatched {
		return types.Errorf(types.ErrInvalidRequest, "task %s is %s, not awaiting a result", result.TaskID, state)
	}
	if result.AgentID != "" && result.AgentID != agentID {
		return types.Errorf(types.ErrInvalidRequest, "task %s was dispatched to %s, not %s",
			result.TaskID, agentID, result.AgentID)
	}
	if !e.claim() {
		return types.Errorf(types.ErrDuplicateResult, "task %s already has a result", result.TaskID)
	}

	result.AgentID = agentID
	e.external <- result
	return nil
}

// Decisions returns up to limit recent allocation decisions, oldest first.
func (s *Scheduler) Decisions(limit int) []fleet.AllocationDecision {
	return s.history.recent(limit)
}
