// Package pool provides the bounded worker pool that executes task dispatches.
package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	ErrPoolClosed = errors.New("pool is closed")
	ErrPoolFull   = errors.New("pool is full")
)

// Job is one unit of dispatch work.
type Job func(ctx context.Context) error

// Config configures the pool.
type Config struct {
	MaxWorkers   int           `json:"max_workers" yaml:"max_workers"`
	QueueSize    int           `json:"queue_size" yaml:"queue_size"`
	IdleTimeout  time.Duration `json:"idle_timeout" yaml:"idle_timeout"`
	PanicHandler func(any)     `json:"-" yaml:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxWorkers:  64,
		QueueSize:   256,
		IdleTimeout: 60 * time.Second,
	}
}

// Pool runs jobs on an elastic set of workers. Workers are spawned on demand
// up to MaxWorkers and exit after IdleTimeout without work, keeping at least one.
type Pool struct {
	maxWorkers  int
	jobs        chan jobWrapper
	quit        chan struct{}
	sendMu      sync.RWMutex
	workerCount atomic.Int32
	activeCount atomic.Int32
	closed      atomic.Bool
	wg          sync.WaitGroup

	submitted atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	rejected  atomic.Int64

	idleTimeout  time.Duration
	panicHandler func(any)
	logger       *zap.Logger
}

type jobWrapper struct {
	job    Job
	ctx    context.Context
	result chan error
}

// New creates a pool.
func New(cfg Config, logger *zap.Logger) *Pool {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = def.MaxWorkers
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = def.QueueSize
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = def.IdleTimeout
	}
	return &Pool{
		maxWorkers:   cfg.MaxWorkers,
		jobs:         make(chan jobWrapper, cfg.QueueSize),
		quit:         make(chan struct{}),
		idleTimeout:  cfg.IdleTimeout,
		panicHandler: cfg.PanicHandler,
		logger:       logger.With(zap.String("component", "dispatch_pool")),
	}
}

// TrySubmit enqueues job without blocking. It returns ErrPoolFull when the
// queue is saturated and no further worker can be spawned.
func (p *Pool) TrySubmit(ctx context.Context, job Job) error {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}
	p.submitted.Add(1)

	w := jobWrapper{job: job, ctx: ctx}
	select {
	case p.jobs <- w:
		p.ensureWorker()
		return nil
	default:
	}
	if p.trySpawnWorker() {
		select {
		case p.jobs <- w:
			return nil
		default:
		}
	}
	p.rejected.Add(1)
	return ErrPoolFull
}

// Submit enqueues job, blocking until there is room, ctx is done or the pool
// closes. The job runs with ctx.
func (p *Pool) Submit(ctx context.Context, job Job) error {
	_, err := p.submit(ctx, job, false)
	return err
}

// SubmitWait enqueues job and waits for it to finish.
func (p *Pool) SubmitWait(ctx context.Context, job Job) error {
	result, err := p.submit(ctx, job, true)
	if err != nil {
		return err
	}
	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) submit(ctx context.Context, job Job, wait bool) (chan error, error) {
	p.sendMu.RLock()
	defer p.sendMu.RUnlock()
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}
	p.submitted.Add(1)

	w := jobWrapper{job: job, ctx: ctx}
	if wait {
		w.result = make(chan error, 1)
	}
	p.ensureWorker()
	select {
	case p.jobs <- w:
		p.ensureWorker()
		return w.result, nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return nil, ctx.Err()
	case <-p.quit:
		p.rejected.Add(1)
		return nil, ErrPoolClosed
	}
}

func (p *Pool) ensureWorker() {
	if p.workerCount.Load() < int32(p.maxWorkers) {
		p.trySpawnWorker()
	}
}

func (p *Pool) trySpawnWorker() bool {
	for {
		current := p.workerCount.Load()
		if current >= int32(p.maxWorkers) {
			return false
		}
		if p.workerCount.CompareAndSwap(current, current+1) {
			p.wg.Add(1)
			go p.worker()
			return true
		}
	}
}

func (p *Pool) worker() {
	defer p.wg.Done()
	defer p.workerCount.Add(-1)

	timer := time.NewTimer(p.idleTimeout)
	defer timer.Stop()

	for {
		select {
		case w, ok := <-p.jobs:
			if !ok {
				return
			}

			p.activeCount.Add(1)
			err := p.execute(w)
			p.activeCount.Add(-1)

			if w.result != nil {
				w.result <- err
				close(w.result)
			}
			if err != nil {
				p.failed.Add(1)
			} else {
				p.completed.Add(1)
			}

			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(p.idleTimeout)

		case <-timer.C:
			// 空闲超时，保留最后一个 worker
			if p.workerCount.Load() > 1 {
				return
			}
			timer.Reset(p.idleTimeout)
		}
	}
}

func (p *Pool) execute(w jobWrapper) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("job panicked", zap.Any("panic", r))
			if p.panicHandler != nil {
				p.panicHandler(r)
			}
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return w.job(w.ctx)
}

// Close stops accepting jobs and waits for queued and running jobs to finish
// or ctx to expire.
func (p *Pool) Close(ctx context.Context) error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.quit)
	// 等待所有正在发送的 submit 退出后再关闭队列
	p.sendMu.Lock()
	close(p.jobs)
	p.sendMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns pool statistics.
func (p *Pool) Stats() Stats {
	return Stats{
		Workers:   int(p.workerCount.Load()),
		Active:    int(p.activeCount.Load()),
		Queued:    len(p.jobs),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Rejected:  p.rejected.Load(),
	}
}

// Stats contains pool statistics.
type Stats struct {
	Workers   int   `json:"workers"`
	Active    int   `json:"active"`
	Queued    int   `json:"queued"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Rejected  int64 `json:"rejected"`
}
