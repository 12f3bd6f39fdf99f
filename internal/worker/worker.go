// Package worker runs fire-and-forget side effects (preview enrichment, creation email)
// off the request path on a bounded queue drained by a fixed set of goroutines.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Task is one unit of background work. Run receives a context bounded by the pool's
// task timeout.
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// Submitter is what request-path code depends on.
type Submitter interface {
	Submit(t Task) bool
}

// Config holds pool settings.
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	Logger      *slog.Logger
}

// Pool is a bounded task queue. Submit never blocks; a full queue drops the task.
type Pool struct {
	cfg     Config
	queue   chan Task
	mu      sync.RWMutex
	closed  bool
	started bool
	g       *errgroup.Group
	cancel  context.CancelFunc
	dropped atomic.Int64
	failed  atomic.Int64
}

func New(cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Pool{cfg: cfg, queue: make(chan Task, cfg.QueueSize)}
}

// Start launches the workers. Cancellation of ctx does not stop them; call Stop.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel
	p.g = &errgroup.Group{}

	for i := 0; i < p.cfg.Workers; i++ {
		p.g.Go(func() error {
			for t := range p.queue {
				p.run(base, t)
			}
			return nil
		})
	}
}

// Submit enqueues t and reports whether it was accepted.
func (p *Pool) Submit(t Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		p.dropped.Add(1)
		p.cfg.Logger.Warn("task dropped, pool stopped", "task", t.Name)
		return false
	}

	select {
	case p.queue <- t:
		return true
	default:
		p.dropped.Add(1)
		p.cfg.Logger.Warn("task dropped, queue full", "task", t.Name, "queue_size", p.cfg.QueueSize)
		return false
	}
}

// Stop refuses new tasks and waits for queued ones to finish. If ctx ends first the
// running tasks are canceled.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		_ = p.g.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool stop: %w", ctx.Err())
	}
}

// Dropped is the number of tasks refused by Submit.
func (p *Pool) Dropped() int64 { return p.dropped.Load() }

// Failed is the number of tasks that returned an error or panicked.
func (p *Pool) Failed() int64 { return p.failed.Load() }

func (p *Pool) run(base context.Context, t Task) {
	ctx, cancel := context.WithTimeout(base, p.cfg.TaskTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.cfg.Logger.Error("task panicked",
				"task", t.Name,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()

	if err := t.Run(ctx); err != nil {
		p.failed.Add(1)
		p.cfg.Logger.Warn("task failed",
			"task", t.Name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return
	}
	p.cfg.Logger.Debug("task done", "task", t.Name, "duration_ms", time.Since(start).Milliseconds())
}
