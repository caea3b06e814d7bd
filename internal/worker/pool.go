// Package worker runs scan tasks on a bounded, throttle-aware pool.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"
)

// Task is one unit of scan work.
type Task func(ctx context.Context) error

// Pool executes tasks on up to maxWorkers goroutines, shrinking under
// provider throttling. In synchronous mode tasks run inline on Submit,
// which keeps tests deterministic.
type Pool struct {
	limiter *Limiter
	tasks   chan Task
	quit    chan struct{}
	log     *slog.Logger
	sync    bool

	wg      sync.WaitGroup
	pending sync.WaitGroup

	mu     sync.Mutex
	active int
	stats  Stats
}

// Stats is a snapshot of the pool's counters.
type Stats struct {
	ActiveWorkers  int
	Concurrency    int
	TasksCompleted int64
	TasksFailed    int64
}

// NewPool sizes the pool. maxWorkers below one is clamped to one.
func NewPool(maxWorkers int, synchronous bool, log *slog.Logger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	return &Pool{
		limiter: NewLimiter(1, maxWorkers),
		tasks:   make(chan Task, 4*maxWorkers),
		quit:    make(chan struct{}),
		log:     log,
		sync:    synchronous,
	}
}

// Start begins the supervisor loop. No-op in synchronous mode.
func (p *Pool) Start(ctx context.Context) {
	if p.sync {
		return
	}
	go p.supervise(ctx)
}

// Submit queues one task, or runs it inline in synchronous mode.
func (p *Pool) Submit(ctx context.Context, t Task) {
	if p.sync {
		p.execute(ctx, t)
		return
	}
	p.pending.Add(1)
	select {
	case p.tasks <- t:
	case <-ctx.Done():
		p.pending.Done()
	}
}

// Drain blocks until every submitted task has finished.
func (p *Pool) Drain() {
	p.pending.Wait()
}

// Stop drains the pool and retires its workers. Running tasks finish;
// nothing new starts.
func (p *Pool) Stop() {
	if p.sync {
		return
	}
	p.pending.Wait()
	close(p.quit)
	p.wg.Wait()
}

// Snapshot returns current counters.
func (p *Pool) Snapshot() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.stats
	s.ActiveWorkers = p.active
	s.Concurrency = p.limiter.Target()
	return s
}

// supervise keeps the worker count tracking the limiter's target.
// Workers above target retire themselves after their current task.
func (p *Pool) supervise(ctx context.Context) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			target := p.limiter.Target()
			for p.activeCount() < target {
				p.wg.Add(1)
				go p.worker(ctx)
			}
		}
	}
}

func (p *Pool) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *Pool) worker(ctx context.Context) {
	p.mu.Lock()
	p.active++
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.active--
		p.mu.Unlock()
		p.wg.Done()
	}()

	for {
		if p.activeCount() > p.limiter.Target() {
			return
		}
		select {
		case <-ctx.Done():
			p.abandonQueued()
			return
		case <-p.quit:
			return
		case t := <-p.tasks:
			p.execute(ctx, t)
			p.pending.Done()
		}
	}
}

// abandonQueued releases tasks still queued at cancellation so Drain and
// Stop cannot hang on work nobody will run.
func (p *Pool) abandonQueued() {
	for {
		select {
		case <-p.tasks:
			p.pending.Done()
		default:
			return
		}
	}
}

// execute runs one task with panic containment and limiter feedback. A
// panicking task must not take the worker (or the process) with it.
func (p *Pool) execute(ctx context.Context, t Task) {
	start := time.Now()
	err := p.recoverRun(ctx, t)
	p.limiter.Feedback(time.Since(start), IsThrottle(err))

	p.mu.Lock()
	if err != nil {
		p.stats.TasksFailed++
	} else {
		p.stats.TasksCompleted++
	}
	p.mu.Unlock()

	if err != nil {
		p.log.Error("scan task failed", "error", err)
	}
}

func (p *Pool) recoverRun(ctx context.Context, t Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panic: %v\n%s", r, debug.Stack())
		}
	}()
	return t(ctx)
}
