package concurrency

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// FixedWorkerPool implements WorkerPool with a slice-backed FIFO queue guarded
// by one mutex and a single "has work" condition.
type FixedWorkerPool struct {
	mu      sync.Mutex
	hasWork *sync.Cond
	jobs    []Job

	ctx     context.Context
	workers []*worker
	wg      sync.WaitGroup

	opts options
}

type worker struct {
	id      int
	running atomic.Bool
	state   atomic.Int32
}

var _ WorkerPool = (*FixedWorkerPool)(nil)

// NewWorkerPool creates a pool and starts its workers immediately.
// The worker count is clamped with ClampWorkers. Cancelling ctx wakes every
// idle worker and makes it exit; jobs already running finish first.
func NewWorkerPool(ctx context.Context, workers int, opts ...Option) *FixedWorkerPool {
	o := buildOptions("worker-pool", opts)
	n := ClampWorkers(workers)
	if n != workers {
		o.logger.Infof("%s: worker count %d clamped to %d", o.name, workers, n)
	}

	p := &FixedWorkerPool{
		ctx:     ctx,
		workers: make([]*worker, n),
		opts:    o,
	}
	p.hasWork = sync.NewCond(&p.mu)

	context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.hasWork.Broadcast()
	})

	p.wg.Add(n)
	for i := range p.workers {
		w := &worker{id: i + 1}
		w.running.Store(true)
		p.workers[i] = w
		go p.run(w)
	}

	return p
}

// Execute implements WorkerPool
func (p *FixedWorkerPool) Execute(job Job) {
	if job == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.jobs = append(p.jobs, job)
	p.opts.observer.JobQueued(p.opts.name, len(p.jobs))
	p.hasWork.Signal()
}

// Shutdown implements WorkerPool
func (p *FixedWorkerPool) Shutdown() {
	for _, w := range p.workers {
		w.running.Store(false)
	}
	p.opts.logger.Infof("%s: shutdown requested for %d workers", p.opts.name, len(p.workers))
}

// AddWorkers implements WorkerPool. The pool size is fixed.
func (p *FixedWorkerPool) AddWorkers(n int) {}

// RemoveWorkers implements WorkerPool. The pool size is fixed.
func (p *FixedWorkerPool) RemoveWorkers(n int) {}

// QueueSize implements WorkerPool
func (p *FixedWorkerPool) QueueSize() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.jobs)
}

// Workers implements WorkerPool
func (p *FixedWorkerPool) Workers() int {
	return len(p.workers)
}

// Name returns the pool name used in logs and metrics.
func (p *FixedWorkerPool) Name() string {
	return p.opts.name
}

// States returns the current state of every worker, indexed by worker id - 1.
func (p *FixedWorkerPool) States() []WorkerState {
	states := make([]WorkerState, len(p.workers))
	for i, w := range p.workers {
		states[i] = WorkerState(w.state.Load())
	}
	return states
}

// Wait implements WorkerPool. If ctx ends first, a helper goroutine stays
// blocked until the workers do exit; after a bare Shutdown that is only once
// the pool context is cancelled, since parked workers are not woken.
func (p *FixedWorkerPool) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s workers: %w", p.opts.name, ctx.Err())
	}
}

// run is the worker loop. The running flag is only observed between jobs,
// so a worker parked in next() stops once it is woken.
func (p *FixedWorkerPool) run(w *worker) {
	defer p.wg.Done()
	defer w.state.Store(int32(WorkerStopped))

	for w.running.Load() {
		job, ok := p.next(w)
		if !ok {
			p.opts.logger.Debugf("%s: worker %d exiting", p.opts.name, w.id)
			return
		}
		p.execute(w, job)
	}
	p.opts.logger.Debugf("%s: worker %d stopped", p.opts.name, w.id)
}

// next pops the head job, waiting while the queue is empty. It returns false
// when the pool context is cancelled or the worker was told to stop while it
// waited; in the latter case the job stays queued.
func (p *FixedWorkerPool) next(w *worker) (Job, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.jobs) == 0 {
		if p.ctx.Err() != nil {
			return nil, false
		}
		w.state.Store(int32(WorkerParked))
		p.opts.observer.WorkerParked(p.opts.name)
		p.hasWork.Wait()
		w.state.Store(int32(WorkerRunning))
	}
	if p.ctx.Err() != nil || !w.running.Load() {
		return nil, false
	}

	job := p.jobs[0]
	p.jobs[0] = nil
	p.jobs = p.jobs[1:]
	return job, true
}

// execute runs job outside the queue lock and isolates panics so one failing
// job never takes its worker down.
func (p *FixedWorkerPool) execute(w *worker, job Job) {
	start := time.Now()
	failed := false

	defer func() {
		if r := recover(); r != nil {
			failed = true
			failure := &JobFailure{
				Pool:      p.opts.name,
				Worker:    w.id,
				Job:       JobName(job),
				Recovered: r,
				Stack:     debug.Stack(),
			}
			p.opts.logger.Errorf("%v\n%s", failure, failure.Stack)
			if p.opts.onFailure != nil {
				p.opts.onFailure(failure)
			}
		}
		p.opts.observer.JobFinished(p.opts.name, time.Since(start), failed)
	}()

	job.Run()
}
