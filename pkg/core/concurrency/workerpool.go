package concurrency

import (
	"context"
)

const (
	// MinWorkers is the smallest worker count a pool runs with.
	MinWorkers = 1
	// MaxWorkers is the largest worker count a pool runs with.
	MaxWorkers = 10
	// DefaultWorkers is the pool size applications configure by default.
	DefaultWorkers = 5
)

// WorkerPool decouples job submission from job execution.
// A fixed set of workers drains one unbounded FIFO queue.
type WorkerPool interface {
	// Execute appends job to the queue and wakes one idle worker.
	// It never blocks on queue length; nil jobs are ignored.
	Execute(job Job)

	// Shutdown tells every worker to stop before its next job.
	// Queued jobs are neither drained nor rejected, and idle workers are not
	// woken: they stop once a job arrives or the pool context is cancelled.
	Shutdown()

	// AddWorkers and RemoveWorkers are part of the contract but the pool size
	// is fixed at construction; both are no-ops.
	AddWorkers(n int)
	RemoveWorkers(n int)

	// QueueSize returns a best-effort snapshot of the queue length.
	QueueSize() int

	// Workers returns the number of workers after clamping.
	Workers() int

	// Wait blocks until every worker has exited or ctx is done.
	Wait(ctx context.Context) error
}

// WorkerState is the lifecycle position of a single worker.
type WorkerState int32

const (
	WorkerRunning WorkerState = iota
	WorkerParked
	WorkerStopped
)

func (s WorkerState) String() string {
	switch s {
	case WorkerRunning:
		return "running"
	case WorkerParked:
		return "parked"
	case WorkerStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// ClampWorkers maps a requested worker count into [MinWorkers, MaxWorkers].
func ClampWorkers(n int) int {
	switch {
	case n < MinWorkers:
		return MinWorkers
	case n > MaxWorkers:
		return MaxWorkers
	default:
		return n
	}
}
