package concurrency

import (
	"time"
)

// Observer receives state transitions from pools and buffers.
// Implementations must be safe for concurrent use and must not block.
type Observer interface {
	// JobQueued is called after a job is appended; depth is the queue length.
	JobQueued(pool string, depth int)
	// JobFinished is called after a job returns or panics.
	JobFinished(pool string, elapsed time.Duration, failed bool)
	// WorkerParked is called when a worker starts waiting for work.
	WorkerParked(pool string)
	// BufferLen is called after every put or take with the new item count.
	BufferLen(buffer string, count int)
	// BufferWait is called when a put ("put") or take ("take") has to wait.
	BufferWait(buffer string, op string)
}

type nopObserver struct{}

func (nopObserver) JobQueued(string, int)                   {}
func (nopObserver) JobFinished(string, time.Duration, bool) {}
func (nopObserver) WorkerParked(string)                     {}
func (nopObserver) BufferLen(string, int)                   {}
func (nopObserver) BufferWait(string, string)               {}

type options struct {
	name      string
	logger    Logger
	observer  Observer
	onFailure func(*JobFailure)
}

// Option configures a WorkerPool or a BoundedBuffer.
type Option func(*options)

// WithName sets the name used in logs and metric labels.
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// WithLogger sets the logger for trace lines and failure reports.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithObserver sets the observer notified on state transitions.
func WithObserver(observer Observer) Option {
	return func(o *options) {
		if observer != nil {
			o.observer = observer
		}
	}
}

// WithJobFailureHandler registers a callback invoked, on the worker goroutine,
// for every job that panics. Ignored by BoundedBuffer.
func WithJobFailureHandler(fn func(*JobFailure)) Option {
	return func(o *options) {
		o.onFailure = fn
	}
}

func buildOptions(defaultName string, opts []Option) options {
	o := options{
		name:     defaultName,
		logger:   defaultLogger(),
		observer: nopObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
