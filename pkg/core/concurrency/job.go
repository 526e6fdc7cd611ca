package concurrency

import (
	"fmt"
)

// Job is a unit of work with no inputs or outputs beyond its side effects.
// Jobs are executed by a WorkerPool outside of the pool's queue lock.
type Job interface {
	Run()
}

// JobFunc adapts an ordinary function to the Job interface
type JobFunc func()

// Run implements Job
func (f JobFunc) Run() {
	f()
}

// NamedJob wraps a function with a human-readable name used in logs and
// failure reports.
type NamedJob struct {
	name string
	fn   func()
}

// NewNamedJob creates a new NamedJob
func NewNamedJob(name string, fn func()) *NamedJob {
	return &NamedJob{
		name: name,
		fn:   fn,
	}
}

// Run implements Job
func (nj *NamedJob) Run() {
	nj.fn()
}

// Name returns the job name
func (nj *NamedJob) Name() string {
	return nj.name
}

// JobName returns the name of job if it exposes one, otherwise its dynamic type.
func JobName(job Job) string {
	if named, ok := job.(interface{ Name() string }); ok {
		return named.Name()
	}
	return fmt.Sprintf("%T", job)
}

// JobFailure describes a job that panicked inside a worker.
type JobFailure struct {
	Pool      string
	Worker    int
	Job       string
	Recovered interface{}
	Stack     []byte
}

// Error implements error so a failure can be passed along as one.
func (f *JobFailure) Error() string {
	return fmt.Sprintf("job %s panicked on %s worker %d: %v", f.Job, f.Pool, f.Worker, f.Recovered)
}
