package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
)

// tracedJob runs fn inside a span started when the job is picked up by a
// worker. The span is a child of the context captured at submission.
type tracedJob struct {
	ctx      context.Context
	tracer   trace.Tracer
	name     string
	queuedAt time.Time
	fn       func(ctx context.Context)
}

// Wrap returns a Job that runs job inside a span named "job <name>".
// A panic is recorded on the span and re-raised so the pool still sees it.
func Wrap(ctx context.Context, tracer trace.Tracer, job concurrency.Job) concurrency.Job {
	return WrapFunc(ctx, tracer, concurrency.JobName(job), func(context.Context) { job.Run() })
}

// WrapFunc is like Wrap but hands the span context to fn.
func WrapFunc(ctx context.Context, tracer trace.Tracer, name string, fn func(ctx context.Context)) concurrency.Job {
	return &tracedJob{
		ctx:      ctx,
		tracer:   tracer,
		name:     name,
		queuedAt: time.Now(),
		fn:       fn,
	}
}

// Name implements the optional naming used in failure reports.
func (j *tracedJob) Name() string {
	return j.name
}

// Run implements concurrency.Job
func (j *tracedJob) Run() {
	ctx, span := j.tracer.Start(j.ctx, "job "+j.name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("job.name", j.name),
			attribute.Int64("job.queue_wait_us", time.Since(j.queuedAt).Microseconds()),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			span.RecordError(fmt.Errorf("panic: %v", r))
			span.SetStatus(codes.Error, "job panicked")
			panic(r)
		}
	}()

	j.fn(ctx)
}
