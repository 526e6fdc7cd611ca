package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
)

func newRecorder(t *testing.T) (*tracetest.SpanRecorder, trace.Tracer) {
	t.Helper()
	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })
	return sr, tp.Tracer("test")
}

func TestWrap_RecordsSpanPerJob(t *testing.T) {
	sr, tracer := newRecorder(t)

	ctx, parent := tracer.Start(context.Background(), "request")
	ran := false
	job := Wrap(ctx, tracer, concurrency.NewNamedJob("answer", func() { ran = true }))
	job.Run()
	parent.End()

	if !ran {
		t.Fatal("wrapped job did not run")
	}
	if got := concurrency.JobName(job); got != "answer" {
		t.Errorf("JobName() = %q, want answer", got)
	}

	spans := sr.Ended()
	if len(spans) != 2 {
		t.Fatalf("ended spans = %d, want 2", len(spans))
	}
	jobSpan := spans[0]
	if jobSpan.Name() != "job answer" {
		t.Errorf("span name = %q, want %q", jobSpan.Name(), "job answer")
	}
	if jobSpan.Parent().SpanID() != parent.SpanContext().SpanID() {
		t.Error("job span should be a child of the submitting span")
	}
}

func TestWrap_PanicMarksSpan(t *testing.T) {
	sr, tracer := newRecorder(t)

	job := Wrap(context.Background(), tracer, concurrency.JobFunc(func() { panic("nope") }))
	func() {
		defer func() {
			if r := recover(); r != "nope" {
				t.Errorf("recovered %v, want nope", r)
			}
		}()
		job.Run()
	}()

	spans := sr.Ended()
	if len(spans) != 1 {
		t.Fatalf("ended spans = %d, want 1", len(spans))
	}
	if spans[0].Status().Code != codes.Error {
		t.Errorf("status = %v, want Error", spans[0].Status().Code)
	}
	if len(spans[0].Events()) == 0 {
		t.Error("panic should be recorded as an event")
	}
}

func TestWrapFunc_OnPool(t *testing.T) {
	sr, tracer := newRecorder(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool := concurrency.NewWorkerPool(ctx, 2)

	done := make(chan trace.SpanContext, 1)
	pool.Execute(WrapFunc(context.Background(), tracer, "pooled", func(ctx context.Context) {
		done <- trace.SpanContextFromContext(ctx)
	}))

	select {
	case sc := <-done:
		if !sc.IsValid() {
			t.Error("job context carries no span")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for traced job")
	}

	deadline := time.Now().Add(2 * time.Second)
	for len(sr.Ended()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(sr.Ended()) != 1 {
		t.Errorf("ended spans = %d, want 1", len(sr.Ended()))
	}
}

func TestNewStdoutProvider_Exports(t *testing.T) {
	var buf bytes.Buffer
	tp, err := NewStdoutProvider(Config{Enabled: true, ServiceName: "svc", Writer: &buf})
	if err != nil {
		t.Fatalf("NewStdoutProvider() error = %v", err)
	}

	_, span := tp.Tracer("test").Start(context.Background(), "exported")
	span.End()
	if err := tp.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown() error = %v", err)
	}

	if !strings.Contains(buf.String(), `"exported"`) {
		t.Errorf("exporter output missing span:\n%s", buf.String())
	}
}

func TestSetup_Disabled(t *testing.T) {
	tp, shutdown, err := Setup(Config{})
	if err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	_, span := tp.Tracer("test").Start(context.Background(), "noop")
	if span.SpanContext().IsValid() {
		t.Error("disabled tracing should produce invalid span contexts")
	}
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown() error = %v", err)
	}
}
