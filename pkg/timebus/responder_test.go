package timebus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"

	"github.com/fluxorio/syncpool/pkg/core"
	"github.com/fluxorio/syncpool/pkg/core/concurrency"
	"github.com/fluxorio/syncpool/pkg/timeserver"
)

var fixedNow = time.Date(2024, 3, 9, 14, 5, 0, 0, time.UTC)

type countingRecorder struct {
	mu  sync.Mutex
	ok  int
	bad int
}

func (r *countingRecorder) RecordQuery(transport string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if transport != "nats" {
		return
	}
	if ok {
		r.ok++
	} else {
		r.bad++
	}
}

func connectTestNATS(t *testing.T) *nats.Conn {
	t.Helper()

	s, err := RunEmbeddedServer(EmbeddedConfig{})
	if err != nil {
		t.Fatalf("RunEmbeddedServer: %v", err)
	}
	t.Cleanup(s.Shutdown)

	nc, err := nats.Connect(s.ClientURL())
	if err != nil {
		t.Fatalf("nats.Connect: %v", err)
	}
	t.Cleanup(nc.Close)
	return nc
}

func newTestPool(t *testing.T, workers int) *concurrency.FixedWorkerPool {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	pool := concurrency.NewWorkerPool(ctx, workers, concurrency.WithName("timebus-test"))
	t.Cleanup(func() {
		cancel()
		waitCtx, waitCancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer waitCancel()
		_ = pool.Wait(waitCtx)
	})
	return pool
}

func stopResponder(t *testing.T, r *Responder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestResponder_RequestReply(t *testing.T) {
	nc := connectTestNATS(t)
	pool := newTestPool(t, 2)
	rec := &countingRecorder{}
	sr := tracetest.NewSpanRecorder()
	tp := trace.NewTracerProvider(trace.WithSpanProcessor(sr))

	r := NewResponder(nc, pool, Config{
		Prefix:   "syncpool.test",
		Now:      func() time.Time { return fixedNow },
		Recorder: rec,
		Tracer:   tp.Tracer("test"),
	}, zap.NewNop().Sugar())
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stopResponder(t, r) })

	if err := r.Start(); err != ErrAlreadyStarted {
		t.Errorf("second Start() = %v, want ErrAlreadyStarted", err)
	}
	if r.Subject() != "syncpool.test.time" {
		t.Errorf("Subject() = %q", r.Subject())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	reply, err := Request(core.WithRequestID(ctx, "6f1c7f5e-9a43-4c39-9a1b-0d7b0e0f5a11"), nc, r.Subject(), "query system time")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if want := fixedNow.Format(timeserver.TimeLayout); reply.Answer != want {
		t.Errorf("Answer = %q, want %q", reply.Answer, want)
	}
	if reply.RequestID != "6f1c7f5e-9a43-4c39-9a1b-0d7b0e0f5a11" {
		t.Errorf("RequestID = %q, want the caller's id echoed", reply.RequestID)
	}

	reply, err = Request(ctx, nc, r.Subject(), "nonsense")
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if reply.Answer != timeserver.BadQuery {
		t.Errorf("Answer = %q, want %q", reply.Answer, timeserver.BadQuery)
	}
	if reply.RequestID == "" {
		t.Error("generated request id missing")
	}

	// Counters and spans settle just after the reply is sent.
	deadline := time.Now().Add(2 * time.Second)
	for (r.Stats().Answered != 2 || len(sr.Ended()) != 2) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	st := r.Stats()
	if st.Received != 2 || st.Answered != 2 || st.Dropped != 0 {
		t.Errorf("Stats() = %+v", st)
	}
	rec.mu.Lock()
	if rec.ok != 1 || rec.bad != 1 {
		t.Errorf("recorder ok=%d bad=%d, want 1/1", rec.ok, rec.bad)
	}
	rec.mu.Unlock()

	if got := len(sr.Ended()); got != 2 {
		t.Errorf("ended spans = %d, want 2", got)
	}
}

func TestResponder_BurstQueuesOnPool(t *testing.T) {
	nc := connectTestNATS(t)
	pool := newTestPool(t, 1)

	r := NewResponder(nc, pool, Config{Prefix: "burst"}, zap.NewNop().Sugar())
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stopResponder(t, r) })

	// Park the only worker so requests pile up in the pool queue.
	release := make(chan struct{})
	started := make(chan struct{})
	pool.Execute(concurrency.JobFunc(func() {
		close(started)
		<-release
	}))
	<-started

	const requests = 5
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := Request(ctx, nc, r.Subject(), timeserver.Query); err != nil {
				errs <- err
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.QueueSize() < requests && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := pool.QueueSize(); got != requests {
		t.Errorf("QueueSize() = %d, want %d", got, requests)
	}

	close(release)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("Request() error = %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for r.Stats().Answered != requests && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := r.Stats().Answered; got != requests {
		t.Errorf("Answered = %d, want %d", got, requests)
	}
}

func TestResponder_PublishWithoutReplyIsDropped(t *testing.T) {
	nc := connectTestNATS(t)
	pool := newTestPool(t, 1)

	r := NewResponder(nc, pool, Config{Prefix: "noreply"}, zap.NewNop().Sugar())
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { stopResponder(t, r) })

	if err := nc.Publish(r.Subject(), []byte(timeserver.Query)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	_ = nc.Flush()

	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Dropped != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if st := r.Stats(); st.Dropped != 1 || st.Answered != 0 {
		t.Errorf("Stats() = %+v, want one dropped", st)
	}
}

func TestRequest_NoResponders(t *testing.T) {
	nc := connectTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if _, err := Request(ctx, nc, "nobody.time", timeserver.Query); err == nil {
		t.Error("Request() without responders should fail")
	}
}

func TestNewResponder_FailFast(t *testing.T) {
	pool := newTestPool(t, 1)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic for nil nats connection")
		}
	}()
	_ = NewResponder(nil, pool, Config{}, nil)
}

func TestResponder_StopAnswersQueuedRequests(t *testing.T) {
	nc := connectTestNATS(t)
	pool := newTestPool(t, 1)

	r := NewResponder(nc, pool, Config{Prefix: "stopping"}, zap.NewNop().Sugar())
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	release := make(chan struct{})
	started := make(chan struct{})
	pool.Execute(concurrency.JobFunc(func() {
		close(started)
		<-release
	}))
	<-started

	const requests = 3
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errs := make(chan error, requests)
	for i := 0; i < requests; i++ {
		go func() {
			_, err := Request(ctx, nc, r.Subject(), timeserver.Query)
			errs <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for pool.QueueSize() < requests && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if got := pool.QueueSize(); got != requests {
		t.Fatalf("QueueSize() = %d, want %d", got, requests)
	}

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(ctx) }()

	select {
	case err := <-stopped:
		t.Fatalf("Stop() returned %v with requests still queued", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-stopped:
		if err != nil {
			t.Fatalf("Stop() error = %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not return after the queue drained")
	}

	if got := r.Stats().Answered; got != requests {
		t.Errorf("Answered = %d, want %d", got, requests)
	}
	for i := 0; i < requests; i++ {
		if err := <-errs; err != nil {
			t.Errorf("Request() error = %v", err)
		}
	}
}

func TestResponder_StopGivesUpWhenContextEnds(t *testing.T) {
	nc := connectTestNATS(t)
	pool := newTestPool(t, 1)

	r := NewResponder(nc, pool, Config{Prefix: "stuck"}, zap.NewNop().Sugar())
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	release := make(chan struct{})
	defer close(release)
	started := make(chan struct{})
	pool.Execute(concurrency.JobFunc(func() {
		close(started)
		<-release
	}))
	<-started

	if err := nc.Publish(r.Subject(), []byte(timeserver.Query)); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	_ = nc.Flush()
	deadline := time.Now().Add(2 * time.Second)
	for r.Stats().Received != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Stop(ctx); err == nil {
		t.Error("Stop() with a stuck request should return the context error")
	}
}
