// Package timebus answers the time protocol over NATS request/reply.
// Every request runs as a job on a WorkerPool, so a burst of requests queues
// up instead of spawning unbounded goroutines.
package timebus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/fluxorio/syncpool/pkg/core"
	"github.com/fluxorio/syncpool/pkg/core/concurrency"
	"github.com/fluxorio/syncpool/pkg/core/failfast"
	"github.com/fluxorio/syncpool/pkg/observability/tracing"
	"github.com/fluxorio/syncpool/pkg/timeserver"
)

// ErrAlreadyStarted is returned by Start on a running responder.
var ErrAlreadyStarted = errors.New("time responder already started")

// Config configures a Responder.
type Config struct {
	// Prefix is prepended to the subject. Default: "syncpool".
	Prefix string
	// QueueGroup spreads requests over every responder in the group.
	// Default: "time-responders".
	QueueGroup string
	// Now is the clock used for answers; nil means time.Now.
	Now func() time.Time
	// Recorder counts answered queries; nil disables counting.
	Recorder timeserver.QueryRecorder
	// Tracer records one span per request; nil uses the global provider.
	Tracer trace.Tracer
}

// Subject returns the request subject for prefix.
func Subject(prefix string) string {
	if prefix == "" {
		prefix = "syncpool"
	}
	return prefix + ".time"
}

// Responder subscribes to the time subject and answers from pool workers.
type Responder struct {
	nc     *nats.Conn
	pool   concurrency.WorkerPool
	cfg    Config
	logger core.Logger

	mu  sync.Mutex
	sub *nats.Subscription

	// inflight counts requests handed to the pool and not yet answered.
	inflight sync.WaitGroup

	received atomic.Int64
	answered atomic.Int64
	dropped  atomic.Int64
}

// Stats is a snapshot of responder counters.
type Stats struct {
	Subject  string `json:"subject"`
	Received int64  `json:"received"`
	Answered int64  `json:"answered"`
	Dropped  int64  `json:"dropped"`
}

// NewResponder creates a responder. nc and pool are required.
func NewResponder(nc *nats.Conn, pool concurrency.WorkerPool, cfg Config, logger core.Logger) *Responder {
	failfast.NotNil(nc, "nats connection")
	failfast.NotNil(pool, "worker pool")

	if cfg.QueueGroup == "" {
		cfg.QueueGroup = "time-responders"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Tracer == nil {
		cfg.Tracer = tracing.Tracer()
	}
	if logger == nil {
		logger = core.Named("timebus")
	}

	return &Responder{nc: nc, pool: pool, cfg: cfg, logger: logger}
}

// Subject returns the subject this responder listens on.
func (r *Responder) Subject() string {
	return Subject(r.cfg.Prefix)
}

// Start queue-subscribes to the time subject.
func (r *Responder) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return ErrAlreadyStarted
	}

	sub, err := r.nc.QueueSubscribe(r.Subject(), r.cfg.QueueGroup, r.onMsg)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", r.Subject(), err)
	}
	r.sub = sub
	r.logger.Infof("time responder listening on %s (queue %s)", r.Subject(), r.cfg.QueueGroup)
	return nil
}

// Stop drains the subscription and waits until every request already handed
// to the pool has been answered. The pool must keep running until Stop
// returns; if ctx ends first the remaining requests are abandoned and the
// context error is returned.
func (r *Responder) Stop(ctx context.Context) error {
	r.mu.Lock()
	sub := r.sub
	r.sub = nil
	r.mu.Unlock()

	if sub == nil {
		return nil
	}
	if err := sub.Drain(); err != nil {
		return fmt.Errorf("drain %s: %w", r.Subject(), err)
	}

	// Drain is asynchronous; the subscription turns invalid once the last
	// buffered message has been delivered to onMsg.
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	for sub.IsValid() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %w", r.Subject(), ctx.Err())
		case <-ticker.C:
		}
	}

	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for %s requests: %w", r.Subject(), ctx.Err())
	}
}

// Stats returns current responder counters.
func (r *Responder) Stats() Stats {
	return Stats{
		Subject:  r.Subject(),
		Received: r.received.Load(),
		Answered: r.answered.Load(),
		Dropped:  r.dropped.Load(),
	}
}

func (r *Responder) onMsg(m *nats.Msg) {
	r.received.Add(1)

	ctx := context.Background()
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, propagation.HeaderCarrier(http.Header(m.Header)))
	}
	r.inflight.Add(1)
	r.pool.Execute(tracing.WrapFunc(ctx, r.cfg.Tracer, "timebus.answer", func(ctx context.Context) {
		defer r.inflight.Done()
		r.respond(ctx, m)
	}))
}

func (r *Responder) respond(ctx context.Context, m *nats.Msg) {
	if m.Reply == "" {
		r.dropped.Add(1)
		r.logger.Warnf("time request on %s has no reply subject", m.Subject)
		return
	}

	var rid string
	if m.Header != nil {
		rid = m.Header.Get(core.RequestIDHeader)
	}
	rid = core.EnsureRequestID(rid)

	query := string(m.Data)
	answer := timeserver.Answer(query, r.cfg.Now())
	if r.cfg.Recorder != nil {
		r.cfg.Recorder.RecordQuery("nats", timeserver.IsQuery(query))
	}

	reply := &nats.Msg{
		Subject: m.Reply,
		Data:    []byte(answer),
		Header:  nats.Header{},
	}
	reply.Header.Set(core.RequestIDHeader, rid)
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(http.Header(reply.Header)))

	if err := m.RespondMsg(reply); err != nil {
		r.dropped.Add(1)
		r.logger.Errorf("request %s: respond: %v", rid, err)
		return
	}
	r.answered.Add(1)
	r.logger.Debugf("request %s: answered %q", rid, answer)
}
