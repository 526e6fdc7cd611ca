// Package prometheus exports worker pool, bounded buffer and time query
// metrics to Prometheus.
package prometheus

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/common/expfmt"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
)

const namespace = "syncpool"

// Metrics holds all Prometheus metrics. It implements concurrency.Observer,
// so it can be handed to pools and buffers with concurrency.WithObserver.
type Metrics struct {
	registerer prometheus.Registerer

	// Worker pool metrics
	JobsQueued   *prometheus.CounterVec
	JobsFinished *prometheus.CounterVec
	JobDuration  *prometheus.HistogramVec
	WorkerParks  *prometheus.CounterVec

	// Bounded buffer metrics
	BufferItems *prometheus.GaugeVec
	BufferWaits *prometheus.CounterVec

	// Time query metrics
	TimeQueries *prometheus.CounterVec
}

var _ concurrency.Observer = (*Metrics)(nil)

// NewRegistry returns a registry preloaded with the Go runtime and process
// collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// NewMetrics creates the metric families on registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.NewRegistry()
	}
	factory := promauto.With(registerer)

	return &Metrics{
		registerer: registerer,

		JobsQueued: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_jobs_queued_total",
				Help:      "Jobs submitted to a worker pool",
			},
			[]string{"pool"},
		),
		JobsFinished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_jobs_finished_total",
				Help:      "Jobs a worker pool finished, by outcome",
			},
			[]string{"pool", "outcome"}, // outcome: ok, panic
		),
		JobDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pool_job_duration_seconds",
				Help:      "Job run time in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10), // 100us to ~26s
			},
			[]string{"pool"},
		),
		WorkerParks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pool_worker_parks_total",
				Help:      "Times a worker started waiting for work",
			},
			[]string{"pool"},
		),
		BufferItems: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "buffer_items",
				Help:      "Items currently held by a bounded buffer",
			},
			[]string{"buffer"},
		),
		BufferWaits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "buffer_waits_total",
				Help:      "Times a put or take had to wait",
			},
			[]string{"buffer", "op"},
		),
		TimeQueries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "time_queries_total",
				Help:      "Time protocol queries answered, by transport and result",
			},
			[]string{"transport", "result"}, // result: ok, bad_query
		),
	}
}

// JobQueued implements concurrency.Observer
func (m *Metrics) JobQueued(pool string, depth int) {
	m.JobsQueued.WithLabelValues(pool).Inc()
}

// JobFinished implements concurrency.Observer
func (m *Metrics) JobFinished(pool string, elapsed time.Duration, failed bool) {
	outcome := "ok"
	if failed {
		outcome = "panic"
	}
	m.JobsFinished.WithLabelValues(pool, outcome).Inc()
	m.JobDuration.WithLabelValues(pool).Observe(elapsed.Seconds())
}

// WorkerParked implements concurrency.Observer
func (m *Metrics) WorkerParked(pool string) {
	m.WorkerParks.WithLabelValues(pool).Inc()
}

// BufferLen implements concurrency.Observer
func (m *Metrics) BufferLen(buffer string, count int) {
	m.BufferItems.WithLabelValues(buffer).Set(float64(count))
}

// BufferWait implements concurrency.Observer
func (m *Metrics) BufferWait(buffer string, op string) {
	m.BufferWaits.WithLabelValues(buffer, op).Inc()
}

// RecordQuery counts one answered time query.
func (m *Metrics) RecordQuery(transport string, ok bool) {
	result := "ok"
	if !ok {
		result = "bad_query"
	}
	m.TimeQueries.WithLabelValues(transport, result).Inc()
}

// TrackPool registers a collector that reports the pool's queue length and
// worker states at scrape time.
func (m *Metrics) TrackPool(pool PoolSnapshotter) error {
	return m.registerer.Register(newPoolCollector(pool))
}

// Handler returns an HTTP handler serving the metrics gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// WriteText writes every family gathered by g whose name starts with prefix
// in the Prometheus text exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer, prefix string) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("gather metrics: %w", err)
	}
	for _, mf := range families {
		if !strings.HasPrefix(mf.GetName(), prefix) {
			continue
		}
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("write %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
