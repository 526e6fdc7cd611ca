package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/fluxorio/syncpool/pkg/core/concurrency"
)

// PoolSnapshotter is the read-only view of a worker pool needed at scrape time.
// *concurrency.FixedWorkerPool satisfies it.
type PoolSnapshotter interface {
	Name() string
	QueueSize() int
	States() []concurrency.WorkerState
}

var workerStates = []concurrency.WorkerState{
	concurrency.WorkerRunning,
	concurrency.WorkerParked,
	concurrency.WorkerStopped,
}

type poolCollector struct {
	pool      PoolSnapshotter
	queueDesc *prometheus.Desc
	stateDesc *prometheus.Desc
}

func newPoolCollector(pool PoolSnapshotter) *poolCollector {
	labels := prometheus.Labels{"pool": pool.Name()}
	return &poolCollector{
		pool: pool,
		queueDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "queue_length"),
			"Jobs waiting in the pool queue",
			nil, labels,
		),
		stateDesc: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "pool", "workers"),
			"Workers by state",
			[]string{"state"}, labels,
		),
	}
}

func (c *poolCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.queueDesc
	ch <- c.stateDesc
}

func (c *poolCollector) Collect(ch chan<- prometheus.Metric) {
	ch <- prometheus.MustNewConstMetric(c.queueDesc, prometheus.GaugeValue, float64(c.pool.QueueSize()))

	counts := make(map[concurrency.WorkerState]int, len(workerStates))
	for _, s := range c.pool.States() {
		counts[s]++
	}
	for _, s := range workerStates {
		ch <- prometheus.MustNewConstMetric(c.stateDesc, prometheus.GaugeValue, float64(counts[s]), s.String())
	}
}
