// Package metrics exposes per-worker counters over Prometheus, replacing
// the original C++ worker's inline Stats record (bytes_in, bytes_out,
// put_in, put_out, get_in in original_source/src/worker/worker.cc) with a
// registered client_golang collector set.
package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkerMetrics is one worker's collector set, labeled by rank so a shared
// registry can scrape a multi-worker single-binary demo without collision.
type WorkerMetrics struct {
	BytesIn         prometheus.Counter
	BytesOut        prometheus.Counter
	PutsIn          prometheus.Counter
	PutsOut         prometheus.Counter
	GetsIn          prometheus.Counter
	GetsOut         prometheus.Counter
	OutstandingSend prometheus.Gauge
	SendRetries     prometheus.Counter
}

// NewWorkerMetrics builds and registers the collector set for rank against
// the default registry. Registration failure (duplicate rank) is ignored
// after unregistering the stale collector, so constructing metrics for the
// same rank twice in one process (as tests do) does not panic.
func NewWorkerMetrics(rank int) *WorkerMetrics {
	labels := prometheus.Labels{"worker": strconv.Itoa(rank)}
	m := &WorkerMetrics{
		BytesIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "bytes_in_total",
			Help: "Bytes received from PUT/GET traffic.", ConstLabels: labels,
		}),
		BytesOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "bytes_out_total",
			Help: "Bytes sent as PUT/GET traffic.", ConstLabels: labels,
		}),
		PutsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "puts_in_total",
			Help: "Delta fragments applied to locally owned shards.", ConstLabels: labels,
		}),
		PutsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "puts_out_total",
			Help: "Delta fragments sent to remote shard owners.", ConstLabels: labels,
		}),
		GetsIn: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "gets_in_total",
			Help: "GET requests served from local shards.", ConstLabels: labels,
		}),
		GetsOut: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "gets_out_total",
			Help: "GET requests issued for remote keys.", ConstLabels: labels,
		}),
		OutstandingSend: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "outstanding_sends",
			Help: "Non-blocking sends awaiting completion.", ConstLabels: labels,
		}),
		SendRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "piccolo", Subsystem: "worker", Name: "send_retries_total",
			Help: "Sends cancelled and retransmitted after timing out.", ConstLabels: labels,
		}),
	}
	for _, c := range []prometheus.Collector{
		m.BytesIn, m.BytesOut, m.PutsIn, m.PutsOut, m.GetsIn, m.GetsOut,
		m.OutstandingSend, m.SendRetries,
	} {
		if err := prometheus.Register(c); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				prometheus.Unregister(are.ExistingCollector)
				prometheus.MustRegister(c)
			}
		}
	}
	return m
}
