// Package metrics exposes the node's Prometheus instrumentation: pool,
// miner and RPC counters registered on a private registry so embedding
// this node in a test process never collides with the default one.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the node's counters, gauges and histograms. The node
// updates TxAdmitted, TxRejected, BlocksMined and BlockGasUsed;
// PoolReady, PoolPending, RPCRequests and RPCDuration are registered but
// never updated.
type Metrics struct {
	registry *prometheus.Registry

	TxAdmitted   prometheus.Counter
	TxRejected   *prometheus.CounterVec
	BlocksMined  prometheus.Counter
	BlockGasUsed prometheus.Histogram
	PoolReady    prometheus.Gauge
	PoolPending  prometheus.Gauge
	RPCRequests  *prometheus.CounterVec
	RPCDuration  *prometheus.HistogramVec
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		TxAdmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devnode", Subsystem: "txpool", Name: "admitted_total",
			Help: "Transactions accepted into the pool.",
		}),
		TxRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devnode", Subsystem: "txpool", Name: "rejected_total",
			Help: "Transactions rejected by the pool, labeled by reason.",
		}, []string{"reason"}),
		BlocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "devnode", Subsystem: "builder", Name: "blocks_mined_total",
			Help: "Blocks successfully committed.",
		}),
		BlockGasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "devnode", Subsystem: "builder", Name: "block_gas_used",
			Help:    "Gas used per mined block.",
			Buckets: prometheus.ExponentialBuckets(21000, 4, 10),
		}),
		PoolReady: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devnode", Subsystem: "txpool", Name: "ready_size",
			Help: "Current size of the pool's ready set.",
		}),
		PoolPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "devnode", Subsystem: "txpool", Name: "pending_size",
			Help: "Current size of the pool's pending (nonce-gapped) set.",
		}),
		RPCRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "devnode", Subsystem: "rpc", Name: "requests_total",
			Help: "JSON-RPC requests handled, labeled by method and outcome.",
		}, []string{"method", "outcome"}),
		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "devnode", Subsystem: "rpc", Name: "request_duration_seconds",
			Help:    "JSON-RPC handler latency, labeled by method.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method"}),
	}
	reg.MustRegister(
		m.TxAdmitted, m.TxRejected, m.BlocksMined, m.BlockGasUsed,
		m.PoolReady, m.PoolPending, m.RPCRequests, m.RPCDuration,
	)
	return m
}

// Handler returns the http.Handler /metrics should be served from.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
