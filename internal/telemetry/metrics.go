package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Metrics tracks execution engine metrics.
type Metrics struct {
	// Dispatch.
	CallsTotal       *prometheus.CounterVec // entry, result
	TrapsTotal       *prometheus.CounterVec // reason
	GasUsed          prometheus.Histogram
	CallDepth        prometheus.Histogram
	ExecutionLatency prometheus.Histogram

	// Code cache.
	CodeCacheHits   prometheus.Counter
	CodeCacheMisses prometheus.Counter
	CodeUploads     prometheus.Counter

	// Rent.
	Evictions prometheus.Counter

	registry *prometheus.Registry
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	m := newMetrics(namespace)
	m.registry = reg

	reg.MustRegister(
		m.CallsTotal, m.TrapsTotal,
		m.GasUsed, m.CallDepth, m.ExecutionLatency,
		m.CodeCacheHits, m.CodeCacheMisses, m.CodeUploads,
		m.Evictions,
	)
	return m
}

func newMetrics(namespace string) *Metrics {
	return &Metrics{
		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "dispatches_total",
			Help:      "Top-level dispatches by entry point and result kind.",
		}, []string{"entry", "result"}),
		TrapsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "traps_total",
			Help:      "Top-level dispatches that trapped, by reason.",
		}, []string{"reason"}),
		GasUsed: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "gas_used",
			Help:      "Gas used per top-level dispatch.",
			Buckets:   prometheus.ExponentialBuckets(1000, 10, 8),
		}),
		CallDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "max_call_depth",
			Help:      "Deepest frame reached per top-level dispatch.",
			Buckets:   prometheus.LinearBuckets(0, 4, 9),
		}),
		ExecutionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "execution",
			Name:      "latency_seconds",
			Help:      "Top-level dispatch latency in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),

		CodeCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codecache",
			Name:      "hits_total",
			Help:      "Compiled module lookups served from memory.",
		}),
		CodeCacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codecache",
			Name:      "misses_total",
			Help:      "Compiled module lookups that loaded an artifact from the store.",
		}),
		CodeUploads: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "codecache",
			Name:      "uploads_total",
			Help:      "Code blobs validated and stored.",
		}),

		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rent",
			Name:      "evictions_total",
			Help:      "Contracts removed for unpaid rent.",
		}),
	}
}

// NopMetrics returns a Metrics instance that discards all observations.
func NopMetrics() *Metrics {
	m := newMetrics("nop")
	m.registry = prometheus.NewRegistry()
	return m
}

// Registry returns the Prometheus registry for this metrics instance.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// MetricsServer serves Prometheus metrics via HTTP.
type MetricsServer struct {
	server *http.Server
	logger *zap.Logger
}

// NewMetricsServer creates a metrics HTTP server.
func NewMetricsServer(addr string, metrics *Metrics, logger *zap.Logger) *MetricsServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	return &MetricsServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger,
	}
}

// Start begins serving metrics.
func (ms *MetricsServer) Start() error {
	ms.logger.Info("metrics server starting", zap.String("addr", ms.server.Addr))
	if err := ms.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop gracefully shuts down the metrics server.
func (ms *MetricsServer) Stop() error {
	return ms.server.Close()
}
