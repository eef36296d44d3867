package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all pipewright metrics
const (
	Namespace = "pipewright"
)

var durationBuckets = []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

// MetricsCollector aggregates all metrics for a pipewright component
type MetricsCollector struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPRequestSize     *prometheus.HistogramVec
	HTTPResponseSize    *prometheus.HistogramVec

	// Compilation metrics
	CompileTotal      *prometheus.CounterVec
	CompileDuration   *prometheus.HistogramVec
	PipelineStages    *prometheus.HistogramVec
	PipelineCacheHits prometheus.Counter
	PipelineCacheMiss prometheus.Counter

	// Engine metrics
	EngineExecutions  *prometheus.CounterVec
	EngineDuration    *prometheus.HistogramVec
	DocumentsReturned *prometheus.CounterVec

	// gRPC metrics
	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

// NewMetricsCollector creates a new metrics collector for a component and
// registers it with reg. A nil reg uses the default registerer.
func NewMetricsCollector(component string, reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		// HTTP metrics
		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPRequestSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_request_size_bytes",
				Help:      "HTTP request size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),
		HTTPResponseSize: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "http_response_size_bytes",
				Help:      "HTTP response size in bytes",
				Buckets:   prometheus.ExponentialBuckets(100, 10, 8),
			},
			[]string{"method", "path"},
		),

		// Compilation metrics
		CompileTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "compile_total",
				Help:      "Total number of query compilations",
			},
			[]string{"collection", "status"},
		),
		CompileDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "compile_duration_seconds",
				Help:      "Query compilation duration in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"collection"},
		),
		PipelineStages: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "pipeline_stages",
				Help:      "Number of stages in compiled pipelines",
				Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10, 15, 20},
			},
			[]string{"collection"},
		),
		PipelineCacheHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "pipeline_cache_hits_total",
				Help:      "Total number of compiled pipeline cache hits",
			},
		),
		PipelineCacheMiss: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "pipeline_cache_misses_total",
				Help:      "Total number of compiled pipeline cache misses",
			},
		),

		// Engine metrics
		EngineExecutions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "engine_executions_total",
				Help:      "Total number of pipelines sent to the aggregation engine",
			},
			[]string{"collection", "operation", "status"},
		),
		EngineDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "engine_duration_seconds",
				Help:      "Aggregation engine round trip duration in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"collection", "operation"},
		),
		DocumentsReturned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "documents_returned_total",
				Help:      "Total number of documents returned by the engine",
			},
			[]string{"collection"},
		),

		// gRPC metrics
		GRPCRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "grpc_requests_total",
				Help:      "Total number of gRPC requests",
			},
			[]string{"method", "status"},
		),
		GRPCRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: component,
				Name:      "grpc_request_duration_seconds",
				Help:      "gRPC request duration in seconds",
				Buckets:   durationBuckets,
			},
			[]string{"method"},
		),
	}
}

// RecordHTTPRequest records HTTP request metrics
func (m *MetricsCollector) RecordHTTPRequest(method, path string, status int, duration time.Duration, requestSize, responseSize int64) {
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusClass(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	m.HTTPRequestSize.WithLabelValues(method, path).Observe(float64(requestSize))
	m.HTTPResponseSize.WithLabelValues(method, path).Observe(float64(responseSize))
}

// RecordCompile records a query compilation. stages is ignored on failure.
func (m *MetricsCollector) RecordCompile(collection, status string, duration time.Duration, stages int) {
	m.CompileTotal.WithLabelValues(collection, status).Inc()
	m.CompileDuration.WithLabelValues(collection).Observe(duration.Seconds())
	if status == StatusOK {
		m.PipelineStages.WithLabelValues(collection).Observe(float64(stages))
	}
}

// RecordCacheHit records a pipeline cache hit
func (m *MetricsCollector) RecordCacheHit() {
	m.PipelineCacheHits.Inc()
}

// RecordCacheMiss records a pipeline cache miss
func (m *MetricsCollector) RecordCacheMiss() {
	m.PipelineCacheMiss.Inc()
}

// RecordExecution records one aggregation engine round trip
func (m *MetricsCollector) RecordExecution(collection, operation, status string, duration time.Duration, documents int) {
	m.EngineExecutions.WithLabelValues(collection, operation, status).Inc()
	m.EngineDuration.WithLabelValues(collection, operation).Observe(duration.Seconds())
	if documents > 0 {
		m.DocumentsReturned.WithLabelValues(collection).Add(float64(documents))
	}
}

// RecordGRPCRequest records gRPC request metrics
func (m *MetricsCollector) RecordGRPCRequest(method, status string, duration time.Duration) {
	m.GRPCRequestsTotal.WithLabelValues(method, status).Inc()
	m.GRPCRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// Status labels
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// statusClass converts HTTP status code to status class (2xx, 3xx, 4xx, 5xx)
func statusClass(status int) string {
	class := status / 100
	return fmt.Sprintf("%dxx", class)
}
