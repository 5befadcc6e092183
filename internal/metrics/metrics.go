// Package metrics provides Prometheus metrics for the history bridge.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "op_history"

// Metrics holds all bridge metrics. A nil *Metrics records nothing.
type Metrics struct {
	// Counters
	DocumentsIndexed *prometheus.CounterVec
	DocumentsFailed  prometheus.Counter
	BulkRequests     *prometheus.CounterVec
	SideDataErrors   *prometheus.CounterVec
	QueriesTotal     *prometheus.CounterVec
	QueryWarnings    prometheus.Counter

	// Gauges
	NextOperation  prometheus.Gauge
	HeadBlock      prometheus.Gauge
	BufferedDocs   prometheus.Gauge
	IrreversibleAt prometheus.Gauge

	// Histograms
	FlushDuration prometheus.Histogram
	QueryDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.DocumentsIndexed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_indexed_total",
			Help:      "Documents accepted by the search engine, by operation kind",
		},
		[]string{"kind"},
	)

	m.DocumentsFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "documents_failed_total",
			Help:      "Documents rejected by the search engine or lost in a failed batch",
		},
	)

	m.BulkRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bulk_requests_total",
			Help:      "Bulk requests sent to the search engine",
		},
		[]string{"status"}, // "success", "partial", "error"
	)

	m.SideDataErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_data_errors_total",
			Help:      "Operations indexed without side data after a computation error",
		},
		[]string{"kind"},
	)

	m.QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "History queries served",
		},
		[]string{"query", "status"},
	)

	m.QueryWarnings = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "query_warnings_total",
			Help:      "Stored documents skipped because they could not be decoded",
		},
	)

	m.NextOperation = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "next_operation",
			Help:      "First operation history instance not yet indexed",
		},
	)

	m.HeadBlock = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "head_block",
			Help:      "Head block reported by the node",
		},
	)

	m.IrreversibleAt = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_irreversible_block",
			Help:      "Last irreversible block reported by the node",
		},
	)

	m.BufferedDocs = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "buffered_documents",
			Help:      "Documents waiting for the next bulk request",
		},
	)

	m.FlushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "flush_duration_seconds",
			Help:      "Time spent in one bulk request",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
		},
	)

	m.QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Time to answer a history query",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		},
		[]string{"query"},
	)

	m.registry.MustRegister(
		m.DocumentsIndexed,
		m.DocumentsFailed,
		m.BulkRequests,
		m.SideDataErrors,
		m.QueriesTotal,
		m.QueryWarnings,
		m.NextOperation,
		m.HeadBlock,
		m.IrreversibleAt,
		m.BufferedDocs,
		m.FlushDuration,
		m.QueryDuration,
	)

	// Also register Go runtime metrics
	m.registry.MustRegister(collectors.NewGoCollector())
	m.registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Handler returns an HTTP handler for metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the private registry, mostly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordIndexed counts one accepted document
func (m *Metrics) RecordIndexed(kind string) {
	if m != nil {
		m.DocumentsIndexed.WithLabelValues(kind).Inc()
	}
}

// RecordFailed counts rejected documents
func (m *Metrics) RecordFailed(count int) {
	if m != nil && count > 0 {
		m.DocumentsFailed.Add(float64(count))
	}
}

// RecordBulk records the outcome and duration of one bulk request
func (m *Metrics) RecordBulk(status string, duration time.Duration) {
	if m != nil {
		m.BulkRequests.WithLabelValues(status).Inc()
		m.FlushDuration.Observe(duration.Seconds())
	}
}

// RecordSideDataError counts an operation indexed without side data
func (m *Metrics) RecordSideDataError(kind string) {
	if m != nil {
		m.SideDataErrors.WithLabelValues(kind).Inc()
	}
}

// RecordQuery records one served query
func (m *Metrics) RecordQuery(query, status string, duration time.Duration, warnings int) {
	if m == nil {
		return
	}
	m.QueriesTotal.WithLabelValues(query, status).Inc()
	m.QueryDuration.WithLabelValues(query).Observe(duration.Seconds())
	if warnings > 0 {
		m.QueryWarnings.Add(float64(warnings))
	}
}

// SetNextOperation sets the indexing position gauge
func (m *Metrics) SetNextOperation(next uint64) {
	if m != nil {
		m.NextOperation.Set(float64(next))
	}
}

// SetChainState sets the head and irreversible block gauges
func (m *Metrics) SetChainState(head, irreversible uint32) {
	if m != nil {
		m.HeadBlock.Set(float64(head))
		m.IrreversibleAt.Set(float64(irreversible))
	}
}

// SetBuffered sets the buffered documents gauge
func (m *Metrics) SetBuffered(count int) {
	if m != nil {
		m.BufferedDocs.Set(float64(count))
	}
}
