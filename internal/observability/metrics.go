// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application. Series
// names are part of the operational contract and are scraped by
// dashboards, so they carry no namespace prefix.
type Metrics struct {
	// Fetch metrics
	FilesDownloaded *prometheus.CounterVec
	RowsParsed      *prometheus.CounterVec

	// Lake metrics
	ParquetWriteSuccess *prometheus.CounterVec
	ParquetWriteFailed  *prometheus.CounterVec

	// Warehouse metrics
	ClickHouseLoadSuccess *prometheus.CounterVec
	ClickHouseLoadFailed  *prometheus.CounterVec

	// Pipeline metrics
	FlowDuration *prometheus.HistogramVec

	// Resilience metrics
	BreakerState  *prometheus.GaugeVec
	RetryAttempts *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance registered on the default
// registry. Call it once per process.
func NewMetrics() *Metrics {
	return &Metrics{
		FilesDownloaded: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "files_downloaded",
			Help: "Number of source files downloaded, by source",
		}, []string{"source"}),
		RowsParsed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "rows_parsed",
			Help: "Number of rows parsed, by source and outcome",
		}, []string{"source", "status"}),

		ParquetWriteSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parquet_write_success",
			Help: "Number of successful lake partition writes, by dataset",
		}, []string{"table"}),
		ParquetWriteFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "parquet_write_failed",
			Help: "Number of failed lake partition writes, by dataset",
		}, []string{"table"}),

		ClickHouseLoadSuccess: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clickhouse_load_success",
			Help: "Number of successful warehouse loads, by table",
		}, []string{"table"}),
		ClickHouseLoadFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "clickhouse_load_failed",
			Help: "Number of failed warehouse loads, by table",
		}, []string{"table"}),

		FlowDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "flow_duration",
			Help:    "Per-flow wall time in seconds, by flow and status",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		}, []string{"flow_name", "status"}),

		BreakerState: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Breaker state per source: 0 closed, 1 half-open, 2 open",
		}, []string{"source"}),
		RetryAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "retry_attempts",
			Help: "Number of retry attempts, by operation",
		}, []string{"operation"}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDownload increments the files downloaded counter.
func (m *Metrics) RecordDownload(source string) {
	if m == nil {
		return
	}
	m.FilesDownloaded.WithLabelValues(source).Inc()
}

// RecordRowsParsed adds parsed row counts for a source.
func (m *Metrics) RecordRowsParsed(source, status string, rows int64) {
	if m == nil {
		return
	}
	m.RowsParsed.WithLabelValues(source, status).Add(float64(rows))
}

// RecordParquetWrite records a lake write outcome.
func (m *Metrics) RecordParquetWrite(table string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ParquetWriteFailed.WithLabelValues(table).Inc()
		return
	}
	m.ParquetWriteSuccess.WithLabelValues(table).Inc()
}

// RecordWarehouseLoad records a warehouse load outcome.
func (m *Metrics) RecordWarehouseLoad(table string, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ClickHouseLoadFailed.WithLabelValues(table).Inc()
		return
	}
	m.ClickHouseLoadSuccess.WithLabelValues(table).Inc()
}

// RecordFlow records one pipeline run's duration.
func (m *Metrics) RecordFlow(flow, status string, seconds float64) {
	if m == nil {
		return
	}
	m.FlowDuration.WithLabelValues(flow, status).Observe(seconds)
}

// SetBreakerState updates the breaker state gauge for a source.
func (m *Metrics) SetBreakerState(source string, state float64) {
	if m == nil {
		return
	}
	m.BreakerState.WithLabelValues(source).Set(state)
}

// RecordRetry increments the retry counter for an operation.
func (m *Metrics) RecordRetry(operation string) {
	if m == nil {
		return
	}
	m.RetryAttempts.WithLabelValues(operation).Inc()
}
