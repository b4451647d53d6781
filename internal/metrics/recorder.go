// Package metrics records run counters on a private Prometheus registry.
//
// A nil *Recorder is valid and records nothing, so components can take one
// unconditionally.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder owns the collectors of one writer process.
type Recorder struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	retries         *prometheus.CounterVec
	rowsRead        *prometheus.CounterVec
	batches         *prometheus.CounterVec
	errorRecords    *prometheus.CounterVec
}

// NewRecorder creates a recorder with its own registry.
func NewRecorder() *Recorder {
	registry := prometheus.NewRegistry()

	r := &Recorder{
		registry: registry,
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_writer_requests_total",
			Help: "HTTP requests sent to the CRM by operation and final status.",
		}, []string{"operation", "status"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crm_writer_request_duration_seconds",
			Help:    "Duration of CRM requests including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_writer_retries_total",
			Help: "Retried CRM request attempts by operation.",
		}, []string{"operation"}),
		rowsRead: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_writer_rows_read_total",
			Help: "Input rows consumed by operation.",
		}, []string{"operation"}),
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_writer_batches_total",
			Help: "Request payloads built by operation.",
		}, []string{"operation"}),
		errorRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crm_writer_error_records_total",
			Help: "Error records captured by operation and category.",
		}, []string{"operation", "category"}),
	}

	registry.MustRegister(r.requests)
	registry.MustRegister(r.requestDuration)
	registry.MustRegister(r.retries)
	registry.MustRegister(r.rowsRead)
	registry.MustRegister(r.batches)
	registry.MustRegister(r.errorRecords)

	return r
}

// Registry returns the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	if r == nil {
		return nil
	}
	return r.registry
}

// ObserveRequest counts one finished request. status 0 means no response was received.
func (r *Recorder) ObserveRequest(operation string, status int, elapsed time.Duration) {
	if r == nil {
		return
	}
	label := "network_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	r.requests.WithLabelValues(operation, label).Inc()
	r.requestDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// IncRetry counts one retried attempt.
func (r *Recorder) IncRetry(operation string) {
	if r == nil {
		return
	}
	r.retries.WithLabelValues(operation).Inc()
}

// AddRows counts consumed input rows.
func (r *Recorder) AddRows(operation string, n int) {
	if r == nil || n <= 0 {
		return
	}
	r.rowsRead.WithLabelValues(operation).Add(float64(n))
}

// IncBatch counts one built payload.
func (r *Recorder) IncBatch(operation string) {
	if r == nil {
		return
	}
	r.batches.WithLabelValues(operation).Inc()
}

// IncErrorRecord counts one captured error record.
func (r *Recorder) IncErrorRecord(operation, category string) {
	if r == nil {
		return
	}
	r.errorRecords.WithLabelValues(operation, category).Inc()
}

// WriteTextfile dumps the registry in the node-exporter textfile format.
func (r *Recorder) WriteTextfile(path string) error {
	if r == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, r.registry)
}
