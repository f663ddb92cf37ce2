// Package metrics exposes Prometheus metrics for pipeline observability.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments the pipeline updates.
type Metrics struct {
	RunsTotal        *prometheus.CounterVec   // asset runs by asset and terminal status
	RunDuration      *prometheus.HistogramVec // asset run duration by asset
	RecordsHarvested *prometheus.CounterVec   // records landed in bronze by api and endpoint
	BytesWritten     *prometheus.CounterVec   // payload bytes landed in bronze by api
	FailuresTotal    *prometheus.CounterVec   // faults by error class

	registry *prometheus.Registry
}

// New creates the pipeline metrics on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	return NewWithRegistry(registry)
}

// NewWithRegistry creates the pipeline metrics on the given registry. Tests
// pass their own registry to read values back.
func NewWithRegistry(registry *prometheus.Registry) *Metrics {
	runsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydropipe_runs_total",
		Help: "Total asset runs by terminal status",
	}, []string{"asset", "status"})

	runDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "hydropipe_run_duration_seconds",
		Help:    "Asset run duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.1, 2, 14),
	}, []string{"asset"})

	recordsHarvested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydropipe_records_harvested_total",
		Help: "Records landed in the bronze layer",
	}, []string{"api", "endpoint"})

	bytesWritten := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydropipe_bytes_written_total",
		Help: "Payload bytes landed in the bronze layer",
	}, []string{"api"})

	failuresTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "hydropipe_failures_total",
		Help: "Asset run failures by error class",
	}, []string{"class"})

	registry.MustRegister(runsTotal, runDuration, recordsHarvested, bytesWritten, failuresTotal)

	return &Metrics{
		RunsTotal:        runsTotal,
		RunDuration:      runDuration,
		RecordsHarvested: recordsHarvested,
		BytesWritten:     bytesWritten,
		FailuresTotal:    failuresTotal,
		registry:         registry,
	}
}

// Registry returns the backing registry for the admin /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveRun implements the scheduler's run observer contract.
func (m *Metrics) ObserveRun(asset, status string, duration time.Duration) {
	m.RunsTotal.WithLabelValues(asset, status).Inc()
	m.RunDuration.WithLabelValues(asset).Observe(duration.Seconds())
}

// ObserveFailure counts a classified fault.
func (m *Metrics) ObserveFailure(class string) {
	m.FailuresTotal.WithLabelValues(class).Inc()
}

// ObserveHarvest counts records and bytes landed in bronze.
func (m *Metrics) ObserveHarvest(api, endpoint string, records int, bytes int) {
	m.RecordsHarvested.WithLabelValues(api, endpoint).Add(float64(records))
	m.BytesWritten.WithLabelValues(api).Add(float64(bytes))
}
