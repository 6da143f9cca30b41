package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PrometheusExporter exports metrics to Prometheus format.
type PrometheusExporter struct {
	collector *Collector

	// Prometheus metrics
	auditLiveRecords     prometheus.Gauge
	auditArchivedRecords prometheus.Gauge
	httpRequests         *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
	httpErrors           *prometheus.CounterVec
}

// NewPrometheusExporter creates a new Prometheus exporter.
func NewPrometheusExporter(collector *Collector) *PrometheusExporter {
	return &PrometheusExporter{
		collector: collector,
		auditLiveRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "substrate_audit_live_records",
			Help: "Current number of live audit log records",
		}),
		auditArchivedRecords: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "substrate_audit_archived_records",
			Help: "Current number of archived audit log records",
		}),
		httpRequests: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"route"},
		),
		httpDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "substrate_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0, 5.0, 10.0},
			},
			[]string{"route"},
		),
		httpErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "substrate_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"route"},
		),
	}
}

// Update updates Gauge metrics from the collector.
// Counters are updated via middleware, so only update gauges here.
// This should be called periodically (e.g., every 10 seconds).
func (e *PrometheusExporter) Update(ctx context.Context) {
	auditMetrics := e.collector.GetAuditMetrics(ctx)
	e.auditLiveRecords.Set(float64(auditMetrics.LiveRecords))
	e.auditArchivedRecords.Set(float64(auditMetrics.ArchivedRecords))
}

// RecordRequest records a request in Prometheus.
func (e *PrometheusExporter) RecordRequest(route string) {
	e.httpRequests.WithLabelValues(route).Inc()
}

// RecordDuration records a duration in Prometheus.
func (e *PrometheusExporter) RecordDuration(route string, durationSeconds float64) {
	e.httpDuration.WithLabelValues(route).Observe(durationSeconds)
}

// RecordError records an error in Prometheus.
func (e *PrometheusExporter) RecordError(route string) {
	e.httpErrors.WithLabelValues(route).Inc()
}
