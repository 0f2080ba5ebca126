package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// metricsOnce ensures metrics are registered only once
	metricsOnce sync.Once

	// scansAnalyzedTotal tracks analyzed scans by origin (inline, source, archive)
	scansAnalyzedTotal *prometheus.CounterVec

	// riskDiscrepanciesTotal counts scans whose source and local risk levels disagree
	riskDiscrepanciesTotal prometheus.Counter

	// threatCategoryTotal tracks the distribution of combined threat categories
	threatCategoryTotal *prometheus.CounterVec

	// anomalyGroupsPerScan tracks how many distinct findings a scan carries
	anomalyGroupsPerScan prometheus.Histogram

	// reportsRenderedTotal tracks report documents by status
	reportsRenderedTotal *prometheus.CounterVec

	// reportRenderDuration tracks latency of report rendering
	reportRenderDuration prometheus.Histogram

	// upstreamErrorsTotal tracks upstream API errors by type
	upstreamErrorsTotal *prometheus.CounterVec
)

// InitMetrics registers all Prometheus metrics.
// This should be called once at application startup
func InitMetrics() {
	metricsOnce.Do(func() {
		scansAnalyzedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescan_scans_analyzed_total",
				Help: "Total number of analyzed scans by origin",
			},
			[]string{"origin"},
		)

		riskDiscrepanciesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "sitescan_risk_discrepancies_total",
				Help: "Scans whose source risk level differs from the locally classified level",
			},
		)

		threatCategoryTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescan_threat_category_total",
				Help: "Distribution of combined threat categories",
			},
			[]string{"category"},
		)

		anomalyGroupsPerScan = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitescan_anomaly_groups_per_scan",
				Help:    "Number of distinct anomaly groups per analyzed scan",
				Buckets: []float64{0, 1, 2, 5, 10, 20, 50, 100},
			},
		)

		reportsRenderedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescan_reports_rendered_total",
				Help: "Total number of rendered report documents by status",
			},
			[]string{"status"},
		)

		reportRenderDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sitescan_report_render_duration_seconds",
				Help:    "Duration of report rendering in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
		)

		upstreamErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sitescan_upstream_errors_total",
				Help: "Total number of upstream API errors by error type",
			},
			[]string{"error_type"},
		)
	})
}

// RecordScanAnalyzed records one analyzed scan.
// origin: "submitted", "requested", "source", "archive"
func RecordScanAnalyzed(origin string, groups int, threatCategory string, discrepant bool) {
	if scansAnalyzedTotal != nil {
		scansAnalyzedTotal.WithLabelValues(origin).Inc()
	}
	if anomalyGroupsPerScan != nil {
		anomalyGroupsPerScan.Observe(float64(groups))
	}
	if threatCategoryTotal != nil {
		threatCategoryTotal.WithLabelValues(threatCategory).Inc()
	}
	if discrepant && riskDiscrepanciesTotal != nil {
		riskDiscrepanciesTotal.Inc()
	}
}

// RecordReport records a report outcome. Rendering and emission are
// counted separately, so an emitted report also counts one "success".
// status: "success", "render_error", "emitted", "emit_error"
func RecordReport(status string) {
	if reportsRenderedTotal != nil {
		reportsRenderedTotal.WithLabelValues(status).Inc()
	}
}

// RecordError records an upstream API error by type
// errorType: "timeout", "auth", "rate_limit", "server_error", "connection", "http_error", "circuit_open"
// and, from the scan service: "scan_request", "archive", "notify", "virustotal", "abuseipdb"
func RecordError(errorType string) {
	if upstreamErrorsTotal != nil {
		upstreamErrorsTotal.WithLabelValues(errorType).Inc()
	}
}

// Timer is a helper for timing report rendering
type Timer struct {
	start time.Time
}

// StartTimer creates a new timer for measuring render duration
func StartTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the elapsed time since the timer started
func (t *Timer) ObserveDuration() {
	if t != nil && reportRenderDuration != nil {
		reportRenderDuration.Observe(time.Since(t.start).Seconds())
	}
}
