package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	scansTotal          *prometheus.CounterVec
	scanDuration        prometheus.Histogram
	devicesDiscovered   prometheus.Gauge
	changesDetected     prometheus.Counter
	significantChanges  prometheus.Counter
	diffDuration        prometheus.Histogram
}

// New creates a fresh Metrics registry with HTTP and monitoring metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netwatch",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "netwatch",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	scansTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "netwatch",
		Name:      "scans_total",
		Help:      "Total number of scans by outcome",
	}, []string{"status"})

	scanDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "netwatch",
		Name:      "scan_duration_seconds",
		Help:      "Duration of scans from dispatch to snapshot",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200},
	})

	devicesDiscovered := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "netwatch",
		Name:      "devices_discovered",
		Help:      "Device count in the latest snapshot",
	})

	changesDetected := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netwatch",
		Name:      "changes_detected_total",
		Help:      "Total change count across all computed diffs",
	})

	significantChanges := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "netwatch",
		Name:      "significant_changes_total",
		Help:      "Diffs whose total change count crossed the alert threshold",
	})

	diffDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "netwatch",
		Name:      "diff_duration_seconds",
		Help:      "Duration of snapshot diff computation",
		Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5},
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		scansTotal,
		scanDuration,
		devicesDiscovered,
		changesDetected,
		significantChanges,
		diffDuration,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		scansTotal:          scansTotal,
		scanDuration:        scanDuration,
		devicesDiscovered:   devicesDiscovered,
		changesDetected:     changesDetected,
		significantChanges:  significantChanges,
		diffDuration:        diffDuration,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObserveScan records one finished scan.
func (m *Metrics) ObserveScan(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.scansTotal.With(prometheus.Labels{"status": status}).Inc()
	if duration > 0 {
		m.scanDuration.Observe(duration.Seconds())
	}
}

// SetDevicesDiscovered tracks the latest snapshot's device count.
func (m *Metrics) SetDevicesDiscovered(n int) {
	if m == nil {
		return
	}
	m.devicesDiscovered.Set(float64(n))
}

// AddChangesDetected accumulates diff change counts.
func (m *Metrics) AddChangesDetected(n int) {
	if m == nil {
		return
	}
	m.changesDetected.Add(float64(n))
}

// IncSignificantChange counts a diff that crossed the alert threshold.
func (m *Metrics) IncSignificantChange() {
	if m == nil {
		return
	}
	m.significantChanges.Inc()
}

// ObserveDiffDuration observes one diff computation.
func (m *Metrics) ObserveDiffDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.diffDuration.Observe(duration.Seconds())
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
