// Package metrics exposes Prometheus collectors for scans, downloads and
// syncs. Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kaismonitor"

// Outcome labels.
const (
	StatusSuccess = "success"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// Metrics owns a private registry so tests and multiple instances never
// collide on the default one.
type Metrics struct {
	registry *prometheus.Registry

	scansTotal     *prometheus.CounterVec
	itemsDetected  *prometheus.CounterVec
	downloadsTotal *prometheus.CounterVec
	syncsTotal     *prometheus.CounterVec
	scanDuration   prometheus.Histogram
	downloadBytes  prometheus.Histogram
	scanRunning    prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.scansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scans_total",
		Help:      "Completed scan cycles by outcome.",
	}, []string{"status"})

	m.itemsDetected = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "items_detected_total",
		Help:      "Items classified by the change detector.",
	}, []string{"kind"})

	m.downloadsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "downloads_total",
		Help:      "Archive downloads by outcome.",
	}, []string{"status"})

	m.syncsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "syncs_total",
		Help:      "Missing-item sync runs by outcome.",
	}, []string{"status"})

	m.scanDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "scan_duration_seconds",
		Help:      "Wall-clock duration of scan cycles.",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
	})

	// 1KB .. 1GB
	m.downloadBytes = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "download_bytes",
		Help:      "Size of downloaded archives.",
		Buckets:   prometheus.ExponentialBuckets(1024, 10, 7),
	})

	m.scanRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "scan_running",
		Help:      "1 while a scan cycle is in progress.",
	})

	m.registry.MustRegister(
		m.scansTotal,
		m.itemsDetected,
		m.downloadsTotal,
		m.syncsTotal,
		m.scanDuration,
		m.downloadBytes,
		m.scanRunning,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ScanStarted flips the running gauge on.
func (m *Metrics) ScanStarted() {
	if m == nil {
		return
	}
	m.scanRunning.Set(1)
}

// ScanFinished records one completed cycle.
func (m *Metrics) ScanFinished(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.scanRunning.Set(0)
	m.scansTotal.WithLabelValues(status).Inc()
	m.scanDuration.Observe(elapsed.Seconds())
}

// ItemsDetected adds n items of the given classification.
func (m *Metrics) ItemsDetected(kind string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.itemsDetected.WithLabelValues(kind).Add(float64(n))
}

// DownloadFinished records a download attempt. bytes is ignored unless the
// download succeeded.
func (m *Metrics) DownloadFinished(status string, bytes int64) {
	if m == nil {
		return
	}
	m.downloadsTotal.WithLabelValues(status).Inc()
	if status == StatusSuccess {
		m.downloadBytes.Observe(float64(bytes))
	}
}

// SyncFinished records one sync run.
func (m *Metrics) SyncFinished(status string) {
	if m == nil {
		return
	}
	m.syncsTotal.WithLabelValues(status).Inc()
}
