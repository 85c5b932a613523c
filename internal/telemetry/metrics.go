// Package telemetry exposes agent metrics and tracks per-scan resource
// usage.
package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/goSprinto/stethoscope-app/internal/compliance"
)

// Metrics holds every collector the agent updates. Each instance owns its
// registry so tests can create as many as they like.
type Metrics struct {
	registry *prometheus.Registry

	scans         *prometheus.CounterVec
	scanAttempts  prometheus.Histogram
	scanDuration  prometheus.Histogram
	reports       *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	policySyncs   *prometheus.CounterVec
	checkStatus   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scans: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drsprinto",
			Name:      "scans_total",
			Help:      "Completed scans by overall status.",
		}, []string{"status"}),
		scanAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "drsprinto",
			Name:      "scan_attempts",
			Help:      "Requests needed per scan, including 204 retries.",
			Buckets:   []float64{1, 2, 3, 5, 10, 20, 50},
		}),
		scanDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "drsprinto",
			Name:      "scan_duration_seconds",
			Help:      "Wall-clock scan time.",
			Buckets:   prometheus.ExponentialBuckets(0.25, 2, 9),
		}),
		reports: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drsprinto",
			Name:      "reports_total",
			Help:      "Report deliveries by outcome.",
		}, []string{"outcome"}),
		probeFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drsprinto",
			Name:      "probe_failures_total",
			Help:      "Failed probe executions by probe name.",
		}, []string{"probe"}),
		policySyncs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "drsprinto",
			Name:      "policy_syncs_total",
			Help:      "Policy sync attempts by outcome.",
		}, []string{"outcome"}),
		checkStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "drsprinto",
			Name:      "check_passing",
			Help:      "1 when the check passed in the latest scan, 0 otherwise.",
		}, []string{"check"}),
	}
	m.registry.MustRegister(
		m.scans, m.scanAttempts, m.scanDuration, m.reports,
		m.probeFailures, m.policySyncs, m.checkStatus,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ScanCompleted records one finished scan.
func (m *Metrics) ScanCompleted(result compliance.ScanResult, attempts int, took time.Duration) {
	m.scans.WithLabelValues(string(result.Status)).Inc()
	m.scanAttempts.Observe(float64(attempts))
	m.scanDuration.Observe(took.Seconds())
	for _, c := range result.Checks {
		if c.IsNull() {
			continue
		}
		s, _ := c.Reduce()
		v := 0.0
		if s.Passing() {
			v = 1
		}
		m.checkStatus.WithLabelValues(c.Name).Set(v)
	}
}

// ScanFailed records a scan that produced no result.
func (m *Metrics) ScanFailed() {
	m.scans.WithLabelValues("error").Inc()
}

// Reported records a report delivery outcome ("ok" or an error class).
func (m *Metrics) Reported(outcome string) {
	m.reports.WithLabelValues(outcome).Inc()
}

// PolicySynced records a policy sync outcome.
func (m *Metrics) PolicySynced(outcome string) {
	m.policySyncs.WithLabelValues(outcome).Inc()
}

// ProbeFailed implements probe.FailureRecorder.
func (m *Metrics) ProbeFailed(name string) {
	m.probeFailures.WithLabelValues(name).Inc()
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }
