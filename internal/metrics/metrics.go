// Package metrics exposes Prometheus counters for link processing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "postcatch"

// Metrics holds the collectors. A nil *Metrics records nothing.
type Metrics struct {
	reg *prometheus.Registry

	LinksProcessed  *prometheus.CounterVec
	LinkDuration    *prometheus.HistogramVec
	CaptureAttempts *prometheus.CounterVec
	CaptureRetries  *prometheus.CounterVec
	Ingestions      *prometheus.CounterVec
	IngestDuration  prometheus.Histogram
	SessionEvents   *prometheus.CounterVec
	BatchSize       prometheus.Histogram
}

// New registers all collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		LinksProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_processed_total",
			Help:      "Links processed, by platform and outcome.",
		}, []string{"platform", "outcome"}),
		LinkDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "link_duration_seconds",
			Help:      "Time to process one link end to end.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300},
		}, []string{"platform"}),
		CaptureAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_attempts_total",
			Help:      "Capture attempts, by platform.",
		}, []string{"platform"}),
		CaptureRetries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_retries_total",
			Help:      "Capture attempts that were retried, by platform.",
		}, []string{"platform"}),
		Ingestions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Ingestion runs, by result.",
		}, []string{"result"}),
		IngestDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Time spent in the ingestion program.",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
		}),
		SessionEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Browser session lifecycle events, by platform and event.",
		}, []string{"platform", "event"}),
		BatchSize: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Links fetched per batch.",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100},
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// LinkProcessed records one finished link.
func (m *Metrics) LinkProcessed(platform, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.LinksProcessed.WithLabelValues(platform, outcome).Inc()
	m.LinkDuration.WithLabelValues(platform).Observe(took.Seconds())
}

// CaptureAttempted counts one capture attempt.
func (m *Metrics) CaptureAttempted(platform string) {
	if m == nil {
		return
	}
	m.CaptureAttempts.WithLabelValues(platform).Inc()
}

// CaptureRetried counts one retry.
func (m *Metrics) CaptureRetried(platform string) {
	if m == nil {
		return
	}
	m.CaptureRetries.WithLabelValues(platform).Inc()
}

// Ingested records one ingestion run.
func (m *Metrics) Ingested(ok bool, took time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if !ok {
		result = "failure"
	}
	m.Ingestions.WithLabelValues(result).Inc()
	m.IngestDuration.Observe(took.Seconds())
}

// SessionEvent implements browser.Observer.
func (m *Metrics) SessionEvent(platform, event string) {
	if m == nil {
		return
	}
	m.SessionEvents.WithLabelValues(platform, event).Inc()
}

// BatchFetched records the size of a fetched page of links.
func (m *Metrics) BatchFetched(n int) {
	if m == nil {
		return
	}
	m.BatchSize.Observe(float64(n))
}
