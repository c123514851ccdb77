// Package metrics holds the Prometheus collectors exposed on /metrics.
// Every method is safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Model status values reported by ModelStatus.
var modelStatuses = []string{"unloaded", "loading", "loaded", "failed"}

// Metrics holds all application metrics.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	// Generation metrics
	GenerationsTotal      *prometheus.CounterVec
	GenerationDuration    *prometheus.HistogramVec
	GeneratedAudioSeconds *prometheus.CounterVec
	ModelStatus           *prometheus.GaugeVec

	// Artifact metrics
	ArtifactsStored prometheus.Gauge
}

// New creates a new Metrics instance on its own registry.
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "audiogen"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		HTTPRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.005, .01, .05, .1, .5, 1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"method", "path"},
		),
		HTTPRequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "http",
				Name:      "requests_in_flight",
				Help:      "Current number of HTTP requests being processed",
			},
		),

		GenerationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "requests_total",
				Help:      "Total number of generation requests by outcome",
			},
			[]string{"task", "outcome"},
		),
		GenerationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "duration_seconds",
				Help:      "Wall time of successful generations in seconds",
				Buckets:   []float64{1, 2.5, 5, 10, 20, 30, 60, 120, 300, 600},
			},
			[]string{"task"},
		),
		GeneratedAudioSeconds: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "audio_seconds_total",
				Help:      "Total seconds of audio produced",
			},
			[]string{"task"},
		),
		ModelStatus: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "model",
				Name:      "status",
				Help:      "Model load status per task (1 for the current status)",
			},
			[]string{"task", "status"},
		),

		ArtifactsStored: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "artifacts",
				Name:      "files",
				Help:      "Number of generated files in the artifact directory",
			},
		),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records one completed HTTP request.
func (m *Metrics) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackInFlight increments the in-flight gauge and returns the matching decrement.
func (m *Metrics) TrackInFlight() func() {
	if m == nil {
		return func() {}
	}
	m.HTTPRequestsInFlight.Inc()
	return m.HTTPRequestsInFlight.Dec
}

// RecordGeneration records a generation outcome. audioSeconds is only counted on success.
func (m *Metrics) RecordGeneration(task, outcome string, duration time.Duration, audioSeconds float64) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(task, outcome).Inc()
	if outcome == "success" {
		m.GenerationDuration.WithLabelValues(task).Observe(duration.Seconds())
		m.GeneratedAudioSeconds.WithLabelValues(task).Add(audioSeconds)
	}
}

// SetModelStatus sets status to 1 for task and every other status to 0.
func (m *Metrics) SetModelStatus(task, status string) {
	if m == nil {
		return
	}
	for _, s := range modelStatuses {
		v := 0.0
		if s == status {
			v = 1
		}
		m.ModelStatus.WithLabelValues(task, s).Set(v)
	}
}

// SetArtifactCount sets the artifact gauge.
func (m *Metrics) SetArtifactCount(n int) {
	if m == nil {
		return
	}
	m.ArtifactsStored.Set(float64(n))
}
