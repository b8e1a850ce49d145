// Package metrics counts pipeline activity on a private prometheus
// registry that is dumped to a text file at the end of a run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tradutor"

// Metrics holds the collectors of one process. A nil *Metrics records
// nothing.
type Metrics struct {
	registry *prometheus.Registry

	chunks            *prometheus.CounterVec
	cacheHits         *prometheus.CounterVec
	fallbacks         *prometheus.CounterVec
	attempts          *prometheus.CounterVec
	generationLatency *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		chunks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "pipeline",
				Name:      "chunks_total",
				Help:      "The total number of chunks processed.",
			},
			[]string{"stage"},
		),
		cacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of chunk cache hits.",
			},
			[]string{"stage"},
		),
		fallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fallbacks_total",
				Help:      "Total number of chunks resolved by a deterministic fallback.",
			},
			[]string{"stage", "reason"},
		),
		attempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_attempts_total",
				Help:      "Total number of generation attempts by outcome.",
			},
			[]string{"backend", "outcome"},
		),
		generationLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "generation_latency_seconds",
				Help:      "Time taken by one generation request.",
				Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 120, 240},
			},
			[]string{"backend"},
		),
	}
	m.registry.MustRegister(m.chunks, m.cacheHits, m.fallbacks, m.attempts, m.generationLatency)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) Chunk(stage string) {
	if m == nil {
		return
	}
	m.chunks.WithLabelValues(stage).Inc()
}

func (m *Metrics) CacheHit(stage string) {
	if m == nil {
		return
	}
	m.cacheHits.WithLabelValues(stage).Inc()
}

func (m *Metrics) Fallback(stage, reason string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(stage, reason).Inc()
}

// ObserveGeneration records one generation attempt. Its signature matches
// retry.Observer.
func (m *Metrics) ObserveGeneration(backend, outcome string, latency time.Duration) {
	if m == nil {
		return
	}
	m.attempts.WithLabelValues(backend, outcome).Inc()
	if latency > 0 {
		m.generationLatency.WithLabelValues(backend).Observe(latency.Seconds())
	}
}

// WriteToTextfile dumps every metric in the text exposition format.
func (m *Metrics) WriteToTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
