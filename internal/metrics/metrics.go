// Package metrics holds the Prometheus instruments of the narration pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "novera"

// Metrics groups all Prometheus instruments used by the pipeline. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ActiveSessions    prometheus.Gauge
	Sessions          *prometheus.CounterVec
	SynthRequests     *prometheus.CounterVec
	SynthLatency      prometheus.Histogram
	CacheLookups      *prometheus.CounterVec
	Sentences         *prometheus.CounterVec
	Retries           prometheus.Counter
	FirstAudioLatency prometheus.Histogram
	WSMessages        *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers the instruments on a fresh registry, which also carries the
// Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Playback sessions currently running (0 or 1).",
		}),
		Sessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Playback sessions by how they ended.",
		}, []string{"end"}),
		SynthRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_requests_total",
			Help:      "Synthesis requests by result.",
		}, []string{"result"}),
		SynthLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "synth_latency_ms",
			Help:      "Latency of upstream synthesis calls in milliseconds.",
			Buckets:   []float64{100, 200, 400, 700, 1000, 1500, 2500, 4000, 8000},
		}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Audio cache lookups by tier and outcome.",
		}, []string{"tier", "outcome"}),
		Sentences: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sentences_total",
			Help:      "Sentences by playback outcome.",
		}, []string{"outcome"}),
		Retries: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "synth_retries_total",
			Help:      "Synthesis retries scheduled by the sequencer.",
		}),
		FirstAudioLatency: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_audio_latency_ms",
			Help:      "Latency from session start to first audible sentence in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		WSMessages: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SynthResult(result string, d time.Duration) {
	if m == nil {
		return
	}
	m.SynthRequests.WithLabelValues(result).Inc()
	if d > 0 {
		m.SynthLatency.Observe(float64(d.Milliseconds()))
	}
}

func (m *Metrics) CacheLookup(tier, outcome string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, outcome).Inc()
}

func (m *Metrics) Sentence(outcome string) {
	if m == nil {
		return
	}
	m.Sentences.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Retry() {
	if m == nil {
		return
	}
	m.Retries.Inc()
}

func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

func (m *Metrics) SessionEnded(end string) {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
	m.Sessions.WithLabelValues(end).Inc()
}

func (m *Metrics) ObserveFirstAudioLatency(d time.Duration) {
	if m == nil {
		return
	}
	m.FirstAudioLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) WSMessage(direction, kind string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, kind).Inc()
}
