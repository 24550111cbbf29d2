// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the collectors and the registry they are registered on.
// The zero value is not usable; call New.
type Metrics struct {
	registry *prometheus.Registry

	EventsLogged      prometheus.Counter
	Generations       *prometheus.CounterVec
	Tokens            *prometheus.CounterVec
	CompletionSeconds prometheus.Histogram
}

// New creates collectors on a fresh registry, including Go runtime and
// process collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		EventsLogged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "hibi_events_logged_total",
			Help: "Events appended by users.",
		}),
		Generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibi_generations_total",
			Help: "Generate invocations by final outcome.",
		}, []string{"outcome"}),
		Tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "hibi_tokens_total",
			Help: "Tokens reported by the completion service.",
		}, []string{"kind"}),
		CompletionSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "hibi_completion_seconds",
			Help:    "Latency of completion calls.",
			Buckets: []float64{0.25, 0.5, 1, 2, 4, 8, 16, 32, 64},
		}),
	}
	m.registry.MustRegister(
		m.EventsLogged,
		m.Generations,
		m.Tokens,
		m.CompletionSeconds,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveCompletion records one completion call.
func (m *Metrics) ObserveCompletion(d time.Duration, promptTokens, completionTokens int) {
	m.CompletionSeconds.Observe(d.Seconds())
	m.Tokens.WithLabelValues("prompt").Add(float64(promptTokens))
	m.Tokens.WithLabelValues("completion").Add(float64(completionTokens))
}

// ObserveGeneration counts a finished generate invocation.
func (m *Metrics) ObserveGeneration(outcome string) {
	m.Generations.WithLabelValues(outcome).Inc()
}
