// ABOUTME: Prometheus registry for pipeline outcome counters and durations
// ABOUTME: Served on /metrics through promhttp with a private registry

package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result labels.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultInvalid = "invalid"
)

// Metrics holds the console's collectors.
type Metrics struct {
	registry  *prometheus.Registry
	pipelines *prometheus.CounterVec
	durations *prometheus.HistogramVec
	inFlight  *prometheus.GaugeVec
	sessions  prometheus.GaugeFunc
}

// New builds a registry with the Go and process collectors plus the pipeline
// metrics. sessions reports the number of live browser sessions; nil omits it.
func New(sessions func() float64) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		pipelines: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agent_console",
			Name:      "pipeline_runs_total",
			Help:      "Lifecycle pipeline runs by action and result.",
		}, []string{"action", "result"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agent_console",
			Name:      "pipeline_duration_seconds",
			Help:      "Lifecycle pipeline wall time by action.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 180, 600, 1800},
		}, []string{"action"}),
		inFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agent_console",
			Name:      "pipelines_in_flight",
			Help:      "Lifecycle pipelines currently running by action.",
		}, []string{"action"}),
	}
	reg.MustRegister(m.pipelines, m.durations, m.inFlight)

	if sessions != nil {
		m.sessions = prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "agent_console",
			Name:      "sessions",
			Help:      "Live browser sessions.",
		}, sessions)
		reg.MustRegister(m.sessions)
	}
	return m
}

// Started marks a pipeline as running.
func (m *Metrics) Started(action string) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(action).Inc()
}

// ObservePipeline records a finished pipeline.
func (m *Metrics) ObservePipeline(action, result string, d time.Duration) {
	if m == nil {
		return
	}
	m.inFlight.WithLabelValues(action).Dec()
	m.pipelines.WithLabelValues(action, result).Inc()
	m.durations.WithLabelValues(action).Observe(d.Seconds())
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
