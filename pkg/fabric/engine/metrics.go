package engine

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricNamespace = "leafroute"

// Metrics are the command and run counters of one process.
type Metrics struct {
	reg *prometheus.Registry

	commands *prometheus.CounterVec
	retries  *prometheus.CounterVec
	runs     *prometheus.CounterVec
	duration prometheus.Histogram
}

// NewMetrics registers the metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	autoreg := promauto.With(reg)

	return &Metrics{
		reg: reg,
		commands: autoreg.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "commands_total",
			Help:      "Switch calls by step and final result.",
		}, []string{"step", "result"}),
		retries: autoreg.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "command_retries_total",
			Help:      "Repeated attempts of switch calls.",
		}, []string{"step"}),
		runs: autoreg.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricNamespace,
			Name:      "runs_total",
			Help:      "Completed runs by overall message.",
		}, []string{"message"}),
		duration: autoreg.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricNamespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of complete runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

func (m *Metrics) command(step, result string) {
	if m == nil {
		return
	}
	m.commands.WithLabelValues(step, result).Inc()
}

func (m *Metrics) retry(step string) {
	if m == nil {
		return
	}
	m.retries.WithLabelValues(step).Inc()
}

func (m *Metrics) run(message string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(message).Inc()
	m.duration.Observe(d.Seconds())
}
