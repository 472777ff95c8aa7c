// Package metrics exposes run statistics to prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/CZERTAINLY/Herald/internal/model"
)

const Namespace = "herald"

// Metrics implements run.Metrics. It is safe for concurrent runs.
type Metrics struct {
	gatherer prometheus.Gatherer

	runsTotal      *prometheus.CounterVec
	testsTotal     *prometheus.CounterVec
	malformedTotal prometheus.Counter
	watchdogTotal  prometheus.Counter
	runDuration    *prometheus.HistogramVec
}

// New registers the collectors to reg.
func New(reg *prometheus.Registry) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		gatherer: reg,
		runsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "runs_total",
			Help:      "Count of finished runs by terminal state",
		}, []string{"state"}),
		testsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "tests_total",
			Help:      "Count of finished tests by status",
		}, []string{"status"}),
		malformedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "malformed_reports_total",
			Help:      "Count of structured lines which could not be decoded",
		}),
		watchdogTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "watchdog_fires_total",
			Help:      "Count of runs killed for being idle",
		}),
		runDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of runs",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"state"}),
	}
}

func (m *Metrics) TestFinished(status model.TestStatus) {
	m.testsTotal.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) Malformed() {
	m.malformedTotal.Inc()
}

func (m *Metrics) WatchdogFired() {
	m.watchdogTotal.Inc()
}

func (m *Metrics) RunFinished(state model.RunState, duration time.Duration) {
	m.runsTotal.WithLabelValues(string(state)).Inc()
	m.runDuration.WithLabelValues(string(state)).Observe(duration.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
