package services

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the engine. A nil *Metrics is
// valid and turns every recording call into a no-op, which keeps tests
// free of registry setup.
type Metrics struct {
	registry *prometheus.Registry

	activeIntents       prometheus.Gauge
	eventsProcessed     *prometheus.CounterVec
	eventsSkipped       prometheus.Counter
	solutionsPassed     prometheus.Counter
	solutionsFailed     *prometheus.CounterVec
	flushesPublished    prometheus.Counter
	intentsLost         prometheus.Counter
	lastPollTimestamp   prometheus.Gauge
	cursorStoreFailures prometheus.Counter
	pipelineDuration    prometheus.Histogram
}

// NewMetrics creates the metric set on a private registry
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		activeIntents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "preranker_active_intents",
			Help: "Number of intents currently accepting solutions",
		}),
		eventsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "preranker_events_processed_total",
			Help: "Total number of chain events handed to the coordinator",
		}, []string{"kind"}),
		eventsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preranker_events_skipped_total",
			Help: "Total number of malformed or unroutable events skipped",
		}),
		solutionsPassed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preranker_solutions_passed_total",
			Help: "Total number of solutions that cleared pre-ranking",
		}),
		solutionsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "preranker_solutions_failed_total",
			Help: "Total number of solutions rejected by pre-ranking",
		}, []string{"reason"}),
		flushesPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preranker_flushes_published_total",
			Help: "Total number of ranking payloads enqueued",
		}),
		intentsLost: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preranker_intents_lost_total",
			Help: "Total number of intents lost after exhausting enqueue retries",
		}),
		lastPollTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "preranker_last_poll_timestamp",
			Help: "Unix timestamp of the last event poll",
		}),
		cursorStoreFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "preranker_cursor_store_failures_total",
			Help: "Total number of failed cursor persistence attempts",
		}),
		pipelineDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "preranker_pipeline_duration_seconds",
			Help:    "Per-solution pre-ranking pipeline duration",
			Buckets: prometheus.DefBuckets,
		}),
	}

	registry.MustRegister(
		m.activeIntents,
		m.eventsProcessed,
		m.eventsSkipped,
		m.solutionsPassed,
		m.solutionsFailed,
		m.flushesPublished,
		m.intentsLost,
		m.lastPollTimestamp,
		m.cursorStoreFailures,
		m.pipelineDuration,
	)

	return m
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (m *Metrics) IncActiveIntents() {
	if m != nil {
		m.activeIntents.Inc()
	}
}

func (m *Metrics) DecActiveIntents() {
	if m != nil {
		m.activeIntents.Dec()
	}
}

func (m *Metrics) IncEventsProcessed(kind string) {
	if m != nil {
		m.eventsProcessed.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) IncEventsSkipped() {
	if m != nil {
		m.eventsSkipped.Inc()
	}
}

func (m *Metrics) IncSolutionsPassed() {
	if m != nil {
		m.solutionsPassed.Inc()
	}
}

func (m *Metrics) IncSolutionsFailed(reason string) {
	if m != nil {
		m.solutionsFailed.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) IncFlushesPublished() {
	if m != nil {
		m.flushesPublished.Inc()
	}
}

func (m *Metrics) IncIntentsLost() {
	if m != nil {
		m.intentsLost.Inc()
	}
}

func (m *Metrics) SetLastPollTimestamp(unixSeconds int64) {
	if m != nil {
		m.lastPollTimestamp.Set(float64(unixSeconds))
	}
}

func (m *Metrics) IncCursorStoreFailures() {
	if m != nil {
		m.cursorStoreFailures.Inc()
	}
}

func (m *Metrics) ObservePipelineDuration(seconds float64) {
	if m != nil {
		m.pipelineDuration.Observe(seconds)
	}
}
