// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Source metrics
	SourceRequests       *prometheus.CounterVec
	SourceRequestLatency *prometheus.HistogramVec
	SourceAssets         *prometheus.GaugeVec

	// Aggregator metrics
	AggregatorFetches *prometheus.CounterVec

	// Presenter metrics
	PresenterRefreshes   *prometheus.CounterVec
	PresenterAssets      *prometheus.GaugeVec
	PresenterLastSuccess *prometheus.GaugeVec

	// Health metrics
	HealthChecks *prometheus.CounterVec
}

// NewMetrics creates a Metrics instance on its own registry.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "cryptodash"
	}
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		SourceRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "requests_total",
			Help:      "Upstream source requests by outcome (ok, network, http, normalization, cancelled, other)",
		}, []string{"source", "outcome"}),
		SourceRequestLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "request_duration_seconds",
			Help:      "Upstream source request latency",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		SourceAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "assets",
			Help:      "Assets returned by the last successful request per source",
		}, []string{"source"}),

		AggregatorFetches: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "aggregator",
			Name:      "fetches_total",
			Help:      "Aggregator invocations by strategy and outcome",
		}, []string{"strategy", "outcome"}),

		PresenterRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "presenter",
			Name:      "refreshes_total",
			Help:      "Presenter refreshes by trigger (tick, manual) and outcome",
		}, []string{"presenter", "trigger", "outcome"}),
		PresenterAssets: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presenter",
			Name:      "assets",
			Help:      "Assets currently held by the presenter",
		}, []string{"presenter"}),
		PresenterLastSuccess: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "presenter",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful refresh",
		}, []string{"presenter"}),

		HealthChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "checks_total",
			Help:      "Status monitor health checks by outcome",
		}, []string{"outcome"}),
	}
}

// Handler returns the HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) RecordSourceRequest(source, outcome string, d time.Duration, assets int) {
	if m == nil {
		return
	}
	m.SourceRequests.WithLabelValues(source, outcome).Inc()
	m.SourceRequestLatency.WithLabelValues(source).Observe(d.Seconds())
	if outcome == "ok" {
		m.SourceAssets.WithLabelValues(source).Set(float64(assets))
	}
}

func (m *Metrics) RecordAggregatorFetch(strategy string, ok bool) {
	if m == nil {
		return
	}
	m.AggregatorFetches.WithLabelValues(strategy, outcome(ok)).Inc()
}

func (m *Metrics) RecordPresenterRefresh(presenter, trigger string, ok bool, assets int, at time.Time) {
	if m == nil {
		return
	}
	m.PresenterRefreshes.WithLabelValues(presenter, trigger, outcome(ok)).Inc()
	if ok {
		m.PresenterAssets.WithLabelValues(presenter).Set(float64(assets))
		m.PresenterLastSuccess.WithLabelValues(presenter).Set(float64(at.Unix()))
	}
}

func (m *Metrics) RecordHealthCheck(ok bool) {
	if m == nil {
		return
	}
	m.HealthChecks.WithLabelValues(outcome(ok)).Inc()
}

func outcome(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
