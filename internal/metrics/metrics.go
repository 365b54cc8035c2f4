// Package metrics defines the Prometheus collectors glimpse exports and the
// HTTP handler that serves them.
//
// Each Metrics value owns its own registry so tests and multiple App
// instances in one process never collide on registration.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "glimpse"

// Render outcomes used as the "outcome" label of RendersTotal.
const (
	OutcomeSuccess  = "success"
	OutcomeTypeset  = "typeset_error"
	OutcomeConvert  = "convert_error"
	OutcomeSpawn    = "spawn_error"
	OutcomeEncoding = "encoding_error"
	OutcomeTimeout  = "timeout"
	OutcomeBusy     = "busy"
	OutcomeOther    = "error"
)

// Metrics holds all Prometheus collectors for glimpse.
type Metrics struct {
	registry *prometheus.Registry

	RendersTotal          *prometheus.CounterVec
	RenderDuration        prometheus.Histogram
	RenderInFlight        prometheus.Gauge
	RenderCacheHitsTotal  prometheus.Counter
	IngressRequestsTotal  *prometheus.CounterVec
	EventsPublishedTotal  *prometheus.CounterVec
	EventsDroppedTotal    prometheus.Counter
	NotifierFailuresTotal *prometheus.CounterVec
	PreambleReloadsTotal  *prometheus.CounterVec
}

// New creates all collectors and registers them, together with the Go runtime
// and process collectors, on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		RendersTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "renders_total",
				Help:      "Total render requests by outcome.",
			},
			[]string{"outcome"},
		),
		RenderDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "render_duration_seconds",
				Help:      "Wall time of one latex + dvisvgm run.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 16},
			},
		),
		RenderInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "render_inflight",
				Help:      "Renders currently holding a worker slot.",
			},
		),
		RenderCacheHitsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "render_cache_hits_total",
				Help:      "Renders answered from the result cache.",
			},
		),
		IngressRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingress_requests_total",
				Help:      "Requests handled by the update ingress, by HTTP status.",
			},
			[]string{"status"},
		),
		EventsPublishedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_published_total",
				Help:      "Events emitted on the internal bus, by event name.",
			},
			[]string{"event"},
		),
		EventsDroppedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_dropped_total",
				Help:      "Event deliveries dropped because a subscriber was full.",
			},
		),
		NotifierFailuresTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "notifier_failures_total",
				Help:      "Failed line-click notifications, by reason (connect, write).",
			},
			[]string{"reason"},
		),
		PreambleReloadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "preamble_reloads_total",
				Help:      "Preamble reloads by result (ok, error).",
			},
			[]string{"result"},
		),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.RendersTotal,
		m.RenderDuration,
		m.RenderInFlight,
		m.RenderCacheHitsTotal,
		m.IngressRequestsTotal,
		m.EventsPublishedTotal,
		m.EventsDroppedTotal,
		m.NotifierFailuresTotal,
		m.PreambleReloadsTotal,
	)

	return m
}

// Registry exposes the underlying registry for tests and gatherers.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus scrape HTTP handler for this instance.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveRender records one finished render. A nil receiver is a no-op so
// components can be built without metrics in tests.
func (m *Metrics) ObserveRender(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RendersTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeBusy {
		m.RenderDuration.Observe(elapsed.Seconds())
	}
}

// CacheHit records a render answered from cache.
func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.RenderCacheHitsTotal.Inc()
	m.RendersTotal.WithLabelValues(OutcomeSuccess).Inc()
}

// InFlight adjusts the in-flight render gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.RenderInFlight.Add(delta)
}

// IngressRequest records one ingress response status.
func (m *Metrics) IngressRequest(status int) {
	if m == nil {
		return
	}
	m.IngressRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
}

// EventPublished records one emitted event.
func (m *Metrics) EventPublished(event string) {
	if m == nil {
		return
	}
	m.EventsPublishedTotal.WithLabelValues(event).Inc()
}

// EventDropped records one delivery dropped for a full subscriber.
func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.EventsDroppedTotal.Inc()
}

// NotifierFailure records a failed notification.
func (m *Metrics) NotifierFailure(reason string) {
	if m == nil {
		return
	}
	m.NotifierFailuresTotal.WithLabelValues(reason).Inc()
}

// PreambleReload records a reload attempt.
func (m *Metrics) PreambleReload(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.PreambleReloadsTotal.WithLabelValues(result).Inc()
}
