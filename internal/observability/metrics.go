package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "traffic_alerts"

// Metrics holds the Prometheus collectors for the ingestion pipeline.
type Metrics struct {
	// Scheduler and cycle metrics.
	SchedulerRunning prometheus.Gauge
	CyclesTotal      *prometheus.CounterVec   // labels: source, outcome={ok,partial,fetch_failed,stale,stopped}
	CyclesSkipped    *prometheus.CounterVec   // labels: source
	CycleDuration    *prometheus.HistogramVec // labels: source
	FetchErrors      *prometheus.CounterVec   // labels: source, kind={unreachable,timeout,bad_response}

	// Normalizer metrics.
	RecordsNormalized *prometheus.CounterVec // labels: kind={telemetry,incidents}
	ValidationErrors  *prometheus.CounterVec // labels: kind

	// Incident store metrics.
	IncidentTransitions *prometheus.CounterVec // labels: event={created,resolved}
	ActiveIncidents     prometheus.Gauge

	// Dispatch metrics.
	Dispatches      *prometheus.CounterVec // labels: outcome={success,failed,rate_limited}
	DispatchPending prometheus.Gauge

	// Event sink metrics.
	EventsPublished prometheus.Counter
	PublishErrors   prometheus.Counter

	// Geocoding metrics.
	GeocodeRequests    *prometheus.CounterVec   // labels: method={forward,reverse}, outcome={success,error,empty}
	GeocodeCache       *prometheus.CounterVec   // labels: method={forward,reverse}, result={hit,miss}
	GeocodeAPIDuration *prometheus.HistogramVec // labels: method={forward,reverse}
	GeocodeEnabled     prometheus.Gauge

	// Operator API metrics.
	HTTPRequests        *prometheus.CounterVec   // labels: method, route, status
	HTTPRequestDuration *prometheus.HistogramVec // labels: method, route
}

// NewMetrics creates all pipeline metrics and registers them with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered metrics so tests can build as many
// instances as they need without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		SchedulerRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_running",
			Help:      "1 when the polling scheduler is active, 0 when stopped.",
		}),
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Completed poll cycles by source and outcome.",
		}, []string{"source", "outcome"}),
		CyclesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_skipped_total",
			Help:      "Ticks skipped because the previous cycle for the source was still in flight.",
		}, []string{"source"}),
		CycleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-classify-store-dispatch cycle.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"source"}),
		FetchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_errors_total",
			Help:      "Source fetch failures by kind.",
		}, []string{"source", "kind"}),
		RecordsNormalized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_normalized_total",
			Help:      "Records that passed validation.",
		}, []string{"kind"}),
		ValidationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validation_errors_total",
			Help:      "Records dropped by the normalizer.",
		}, []string{"kind"}),
		IncidentTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incident_transitions_total",
			Help:      "Incident state transitions applied to the store.",
		}, []string{"event"}),
		ActiveIncidents: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_incidents",
			Help:      "Incidents currently in the Active state.",
		}),
		Dispatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "dispatches_total",
			Help:      "Emergency dispatch attempts by outcome.",
		}, []string{"outcome"}),
		DispatchPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "dispatch_pending",
			Help:      "Qualifying incidents whose dispatch failed and awaits retry.",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Transition and dispatch events written to the event sink.",
		}),
		PublishErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_errors_total",
			Help:      "Event sink write failures.",
		}),
		GeocodeRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_requests_total",
			Help:      "Geocoding API requests by method and outcome.",
		}, []string{"method", "outcome"}),
		GeocodeCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "geocode_cache_total",
			Help:      "Geocoding cache lookups by method and result.",
		}, []string{"method", "result"}),
		GeocodeAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "geocode_api_duration_seconds",
			Help:      "Mapbox API request duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}, []string{"method"}),
		GeocodeEnabled: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "geocode_enabled",
			Help:      "1 when geocoding enrichment is enabled, 0 otherwise.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Operator API requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Operator API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SchedulerRunning,
		m.CyclesTotal,
		m.CyclesSkipped,
		m.CycleDuration,
		m.FetchErrors,
		m.RecordsNormalized,
		m.ValidationErrors,
		m.IncidentTransitions,
		m.ActiveIncidents,
		m.Dispatches,
		m.DispatchPending,
		m.EventsPublished,
		m.PublishErrors,
		m.GeocodeRequests,
		m.GeocodeCache,
		m.GeocodeAPIDuration,
		m.GeocodeEnabled,
		m.HTTPRequests,
		m.HTTPRequestDuration,
	}
}
