// Package metrics registers the aggregation counters on a dedicated
// prometheus registry, exposed by internal/web at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

type Metrics struct {
	registry *prometheus.Registry

	SourceFetches  *prometheus.CounterVec
	FetchDuration  *prometheus.SummaryVec
	CacheRequests  *prometheus.CounterVec
	EventsServed   prometheus.Counter
	RecordsDropped *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{registry: prometheus.NewRegistry()}

	m.SourceFetches = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agendad",
		Name:      "source_fetch_total",
		Help:      "Source fetches by outcome (ok or error, retries exhausted)",
	}, []string{"source", "outcome"})

	m.FetchDuration = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: "agendad",
		Name:      "source_fetch_duration_seconds",
		Help:      "Time spent fetching one source, retries included",
	}, []string{"source"})

	m.CacheRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agendad",
		Name:      "cache_requests_total",
		Help:      "Sub-cache lookups by outcome (hit, miss, stale)",
	}, []string{"outcome"})

	m.EventsServed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "agendad",
		Name:      "events_served_total",
		Help:      "Events returned to callers across all aggregation passes",
	})

	m.RecordsDropped = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "agendad",
		Name:      "records_dropped_total",
		Help:      "Raw records dropped during normalization (no parseable date)",
	}, []string{"source"})

	m.registry.MustRegister(
		m.SourceFetches,
		m.FetchDuration,
		m.CacheRequests,
		m.EventsServed,
		m.RecordsDropped,
	)
	return m
}

// Registry exposes the underlying registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
