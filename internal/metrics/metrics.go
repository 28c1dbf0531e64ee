// Package metrics provides Prometheus metrics for the event bus, broadcaster and agents.
// Labels never carry session or agent ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EventsPublishedTotal counts events accepted by the bus, by kind.
	EventsPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_events_published_total",
		Help: "Total number of events accepted by the bus, by kind.",
	}, []string{"kind"})

	// EventsDroppedTotal counts events that never reached a connection, by kind and reason.
	EventsDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_events_dropped_total",
		Help: "Total number of dropped events, by kind and reason (full/closed/no_audience/encode).",
	}, []string{"kind", "reason"})

	// EventsDispatchedTotal counts events fanned out to a non-empty audience.
	EventsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_events_dispatched_total",
		Help: "Total number of events dispatched to at least one connection, by kind.",
	}, []string{"kind"})

	// DeliveriesTotal counts per-connection sends by result.
	DeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_deliveries_total",
		Help: "Total number of per-connection sends, by result (ok/failed).",
	}, []string{"result"})

	// ConnectionsPrunedTotal counts connections removed after a failed send.
	ConnectionsPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "agentstream_connections_pruned_total",
		Help: "Total number of connections pruned after a delivery failure.",
	})

	// AgentTransitionsTotal counts agent lifecycle transitions by target state.
	AgentTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_agent_transitions_total",
		Help: "Total number of agent lifecycle transitions, by target state.",
	}, []string{"state"})

	// ClassifiedLinesTotal counts classified log lines by outcome.
	ClassifiedLinesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_classified_lines_total",
		Help: "Total number of engine log lines classified, by category (step/artifact/message/discarded).",
	}, []string{"category"})

	// GlobalConnections tracks connections subscribed to the global feed.
	GlobalConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentstream_global_connections",
		Help: "Current number of connections subscribed to the global feed.",
	})

	// SessionFeeds tracks sessions with at least one scoped connection.
	SessionFeeds = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentstream_session_feeds",
		Help: "Current number of sessions with at least one subscribed connection.",
	})

	// HTTPRequestsTotal counts completed API requests by route template and status class.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "agentstream_http_requests_total",
		Help: "Total number of completed HTTP requests, by route and status class (2xx/4xx/5xx).",
	}, []string{"route", "status"})

	// HTTPRequestDuration observes handler latency by route template.
	// Streaming routes are excluded since their duration is the feed lifetime.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "agentstream_http_request_duration_seconds",
		Help:    "HTTP request latency in seconds, by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})

	// ActiveAgents tracks sessions that are running or paused.
	ActiveAgents = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentstream_active_agents",
		Help: "Current number of running or paused agent sessions.",
	})
)

// IncEventDropped records a dropped event with a concrete reason.
func IncEventDropped(kind, reason string) {
	if kind == "" {
		kind = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	EventsDroppedTotal.WithLabelValues(kind, reason).Inc()
}

// RecordDelivery increments the delivery counter for one send.
func RecordDelivery(ok bool) {
	if ok {
		DeliveriesTotal.WithLabelValues("ok").Inc()
		return
	}
	DeliveriesTotal.WithLabelValues("failed").Inc()
}

// SetRegistrySize updates the subscriber registry gauges.
func SetRegistrySize(global, sessions int) {
	GlobalConnections.Set(float64(global))
	SessionFeeds.Set(float64(sessions))
}

// RecordHTTPRequest records one completed request. route must already be a
// template such as /api/agent/{id}/status.
func RecordHTTPRequest(route string, status int, seconds float64, streaming bool) {
	class := "other"
	switch {
	case status >= 500:
		class = "5xx"
	case status >= 400:
		class = "4xx"
	case status >= 300:
		class = "3xx"
	case status >= 200:
		class = "2xx"
	}
	HTTPRequestsTotal.WithLabelValues(route, class).Inc()
	if !streaming {
		HTTPRequestDuration.WithLabelValues(route).Observe(seconds)
	}
}
