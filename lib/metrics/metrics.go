// Package metrics holds the Prometheus collectors shared by the poller, the
// WebSub manager and the HTTP API.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FetchOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_fetch_outcomes_total",
			Help: "Feed fetches by outcome kind",
		},
		[]string{"kind"},
	)

	FetchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "feedwatch_fetch_duration_seconds",
			Help:    "Wall time of a single feed fetch including redirects",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
	)

	ProtocolViolations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feedwatch_protocol_violations_total",
			Help: "Malformed redirects, redirect loops and unknown feed formats",
		},
	)

	ScheduleReasons = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_schedule_reasons_total",
			Help: "Next-fetch decisions by reason",
		},
		[]string{"reason"},
	)

	Entries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_entries_total",
			Help: "Processed entries by status",
		},
		[]string{"status"}, // "new", "updated", "unchanged", "skipped"
	)

	CyclesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feedwatch_cycles_in_flight",
			Help: "Feed cycles currently running",
		},
	)

	PushDeliveries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_push_deliveries_total",
			Help: "WebSub content deliveries by result",
		},
		[]string{"result"}, // "accepted", "bad_signature", "unknown", "inactive"
	)

	PushTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "feedwatch_push_transitions_total",
			Help: "WebSub subscription state transitions",
		},
		[]string{"from", "to"},
	)

	HubBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "feedwatch_hub_breaker_state",
			Help: "Circuit breaker state per hub (0=closed, 1=half-open, 2=open)",
		},
		[]string{"hub"},
	)
)
