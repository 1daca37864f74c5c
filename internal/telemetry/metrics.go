/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// API metrics
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listenparty_api_request_duration_seconds",
		Help:    "HTTP request latency by method, route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_api_requests_total",
		Help: "HTTP requests by method, route and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listenparty_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	WebsocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listenparty_websocket_connections",
		Help: "Open session websocket connections.",
	})
)

// Event metrics
var (
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_events_published_total",
		Help: "Ephemeral events published by type and delivery status.",
	}, []string{"type", "status"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_events_dropped_total",
		Help: "Ephemeral events dropped because a subscriber buffer was full.",
	}, []string{"type"})

	ChangesEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_changes_emitted_total",
		Help: "Change-feed notifications by table and operation.",
	}, []string{"table", "op"})

	ReconcileRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_reconcile_runs_total",
		Help: "Replica reconciliations by table and result.",
	}, []string{"table", "result"})
)

// Session metrics
var (
	SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_session_transitions_total",
		Help: "Lifecycle transitions by kind and result.",
	}, []string{"transition", "result"})

	SkipQuorumAdvances = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listenparty_skip_quorum_advances_total",
		Help: "Songs skipped because skip votes reached quorum.",
	})

	DriftCorrections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listenparty_playback_drift_corrections_total",
		Help: "Re-seeks issued because playback drifted past the threshold.",
	})

	PresenceParticipants = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "listenparty_presence_participants",
		Help: "Tracked presence entries per session.",
	}, []string{"session_id"})

	JanitorRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_janitor_runs_total",
		Help: "Janitor sweeps by action and result.",
	}, []string{"action", "result"})
)

// Infrastructure metrics
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "listenparty_database_query_duration_seconds",
		Help:    "Database operation latency by operation and table.",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_database_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "listenparty_database_connections_active",
		Help: "Open database connections.",
	})

	LeaderElectionStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "listenparty_leader_election_status",
		Help: "1 when this instance holds leadership.",
	}, []string{"instance_id"})

	LeaderElectionChanges = promauto.NewCounter(prometheus.CounterOpts{
		Name: "listenparty_leader_election_changes_total",
		Help: "Leadership acquisitions and losses.",
	})

	CacheOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "listenparty_cache_operations_total",
		Help: "Join-code cache lookups by result.",
	}, []string{"result"})
)

// Handler exposes metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
