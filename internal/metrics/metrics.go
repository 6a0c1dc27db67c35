// Presencewatch - Game Server Presence Tracking and Transport Failover
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/presencewatch

// Package metrics defines the Prometheus collectors exported on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Presence recorder
	PresenceEventsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_recorded_total",
			Help: "Join and leave events that changed a profile",
		},
		[]string{"action", "source"},
	)

	PresenceNoops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_events_noop_total",
			Help: "Join or leave events ignored because the profile was already in that state",
		},
		[]string{"action"},
	)

	PresenceStateDrift = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "presence_state_drift_total",
			Help: "Leaves for online profiles that had no active session",
		},
	)

	ReconcileCorrections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_reconcile_corrections_total",
			Help: "Joins and leaves issued by snapshot reconciliation",
		},
		[]string{"action"},
	)

	NormalizationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_normalization_failures_total",
			Help: "Raw transport events dropped as invalid",
		},
		[]string{"source"},
	)

	RetentionDeleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "presence_retention_deleted_total",
			Help: "Rows removed by retention cleanup",
		},
		[]string{"kind"}, // "activity", "session"
	)

	PresenceOnlinePlayers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "presence_online_players",
			Help: "Players in the latest reconciled snapshot",
		},
		[]string{"server_id"},
	)

	// Push channel
	PushConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_connected",
			Help: "1 while the push websocket is connected",
		},
	)

	PushReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_reconnect_attempts_total",
			Help: "Push websocket connection attempts",
		},
		[]string{"result"},
	)

	PushDuplicatesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_duplicates_dropped_total",
			Help: "Push events dropped by the dedup window",
		},
	)

	PushSubscribedServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "push_subscribed_servers",
			Help: "Servers in the push subscription set",
		},
	)

	// Poll channel
	PollCycleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poll_cycle_duration_seconds",
			Help:    "Wall time of one poll over all subscribed servers",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
	)

	PollFetchErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poll_fetch_errors_total",
			Help: "Per-server snapshot fetches that failed",
		},
	)

	PollSubscribedServers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_subscribed_servers",
			Help: "Servers in the poll subscription set",
		},
	)

	PollActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poll_active",
			Help: "1 while the poll loop is running",
		},
	)

	// Failover coordinator
	FailoverMode = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failover_mode",
			Help: "Transport mode (0=primary, 1=hybrid, 2=secondary)",
		},
	)

	FailoverTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "failover_mode_transitions_total",
			Help: "Transport mode transitions",
		},
		[]string{"from", "to", "reason"},
	)

	FailoverFailureCount = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "failover_failure_count",
			Help: "Consecutive failed push health checks",
		},
	)

	// Upstream API
	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream API request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "status"},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Requests through a circuit breaker",
		},
		[]string{"name", "result"}, // "success", "failure", "rejected"
	)

	CircuitBreakerConsecutiveFailures = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_consecutive_failures",
			Help: "Current consecutive failures",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Outer surfaces
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP API latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)

	LiveClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "live_feed_clients",
			Help: "Connected live activity websocket clients",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_events_published_total",
			Help: "Activity events handed to the message bus",
		},
		[]string{"result"},
	)

	OutboxPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activity_outbox_pending",
			Help: "Activity events persisted but not yet acknowledged by the bus",
		},
	)

	OutboxRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "activity_outbox_retries_total",
			Help: "Outbox redelivery attempts by outcome",
		},
		[]string{"result"}, // "sent", "failed", "dropped"
	)
)

// RecordPresenceEvent counts an applied join or leave.
func RecordPresenceEvent(action, source string) {
	PresenceEventsRecorded.WithLabelValues(action, source).Inc()
}

// RecordPollCycle observes one completed poll.
func RecordPollCycle(duration time.Duration, failures int) {
	PollCycleDuration.Observe(duration.Seconds())
	if failures > 0 {
		PollFetchErrors.Add(float64(failures))
	}
}

// SetPushConnected updates the push connection gauge.
func SetPushConnected(connected bool) {
	PushConnected.Set(boolToFloat(connected))
}

// SetPollActive updates the poll loop gauge.
func SetPollActive(active bool) {
	PollActive.Set(boolToFloat(active))
}

// RecordModeTransition records a failover transition. mode is the numeric
// value of the destination mode.
func RecordModeTransition(from, to, reason string, mode int) {
	FailoverTransitions.WithLabelValues(from, to, reason).Inc()
	FailoverMode.Set(float64(mode))
}

// RecordUpstreamRequest observes an upstream API call.
func RecordUpstreamRequest(endpoint string, status int, duration time.Duration) {
	UpstreamRequestDuration.WithLabelValues(endpoint, strconv.Itoa(status)).Observe(duration.Seconds())
}

// RecordAPIRequest observes an HTTP API call.
func RecordAPIRequest(method, route string, status int, duration time.Duration) {
	APIRequestDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
