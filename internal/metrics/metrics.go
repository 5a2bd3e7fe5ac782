// Fleetdeck - Fleet Tracking Relay and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fleetdeck

package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus instrumentation for Fleetdeck:
// - Relay gateway throughput and upstream latency
// - WebSocket transport connection state and frames
// - Event poller activity
// - Notification pipeline decisions and store size
// - UI feed connections

var (
	// Relay gateway metrics
	RelayRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_requests_total",
			Help: "Total number of relayed API requests",
		},
		[]string{"method", "status_code"},
	)

	RelayRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_request_duration_seconds",
			Help:    "Upstream round-trip duration for relayed requests in seconds",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)

	RelayCandidateFallbacks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_candidate_fallbacks_total",
			Help: "Times the first candidate upstream URL failed and the alternate was used",
		},
	)

	RelaySessionCookies = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_session_cookies",
			Help: "Number of client identities with stored upstream session cookies",
		},
	)

	// WebSocket transport metrics
	TransportConnectionState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "transport_connection_state",
			Help: "Upstream WebSocket state (0=disconnected, 1=connecting, 2=connected)",
		},
	)

	TransportReconnects = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transport_reconnects_total",
			Help: "Total number of upstream WebSocket reconnection attempts",
		},
	)

	TransportFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "transport_frames_total",
			Help: "Total upstream WebSocket frames received by payload kind",
		},
		[]string{"kind"}, // "positions", "devices", "events", "unknown"
	)

	TransportFrameErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "transport_frame_errors_total",
			Help: "Total upstream WebSocket frames that failed to decode",
		},
	)

	// Event poller metrics
	PollerPollsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poller_polls_total",
			Help: "Total event poll attempts by outcome",
		},
		[]string{"outcome"}, // "success", "error"
	)

	PollerEventsFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "poller_events_fetched_total",
			Help: "Total events returned by poll requests",
		},
	)

	// Notification pipeline metrics
	NotificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_processed_total",
			Help: "Total events evaluated by the notification pipeline by decision",
		},
		[]string{"decision"}, // "accepted", "duplicate_id", "near_duplicate", "pref_disabled", "unclassified"
	)

	NotificationsStored = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifications_stored",
			Help: "Current number of stored notifications",
		},
	)

	NotificationsUnread = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notifications_unread",
			Help: "Current number of unread notifications",
		},
	)

	// UI feed metrics
	FeedClientsConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "feed_clients_connected",
			Help: "Current number of connected UI WebSocket clients",
		},
	)

	FeedMessagesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "feed_messages_sent_total",
			Help: "Total messages broadcast to UI WebSocket clients",
		},
	)

	// HTTP server metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests served by the control API",
		},
		[]string{"method", "path", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request processing duration in seconds",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_active_requests",
			Help: "Number of HTTP requests currently being served",
		},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)
)

// RecordAPIRequest records a served HTTP request.
func RecordAPIRequest(method, path string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// TrackActiveRequest adjusts the in-flight request gauge.
func TrackActiveRequest(start bool) {
	if start {
		HTTPActiveRequests.Inc()
		return
	}
	HTTPActiveRequests.Dec()
}

// RecordRelayRequest records a relayed request with its upstream status and duration.
func RecordRelayRequest(method string, statusCode int, duration time.Duration) {
	RelayRequestsTotal.WithLabelValues(method, strconv.Itoa(statusCode)).Inc()
	RelayRequestDuration.WithLabelValues(method).Observe(duration.Seconds())
}

// RecordTransportFrame records a decoded upstream frame by payload kind.
func RecordTransportFrame(kind string) {
	TransportFramesTotal.WithLabelValues(kind).Inc()
}

// RecordPoll records a poll attempt and how many events it returned.
func RecordPoll(err error, eventCount int) {
	if err != nil {
		PollerPollsTotal.WithLabelValues("error").Inc()
		return
	}
	PollerPollsTotal.WithLabelValues("success").Inc()
	PollerEventsFetched.Add(float64(eventCount))
}

// RecordNotificationDecision records the pipeline's decision for one event.
func RecordNotificationDecision(decision string) {
	NotificationsProcessed.WithLabelValues(decision).Inc()
}

// SetBreakerState updates the gauge for a named circuit breaker.
func SetBreakerState(name string, state int) {
	BreakerState.WithLabelValues(name).Set(float64(state))
}
