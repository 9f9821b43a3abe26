// Cardrank - Credit Card Recommendation Batch Pipeline
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/cardrank

// Package metrics holds the Prometheus instruments for batch runs, the
// scoring-API client and the job server. Instruments register with the
// default registry; `cardrank serve` exposes them on /metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Row outcomes.
const (
	OutcomeRanked  = "ranked"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	// Batch pipeline
	RowsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_rows_total",
			Help: "Rows reaching a terminal state, by outcome",
		},
		[]string{"outcome"}, // ranked, skipped, failed
	)

	RowDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardrank_row_duration_seconds",
			Help:    "Wall time to process one row, including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_runs_total",
			Help: "Completed batch runs, by result",
		},
		[]string{"result"}, // completed, aborted
	)

	ColumnResolutionGaps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_column_resolution_gaps_total",
			Help: "Configured columns with no matching input header",
		},
		[]string{"field"},
	)

	ResponseWarnings = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_response_warnings_total",
			Help: "Degraded-but-recovered conditions met while normalizing responses",
		},
		[]string{"kind"},
	)

	// Scoring API client
	ScoringRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_scoring_requests_total",
			Help: "Attempts against the scoring API, by status class",
		},
		[]string{"status"}, // 2xx, 4xx, 5xx, transport
	)

	ScoringRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cardrank_scoring_request_duration_seconds",
			Help:    "Duration of single scoring API attempts",
			Buckets: prometheus.DefBuckets,
		},
	)

	ScoringRetriesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "cardrank_scoring_retries_total",
			Help: "Backoff waits before a repeated scoring API attempt",
		},
	)

	// Circuit breaker
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
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // success, failure, rejected
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// Job server
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_http_requests_total",
			Help: "Job server requests, by route pattern and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cardrank_http_request_duration_seconds",
			Help:    "Job server request latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	JobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cardrank_jobs_total",
			Help: "Batch jobs reaching a terminal state, by status",
		},
		[]string{"status"},
	)

	JobsQueued = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardrank_jobs_queued",
			Help: "Jobs accepted but not yet started",
		},
	)

	WSConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cardrank_websocket_connections_active",
			Help: "Open job progress websocket streams",
		},
	)
)

// RecordRow records one row reaching a terminal state.
func RecordRow(outcome string, duration time.Duration) {
	RowsTotal.WithLabelValues(outcome).Inc()
	if outcome != OutcomeSkipped {
		RowDuration.Observe(duration.Seconds())
	}
}

// RecordScoringAttempt records one HTTP attempt. statusCode 0 means the
// request never produced a response.
func RecordScoringAttempt(statusCode int, duration time.Duration) {
	ScoringRequestsTotal.WithLabelValues(StatusClass(statusCode)).Inc()
	ScoringRequestDuration.Observe(duration.Seconds())
}

// RecordHTTPRequest records one job server request.
func RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, route, strconv.Itoa(statusCode)).Inc()
	HTTPRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StatusClass buckets an HTTP status code ("2xx", "5xx"); 0 is "transport".
func StatusClass(code int) string {
	if code <= 0 {
		return "transport"
	}
	return strconv.Itoa(code/100) + "xx"
}
