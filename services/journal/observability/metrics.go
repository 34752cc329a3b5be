// Copyright (C) 2025 Worklog Labs (dev@worklog.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package observability provides Prometheus metrics for the journal service.
//
// # Description
//
// Metrics cover the streaming chat pipeline: request counters by endpoint
// and status, delta/token throughput, latency histograms (time to first
// token, stream duration), active stream gauges, cooperative cancellations,
// and stale registry evictions.
//
// # Integration
//
// Exposed via the /metrics endpoint for Prometheus scraping.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "worklog"

const streamingSubsystem = "streaming"

// StreamingMetrics holds the Prometheus metrics for streaming operations.
//
// Construct once at startup via InitMetrics, or with NewStreamingMetrics
// against a private registry in tests.
type StreamingMetrics struct {
	// RequestsTotal counts streaming requests by endpoint and status.
	// Labels: endpoint (chat_stream, report_stream), status (success, error)
	RequestsTotal *prometheus.CounterVec

	// DeltasTotal counts token fragments written to clients.
	// Labels: endpoint
	DeltasTotal *prometheus.CounterVec

	// TimeToFirstTokenSeconds measures latency to the first delta.
	// Labels: endpoint
	TimeToFirstTokenSeconds *prometheus.HistogramVec

	// StreamDurationSeconds measures total stream duration.
	// Labels: endpoint, status (success, error)
	StreamDurationSeconds *prometheus.HistogramVec

	// ActiveStreams tracks currently open streaming connections.
	// Labels: endpoint
	ActiveStreams *prometheus.GaugeVec

	// ErrorsTotal counts errors by type and endpoint.
	// Labels: endpoint, error_code
	ErrorsTotal *prometheus.CounterVec

	// CancellationsTotal counts streams ended by cooperative cancellation,
	// by source (stop_endpoint, client_disconnect, stale_eviction).
	CancellationsTotal *prometheus.CounterVec

	// RegistryEvictionsTotal counts stale registrations evicted by the
	// lazy cleanup sweep.
	RegistryEvictionsTotal prometheus.Counter

	// ClientDisconnectsTotal counts client disconnections mid-stream.
	// Labels: endpoint
	ClientDisconnectsTotal *prometheus.CounterVec
}

// DefaultMetrics is the process-wide metrics instance, set by InitMetrics.
// Handlers nil-check it so tests can run without metrics registered.
var DefaultMetrics *StreamingMetrics

// InitMetrics initializes DefaultMetrics against the default Prometheus
// registry. Call once at startup; a second call panics on duplicate
// registration.
func InitMetrics() *StreamingMetrics {
	DefaultMetrics = NewStreamingMetrics(prometheus.DefaultRegisterer)
	return DefaultMetrics
}

// NewStreamingMetrics creates and registers the metric set on reg.
//
// Tests pass prometheus.NewRegistry() to avoid cross-test duplicate
// registration panics.
func NewStreamingMetrics(reg prometheus.Registerer) *StreamingMetrics {
	m := &StreamingMetrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "requests_total",
				Help:      "Total streaming requests by endpoint and status",
			},
			[]string{"endpoint", "status"},
		),

		DeltasTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "deltas_total",
				Help:      "Total token fragments written to clients",
			},
			[]string{"endpoint"},
		),

		TimeToFirstTokenSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "time_to_first_token_seconds",
				Help:      "Time from request to first delta in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
			},
			[]string{"endpoint"},
		),

		StreamDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "stream_duration_seconds",
				Help:      "Total stream duration in seconds",
				Buckets:   []float64{1, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint", "status"},
		),

		ActiveStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "active_streams",
				Help:      "Number of currently open streaming connections",
			},
			[]string{"endpoint"},
		),

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "errors_total",
				Help:      "Total streaming errors by type and endpoint",
			},
			[]string{"endpoint", "error_code"},
		),

		CancellationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "cancellations_total",
				Help:      "Total streams ended by cooperative cancellation, by source",
			},
			[]string{"source"},
		),

		RegistryEvictionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "registry_evictions_total",
				Help:      "Total stale stream registrations evicted",
			},
		),

		ClientDisconnectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: streamingSubsystem,
				Name:      "client_disconnects_total",
				Help:      "Total client disconnections during streaming",
			},
			[]string{"endpoint"},
		),
	}

	reg.MustRegister(
		m.RequestsTotal,
		m.DeltasTotal,
		m.TimeToFirstTokenSeconds,
		m.StreamDurationSeconds,
		m.ActiveStreams,
		m.ErrorsTotal,
		m.CancellationsTotal,
		m.RegistryEvictionsTotal,
		m.ClientDisconnectsTotal,
	)
	return m
}

// =============================================================================
// Error Codes
// =============================================================================

// ErrorCode categorizes an error for metrics labeling.
type ErrorCode string

const (
	// ErrorCodeValidation indicates request validation failure.
	ErrorCodeValidation ErrorCode = "validation"

	// ErrorCodeNotFound indicates a missing or foreign-owned resource.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeLLMError indicates an upstream model failure.
	ErrorCodeLLMError ErrorCode = "llm_error"

	// ErrorCodeInternal indicates an internal server error.
	ErrorCodeInternal ErrorCode = "internal"

	// ErrorCodeClientDisconnect indicates the client went away mid-stream.
	ErrorCodeClientDisconnect ErrorCode = "client_disconnect"
)

// =============================================================================
// Endpoint Names
// =============================================================================

// Endpoint labels a streaming endpoint for metrics.
type Endpoint string

const (
	// EndpointChatStream is the conversational chat streaming endpoint.
	EndpointChatStream Endpoint = "chat_stream"

	// EndpointReportStream is the report generation streaming endpoint.
	EndpointReportStream Endpoint = "report_stream"
)

// =============================================================================
// Cancellation Sources
// =============================================================================

const (
	// CancelSourceStop is a cancellation via the stop endpoint.
	CancelSourceStop = "stop_endpoint"

	// CancelSourceDisconnect is a cancellation from client disconnect.
	CancelSourceDisconnect = "client_disconnect"

	// CancelSourceEviction is a cancellation from stale-entry eviction.
	CancelSourceEviction = "stale_eviction"
)

// =============================================================================
// Helper Methods
// =============================================================================

// RecordRequest records a completed streaming request.
func (m *StreamingMetrics) RecordRequest(endpoint Endpoint, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.RequestsTotal.WithLabelValues(string(endpoint), status).Inc()
}

// RecordError records a streaming error by category.
func (m *StreamingMetrics) RecordError(endpoint Endpoint, code ErrorCode) {
	m.ErrorsTotal.WithLabelValues(string(endpoint), string(code)).Inc()
}

// RecordDelta counts one token fragment written to a client.
func (m *StreamingMetrics) RecordDelta(endpoint Endpoint) {
	m.DeltasTotal.WithLabelValues(string(endpoint)).Inc()
}

// StreamStarted increments the active streams gauge.
func (m *StreamingMetrics) StreamStarted(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Inc()
}

// StreamEnded decrements the active streams gauge.
func (m *StreamingMetrics) StreamEnded(endpoint Endpoint) {
	m.ActiveStreams.WithLabelValues(string(endpoint)).Dec()
}

// RecordTimeToFirstToken records latency to the first delta.
func (m *StreamingMetrics) RecordTimeToFirstToken(endpoint Endpoint, seconds float64) {
	m.TimeToFirstTokenSeconds.WithLabelValues(string(endpoint)).Observe(seconds)
}

// RecordStreamDuration records the total stream duration.
func (m *StreamingMetrics) RecordStreamDuration(endpoint Endpoint, seconds float64, success bool) {
	status := "success"
	if !success {
		status = "error"
	}
	m.StreamDurationSeconds.WithLabelValues(string(endpoint), status).Observe(seconds)
}

// RecordCancellation records a cooperatively cancelled stream by source.
func (m *StreamingMetrics) RecordCancellation(source string) {
	m.CancellationsTotal.WithLabelValues(source).Inc()
}

// RecordRegistryEvictions adds n evicted registrations.
func (m *StreamingMetrics) RecordRegistryEvictions(n int) {
	if n > 0 {
		m.RegistryEvictionsTotal.Add(float64(n))
	}
}

// RecordClientDisconnect increments the client disconnect counter.
func (m *StreamingMetrics) RecordClientDisconnect(endpoint Endpoint) {
	m.ClientDisconnectsTotal.WithLabelValues(string(endpoint)).Inc()
}
