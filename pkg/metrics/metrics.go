// Package metrics provides Prometheus metrics instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestDuration tracks HTTP request duration.
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	// RequestsTotal tracks total HTTP requests.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// TurnsTotal counts processed turns by intent and outcome.
	TurnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_turns_total",
			Help: "Total turns processed",
		},
		[]string{"intent", "outcome"},
	)

	// TurnDuration tracks end-to-end turn latency.
	TurnDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orchestrator_turn_duration_seconds",
			Help:    "Turn processing duration",
			Buckets: []float64{.05, .1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
		[]string{"intent"},
	)

	// StageTotal counts stage executions by status.
	StageTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_stage_total",
			Help: "Stage executions by status",
		},
		[]string{"stage", "status"},
	)

	// ClassificationsTotal counts classifications by path and intent.
	ClassificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_classifications_total",
			Help: "Intent classifications by source",
		},
		[]string{"source", "intent"},
	)

	// PersonalizationGate counts gate decisions.
	PersonalizationGate = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orchestrator_personalization_gate_total",
			Help: "Personalization gate decisions",
		},
		[]string{"decision"},
	)

	// LLMRequestDuration tracks generation call duration.
	LLMRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "llm_request_duration_seconds",
			Help:    "LLM request duration",
			Buckets: []float64{.25, .5, 1, 2, 5, 10, 20, 30},
		},
		[]string{"provider", "purpose", "status"},
	)

	// LLMTokensTotal tracks total LLM tokens processed.
	LLMTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Total LLM tokens processed",
		},
		[]string{"provider", "direction"},
	)

	// LLMRetriesTotal counts retried generation attempts.
	LLMRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_retries_total",
			Help: "LLM attempts retried after a transient failure",
		},
		[]string{"provider", "kind"},
	)

	// PersistenceErrorsTotal counts failed store writes.
	PersistenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_persistence_errors_total",
			Help: "Failed conversation store operations",
		},
		[]string{"op"},
	)

	// EventsPublished counts turn events sent to NATS.
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_events_published_total",
			Help: "Turn events published",
		},
		[]string{"type", "status"},
	)

	// SSEConnectionsActive tracks active SSE connections.
	SSEConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

// RecordRequest records metrics for an HTTP request.
func RecordRequest(method, path, status string, duration float64) {
	RequestDuration.WithLabelValues(method, path, status).Observe(duration)
	RequestsTotal.WithLabelValues(method, path, status).Inc()
}

// RecordLLM records one generation attempt.
func RecordLLM(provider, purpose, status string, duration float64, tokensIn, tokensOut int) {
	LLMRequestDuration.WithLabelValues(provider, purpose, status).Observe(duration)
	if tokensIn > 0 {
		LLMTokensTotal.WithLabelValues(provider, "in").Add(float64(tokensIn))
	}
	if tokensOut > 0 {
		LLMTokensTotal.WithLabelValues(provider, "out").Add(float64(tokensOut))
	}
}

// RecordTurn records the outcome of a processed turn.
func RecordTurn(intent, outcome string, duration float64) {
	TurnsTotal.WithLabelValues(intent, outcome).Inc()
	TurnDuration.WithLabelValues(intent).Observe(duration)
}

// RecordStage records one stage execution.
func RecordStage(stage, status string) {
	StageTotal.WithLabelValues(stage, status).Inc()
}

// IncrementSSEConnections increments the active SSE connection count.
func IncrementSSEConnections() {
	SSEConnectionsActive.Inc()
}

// DecrementSSEConnections decrements the active SSE connection count.
func DecrementSSEConnections() {
	SSEConnectionsActive.Dec()
}
