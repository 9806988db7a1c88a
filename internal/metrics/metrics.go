package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondbrain_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "secondbrain_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"method", "path"},
	)

	// Agent metrics
	TurnsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secondbrain_agent_turns_started_total",
			Help: "Total conversation turns started",
		},
	)

	TurnsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondbrain_agent_turns_completed_total",
			Help: "Total conversation turns completed",
		},
		[]string{"status"}, // "complete", "error", "interrupted"
	)

	ToolExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondbrain_tool_executions_total",
			Help: "Total tool executions",
		},
		[]string{"tool", "outcome"}, // outcome is "success" or "failure"
	)

	ResponsesTruncated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "secondbrain_responses_truncated_total",
			Help: "Total responses that hit the size ceiling",
		},
	)

	// Retrieval metrics
	RetrievalLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "secondbrain_retrieval_latency_seconds",
			Help:    "Note retrieval latency",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	RetrievalNotes = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "secondbrain_retrieval_notes",
			Help:    "Distinct notes surfaced per retrieval",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13},
		},
	)

	// Token metrics
	TokensUsed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secondbrain_tokens_total",
			Help: "Total tokens consumed",
		},
		[]string{"direction"}, // "input" or "output"
	)
)
