package multihop

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for the control loop.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// nodeInvocationsTotal counts node executions.
	//
	// Labels:
	//   - node: "planner", "reasoner", "searcher", "extractor", "answer"
	nodeInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "node_invocations_total",
			Help:      "Total number of control loop node invocations.",
		},
		[]string{"node"},
	)

	// oracleCallsTotal counts oracle calls per call site.
	//
	// Labels:
	//   - site: "plan", "replan", "select_doc", "extract", "verify",
	//     "step_answer", "synthesize", "final_answer"
	//   - status: "success" or "error"
	oracleCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "oracle_calls_total",
			Help:      "Total number of oracle calls by call site.",
		},
		[]string{"site", "status"},
	)

	oracleCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "oracle_call_duration_seconds",
			Help:      "Duration of oracle calls in seconds by call site.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"site"},
	)

	// fallbacksTotal counts oracle results replaced by a local fallback.
	fallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "fallbacks_total",
			Help:      "Total number of oracle results replaced by a local fallback.",
		},
		[]string{"site"},
	)

	replansTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "replans_total",
			Help:      "Total number of accepted replans.",
		},
	)

	// sessionsTotal counts finished sessions.
	//
	// Labels:
	//   - outcome: "answered" or "unanswered"
	sessionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "sessions_total",
			Help:      "Total number of finished sessions by outcome.",
		},
		[]string{"outcome"},
	)

	sessionIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "multihop",
			Subsystem: "agent",
			Name:      "session_iterations",
			Help:      "Reasoner iterations used per session.",
			Buckets:   []float64{1, 2, 4, 8, 12, 16, 24, 32, 40},
		},
	)
)
