package oracle

import (
	"errors"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Package-level Prometheus metrics for oracle backends.
// Auto-registered via promauto so no explicit registry wiring is needed.
var (
	// callsTotal counts backend calls.
	//
	// Labels:
	//   - provider: "openai", "ollama" or a caller supplied name
	//   - status: "success" or "error"
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "oracle",
			Name:      "calls_total",
			Help:      "Total number of oracle backend calls.",
		},
		[]string{"provider", "status"},
	)

	// errorsTotal counts backend failures by type.
	//
	// Labels:
	//   - error_type: "timeout", "auth", "rate_limit", "server", "empty_response", "unknown"
	errorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "oracle",
			Name:      "errors_total",
			Help:      "Total oracle backend errors by type.",
		},
		[]string{"provider", "error_type"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "multihop",
			Subsystem: "oracle",
			Name:      "call_duration_seconds",
			Help:      "Duration of oracle backend calls in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider"},
	)

	tokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "multihop",
			Subsystem: "oracle",
			Name:      "tokens_total",
			Help:      "Total tokens exchanged with oracle backends.",
		},
		[]string{"provider", "direction"},
	)

	activeRequests = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "multihop",
			Subsystem: "oracle",
			Name:      "active_requests",
			Help:      "Number of in-flight oracle backend requests.",
		},
		[]string{"provider"},
	)
)

// classifyError maps an error to a label-safe error type so raw messages
// never become label values. It returns "" for nil.
func classifyError(err error) string {
	if err == nil {
		return ""
	}

	var empty *EmptyResponseError
	if errors.As(err, &empty) {
		return "empty_response"
	}

	msg := strings.ToLower(err.Error())

	switch {
	case strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "context canceled") ||
		strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "401") ||
		strings.Contains(msg, "403") ||
		strings.Contains(msg, "unauthorized") ||
		strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "api key"):
		return "auth"
	case strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "too many requests"):
		return "rate_limit"
	case strings.Contains(msg, "500") ||
		strings.Contains(msg, "502") ||
		strings.Contains(msg, "503") ||
		strings.Contains(msg, "server error") ||
		strings.Contains(msg, "internal error"):
		return "server"
	default:
		return "unknown"
	}
}

// recordCall records one finished backend call on both paths.
func recordCall(provider string, duration time.Duration, inputTokens, outputTokens int, err error) {
	status := "success"
	if err != nil {
		status = "error"
		errorsTotal.WithLabelValues(provider, classifyError(err)).Inc()
	}
	callDuration.WithLabelValues(provider).Observe(duration.Seconds())
	callsTotal.WithLabelValues(provider, status).Inc()

	if err == nil {
		tokensTotal.WithLabelValues(provider, "input").Add(float64(inputTokens))
		tokensTotal.WithLabelValues(provider, "output").Add(float64(outputTokens))
	}
}
