package metrics

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
// If the metrics backend is unavailable, implementations log warnings and continue.
type Sink interface {
	// Batch metrics
	BatchCompleted(jobs int, duration time.Duration, err error)
	JobOutcome(state string)
	JobsInFlightIncr()
	JobsInFlightDecr()

	// Plugin call metrics
	PluginCallCompleted(statusClass string, duration time.Duration)

	// Reconciler metrics
	ReconcileCompleted(abandoned int, err error)

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderLost(reason string)
}

// StatusClass constants for PluginCallCompleted metric.
const (
	StatusClass2xx             = "2xx"
	StatusClass4xx             = "4xx"
	StatusClass5xx             = "5xx"
	StatusClassTimeout         = "timeout"
	StatusClassConnectionError = "connection_error"
	StatusClassOtherError      = "other_error"
)

// ClassifyStatus maps a status code and error to a status class.
// A non-zero status code wins over the error.
func ClassifyStatus(statusCode int, err error) string {
	if statusCode == 0 && err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return StatusClassTimeout
		}
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
			return StatusClassTimeout
		case strings.Contains(msg, "connection refused") || strings.Contains(msg, "no such host") ||
			strings.Contains(msg, "network is unreachable") || strings.Contains(msg, "dial"):
			return StatusClassConnectionError
		default:
			return StatusClassOtherError
		}
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return StatusClass2xx
	case statusCode >= 400 && statusCode < 500:
		return StatusClass4xx
	case statusCode >= 500:
		return StatusClass5xx
	default:
		return StatusClassOtherError
	}
}
