package metrics

import "time"

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the metrics backend is unavailable, implementations
// log and continue.
type Sink interface {
	// Dispatch loop metrics
	TickStarted()
	TickCompleted(duration time.Duration, due int, err error)

	// Delivery metrics
	DeliveryOutcome(outcome string)

	// Background task metrics
	TaskCompleted(task string, err error)
}

// Outcome constants for DeliveryOutcome.
const (
	OutcomeSent   = "sent"
	OutcomeFailed = "failed"
)
