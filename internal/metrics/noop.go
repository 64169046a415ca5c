package metrics

import "time"

// NoopSink implements Sink with no-ops, for when metrics are disabled.
type NoopSink struct{}

func NewNoopSink() *NoopSink { return &NoopSink{} }

func (s *NoopSink) TickStarted()                                             {}
func (s *NoopSink) TickCompleted(duration time.Duration, due int, err error) {}
func (s *NoopSink) DeliveryOutcome(outcome string)                           {}
func (s *NoopSink) TaskCompleted(task string, err error)                     {}

var _ Sink = (*NoopSink)(nil)
