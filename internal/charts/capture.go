// Package charts serializes chart rendering. Render engines are memory heavy
// and not safe for concurrent use, so only one capture runs at a time.
package charts

import (
	"context"
	"fmt"
)

// Capturer renders one named chart to an image.
type Capturer interface {
	Capture(ctx context.Context, name string, spec []byte) ([]byte, error)
}

// Serialized wraps a Capturer so at most one render is in flight. Waiting
// callers honor their context deadline instead of queueing forever.
type Serialized struct {
	inner Capturer
	sem   chan struct{}
}

func NewSerialized(inner Capturer) *Serialized {
	return &Serialized{
		inner: inner,
		sem:   make(chan struct{}, 1),
	}
}

func (s *Serialized) Capture(ctx context.Context, name string, spec []byte) ([]byte, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for chart renderer: %w", ctx.Err())
	}
	defer func() { <-s.sem }()

	return s.inner.Capture(ctx, name, spec)
}

var _ Capturer = (*Serialized)(nil)

// FuncCapturer adapts a plain function to the Capturer interface.
type FuncCapturer func(ctx context.Context, name string, spec []byte) ([]byte, error)

func (f FuncCapturer) Capture(ctx context.Context, name string, spec []byte) ([]byte, error) {
	return f(ctx, name, spec)
}

// InFlight reports whether a render currently holds the slot.
func (s *Serialized) InFlight() bool {
	select {
	case s.sem <- struct{}{}:
		<-s.sem
		return false
	default:
		return true
	}
}
