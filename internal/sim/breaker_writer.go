package sim

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"aerosense-sim/internal/telemetry"
)

// BreakerSettings tune a BreakerWriter.
type BreakerSettings struct {
	Name     string
	Failures int           // consecutive failures that open the breaker
	OpenFor  time.Duration // how long the breaker stays open before probing
	Interval time.Duration // closed-state window after which counts reset; 0 never resets
}

// BreakerWriter guards a slow or failing sink with a circuit breaker so that
// an unavailable database fails writes immediately instead of stalling each one.
type BreakerWriter struct {
	next ReadingWriter
	cb   *gobreaker.CircuitBreaker
}

// NewBreakerWriter wraps next.
func NewBreakerWriter(next ReadingWriter, s BreakerSettings) *BreakerWriter {
	if s.Failures <= 0 {
		s.Failures = 5
	}
	if s.OpenFor <= 0 {
		s.OpenFor = 30 * time.Second
	}
	if s.Name == "" {
		s.Name = "reading-sink"
	}
	fails := uint32(s.Failures)
	return &BreakerWriter{
		next: next,
		cb: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:     s.Name,
			Interval: s.Interval,
			Timeout:  s.OpenFor,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= fails
			},
		}),
	}
}

// Write forwards r unless the breaker is open.
func (b *BreakerWriter) Write(ctx context.Context, r telemetry.Reading) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.Write(ctx, r)
	})
	return err
}

// WriteBatch forwards rows as a single guarded call.
func (b *BreakerWriter) WriteBatch(ctx context.Context, rows []telemetry.Reading) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, WriteBatch(ctx, b.next, rows)
	})
	return err
}

// State reports the breaker state ("closed", "half-open", "open").
func (b *BreakerWriter) State() string {
	return b.cb.State().String()
}
