package auth

import (
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Option is a functional option for [NewCoordinator].
type Option func(*options) error

type options struct {
	leeway time.Duration
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// WithLeeway treats a record as expired d before its ExpiresAt, absorbing
// clock skew between this host and the API. The default is zero: a record
// is valid until the exact instant it expires.
func WithLeeway(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("leeway must not be negative")
		}
		o.leeway = d
		return nil
	}
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer records a span around every refresh exchange.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithClock replaces time.Now for validity checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		o.now = now
		return nil
	}
}
