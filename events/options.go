package events

import (
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Option is a functional option for [New].
type Option func(*options) error

type options struct {
	logger      *slog.Logger
	policy      *ReconnectPolicy
	limiter     *rate.Limiter
	idleTimeout time.Duration
}

// WithLogger injects a custom [slog.Logger].
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithReconnectPolicy replaces [DefaultReconnectPolicy].
func WithReconnectPolicy(p ReconnectPolicy) Option {
	return func(o *options) error {
		if err := p.validate(); err != nil {
			return err
		}
		o.policy = &p
		return nil
	}
}

// WithReconnectLimit bounds how often connection attempts may be made,
// whatever the backoff says. The default allows a burst of 3 and then one
// attempt per second.
func WithReconnectLimit(every time.Duration, burst int) Option {
	return func(o *options) error {
		if every <= 0 || burst < 1 {
			return errors.New("reconnect limit must allow at least one attempt")
		}
		o.limiter = rate.NewLimiter(rate.Every(every), burst)
		return nil
	}
}
