package events

import (
	"errors"
	"time"
)

// ReconnectPolicy configures how a dropped stream is re-established.
// Reconnection only follows transport failures, stream drops and 5xx
// responses; a 204 or any 4xx ends the subscription.
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive failed attempts tolerated
	// before giving up. Zero disables reconnection. The count resets each
	// time a connection opens.
	MaxAttempts int

	// InitialDelay is the delay before the first reconnect.
	InitialDelay time.Duration

	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration

	// Multiplier grows the delay after each failed attempt.
	Multiplier float64
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// NoReconnect returns a policy under which every connection is final.
func NoReconnect() ReconnectPolicy {
	return ReconnectPolicy{}
}

func (p ReconnectPolicy) validate() error {
	switch {
	case p.MaxAttempts < 0:
		return errors.New("max attempts must not be negative")
	case p.InitialDelay < 0 || p.MaxDelay < 0:
		return errors.New("delays must not be negative")
	case p.MaxAttempts > 0 && p.Multiplier < 1:
		return errors.New("multiplier must be at least 1")
	}
	return nil
}

// delay returns the wait before the given 1-based attempt. A positive
// server hint from the stream's `retry:` field replaces the computed
// backoff.
func (p ReconnectPolicy) delay(attempt int, hint time.Duration) time.Duration {
	if hint > 0 {
		return hint
	}

	d := float64(p.InitialDelay)
	for range attempt - 1 {
		d *= p.Multiplier
		if p.MaxDelay > 0 && d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}

	return time.Duration(d)
}
