package forge

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/forge/events"
)

// Option defines optional settings for [New].
type Option func(*options) error

type options struct {
	client    *http.Client
	rt        http.RoundTripper
	userAgent string
	logger    *slog.Logger
	tracer    trace.Tracer
	leeway    time.Duration
	now       func() time.Time
	reconnect *events.ReconnectPolicy
	debug     bool
}

// WithHTTPClient builds on a copy of hc, keeping its transport, jar and
// redirect policy. Its timeout is replaced by Config.RequestTimeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		o.client = hc
		return nil
	}
}

// WithTransport sets the round tripper used for every request and stream,
// the place to configure TLS or proxies.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		o.rt = rt
		return nil
	}
}

// WithUserAgent adds a persistent `User-Agent` header to all outgoing
// requests.
func WithUserAgent(header string) Option {
	return func(o *options) error {
		o.userAgent = header
		return nil
	}
}

// WithLogger injects a custom logger, shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) error {
		o.logger = logger
		return nil
	}
}

// WithTracer records a span per API call and per token refresh, and
// propagates the trace context to the server.
func WithTracer(tracer trace.Tracer) Option {
	return func(o *options) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		o.tracer = tracer
		return nil
	}
}

// WithLeeway treats a session as expired d before its expiry.
func WithLeeway(d time.Duration) Option {
	return func(o *options) error {
		if d < 0 {
			return errors.New("leeway must not be negative")
		}
		o.leeway = d
		return nil
	}
}

// WithClock replaces time.Now when deciding whether a session is expired.
func WithClock(now func() time.Time) Option {
	return func(o *options) error {
		if now == nil {
			return errors.New("clock must not be nil")
		}
		o.now = now
		return nil
	}
}

// WithReconnectPolicy replaces the event stream's default reconnect policy.
func WithReconnectPolicy(p events.ReconnectPolicy) Option {
	return func(o *options) error {
		o.reconnect = &p
		return nil
	}
}

// WithDebugLogging logs every request and response at debug level.
// Headers and bodies are never logged.
func WithDebugLogging() Option {
	return func(o *options) error {
		o.debug = true
		return nil
	}
}
