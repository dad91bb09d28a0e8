package client

import (
	"errors"
	"log/slog"
	"net/http"
	"time"
)

// Option is a functional option for configuring a [Client] via [Build].
type Option func(*options) error

type options struct {
	client            *http.Client
	rt                http.RoundTripper
	timeout           *time.Duration
	userAgent         string
	noFollowRedirects bool
	logger            *slog.Logger
	debug             bool
}

// WithClient replaces the default [http.Client] used by the [Client].
// The given client is copied, it is never mutated.
func WithClient(hc *http.Client) Option {
	return func(c *options) error {
		if hc == nil {
			return errors.New("client must not be nil")
		}
		c.client = hc
		return nil
	}
}

// WithTransport sets a custom [http.RoundTripper] as the base transport.
func WithTransport(rt http.RoundTripper) Option {
	return func(c *options) error {
		if rt == nil {
			return errors.New("transport must not be nil")
		}
		c.rt = rt
		return nil
	}
}

// WithTimeout sets the overall request timeout used by [Client.Do].
// Streams opened with [Client.Open] are not affected.
func WithTimeout(d time.Duration) Option {
	return func(c *options) error {
		if d < 0 {
			return errors.New("timeout must not be negative")
		}
		c.timeout = &d
		return nil
	}
}

// WithUserAgent adds a persistent User-Agent header to all outgoing requests.
func WithUserAgent(header string) Option {
	return func(c *options) error {
		c.userAgent = header
		return nil
	}
}

// WithNoFollowRedirects prevents the [Client] from following HTTP redirects.
func WithNoFollowRedirects() Option {
	return func(c *options) error {
		c.noFollowRedirects = true
		return nil
	}
}

// WithLogger injects a custom [slog.Logger] into the [Client].
func WithLogger(logger *slog.Logger) Option {
	return func(c *options) error {
		c.logger = logger
		return nil
	}
}

// WithDebugLogging logs every request and response at debug level.
// Header values are never logged.
func WithDebugLogging() Option {
	return func(c *options) error {
		c.debug = true
		return nil
	}
}

// userAgent is an http.RoundTripper, enabling the persistent User-Agent header.
type userAgent struct {
	value string
	base  http.RoundTripper
}

func (ua userAgent) RoundTrip(r *http.Request) (*http.Response, error) {
	cpy := r.Clone(r.Context())
	cpy.Header.Set("User-Agent", ua.value)
	return ua.base.RoundTrip(cpy)
}

// DoOption is a functional option for [Client.Do].
type DoOption func(options *doOpts) error

type doOpts struct {
	responseBody any
}

// WithDestination decodes a 2xx response body into bodyTemplate.
// bodyTemplate must be a pointer.
func WithDestination[T any](bodyTemplate *T) DoOption {
	return func(opts *doOpts) error {
		if bodyTemplate == nil {
			return errors.New("destination must not be nil")
		}
		opts.responseBody = bodyTemplate
		return nil
	}
}

// RequestOption is a functional option for [Request].
type RequestOption func(options *requestOpts) error

type requestOpts struct {
	body     []byte
	headers  map[string][]string
	apiKey   string
	identity string
	bearer   string
}

// WithBody sets the already-encoded request body.
func WithBody(body []byte) RequestOption {
	return func(opts *requestOpts) error {
		opts.body = body
		return nil
	}
}

// WithHeaders adds custom headers to the outgoing request.
func WithHeaders(headers map[string][]string) RequestOption {
	return func(opts *requestOpts) error {
		opts.headers = headers
		return nil
	}
}

// WithAPIKey sets the static API-KEY header.
func WithAPIKey(key string) RequestOption {
	return func(opts *requestOpts) error {
		if key == "" {
			return errors.New("api key must not be empty")
		}
		opts.apiKey = key
		return nil
	}
}

// WithIdentity sets the Client header identifying this installation.
func WithIdentity(identity string) RequestOption {
	return func(opts *requestOpts) error {
		opts.identity = identity
		return nil
	}
}

// WithBearer sets the Authorization header to "Bearer <token>".
// An empty token leaves the header unset.
func WithBearer(token string) RequestOption {
	return func(opts *requestOpts) error {
		opts.bearer = token
		return nil
	}
}
