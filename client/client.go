package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

// DefaultTimeout bounds a single request/response exchange.
const DefaultTimeout = 60 * time.Second

// Client wraps the std-lib *http.Client.
// It keeps two clients sharing one transport: one bounded by the request
// timeout for [Client.Do], and one without an overall timeout for the
// long-lived streams opened by [Client.Open].
type Client struct {
	c      *http.Client
	stream *http.Client
	logger *slog.Logger
	debug  bool
}

// Build creates a [Client] configured by the given options.
func Build(optFns ...Option) (*Client, error) {
	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying client option: %w", err)
		}
	}

	hc := &http.Client{Timeout: DefaultTimeout}
	if opts.client != nil {
		cpy := *opts.client
		hc = &cpy
	}

	if opts.timeout != nil {
		hc.Timeout = *opts.timeout
	}

	if opts.noFollowRedirects {
		hc.CheckRedirect = func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}

	var transport http.RoundTripper
	switch {
	case opts.rt != nil:
		transport = opts.rt
	case hc.Transport != nil:
		transport = hc.Transport
	default:
		transport = http.DefaultTransport
	}
	if opts.userAgent != "" {
		transport = userAgent{value: opts.userAgent, base: transport}
	}
	hc.Transport = transport

	client := &Client{
		c: hc,
		stream: &http.Client{
			Transport:     transport,
			CheckRedirect: hc.CheckRedirect,
			Jar:           hc.Jar,
		},
		logger: slog.Default(),
		debug:  opts.debug,
	}

	if opts.logger != nil {
		client.logger = opts.logger
	}

	return client, nil
}

// Do fires the request and classifies the response. A nil error means a 2xx
// status; with [WithDestination] the body has been decoded into the target.
// Every failure is an *[Error].
func (c *Client) Do(req *http.Request, opts ...DoOption) error {
	var settings doOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return err
		}
	}

	start := time.Now()
	if c.debug {
		c.logger.Debug("request", "method", req.Method, "url", req.URL.Redacted())
	}

	resp, err := c.c.Do(req)
	if err != nil {
		return NewError(KindNetwork, 0, fmt.Errorf("exec http do: %w", err))
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.Error("failed to close response body", "error", err)
		}
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize+1))
	if err != nil {
		return NewError(KindNetwork, resp.StatusCode, fmt.Errorf("reading body: %w", err))
	}
	if len(body) > maxBodySize {
		if bodyRead(resp.StatusCode, settings.responseBody) {
			return NewError(KindDecode, resp.StatusCode, fmt.Errorf("%w: more than %d bytes", ErrBodyTooLarge, maxBodySize))
		}
		body = nil
	}

	if c.debug {
		c.logger.Debug("response", "method", req.Method, "url", req.URL.Redacted(), "status", resp.StatusCode, "bytes", len(body), "since", time.Since(start).String())
	}

	return Classify(resp.StatusCode, body, settings.responseBody)
}

// bodyRead reports whether [Classify] looks at the body of a statusCode
// response.
func bodyRead(statusCode int, dest any) bool {
	switch {
	case statusCode >= 200 && statusCode <= 299:
		return dest != nil
	case statusCode >= 400 && statusCode <= 499:
		return true
	default:
		return false
	}
}

// Open fires a request whose response body is consumed incrementally, such
// as an event stream. No overall timeout applies; the request context and
// the caller govern its lifetime. The caller must close the response body.
func (c *Client) Open(req *http.Request) (*http.Response, error) {
	if c.debug {
		c.logger.Debug("open stream", "method", req.Method, "url", req.URL.Redacted())
	}

	resp, err := c.stream.Do(req)
	if err != nil {
		return nil, NewError(KindNetwork, 0, fmt.Errorf("exec http do: %w", err))
	}

	return resp, nil
}

// Request instantiates an *http.Request with the provided information.
// Content-Type is always `application/json`.
// It performs no I/O: credentials given through [WithBearer] are attached as
// they are, checking their validity is the caller's job.
func Request(ctx context.Context, reqURL *url.URL, method string, opts ...RequestOption) (*http.Request, error) {
	var settings requestOpts
	for _, opt := range opts {
		if err := opt(&settings); err != nil {
			return nil, err
		}
	}

	var body io.Reader = http.NoBody
	if len(settings.body) > 0 {
		body = bytes.NewReader(settings.body)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("instantiating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if settings.apiKey != "" {
		req.Header.Set(HeaderAPIKey, settings.apiKey)
	}
	if settings.identity != "" {
		req.Header.Set(HeaderClient, settings.identity)
	}
	if settings.bearer != "" {
		req.Header.Set(HeaderAuthorization, "Bearer "+settings.bearer)
	}

	for k, v := range settings.headers {
		for _, element := range v {
			req.Header.Add(k, element)
		}
	}

	return req, nil
}

// URL resolves path against base, keeping any path prefix base carries.
func URL(base *url.URL, path string) *url.URL {
	endpoint := *base
	endpoint.Path = joinPath(base.Path, path)
	endpoint.RawPath = ""

	return &endpoint
}

func joinPath(prefix, path string) string {
	switch {
	case prefix == "" || prefix == "/":
		if path == "" {
			return "/"
		}
		if path[0] != '/' {
			return "/" + path
		}
		return path
	case path == "":
		return prefix
	}

	for len(prefix) > 0 && prefix[len(prefix)-1] == '/' {
		prefix = prefix[:len(prefix)-1]
	}
	if path[0] != '/' {
		path = "/" + path
	}

	return prefix + path
}
