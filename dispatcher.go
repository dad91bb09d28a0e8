package forge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/adamwoolhether/forge/auth"
	"github.com/adamwoolhether/forge/client"
)

// Dispatcher sends API calls. Calls to endpoints that require auth pass a
// gate first: without a session they fail with client.ErrMissingCredential
// before any I/O, and with an expired one they wait for the coordinator's
// refresh and are sent with the new token, or fail with the refresh error.
type Dispatcher struct {
	client   *client.Client
	coord    *auth.Coordinator
	baseURL  *url.URL
	apiKey   string
	identity string
	tracer   trace.Tracer
	logger   *slog.Logger
}

// Perform executes method on ep. A non-nil reqBody is validated and JSON
// encoded for every method but GET. Every failure is a *client.Error, save
// refresh failures which are returned as the refresh produced them.
func (d *Dispatcher) Perform(ctx context.Context, ep Endpoint, method string, reqBody any, opts ...client.DoOption) error {
	ctx, span := d.tracer.Start(ctx, "forge."+ep.Name, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	span.SetAttributes(
		attribute.String("http.request.method", method),
		attribute.String("url.path", ep.Version+ep.Path),
	)

	err := d.perform(ctx, ep, method, reqBody, opts...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, client.KindOf(err).String())
		if sc := statusCode(err); sc > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", sc))
		}
	}

	return err
}

func (d *Dispatcher) perform(ctx context.Context, ep Endpoint, method string, reqBody any, opts ...client.DoOption) error {
	body, err := encode(method, reqBody)
	if err != nil {
		return err
	}

	var rec *auth.Record
	if ep.AuthRequired {
		rec, err = d.gate(ctx, ep)
		if err != nil {
			return err
		}
	}

	req, err := d.build(ctx, ep, method, body, rec)
	if err != nil {
		return client.NewError(client.KindUnknown, 0, err)
	}

	return d.client.Do(req, opts...)
}

// gate returns the record to present for ep, refreshing it first when it
// is no longer valid.
func (d *Dispatcher) gate(ctx context.Context, ep Endpoint) (*auth.Record, error) {
	rec, err := d.coord.Current(ctx)
	if err != nil {
		return nil, client.NewError(client.KindUnknown, 0, err)
	}
	if rec == nil {
		return nil, client.NewError(client.KindMissingCredential, 0, errors.New("no session"))
	}

	if ep == RefreshToken || d.coord.IsValid(*rec) {
		return rec, nil
	}

	d.logger.Debug("session expired, refreshing before send", "endpoint", ep.Name)

	refreshed, err := d.coord.RefreshStale(ctx, *rec)
	if err != nil {
		return nil, err
	}

	return &refreshed, nil
}

// build assembles the transport request. It performs no I/O and attaches
// rec's token whether or not it is still valid.
func (d *Dispatcher) build(ctx context.Context, ep Endpoint, method string, body []byte, rec *auth.Record) (*http.Request, error) {
	opts := []client.RequestOption{
		client.WithAPIKey(d.apiKey),
		client.WithBody(body),
	}
	if ep.AuthRequired {
		opts = append(opts, client.WithIdentity(d.identity))
		if rec != nil {
			opts = append(opts, client.WithBearer(rec.AccessToken))
		}
	}

	req, err := client.Request(ctx, ep.URL(d.baseURL), method, opts...)
	if err != nil {
		return nil, err
	}

	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	return req, nil
}

func encode(method string, reqBody any) ([]byte, error) {
	if method == http.MethodGet || reqBody == nil {
		return nil, nil
	}

	if err := client.Validate(reqBody); err != nil {
		return nil, client.NewError(client.KindDecode, 0, fmt.Errorf("validating request: %w", err))
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, client.NewError(client.KindDecode, 0, fmt.Errorf("encoding request: %w", err))
	}

	return body, nil
}

func statusCode(err error) int {
	if cerr, ok := errors.AsType[*client.Error](err); ok {
		return cerr.StatusCode
	}
	return 0
}

// perform is Perform decoding the response into a new T.
func perform[T any](ctx context.Context, d *Dispatcher, ep Endpoint, method string, reqBody any) (T, error) {
	var resp T
	if err := d.Perform(ctx, ep, method, reqBody, client.WithDestination(&resp)); err != nil {
		return resp, err
	}

	return resp, nil
}
