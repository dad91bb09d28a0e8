// Package forge is a client for the Forge API. A [Service] signs users in
// and out, keeps their session fresh, and subscribes to the server's event
// streams.
//
// Every call that needs a session goes through an auth gate: a session that
// has expired is refreshed before the call is sent, and any number of
// concurrent calls share one refresh exchange. The session, the profile of
// the signed-in user and the installation identity are persisted through an
// [auth.Store].
package forge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/trace/noop"

	"github.com/adamwoolhether/forge/auth"
	"github.com/adamwoolhether/forge/client"
	"github.com/adamwoolhether/forge/events"
)

// Service is a Forge API client. It is safe for concurrent use.
type Service struct {
	cfg      Config
	store    auth.Store
	identity string
	logger   *slog.Logger

	coord    *auth.Coordinator
	dispatch *Dispatcher
	events   *events.Client
}

// New builds a Service for cfg persisting through store. It loads, or on
// first use creates, the installation identity.
func New(ctx context.Context, cfg Config, store auth.Store, optFns ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}

	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	baseURL, err := cfg.baseURL()
	if err != nil {
		return nil, err
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying option: %w", err)
		}
	}

	logger := slog.Default()
	if opts.logger != nil {
		logger = opts.logger
	}

	tracer := noop.NewTracerProvider().Tracer("no-op tracer")
	if opts.tracer != nil {
		tracer = opts.tracer
	}

	hc, err := client.Build(clientOptions(cfg, opts, logger)...)
	if err != nil {
		return nil, fmt.Errorf("building http client: %w", err)
	}

	identity, err := auth.EnsureIdentity(ctx, store)
	if err != nil {
		return nil, err
	}

	s := Service{
		cfg:      cfg,
		store:    store,
		identity: identity,
		logger:   logger,
	}

	coordOpts := []auth.Option{
		auth.WithLeeway(opts.leeway),
		auth.WithLogger(logger),
		auth.WithTracer(tracer),
	}
	if opts.now != nil {
		coordOpts = append(coordOpts, auth.WithClock(opts.now))
	}

	s.coord, err = auth.NewCoordinator(store, s.exchangeRefresh, coordOpts...)
	if err != nil {
		return nil, err
	}

	s.dispatch = &Dispatcher{
		client:   hc,
		coord:    s.coord,
		baseURL:  baseURL,
		apiKey:   cfg.APIKey,
		identity: identity,
		tracer:   tracer,
		logger:   logger,
	}

	evOpts := []events.Option{events.WithLogger(logger)}
	if opts.reconnect != nil {
		evOpts = append(evOpts, events.WithReconnectPolicy(*opts.reconnect))
	}

	s.events, err = events.New(hc, evOpts...)
	if err != nil {
		return nil, err
	}

	return &s, nil
}

func clientOptions(cfg Config, opts options, logger *slog.Logger) []client.Option {
	copts := []client.Option{
		client.WithLogger(logger),
		client.WithTimeout(cfg.RequestTimeout),
	}
	if opts.client != nil {
		copts = append(copts, client.WithClient(opts.client))
	}
	if opts.rt != nil {
		copts = append(copts, client.WithTransport(opts.rt))
	}
	if opts.userAgent != "" {
		copts = append(copts, client.WithUserAgent(opts.userAgent))
	}
	if opts.debug {
		copts = append(copts, client.WithDebugLogging())
	}

	// Redirects surface as KindUnknown; credentials are never replayed to
	// another location.
	copts = append(copts, client.WithNoFollowRedirects())

	return copts
}

// Identity returns the installation identity sent with authenticated calls.
func (s *Service) Identity() string {
	return s.identity
}

// Session returns the current session, or nil when signed out.
func (s *Service) Session(ctx context.Context) (*auth.Record, error) {
	return s.coord.Current(ctx)
}

// Profile returns the persisted profile of the signed-in user, or nil.
func (s *Service) Profile(ctx context.Context) (*auth.Profile, error) {
	return s.store.LoadProfile(ctx)
}

// Dispatcher exposes the dispatcher for endpoints this package does not
// wrap.
func (s *Service) Dispatcher() *Dispatcher {
	return s.dispatch
}

// Close ends any event subscription.
func (s *Service) Close() error {
	return s.events.Close()
}

// Login opens a session with email and password.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResponse, error) {
	return s.openSession(ctx, Login, req)
}

// Signup creates an account and opens a session for it.
func (s *Service) Signup(ctx context.Context, req SignupRequest) (LoginResponse, error) {
	return s.openSession(ctx, Signup, req)
}

// SocialLogin opens a session with a token from an external identity
// provider.
func (s *Service) SocialLogin(ctx context.Context, req SocialLoginRequest) (LoginResponse, error) {
	return s.openSession(ctx, SocialLogin, req)
}

// SignOut ends the session on the server, then forgets it and the profile
// locally. Without a refresh token there is nothing to end and SignOut
// succeeds without a network call.
func (s *Service) SignOut(ctx context.Context) (MessageResponse, error) {
	rec, err := s.coord.Current(ctx)
	if err != nil {
		return MessageResponse{}, client.NewError(client.KindUnknown, 0, err)
	}
	if rec == nil || rec.RefreshToken == "" {
		return MessageResponse{Message: SignOutMessage}, nil
	}

	// Refreshing an expired session rotates the refresh token, so the token
	// to revoke is read from the record the gate settles on.
	rec, err = s.dispatch.gate(ctx, Logout)
	if err != nil {
		return MessageResponse{}, err
	}

	resp, err := perform[MessageResponse](ctx, s.dispatch, Logout, http.MethodPost, logoutRequest{RefreshToken: rec.RefreshToken})
	if err != nil {
		return MessageResponse{}, err
	}

	if err := s.coord.Clear(ctx); err != nil {
		s.logger.Error("clearing session after sign out", "error", err)
	}

	return resp, nil
}

// ChangePassword changes the signed-in user's password.
func (s *Service) ChangePassword(ctx context.Context, req ChangePasswordRequest) (MessageResponse, error) {
	return perform[MessageResponse](ctx, s.dispatch, ChangePassword, http.MethodPut, req)
}

// ForgotPassword asks the server to send a reset code to req.Email.
func (s *Service) ForgotPassword(ctx context.Context, req ForgotPasswordRequest) (MessageResponse, error) {
	return perform[MessageResponse](ctx, s.dispatch, ForgotPassword, http.MethodPost, req)
}

// ResetPassword sets a new password using a code from ForgotPassword.
func (s *Service) ResetPassword(ctx context.Context, req ResetPasswordRequest) (MessageResponse, error) {
	return perform[MessageResponse](ctx, s.dispatch, ResetPassword, http.MethodPut, req)
}

// RefreshToken exchanges the refresh token for a new session now, whether
// or not the current one has expired. It joins any refresh already in
// flight.
func (s *Service) RefreshToken(ctx context.Context) (auth.Record, error) {
	return s.coord.Refresh(ctx)
}

// Subscribe opens the event stream ep, which must be [EventsSubscribe] or
// [EventsChanges], replacing any current subscription. An expired session
// is refreshed first. The stream itself never refreshes: when the server
// rejects the token, OnComplete reports the 401 and the caller subscribes
// again.
func (s *Service) Subscribe(ctx context.Context, ep Endpoint, h events.Handler) error {
	if ep != EventsSubscribe && ep != EventsChanges {
		return fmt.Errorf("%s is not an event stream", ep.Name)
	}

	rec, err := s.dispatch.gate(ctx, ep)
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set(client.HeaderAPIKey, s.cfg.APIKey)
	header.Set(client.HeaderClient, s.identity)
	header.Set(client.HeaderAuthorization, "Bearer "+rec.AccessToken)

	return s.events.Subscribe(ctx, events.Target{URL: ep.URL(s.dispatch.baseURL), Header: header}, h)
}

// StreamState reports the state of the event subscription.
func (s *Service) StreamState() events.State {
	return s.events.State()
}

func (s *Service) openSession(ctx context.Context, ep Endpoint, req any) (LoginResponse, error) {
	resp, err := perform[LoginResponse](ctx, s.dispatch, ep, http.MethodPost, req)
	if err != nil {
		return LoginResponse{}, err
	}

	s.adopt(ctx, resp)

	return resp, nil
}

// adopt makes resp the current session. Persistence failures are logged;
// the session is usable from memory regardless.
func (s *Service) adopt(ctx context.Context, resp LoginResponse) {
	if err := s.coord.SetCurrent(ctx, resp.AccessToken); err != nil {
		s.logger.Error("persisting session", "error", err)
	}
	if err := s.store.SaveProfile(ctx, &resp.Data); err != nil {
		s.logger.Error("persisting profile", "error", err)
	}
}

// exchangeRefresh is the coordinator's refresh exchange. It bypasses the
// auth gate.
func (s *Service) exchangeRefresh(ctx context.Context, refreshToken string) (auth.Record, error) {
	resp, err := perform[LoginResponse](ctx, s.dispatch, RefreshToken, http.MethodPost, refreshTokenRequest{RefreshToken: refreshToken})
	if err != nil {
		return auth.Record{}, err
	}

	if resp.Data != (auth.Profile{}) {
		if err := s.store.SaveProfile(ctx, &resp.Data); err != nil {
			s.logger.Error("persisting profile", "error", err)
		}
	}

	return resp.AccessToken, nil
}
