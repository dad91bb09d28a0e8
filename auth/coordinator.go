// Package auth owns the current session: it hydrates it from a [Store],
// decides whether it is still valid, and serializes token refreshes so that
// any number of concurrent callers cause at most one refresh exchange.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/singleflight"

	"github.com/adamwoolhether/forge/client"
)

// RefreshFunc exchanges a refresh token for a new session. Errors are
// handed back to callers of [Coordinator.Refresh] untouched.
type RefreshFunc func(ctx context.Context, refreshToken string) (Record, error)

const refreshKey = "refresh"

// Coordinator is the single source of truth for the current [Record] and
// the only component allowed to refresh it.
type Coordinator struct {
	store   Store
	refresh RefreshFunc
	logger  *slog.Logger
	tracer  trace.Tracer
	leeway  time.Duration
	now     func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	current *Record
	gen     uint64 // bumped by SetCurrent and Clear
}

// NewCoordinator creates a Coordinator persisting through store and
// refreshing with refresh.
func NewCoordinator(store Store, refresh RefreshFunc, optFns ...Option) (*Coordinator, error) {
	if store == nil {
		return nil, errors.New("store must not be nil")
	}
	if refresh == nil {
		return nil, errors.New("refresh func must not be nil")
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying coordinator option: %w", err)
		}
	}

	c := Coordinator{
		store:   store,
		refresh: refresh,
		logger:  slog.Default(),
		tracer:  noop.NewTracerProvider().Tracer("no-op tracer"),
		leeway:  opts.leeway,
		now:     time.Now,
	}

	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.tracer != nil {
		c.tracer = opts.tracer
	}
	if opts.now != nil {
		c.now = opts.now
	}

	return &c, nil
}

// Current returns the in-memory record, hydrating it from the store when
// memory is empty. It returns nil and no error when there is no session.
func (c *Coordinator) Current(ctx context.Context) (*Record, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	rec, err := c.currentLocked(ctx)
	if err != nil || rec == nil {
		return nil, err
	}

	cpy := *rec
	return &cpy, nil
}

// IsValid reports whether rec may still be presented to the API.
func (c *Coordinator) IsValid(rec Record) bool {
	return c.now().Before(rec.ExpiresAt.Add(-c.leeway))
}

// Refresh exchanges the stored refresh token for a new record. Concurrent
// calls share a single exchange and all observe its outcome. On failure the
// current record is left untouched and the error is returned unchanged.
// A caller whose ctx ends stops waiting; the shared exchange carries on for
// the others.
func (c *Coordinator) Refresh(ctx context.Context) (Record, error) {
	return c.refreshFrom(ctx, "")
}

// RefreshStale refreshes on behalf of a caller that found stale to be
// invalid. If the current record was already replaced by a valid one in
// the meantime, that record is returned without another exchange.
func (c *Coordinator) RefreshStale(ctx context.Context, stale Record) (Record, error) {
	return c.refreshFrom(ctx, stale.AccessToken)
}

// SetCurrent replaces the current record, writing it through to the store
// before returning.
func (c *Coordinator) SetCurrent(ctx context.Context, rec Record) error {
	rec = rec.WithExpiry()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = &rec
	c.gen++

	if err := c.store.SaveAuth(ctx, &rec); err != nil {
		return fmt.Errorf("saving auth: %w", err)
	}

	return nil
}

// Clear forgets the current session, deleting the persisted record and
// profile before returning.
func (c *Coordinator) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = nil
	c.gen++

	var errs []error
	if err := c.store.SaveAuth(ctx, nil); err != nil {
		errs = append(errs, fmt.Errorf("deleting auth: %w", err))
	}
	if err := c.store.SaveProfile(ctx, nil); err != nil {
		errs = append(errs, fmt.Errorf("deleting profile: %w", err))
	}

	return errors.Join(errs...)
}

func (c *Coordinator) refreshFrom(ctx context.Context, staleToken string) (Record, error) {
	// The exchange is shared, so it must not die with whichever caller
	// happened to start it. The transport timeout still bounds it.
	shared := context.WithoutCancel(ctx)

	ch := c.group.DoChan(refreshKey, func() (any, error) {
		return c.doRefresh(shared, staleToken)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Record{}, res.Err
		}
		return res.Val.(Record), nil
	case <-ctx.Done():
		return Record{}, client.NewError(client.KindNetwork, 0, fmt.Errorf("waiting for refresh: %w", ctx.Err()))
	}
}

func (c *Coordinator) doRefresh(ctx context.Context, staleToken string) (Record, error) {
	ctx, span := c.tracer.Start(ctx, "auth.refresh")
	defer span.End()

	c.mu.Lock()
	cur, err := c.currentLocked(ctx)
	gen := c.gen
	c.mu.Unlock()
	if err != nil {
		return Record{}, client.NewError(client.KindUnknown, 0, err)
	}

	if staleToken != "" && cur != nil && cur.AccessToken != staleToken && c.IsValid(*cur) {
		span.SetAttributes(attribute.Bool("refresh.skipped", true))
		return *cur, nil
	}

	if cur == nil || cur.RefreshToken == "" {
		return Record{}, client.NewError(client.KindMissingCredential, 0, errors.New("no refresh token"))
	}

	rec, err := c.refresh(ctx, cur.RefreshToken)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "refresh failed")
		c.logger.Error("token refresh failed", "error", err)
		return Record{}, err
	}

	rec = rec.WithExpiry()
	if rec.RefreshToken == "" {
		rec.RefreshToken = cur.RefreshToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A sign-out or login that landed while the exchange was in flight wins.
	if c.gen != gen {
		c.logger.Info("discarding refreshed token, session changed during refresh")
		if c.current == nil {
			return Record{}, client.NewError(client.KindMissingCredential, 0, errors.New("session ended during refresh"))
		}
		return *c.current, nil
	}

	c.current = &rec
	if err := c.store.SaveAuth(ctx, &rec); err != nil {
		c.logger.Error("persisting refreshed token", "error", err)
	}

	c.logger.Info("token refreshed", "expires_at", rec.ExpiresAt)

	return rec, nil
}

func (c *Coordinator) currentLocked(ctx context.Context) (*Record, error) {
	if c.current != nil {
		return c.current, nil
	}

	rec, err := c.store.LoadAuth(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading auth: %w", err)
	}
	if rec == nil {
		return nil, nil
	}

	hydrated := rec.WithExpiry()
	c.current = &hydrated

	return c.current, nil
}
