// Package events subscribes to server-sent event streams. A [Client] holds
// at most one live subscription; subscribing again tears the previous one
// down first. Dropped connections are re-established according to a
// [ReconnectPolicy] but credentials are never refreshed here: a 401 ends the
// subscription and the caller resubscribes with a fresh token.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// IdleTimeout is how long a stream may stay silent before it is treated as
// dropped.
const IdleTimeout = 90 * time.Second

// ErrClosed is reported through [Handler.OnComplete] when a subscription is
// ended locally by [Client.Close], a newer [Client.Subscribe] or its context.
var ErrClosed = errors.New("events: subscription closed")

// Opener opens a request whose body is read incrementally. Transport
// failures must be returned as errors; any HTTP status is a response.
type Opener interface {
	Open(req *http.Request) (*http.Response, error)
}

// Client supervises a single event-stream subscription.
type Client struct {
	opener      Opener
	logger      *slog.Logger
	policy      ReconnectPolicy
	limiter     *rate.Limiter
	idleTimeout time.Duration

	// subMu serializes Subscribe calls. mu guards conn and closed and is
	// never held while waiting on a connection goroutine.
	subMu  sync.Mutex
	mu     sync.Mutex
	conn   *conn
	closed bool
}

// New creates a Client opening streams through opener.
func New(opener Opener, optFns ...Option) (*Client, error) {
	if opener == nil {
		return nil, errors.New("opener must not be nil")
	}

	var opts options
	for _, opt := range optFns {
		if err := opt(&opts); err != nil {
			return nil, fmt.Errorf("applying events option: %w", err)
		}
	}

	c := Client{
		opener:      opener,
		logger:      slog.Default(),
		policy:      DefaultReconnectPolicy(),
		limiter:     rate.NewLimiter(rate.Every(time.Second), 3),
		idleTimeout: IdleTimeout,
	}

	if opts.logger != nil {
		c.logger = opts.logger
	}
	if opts.policy != nil {
		c.policy = *opts.policy
	}
	if opts.limiter != nil {
		c.limiter = opts.limiter
	}
	if opts.idleTimeout > 0 {
		c.idleTimeout = opts.idleTimeout
	}

	return &c, nil
}

// Subscribe replaces any current subscription with one to target. The
// previous connection is fully stopped, its final OnComplete delivered,
// before the new one starts. Subscribe returns once the new connection's
// goroutine is running; outcomes arrive through h. The subscription lasts
// until ctx is done, [Client.Close] is called or it ends on its own.
func (c *Client) Subscribe(ctx context.Context, target Target, h Handler) error {
	if target.URL == nil {
		return errors.New("target url must not be nil")
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()

	c.mu.Lock()
	prev, closed := c.conn, c.closed
	c.mu.Unlock()

	if closed {
		return ErrClosed
	}

	if prev != nil {
		prev.stop()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Close may have run while prev was stopping.
	if c.closed {
		return ErrClosed
	}

	c.conn = c.start(ctx, target, h)

	return nil
}

// Close ends the current subscription and rejects later ones.
func (c *Client) Close() error {
	c.mu.Lock()
	c.closed = true
	cur := c.conn
	c.mu.Unlock()

	if cur != nil {
		cur.stop()
	}

	return nil
}

// State reports the state of the current subscription.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.conn != nil:
		return c.conn.loadState()
	case c.closed:
		return StateClosed
	default:
		return StateIdle
	}
}
