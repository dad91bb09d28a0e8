package events

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/adamwoolhether/forge/client"
	"github.com/adamwoolhether/forge/internal/sse"
)

const maxErrorBody = 64 << 10

var errIdle = errors.New("stream idle timeout")

// conn is one subscription: the goroutine that connects, reads and
// reconnects until the subscription ends.
type conn struct {
	client  *Client
	target  Target
	handler Handler

	cancel context.CancelFunc
	done   chan struct{}
	state  atomic.Int32

	lastID string
}

type result struct {
	status    int
	opened    bool
	retryable bool
	retry     time.Duration
	err       error
}

func (c *Client) start(ctx context.Context, target Target, h Handler) *conn {
	ctx, cancel := context.WithCancel(ctx)

	cn := conn{
		client:  c,
		target:  target,
		handler: h,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	cn.state.Store(int32(StateConnecting))

	go cn.run(ctx)

	return &cn
}

// stop cancels the subscription and waits for its goroutine to exit.
func (cn *conn) stop() {
	cn.cancel()
	<-cn.done
}

func (cn *conn) loadState() State {
	return State(cn.state.Load())
}

func (cn *conn) run(ctx context.Context) {
	defer close(cn.done)
	defer cn.state.Store(int32(StateClosed))

	var failures int
	var retryHint time.Duration

	for {
		if err := cn.client.limiter.Wait(ctx); err != nil {
			cn.handler.complete(Completion{Err: ErrClosed})
			return
		}

		res := cn.attempt(ctx)
		if res.retry > 0 {
			retryHint = res.retry
		}
		if res.opened {
			failures = 0
		}

		if ctx.Err() != nil {
			cn.handler.complete(Completion{StatusCode: res.status, Err: ErrClosed})
			return
		}

		failures++
		reconnect := res.retryable && failures <= cn.client.policy.MaxAttempts

		cn.client.logger.Info("event stream ended", "url", cn.target.URL.Redacted(), "status", res.status, "reconnect", reconnect, "error", res.err)
		cn.handler.complete(Completion{StatusCode: res.status, WillReconnect: reconnect, Err: res.err})
		if !reconnect {
			return
		}

		cn.state.Store(int32(StateConnecting))

		timer := time.NewTimer(cn.client.policy.delay(failures, retryHint))
		select {
		case <-ctx.Done():
			timer.Stop()
			cn.handler.complete(Completion{Err: ErrClosed})
			return
		case <-timer.C:
		}
	}
}

func (cn *conn) attempt(ctx context.Context) result {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	header := cn.target.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Set("Accept", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	if cn.lastID != "" {
		header.Set("Last-Event-ID", cn.lastID)
	}

	req, err := client.Request(ctx, cn.target.URL, http.MethodGet, client.WithHeaders(header))
	if err != nil {
		return result{err: err}
	}

	resp, err := cn.client.opener.Open(req)
	if err != nil {
		return result{err: err, retryable: true}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			cn.client.logger.Error("failed to close stream body", "error", err)
		}
	}()

	switch status := resp.StatusCode; {
	case status == http.StatusOK:
	case status == http.StatusNoContent:
		return result{status: status}
	case status >= 400 && status < 500:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return result{status: status, err: client.Classify(status, body, nil)}
	case status >= 500 && status < 600:
		return result{status: status, err: client.NewError(client.KindUnknownErrorCode, status, nil), retryable: true}
	default:
		return result{status: status, err: client.NewError(client.KindUnknown, status, nil)}
	}

	cn.state.Store(int32(StateOpen))
	cn.client.logger.Debug("event stream open", "url", cn.target.URL.Redacted())
	cn.handler.open()

	watchdog := time.AfterFunc(cn.client.idleTimeout, func() { cancel(errIdle) })
	defer watchdog.Stop()

	parser := sse.NewParser(idleReader{r: resp.Body, timer: watchdog, d: cn.client.idleTimeout})
	for {
		ev, err := parser.Next()
		if err != nil {
			cn.lastID = parser.LastEventID()

			res := result{status: resp.StatusCode, opened: true, retryable: true, retry: parser.Retry()}
			switch {
			case errors.Is(context.Cause(ctx), errIdle):
				res.err = client.NewError(client.KindNetwork, resp.StatusCode, errIdle)
			case errors.Is(err, io.EOF):
			default:
				res.err = client.NewError(client.KindNetwork, resp.StatusCode, fmt.Errorf("reading stream: %w", err))
			}
			return res
		}

		cn.lastID = ev.ID
		if ev.Name == UserConnected {
			cn.client.logger.Info("event stream user connected", "url", cn.target.URL.Redacted())
		}

		cn.handler.message(Event{ID: ev.ID, Name: ev.Name, Data: ev.Data})
	}
}

// idleReader pushes the watchdog back every time bytes arrive.
type idleReader struct {
	r     io.Reader
	timer *time.Timer
	d     time.Duration
}

func (ir idleReader) Read(p []byte) (int, error) {
	n, err := ir.r.Read(p)
	if n > 0 {
		ir.timer.Reset(ir.d)
	}
	return n, err
}
