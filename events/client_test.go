package events

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/adamwoolhether/forge/client"
)

const waitFor = 5 * time.Second

func withIdleTimeout(d time.Duration) Option {
	return func(o *options) error {
		o.idleTimeout = d
		return nil
	}
}

// recorder collects callbacks in the order they arrive.
type recorder struct {
	mu          sync.Mutex
	opens       int
	messages    []Event
	completions chan Completion
	received    chan Event
}

func newRecorder() *recorder {
	return &recorder{
		completions: make(chan Completion, 16),
		received:    make(chan Event, 16),
	}
}

func (r *recorder) handler() Handler {
	return Handler{
		OnOpen: func() {
			r.mu.Lock()
			r.opens++
			r.mu.Unlock()
		},
		OnMessage: func(ev Event) {
			r.mu.Lock()
			r.messages = append(r.messages, ev)
			r.mu.Unlock()
			r.received <- ev
		},
		OnComplete: func(c Completion) {
			r.completions <- c
		},
	}
}

func (r *recorder) nextCompletion(t *testing.T) Completion {
	t.Helper()

	select {
	case c := <-r.completions:
		return c
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for completion")
		return Completion{}
	}
}

func (r *recorder) nextEvent(t *testing.T) Event {
	t.Helper()

	select {
	case ev := <-r.received:
		return ev
	case <-time.After(waitFor):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func newTestClient(t *testing.T, opts ...Option) *Client {
	t.Helper()

	opener, err := client.Build()
	if err != nil {
		t.Fatalf("building http client: %v", err)
	}

	opts = append([]Option{WithReconnectLimit(time.Millisecond, 100)}, opts...)
	c, err := New(opener, opts...)
	if err != nil {
		t.Fatalf("creating events client: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func target(t *testing.T, srv *httptest.Server) Target {
	t.Helper()

	u, err := url.Parse(srv.URL + "/events")
	if err != nil {
		t.Fatalf("parsing url: %v", err)
	}

	return Target{URL: u, Header: http.Header{"Authorization": {"Bearer tok"}, "Client": {"install-1"}}}
}

func stream(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, body)
	w.(http.Flusher).Flush()
}

func fastPolicy(attempts int) ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond, Multiplier: 2}
}

func TestSubscribe_DeliversEventsInOrder(t *testing.T) {
	headers := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers <- r.Header.Clone()
		stream(w, "event: user-connected\ndata: {}\n\nid: 1\ndata: one\n\nid: 2\nevent: change\ndata: two\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t)
	rec := newRecorder()

	if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var got []Event
	for range 3 {
		got = append(got, rec.nextEvent(t))
	}

	exp := []Event{
		{Name: UserConnected, Data: "{}"},
		{ID: "1", Name: "message", Data: "one"},
		{ID: "2", Name: "change", Data: "two"},
	}
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("unexpected events; diff %s", diff)
	}

	if c.State() != StateOpen {
		t.Errorf("expected open state, got %s", c.State())
	}

	gotHeader := <-headers
	for k, v := range map[string]string{
		"Accept":        "text/event-stream",
		"Authorization": "Bearer tok",
		"Client":        "install-1",
	} {
		if gotHeader.Get(k) != v {
			t.Errorf("header %s: exp %q, got %q", k, v, gotHeader.Get(k))
		}
	}

	rec.mu.Lock()
	if rec.opens != 1 {
		t.Errorf("expected one open, got %d", rec.opens)
	}
	rec.mu.Unlock()
}

func TestSubscribe_TerminalStatuses(t *testing.T) {
	testCases := map[string]struct {
		status int
		body   string
		expErr error
	}{
		"noContent":    {status: http.StatusNoContent},
		"unauthorized": {status: http.StatusUnauthorized, body: `{"statusCode":401,"error":"Unauthorized","message":"jwt expired"}`, expErr: client.ErrHTTPClient},
		"forbidden":    {status: http.StatusForbidden, expErr: client.ErrEmpty},
		"tooMany":      {status: http.StatusTooManyRequests, body: "<html>", expErr: client.ErrUnknownErrorCode},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tc.status)
				fmt.Fprint(w, tc.body)
			}))
			t.Cleanup(srv.Close)

			c := newTestClient(t, WithReconnectPolicy(fastPolicy(5)))
			rec := newRecorder()

			if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); err != nil {
				t.Fatalf("subscribe: %v", err)
			}

			got := rec.nextCompletion(t)
			if got.StatusCode != tc.status {
				t.Errorf("exp status %d, got %d", tc.status, got.StatusCode)
			}
			if got.WillReconnect {
				t.Error("expected no reconnect")
			}
			if tc.expErr == nil && got.Err != nil {
				t.Errorf("expected nil error, got %v", got.Err)
			}
			if tc.expErr != nil && !errors.Is(got.Err, tc.expErr) {
				t.Errorf("exp error %v, got %v", tc.expErr, got.Err)
			}

			time.Sleep(20 * time.Millisecond)
			if n := hits.Load(); n != 1 {
				t.Errorf("expected a single attempt, got %d", n)
			}
		})
	}
}

func TestSubscribe_ReconnectsWithLastEventID(t *testing.T) {
	var hits atomic.Int32
	lastIDs := make(chan string, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastIDs <- r.Header.Get("Last-Event-ID")
		if hits.Add(1) == 1 {
			stream(w, "retry: 5\nid: 41\ndata: first\n\n")
			return
		}
		stream(w, "id: 42\ndata: second\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, WithReconnectPolicy(fastPolicy(3)))
	rec := newRecorder()

	if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	if ev := rec.nextEvent(t); ev.Data != "first" {
		t.Fatalf("unexpected first event %+v", ev)
	}

	got := rec.nextCompletion(t)
	if got.StatusCode != http.StatusOK || !got.WillReconnect || got.Err != nil {
		t.Errorf("unexpected completion after server close: %+v", got)
	}

	if ev := rec.nextEvent(t); ev.Data != "second" {
		t.Fatalf("unexpected second event %+v", ev)
	}

	if first, second := <-lastIDs, <-lastIDs; first != "" || second != "41" {
		t.Errorf("unexpected Last-Event-ID headers %q, %q", first, second)
	}
}

func TestSubscribe_GivesUpAfterMaxAttempts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, WithReconnectPolicy(fastPolicy(2)))
	rec := newRecorder()

	if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	var reconnects []bool
	for range 3 {
		got := rec.nextCompletion(t)
		if !errors.Is(got.Err, client.ErrUnknownErrorCode) {
			t.Errorf("unexpected error %v", got.Err)
		}
		reconnects = append(reconnects, got.WillReconnect)
	}

	if diff := cmp.Diff([]bool{true, true, false}, reconnects); diff != "" {
		t.Errorf("unexpected reconnect decisions; diff %s", diff)
	}
	if n := hits.Load(); n != 3 {
		t.Errorf("expected 3 attempts, got %d", n)
	}
}

func TestSubscribe_IdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, ": hello\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, WithReconnectPolicy(NoReconnect()), withIdleTimeout(50*time.Millisecond))
	rec := newRecorder()

	if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	got := rec.nextCompletion(t)
	if !errors.Is(got.Err, client.ErrNetwork) || !errors.Is(got.Err, errIdle) {
		t.Errorf("expected idle network error, got %v", got.Err)
	}
	if got.WillReconnect {
		t.Error("expected no reconnect under NoReconnect")
	}
}

func TestSubscribe_NetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	tgt := target(t, srv)
	srv.Close()

	c := newTestClient(t, WithReconnectPolicy(fastPolicy(1)))
	rec := newRecorder()

	if err := c.Subscribe(t.Context(), tgt, rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	first, second := rec.nextCompletion(t), rec.nextCompletion(t)
	if !errors.Is(first.Err, client.ErrNetwork) || first.StatusCode != 0 || !first.WillReconnect {
		t.Errorf("unexpected first completion %+v", first)
	}
	if second.WillReconnect {
		t.Errorf("expected final completion, got %+v", second)
	}
}

func TestSubscribe_ReplacesPrevious(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, "data: "+r.URL.Query().Get("n")+"\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t)

	first := newRecorder()
	tgt := target(t, srv)
	tgt.URL.RawQuery = "n=1"
	if err := c.Subscribe(t.Context(), tgt, first.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	first.nextEvent(t)

	second := newRecorder()
	tgt = target(t, srv)
	tgt.URL.RawQuery = "n=2"
	if err := c.Subscribe(t.Context(), tgt, second.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// The old subscription has finished by the time Subscribe returns.
	select {
	case got := <-first.completions:
		if !errors.Is(got.Err, ErrClosed) || got.WillReconnect {
			t.Errorf("unexpected completion for replaced subscription %+v", got)
		}
	default:
		t.Fatal("expected replaced subscription to be completed")
	}

	if ev := second.nextEvent(t); ev.Data != "2" {
		t.Errorf("unexpected event %+v", ev)
	}
}

func TestClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, "data: x\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t)
	if c.State() != StateIdle {
		t.Fatalf("expected idle state, got %s", c.State())
	}

	rec := newRecorder()
	if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rec.nextEvent(t)

	if err := c.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("expected closed state, got %s", c.State())
	}
	if got := rec.nextCompletion(t); !errors.Is(got.Err, ErrClosed) {
		t.Errorf("unexpected completion %+v", got)
	}

	if err := c.Subscribe(t.Context(), target(t, srv), rec.handler()); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed subscribing after close, got %v", err)
	}
}

func TestStateFromOnComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, "data: x\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	next := target(t, srv)

	tests := map[string]func(ctx context.Context, c *Client) error{
		"close": func(_ context.Context, c *Client) error {
			return c.Close()
		},
		"replace": func(ctx context.Context, c *Client) error {
			return c.Subscribe(ctx, next, Handler{})
		},
	}

	for name, end := range tests {
		t.Run(name, func(t *testing.T) {
			c := newTestClient(t)

			opened := make(chan struct{}, 1)
			states := make(chan State, 1)
			h := Handler{
				OnOpen: func() { opened <- struct{}{} },
				OnComplete: func(Completion) {
					states <- c.State()
				},
			}

			if err := c.Subscribe(t.Context(), target(t, srv), h); err != nil {
				t.Fatalf("subscribe: %v", err)
			}

			select {
			case <-opened:
			case <-time.After(waitFor):
				t.Fatal("timed out waiting for open")
			}

			ended := make(chan error, 1)
			go func() { ended <- end(t.Context(), c) }()

			select {
			case err := <-ended:
				if err != nil {
					t.Fatalf("ending subscription: %v", err)
				}
			case <-time.After(waitFor):
				t.Fatal("ending the subscription blocked on a callback reading State")
			}

			select {
			case <-states:
			default:
				t.Error("expected OnComplete to run before the subscription ended")
			}
		})
	}
}

func TestSubscribe_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stream(w, "data: x\n\n")
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t)
	rec := newRecorder()

	ctx, cancel := context.WithCancel(t.Context())
	if err := c.Subscribe(ctx, target(t, srv), rec.handler()); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	rec.nextEvent(t)

	cancel()
	if got := rec.nextCompletion(t); !errors.Is(got.Err, ErrClosed) || got.WillReconnect {
		t.Errorf("unexpected completion %+v", got)
	}
}

func TestSubscribe_NilURL(t *testing.T) {
	c := newTestClient(t)
	if err := c.Subscribe(t.Context(), Target{}, Handler{}); err == nil {
		t.Fatal("expected error for missing url")
	}
}

func TestReconnectPolicy_Delay(t *testing.T) {
	p := ReconnectPolicy{MaxAttempts: 10, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second, Multiplier: 2}

	testCases := map[string]struct {
		attempt int
		hint    time.Duration
		exp     time.Duration
	}{
		"first":      {attempt: 1, exp: 100 * time.Millisecond},
		"second":     {attempt: 2, exp: 200 * time.Millisecond},
		"fourth":     {attempt: 4, exp: 800 * time.Millisecond},
		"capped":     {attempt: 9, exp: time.Second},
		"serverHint": {attempt: 3, hint: 5 * time.Second, exp: 5 * time.Second},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			if got := p.delay(tc.attempt, tc.hint); got != tc.exp {
				t.Errorf("exp %v, got %v", tc.exp, got)
			}
		})
	}
}

func TestReconnectPolicy_Validate(t *testing.T) {
	testCases := map[string]struct {
		policy ReconnectPolicy
		expErr bool
	}{
		"default":          {policy: DefaultReconnectPolicy()},
		"none":             {policy: NoReconnect()},
		"negativeAttempts": {policy: ReconnectPolicy{MaxAttempts: -1}, expErr: true},
		"negativeDelay":    {policy: ReconnectPolicy{InitialDelay: -time.Second}, expErr: true},
		"shrinking":        {policy: ReconnectPolicy{MaxAttempts: 1, Multiplier: 0.5}, expErr: true},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := tc.policy.validate()
			if (err != nil) != tc.expErr {
				t.Errorf("exp error %v, got %v", tc.expErr, err)
			}
		})
	}
}
