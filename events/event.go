package events

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

// UserConnected is the event the server emits once it has registered the
// subscription.
const UserConnected = "user-connected"

// Event is one message received on a stream.
type Event struct {
	ID   string
	Name string
	Data string
}

// Decode unmarshals the event's JSON payload into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("decoding %s event: %w", e.Name, err)
	}
	return nil
}

// Completion describes why a connection ended.
type Completion struct {
	// StatusCode is the HTTP status of the response, or 0 if none arrived.
	StatusCode int
	// WillReconnect reports whether the client is about to reconnect on
	// its own. When false the subscription is over.
	WillReconnect bool
	// Err is the failure that ended the connection, nil for a clean close
	// by the server.
	Err error
}

// Handler receives stream lifecycle callbacks. Nil fields are skipped.
// Callbacks run on the connection's goroutine, one at a time, and must not
// call [Client.Subscribe] or [Client.Close] synchronously. [Client.State]
// may be called from any callback.
type Handler struct {
	OnOpen     func()
	OnMessage  func(Event)
	OnComplete func(Completion)
}

func (h Handler) open() {
	if h.OnOpen != nil {
		h.OnOpen()
	}
}

func (h Handler) message(ev Event) {
	if h.OnMessage != nil {
		h.OnMessage(ev)
	}
}

func (h Handler) complete(c Completion) {
	if h.OnComplete != nil {
		h.OnComplete(c)
	}
}

// Target is the stream to open: its URL and the headers sent on every
// connection attempt.
type Target struct {
	URL    *url.URL
	Header http.Header
}

// State is the lifecycle state of a [Client].
type State int32

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}
