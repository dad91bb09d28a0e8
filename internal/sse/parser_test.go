package sse

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func collect(t *testing.T, p *Parser) []Event {
	t.Helper()

	var events []Event
	for {
		ev, err := p.Next()
		if errors.Is(err, io.EOF) {
			return events
		}
		if err != nil {
			t.Fatalf("next: %v", err)
		}
		events = append(events, ev)
	}
}

func TestParser(t *testing.T) {
	testCases := map[string]struct {
		input string
		exp   []Event
	}{
		"singleMessage": {
			input: "data: hello\n\n",
			exp:   []Event{{Name: "message", Data: "hello"}},
		},
		"namedEvent": {
			input: "event: user-connected\ndata: {\"id\":\"u1\"}\n\n",
			exp:   []Event{{Name: "user-connected", Data: `{"id":"u1"}`}},
		},
		"multiLineData": {
			input: "data: one\ndata: two\ndata:three\n\n",
			exp:   []Event{{Name: "message", Data: "one\ntwo\nthree"}},
		},
		"crlf": {
			input: "event: change\r\ndata: x\r\n\r\n",
			exp:   []Event{{Name: "change", Data: "x"}},
		},
		"commentsIgnored": {
			input: ": keep-alive\n\n: another\ndata: y\n\n",
			exp:   []Event{{Name: "message", Data: "y"}},
		},
		"idPersists": {
			input: "id: 7\ndata: a\n\ndata: b\n\n",
			exp: []Event{
				{ID: "7", Name: "message", Data: "a"},
				{ID: "7", Name: "message", Data: "b"},
			},
		},
		"noDataNotDispatched": {
			input: "event: ping\n\ndata: z\n\n",
			exp:   []Event{{Name: "message", Data: "z"}},
		},
		"emptyDataDispatched": {
			input: "data:\n\n",
			exp:   []Event{{Name: "message", Data: ""}},
		},
		"partialAtEOFDropped": {
			input: "data: complete\n\ndata: partial",
			exp:   []Event{{Name: "message", Data: "complete"}},
		},
		"unknownFieldIgnored": {
			input: "foo: bar\ndata: q\n\n",
			exp:   []Event{{Name: "message", Data: "q"}},
		},
	}

	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			got := collect(t, NewParser(strings.NewReader(tc.input)))
			if diff := cmp.Diff(tc.exp, got); diff != "" {
				t.Errorf("unexpected events; diff %s", diff)
			}
		})
	}
}

func TestParser_RetryAndLastID(t *testing.T) {
	p := NewParser(strings.NewReader("retry: 2500\nid: 42\n\nretry: nope\ndata: x\n\n"))

	ev, err := p.Next()
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if ev.ID != "42" {
		t.Errorf("unexpected id %q", ev.ID)
	}
	if p.LastEventID() != "42" {
		t.Errorf("unexpected last event id %q", p.LastEventID())
	}
	if p.Retry() != 2500*time.Millisecond {
		t.Errorf("unexpected retry %v", p.Retry())
	}
}
