// Package sse parses text/event-stream bodies.
//
// Recognized fields:
//   - `event:` sets the event name, "message" when absent
//   - `data:` lines are joined with "\n"
//   - `id:` sets the last event ID, which persists across events
//   - `retry:` sets the reconnection delay in milliseconds
//
// Lines starting with ':' are comments and are ignored.
package sse

import (
	"bufio"
	"io"
	"strconv"
	"strings"
	"time"
)

// DefaultEventName is the name of an event that carries no `event:` field.
const DefaultEventName = "message"

// Event is one dispatched server-sent event.
type Event struct {
	ID   string
	Name string
	Data string
}

// Parser parses SSE events from an io.Reader.
type Parser struct {
	reader *bufio.Reader

	lastID string
	retry  time.Duration

	current struct {
		name      string
		dataLines []string
		hasData   bool
	}
}

// NewParser creates a new SSE parser from an io.Reader.
func NewParser(r io.Reader) *Parser {
	return &Parser{
		reader: bufio.NewReader(r),
	}
}

// Next returns the next event. Blocks without a `data:` field are not
// dispatched, but their `id:` and `retry:` fields still take effect.
// Returns io.EOF when the stream is exhausted; a partially received event at
// EOF is discarded.
func (p *Parser) Next() (Event, error) {
	for {
		line, err := p.reader.ReadString('\n')
		if err != nil {
			p.reset()
			return Event{}, err
		}

		line = strings.TrimSuffix(line, "\n")
		line = strings.TrimSuffix(line, "\r")

		if line == "" {
			if event, ok := p.flush(); ok {
				return event, nil
			}
			continue
		}

		p.field(line)
	}
}

// LastEventID returns the most recent `id:` value seen.
func (p *Parser) LastEventID() string {
	return p.lastID
}

// Retry returns the most recent `retry:` value, or zero if the server never
// sent one.
func (p *Parser) Retry() time.Duration {
	return p.retry
}

func (p *Parser) field(line string) {
	if strings.HasPrefix(line, ":") {
		return
	}

	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "event":
		p.current.name = value
	case "data":
		p.current.dataLines = append(p.current.dataLines, value)
		p.current.hasData = true
	case "id":
		if !strings.ContainsRune(value, 0) {
			p.lastID = value
		}
	case "retry":
		if ms, err := strconv.ParseUint(value, 10, 32); err == nil {
			p.retry = time.Duration(ms) * time.Millisecond
		}
	}
}

func (p *Parser) flush() (Event, bool) {
	defer p.reset()

	if !p.current.hasData {
		return Event{}, false
	}

	name := p.current.name
	if name == "" {
		name = DefaultEventName
	}

	return Event{
		ID:   p.lastID,
		Name: name,
		Data: strings.Join(p.current.dataLines, "\n"),
	}, true
}

func (p *Parser) reset() {
	p.current.name = ""
	p.current.dataLines = nil
	p.current.hasData = false
}
