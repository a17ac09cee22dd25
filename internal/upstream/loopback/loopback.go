// Package loopback provides providers that never leave the process: an echo
// provider for local runs and a scripted provider for tests.
package loopback

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/upstream"
)

var (
	_ upstream.Provider = (*Provider)(nil)
	_ upstream.Provider = (*Scripted)(nil)
)

// Provider echoes the last user turn back one word at a time.
type Provider struct{}

// New creates a loopback Provider.
func New() *Provider {
	return &Provider{}
}

// OpenStream fabricates a deterministic stream for exercising the relay
// pipeline without credentials.
func (p *Provider) OpenStream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, upstream.ErrNoMessages
	}

	// find last user message; default to final message if none
	message := req.Messages[len(req.Messages)-1]
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == chat.RoleUser {
			message = req.Messages[i]
			break
		}
	}

	text, images := flatten(message)
	reply := "[loopback]"
	if t := strings.TrimSpace(text); t != "" {
		reply += " " + t
	}
	if images > 0 {
		reply += fmt.Sprintf(" (+%d image(s))", images)
	}

	events := []upstream.Event{{Kind: upstream.EventOther, Type: "message_start"}}
	for i, word := range strings.SplitAfter(reply, " ") {
		if word == "" {
			continue
		}
		if i > 0 && i%4 == 0 {
			events = append(events, upstream.Event{Kind: upstream.EventOther, Type: "ping"})
		}
		events = append(events, upstream.TextDelta(word))
	}
	events = append(events, upstream.Event{Kind: upstream.EventOther, Type: "message_stop"})
	return &sliceStream{ctx: ctx, events: events}, nil
}

func flatten(m upstream.Message) (string, int) {
	if !m.Multipart() {
		return m.Text, 0
	}
	var parts []string
	images := 0
	for _, p := range m.Parts {
		switch p.Type {
		case upstream.PartText:
			parts = append(parts, p.Text)
		case upstream.PartImage:
			images++
		}
	}
	return strings.Join(parts, " "), images
}

// Scripted replays a fixed list of events and optionally fails at open time
// or after the events are exhausted. It records every request it receives.
type Scripted struct {
	Events  []upstream.Event
	OpenErr error
	// Err is returned by Recv after Events are drained instead of io.EOF.
	Err error

	mu       sync.Mutex
	requests []upstream.Request
}

// NewScripted returns a Scripted provider that emits one text delta per
// fragment and then ends cleanly.
func NewScripted(fragments ...string) *Scripted {
	events := make([]upstream.Event, 0, len(fragments))
	for _, f := range fragments {
		events = append(events, upstream.TextDelta(f))
	}
	return &Scripted{Events: events}
}

// OpenStream implements upstream.Provider.
func (s *Scripted) OpenStream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	if s.OpenErr != nil {
		return nil, s.OpenErr
	}
	events := make([]upstream.Event, len(s.Events))
	copy(events, s.Events)
	return &sliceStream{ctx: ctx, events: events, err: s.Err}, nil
}

// Requests returns the requests seen so far.
func (s *Scripted) Requests() []upstream.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]upstream.Request, len(s.requests))
	copy(out, s.requests)
	return out
}

type sliceStream struct {
	ctx    context.Context
	events []upstream.Event
	err    error
	pos    int
	closed bool
}

func (s *sliceStream) Recv() (upstream.Event, error) {
	if s.closed {
		return upstream.Event{}, io.EOF
	}
	if err := s.ctx.Err(); err != nil {
		return upstream.Event{}, err
	}
	if s.pos >= len(s.events) {
		if s.err != nil {
			return upstream.Event{}, s.err
		}
		return upstream.Event{}, io.EOF
	}
	ev := s.events[s.pos]
	s.pos++
	return ev, nil
}

func (s *sliceStream) Close() error {
	s.closed = true
	return nil
}
