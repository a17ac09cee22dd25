// Package upstream defines the streaming capability every model provider
// exposes to the relay. Providers open a call and hand back a lazy sequence
// of typed events; the relay never depends on a concrete provider.
package upstream

import (
	"context"
	"errors"

	"github.com/tokligence/chatrelay/internal/chat"
)

// EventKind discriminates upstream events.
type EventKind int

const (
	// EventTextDelta carries an incremental text fragment.
	EventTextDelta EventKind = iota
	// EventOther is any event the relay does not forward (tool use,
	// thinking, usage, pings).
	EventOther
)

func (k EventKind) String() string {
	switch k {
	case EventTextDelta:
		return "text_delta"
	default:
		return "other"
	}
}

// Event is one item read from a provider stream.
type Event struct {
	Kind EventKind
	Text string
	// Type is the provider's own name for the event, kept for logging.
	Type string
}

// TextDelta builds a text event.
func TextDelta(text string) Event {
	return Event{Kind: EventTextDelta, Text: text, Type: "text_delta"}
}

// PartType names a content part.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is one block of a multi-part message.
type Part struct {
	Type  PartType
	Text  string
	Image chat.Image
}

// Message is a provider-neutral turn. Exactly one of Text or Parts is used:
// Parts is nil for plain-text turns.
type Message struct {
	Role  chat.Role
	Text  string
	Parts []Part
}

// Multipart reports whether the message carries content blocks.
func (m Message) Multipart() bool { return m.Parts != nil }

// Request is a streaming call description.
type Request struct {
	Model     string
	System    string
	MaxTokens int
	Messages  []Message
}

// Stream yields events until Recv returns io.EOF or another error.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Provider opens streaming calls against a model API.
type Provider interface {
	OpenStream(ctx context.Context, req Request) (Stream, error)
}

// ErrNoProvider is returned when no provider can serve a model.
var ErrNoProvider = errors.New("upstream: no provider for model")

// ErrNoMessages is returned by providers for empty requests.
var ErrNoMessages = errors.New("upstream: no messages provided")
