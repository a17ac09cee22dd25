// Package chat holds the request and record shapes shared by the relay, the
// stream consumer and the conversation stores.
package chat

import (
	"errors"
	"fmt"
	"time"
)

// Role identifies the author of a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one entry of the message history sent to the relay.
type Turn struct {
	Role    Role     `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// Request is the body accepted by POST /api/chat.
type Request struct {
	Messages []Turn `json:"messages"`
	Model    string `json:"model"`
	System   string `json:"system,omitempty"`
}

// ErrNoMessages is returned when a request carries an empty history.
var ErrNoMessages = errors.New("chat: messages required")

// Validate checks the structural shape of a request. Role alternation is left
// to the upstream provider.
func (r Request) Validate() error {
	if len(r.Messages) == 0 {
		return ErrNoMessages
	}
	for i, m := range r.Messages {
		switch m.Role {
		case RoleUser, RoleAssistant:
		default:
			return &InvalidRoleError{Index: i, Role: string(m.Role)}
		}
	}
	return nil
}

// InvalidRoleError reports a turn whose role is neither user nor assistant.
type InvalidRoleError struct {
	Index int
	Role  string
}

func (e *InvalidRoleError) Error() string {
	return fmt.Sprintf("chat: messages[%d] has invalid role %q", e.Index, e.Role)
}

// Conversation is the persisted conversation record.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	SystemPrompt *string   `json:"system_prompt"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// System returns the system prompt or "" when unset.
func (c Conversation) System() string {
	if c.SystemPrompt == nil {
		return ""
	}
	return *c.SystemPrompt
}

// Message is the persisted message record.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ImageURLs      []string  `json:"image_urls"`
	CreatedAt      time.Time `json:"created_at"`
}

// Turn converts a stored message into the relay request shape.
func (m Message) Turn() Turn {
	t := Turn{Role: m.Role, Content: m.Content}
	if len(m.ImageURLs) > 0 {
		t.Images = append([]string(nil), m.ImageURLs...)
	}
	return t
}

// History converts stored messages into relay turns, preserving order.
func History(msgs []Message) []Turn {
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, m.Turn())
	}
	return turns
}
