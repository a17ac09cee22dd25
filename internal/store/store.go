// Package store defines conversation persistence. Two variants exist: a
// remote PostgreSQL store and a local SQLite key/value store that keeps the
// same records as serialized documents.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tokligence/chatrelay/internal/chat"
)

// Storage modes reported by Mode.
const (
	ModeRemote = "remote"
	ModeLocal  = "local"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("store: conversation not found")

// ConversationUpdate lists the fields to change. Nil fields are left alone.
// An empty SystemPrompt clears the prompt. UpdatedAt is always bumped, to
// the given time or to now when zero.
type ConversationUpdate struct {
	Title        *string
	SystemPrompt *string
	Model        *string
	UpdatedAt    time.Time
}

// Store persists conversations and their messages.
type Store interface {
	// ListConversations returns all conversations, most recently updated first.
	ListConversations(ctx context.Context) ([]chat.Conversation, error)
	GetConversation(ctx context.Context, id string) (chat.Conversation, error)
	// CreateConversation stores conv, assigning an ID and timestamps when unset.
	CreateConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error)
	UpdateConversation(ctx context.Context, id string, upd ConversationUpdate) (chat.Conversation, error)
	// DeleteConversation removes the conversation and all of its messages.
	DeleteConversation(ctx context.Context, id string) error
	// ListMessages returns the messages of a conversation, oldest first.
	ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error)
	// AppendMessage stores msg, assigning an ID and creation time when unset.
	AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error)
	Mode() string
	Close() error
}

// NewID returns a random record identifier.
func NewID() string {
	return uuid.NewString()
}

// Now returns the current time truncated to microseconds, the precision both
// backends keep.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// PrepareConversation fills the ID and timestamps of a new conversation.
func PrepareConversation(conv chat.Conversation) chat.Conversation {
	if strings.TrimSpace(conv.ID) == "" {
		conv.ID = NewID()
	}
	now := Now()
	if conv.CreatedAt.IsZero() {
		conv.CreatedAt = now
	}
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = conv.CreatedAt
	}
	conv.SystemPrompt = normalizePrompt(conv.SystemPrompt)
	return conv
}

// PrepareMessage fills the ID and timestamp of a new message and drops an
// empty image list.
func PrepareMessage(msg chat.Message) chat.Message {
	if strings.TrimSpace(msg.ID) == "" {
		msg.ID = NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = Now()
	}
	if len(msg.ImageURLs) == 0 {
		msg.ImageURLs = nil
	}
	return msg
}

// Apply returns conv with upd applied.
func (upd ConversationUpdate) Apply(conv chat.Conversation) chat.Conversation {
	if upd.Title != nil {
		conv.Title = *upd.Title
	}
	if upd.SystemPrompt != nil {
		conv.SystemPrompt = normalizePrompt(upd.SystemPrompt)
	}
	if upd.Model != nil {
		conv.Model = *upd.Model
	}
	conv.UpdatedAt = upd.UpdatedAt
	if conv.UpdatedAt.IsZero() {
		conv.UpdatedAt = Now()
	}
	return conv
}

func normalizePrompt(p *string) *string {
	if p == nil || *p == "" {
		return nil
	}
	v := *p
	return &v
}
