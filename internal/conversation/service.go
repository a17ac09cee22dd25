// Package conversation runs the send flow of a chat client: it persists the
// user turn, streams the reply through the relay and commits the outcome.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/store"
)

const (
	// DefaultTitle names a conversation until its first message arrives.
	DefaultTitle = "New chat"
	// ImageTitle names a conversation whose first message has no text.
	ImageTitle = "Image chat"
	// ErrorPrefix marks assistant turns that record a failed exchange.
	ErrorPrefix = "⚠️ Error: "

	titleRunes = 30
)

// ErrSendInProgress is returned when Send is called while another send on
// the same Service has not finished.
var ErrSendInProgress = errors.New("conversation: a send is already in progress")

// Streamer sends a chat request to a relay and returns the full reply.
// consumer.Client satisfies it.
type Streamer interface {
	Stream(ctx context.Context, req chat.Request, onUpdate func(string)) (string, error)
}

// Service coordinates a store and a relay client.
type Service struct {
	store    store.Store
	streamer Streamer
	model    string
	system   string
	onUpdate func(string)
	sending  atomic.Bool
	logger   *log.Logger
}

// Option customises a Service.
type Option func(*Service)

// WithDefaults sets the model and system prompt given to new conversations.
func WithDefaults(model, system string) Option {
	return func(s *Service) {
		s.model = strings.TrimSpace(model)
		s.system = system
	}
}

// WithStreamObserver registers fn to receive the accumulated reply after
// every streamed fragment.
func WithStreamObserver(fn func(accumulated string)) Option {
	return func(s *Service) { s.onUpdate = fn }
}

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a Service.
func New(st store.Store, streamer Streamer, opts ...Option) *Service {
	s := &Service{
		store:    st,
		streamer: streamer,
		logger:   log.New(os.Stderr, "[chatctl] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create starts an empty conversation with the service defaults.
func (s *Service) Create(ctx context.Context) (chat.Conversation, error) {
	conv := chat.Conversation{Title: DefaultTitle, Model: s.model}
	if s.system != "" {
		prompt := s.system
		conv.SystemPrompt = &prompt
	}
	created, err := s.store.CreateConversation(ctx, conv)
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("conversation: create: %w", err)
	}
	return created, nil
}

// Send runs one exchange on convID, creating a conversation when convID is
// empty. Relay failures are recorded as an assistant turn starting with
// ErrorPrefix and are not returned; only persistence errors are.
func (s *Service) Send(ctx context.Context, convID, content string, images []string) (chat.Message, error) {
	if !s.sending.CompareAndSwap(false, true) {
		return chat.Message{}, ErrSendInProgress
	}
	defer s.sending.Store(false)

	var conv chat.Conversation
	var err error
	if strings.TrimSpace(convID) == "" {
		conv, err = s.Create(ctx)
	} else {
		conv, err = s.store.GetConversation(ctx, convID)
	}
	if err != nil {
		return chat.Message{}, err
	}

	history, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return chat.Message{}, fmt.Errorf("conversation: load history: %w", err)
	}

	userMsg, err := s.store.AppendMessage(ctx, chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleUser,
		Content:        content,
		ImageURLs:      images,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("conversation: save user message: %w", err)
	}
	history = append(history, userMsg)

	if len(history) == 1 {
		title := Title(content)
		if conv, err = s.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{Title: &title}); err != nil {
			return chat.Message{}, fmt.Errorf("conversation: set title: %w", err)
		}
	}

	model := conv.Model
	if model == "" {
		model = s.model
	}
	req := chat.Request{Messages: chat.History(history), Model: model, System: conv.System()}

	reply, streamErr := s.streamer.Stream(ctx, req, s.onUpdate)
	if streamErr != nil {
		s.logger.Printf("send conversation=%s model=%s failed: %v", conv.ID, model, streamErr)
		reply = ErrorPrefix + streamErr.Error()
	}

	assistant, err := s.store.AppendMessage(ctx, chat.Message{
		ConversationID: conv.ID,
		Role:           chat.RoleAssistant,
		Content:        reply,
	})
	if err != nil {
		return chat.Message{}, fmt.Errorf("conversation: save assistant message: %w", err)
	}
	if streamErr == nil {
		if _, err := s.store.UpdateConversation(ctx, conv.ID, store.ConversationUpdate{}); err != nil {
			return assistant, fmt.Errorf("conversation: touch: %w", err)
		}
	}
	return assistant, nil
}

// Title derives a conversation title from the first message: the first 30
// characters followed by "..." when longer, or ImageTitle when empty.
func Title(content string) string {
	if content == "" {
		return ImageTitle
	}
	if utf8.RuneCountInString(content) <= titleRunes {
		return content
	}
	runes := []rune(content)
	return string(runes[:titleRunes]) + "..."
}

// IsErrorReply reports whether content records a failed exchange.
func IsErrorReply(content string) bool {
	return strings.HasPrefix(content, ErrorPrefix)
}

// Rename sets the title of a conversation.
func (s *Service) Rename(ctx context.Context, id, title string) (chat.Conversation, error) {
	return s.store.UpdateConversation(ctx, id, store.ConversationUpdate{Title: &title})
}

// SetSystemPrompt replaces the system prompt of a conversation. An empty
// prompt clears it.
func (s *Service) SetSystemPrompt(ctx context.Context, id, prompt string) (chat.Conversation, error) {
	return s.store.UpdateConversation(ctx, id, store.ConversationUpdate{SystemPrompt: &prompt})
}

// SetModel changes the model used for future sends on a conversation.
func (s *Service) SetModel(ctx context.Context, id, model string) (chat.Conversation, error) {
	return s.store.UpdateConversation(ctx, id, store.ConversationUpdate{Model: &model})
}

// Delete removes a conversation and its messages.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteConversation(ctx, id)
}

// List returns all conversations, most recent first.
func (s *Service) List(ctx context.Context) ([]chat.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Show returns a conversation with its messages.
func (s *Service) Show(ctx context.Context, id string) (chat.Conversation, []chat.Message, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return chat.Conversation{}, nil, err
	}
	msgs, err := s.store.ListMessages(ctx, id)
	if err != nil {
		return chat.Conversation{}, nil, err
	}
	return conv, msgs, nil
}
