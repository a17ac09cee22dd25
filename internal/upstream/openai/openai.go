// Package openai streams chat completions through the go-openai client.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	goopenai "github.com/sashabaranov/go-openai"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/upstream"
)

var _ upstream.Provider = (*Provider)(nil)

// Config holds configuration for the OpenAI provider.
type Config struct {
	APIKey     string
	BaseURL    string // optional, e.g. https://api.openai.com/v1
	HTTPClient *http.Client
}

// Provider sends streaming chat completion requests to an OpenAI-compatible API.
type Provider struct {
	client *goopenai.Client
}

// New creates a Provider instance.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("openai: api key required")
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.BaseURL = strings.TrimSuffix(base, "/")
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}
	return &Provider{client: goopenai.NewClientWithConfig(clientCfg)}, nil
}

// OpenStream implements upstream.Provider.
func (p *Provider) OpenStream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, upstream.ErrNoMessages
	}
	s, err := p.client.CreateChatCompletionStream(ctx, buildRequest(req))
	if err != nil {
		return nil, fmt.Errorf("openai: open stream: %w", err)
	}
	return &chatStream{stream: s}, nil
}

func buildRequest(req upstream.Request) goopenai.ChatCompletionRequest {
	messages := make([]goopenai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: req.System,
		})
	}
	for _, m := range req.Messages {
		msg := goopenai.ChatCompletionMessage{Role: roleFor(m.Role)}
		if !m.Multipart() {
			msg.Content = m.Text
			messages = append(messages, msg)
			continue
		}
		for _, part := range m.Parts {
			switch part.Type {
			case upstream.PartImage:
				msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
					Type:     goopenai.ChatMessagePartTypeImageURL,
					ImageURL: &goopenai.ChatMessageImageURL{URL: part.Image.URI()},
				})
			case upstream.PartText:
				msg.MultiContent = append(msg.MultiContent, goopenai.ChatMessagePart{
					Type: goopenai.ChatMessagePartTypeText,
					Text: part.Text,
				})
			}
		}
		messages = append(messages, msg)
	}
	return goopenai.ChatCompletionRequest{
		Model:     req.Model,
		Messages:  messages,
		MaxTokens: req.MaxTokens,
		Stream:    true,
	}
}

func roleFor(r chat.Role) string {
	if r == chat.RoleAssistant {
		return goopenai.ChatMessageRoleAssistant
	}
	return goopenai.ChatMessageRoleUser
}

type chatStream struct {
	stream *goopenai.ChatCompletionStream
}

// Recv maps each chunk to a text delta. Chunks without choices (usage
// reports) and empty deltas are reported as EventOther.
func (s *chatStream) Recv() (upstream.Event, error) {
	res, err := s.stream.Recv()
	if err != nil {
		return upstream.Event{}, err
	}
	if len(res.Choices) == 0 || res.Choices[0].Delta.Content == "" {
		return upstream.Event{Kind: upstream.EventOther, Type: "chunk"}, nil
	}
	return upstream.TextDelta(res.Choices[0].Delta.Content), nil
}

func (s *chatStream) Close() error {
	return s.stream.Close()
}
