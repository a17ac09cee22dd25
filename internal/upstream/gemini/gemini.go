package gemini

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/upstream"
)

var _ upstream.Provider = (*Provider)(nil)

// Config holds configuration for the Gemini provider.
type Config struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// Provider streams content from the Gemini API.
type Provider struct {
	client *genai.Client
}

// New creates a Provider backed by the Gemini API backend.
func New(ctx context.Context, cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("gemini: api key required")
	}
	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: base}
	}
	c, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: c}, nil
}

// OpenStream implements upstream.Provider. The first chunk is read before
// returning so that a rejected call fails here rather than on Recv.
func (p *Provider) OpenStream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, upstream.ErrNoMessages
	}
	contents, config := buildContents(req)
	seq := p.client.Models.GenerateContentStream(ctx, req.Model, contents, config)
	next, stop := iter.Pull2(seq)
	first, err, ok := next()
	if ok && err != nil {
		stop()
		return nil, fmt.Errorf("gemini: %w", err)
	}
	return &contentStream{next: next, stop: stop, first: first, pending: ok}, nil
}

func buildContents(req upstream.Request) ([]*genai.Content, *genai.GenerateContentConfig) {
	config := &genai.GenerateContentConfig{}
	if req.MaxTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.System != "" {
		config.SystemInstruction = genai.NewContentFromText(req.System, "")
	}

	contents := make([]*genai.Content, 0, len(req.Messages))
	for _, m := range req.Messages {
		role := genai.Role(genai.RoleUser)
		if m.Role == chat.RoleAssistant {
			role = genai.RoleModel
		}
		if !m.Multipart() {
			contents = append(contents, genai.NewContentFromText(m.Text, role))
			continue
		}
		parts := make([]*genai.Part, 0, len(m.Parts))
		for _, part := range m.Parts {
			switch part.Type {
			case upstream.PartImage:
				raw, err := part.Image.Bytes()
				if err != nil {
					continue
				}
				parts = append(parts, genai.NewPartFromBytes(raw, part.Image.MediaType))
			case upstream.PartText:
				parts = append(parts, genai.NewPartFromText(part.Text))
			}
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents, config
}

type contentStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()

	// first holds the chunk read by OpenStream until Recv hands it out.
	first   *genai.GenerateContentResponse
	pending bool
}

func (s *contentStream) Recv() (upstream.Event, error) {
	if s.pending {
		s.pending = false
		res := s.first
		s.first = nil
		return chunkEvent(res), nil
	}
	res, err, valid := s.next()
	if !valid {
		// iterator is finished
		return upstream.Event{}, io.EOF
	}
	if err != nil {
		return upstream.Event{}, fmt.Errorf("gemini: %w", err)
	}
	return chunkEvent(res), nil
}

func chunkEvent(res *genai.GenerateContentResponse) upstream.Event {
	if res == nil {
		return upstream.Event{Kind: upstream.EventOther, Type: "chunk"}
	}
	text := res.Text()
	if text == "" {
		return upstream.Event{Kind: upstream.EventOther, Type: "chunk"}
	}
	return upstream.TextDelta(text)
}

func (s *contentStream) Close() error {
	s.stop()
	return nil
}
