// Package anthropic streams completions from the Anthropic Messages API.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tokligence/chatrelay/internal/upstream"
)

var _ upstream.Provider = (*Provider)(nil)

// Provider sends streaming requests to the Anthropic API (Claude).
type Provider struct {
	apiKey     string
	baseURL    string
	version    string
	httpClient *http.Client
}

// Config holds configuration for the Anthropic provider.
type Config struct {
	APIKey  string
	BaseURL string // optional, defaults to https://api.anthropic.com
	Version string // optional, defaults to 2023-06-01
	// RequestTimeout bounds the whole call including the streamed body.
	// Zero leaves the call unbounded.
	RequestTimeout time.Duration
	HTTPClient     *http.Client
}

// New creates a Provider instance.
func New(cfg Config) (*Provider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("anthropic: api key required")
	}

	baseURL := strings.TrimSpace(cfg.BaseURL)
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	version := strings.TrimSpace(cfg.Version)
	if version == "" {
		version = "2023-06-01"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.RequestTimeout}
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
		version:    version,
		httpClient: client,
	}, nil
}

// OpenStream posts the request with stream=true and returns once the
// response headers arrive. Non-200 answers fail here, before any event.
func (p *Provider) OpenStream(ctx context.Context, req upstream.Request) (upstream.Stream, error) {
	if len(req.Messages) == 0 {
		return nil, upstream.ErrNoMessages
	}

	body, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("anthropic: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("anthropic: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("anthropic: send request: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, decodeHTTPError(resp.StatusCode, data)
	}

	return &stream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

func decodeHTTPError(status int, data []byte) error {
	var errResp struct {
		Type  string `json:"type"`
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil && errResp.Error.Message != "" {
		return &APIError{Status: status, Type: errResp.Error.Type, Message: errResp.Error.Message}
	}
	return &APIError{Status: status, Message: strings.TrimSpace(string(data))}
}

// APIError is an error reported by the Anthropic API, either as an HTTP
// status on open or as an "error" event mid-stream (Status 0).
type APIError struct {
	Status  int
	Type    string
	Message string
}

func (e *APIError) Error() string {
	switch {
	case e.Type != "" && e.Status != 0:
		return fmt.Sprintf("anthropic: %s (type=%s, http %d)", e.Message, e.Type, e.Status)
	case e.Type != "":
		return fmt.Sprintf("anthropic: %s (type=%s)", e.Message, e.Type)
	default:
		return fmt.Sprintf("anthropic: http %d: %s", e.Status, e.Message)
	}
}

type stream struct {
	body    io.ReadCloser
	reader  *bufio.Reader
	started bool
	stopped bool
}

// Recv returns the next event. Only content_block_delta/text_delta becomes a
// text event; everything else is reported as EventOther.
func (s *stream) Recv() (upstream.Event, error) {
	for {
		if s.stopped {
			return upstream.Event{}, io.EOF
		}
		line, err := s.reader.ReadString('\n')
		if err != nil && !(errors.Is(err, io.EOF) && line != "") {
			if errors.Is(err, io.EOF) {
				if s.started {
					return upstream.Event{}, errors.New("anthropic: stream ended before message_stop")
				}
				return upstream.Event{}, io.EOF
			}
			return upstream.Event{}, fmt.Errorf("anthropic: read stream: %w", err)
		}
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "data:") {
			// event: lines, comments and frame separators
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" || payload == "{}" {
			continue
		}

		var evt streamEvent
		if perr := json.Unmarshal([]byte(payload), &evt); perr != nil {
			return upstream.Event{}, fmt.Errorf("anthropic: parse stream: %w", perr)
		}
		switch evt.Type {
		case "message_start":
			s.started = true
			return upstream.Event{Kind: upstream.EventOther, Type: evt.Type}, nil
		case "content_block_delta":
			if evt.Delta.Type == "text_delta" {
				return upstream.TextDelta(evt.Delta.Text), nil
			}
			return upstream.Event{Kind: upstream.EventOther, Type: evt.Delta.Type}, nil
		case "message_stop":
			s.stopped = true
			return upstream.Event{Kind: upstream.EventOther, Type: evt.Type}, nil
		case "error":
			s.stopped = true
			if evt.Error == nil {
				return upstream.Event{}, errors.New("anthropic: stream error")
			}
			return upstream.Event{}, &APIError{Type: evt.Error.Type, Message: evt.Error.Message}
		default:
			return upstream.Event{Kind: upstream.EventOther, Type: evt.Type}, nil
		}
	}
}

func (s *stream) Close() error {
	return s.body.Close()
}

// Streaming event minimal schema
type streamEvent struct {
	Type  string `json:"type"`
	Index int    `json:"index,omitempty"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	} `json:"delta,omitempty"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error,omitempty"`
}
