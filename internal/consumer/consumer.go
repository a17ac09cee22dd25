// Package consumer calls a relay's /api/chat endpoint and reassembles the
// streamed reply.
package consumer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/sse"
)

const (
	chatPath = "/api/chat"
	// readBufferSize is the size of each body read handed to the decoder.
	readBufferSize = 4096
	defaultMessage = "API request failed"
)

// State is the lifecycle of one streaming transaction.
type State int

const (
	StateIdle State = iota
	StateStreaming
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStreaming:
		return "streaming"
	case StateTerminal:
		return "terminal"
	default:
		return "unknown"
	}
}

// StreamError is an application error delivered by the relay, either as a
// non-2xx JSON body or as an error frame mid-stream. Partial holds the text
// received before the error.
type StreamError struct {
	Status  int
	Message string
	Partial string
}

func (e *StreamError) Error() string {
	return e.Message
}

// Client talks to one relay.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *log.Logger
}

// New returns a Client for the relay at baseURL. A nil httpClient uses a
// client without a timeout, since replies stream for as long as the model
// writes.
func New(baseURL string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"), httpClient: httpClient}
}

// SetLogger logs one summary line per stream to logger.
func (c *Client) SetLogger(logger *log.Logger) {
	c.logger = logger
}

// Stream sends req and blocks until the reply ends. onUpdate, when non-nil,
// receives the accumulated text after every fragment.
func (c *Client) Stream(ctx context.Context, req chat.Request, onUpdate func(string)) (string, error) {
	t := c.NewTransaction(req)
	text, err := t.Run(ctx, onUpdate)
	if c.logger != nil {
		outcome := "done"
		if err != nil {
			outcome = "error"
		}
		c.logger.Printf("stream model=%s elapsed_ms=%d chars=%d discarded=%d outcome=%s",
			req.Model, t.Elapsed().Milliseconds(), len(text), t.Discarded(), outcome)
	}
	return text, err
}

// Transaction is a single send. It moves from StateIdle to StateStreaming
// when Run starts and to StateTerminal when Run returns.
type Transaction struct {
	client *Client
	req    chat.Request

	mu        sync.Mutex
	state     State
	text      strings.Builder
	discarded int
	elapsed   time.Duration
}

// NewTransaction prepares a send without starting it.
func (c *Client) NewTransaction(req chat.Request) *Transaction {
	return &Transaction{client: c, req: req}
}

// State returns the current state.
func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Text returns the text accumulated so far.
func (t *Transaction) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text.String()
}

// Discarded returns how many non-JSON data lines were skipped.
func (t *Transaction) Discarded() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.discarded
}

// Elapsed returns the duration of the finished run.
func (t *Transaction) Elapsed() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.elapsed
}

// Run performs the request. It may be called once.
func (t *Transaction) Run(ctx context.Context, onUpdate func(string)) (string, error) {
	t.mu.Lock()
	if t.state != StateIdle {
		t.mu.Unlock()
		return "", errors.New("consumer: transaction already run")
	}
	t.state = StateStreaming
	t.mu.Unlock()

	start := time.Now()
	defer func() {
		t.mu.Lock()
		t.state = StateTerminal
		t.elapsed = time.Since(start)
		t.mu.Unlock()
	}()

	resp, err := t.client.post(ctx, t.req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", decodeFailure(resp)
	}
	return t.read(resp.Body, onUpdate)
}

func (c *Client) post(ctx context.Context, req chat.Request) (*http.Response, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("consumer: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("consumer: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("consumer: send request: %w", err)
	}
	return resp, nil
}

func decodeFailure(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var payload struct {
		Error string `json:"error"`
	}
	msg := defaultMessage
	if err := json.Unmarshal(data, &payload); err == nil && payload.Error != "" {
		msg = payload.Error
	}
	return &StreamError{Status: resp.StatusCode, Message: msg}
}

func (t *Transaction) read(body io.Reader, onUpdate func(string)) (string, error) {
	dec := sse.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, rerr := body.Read(buf)
		if n > 0 {
			for _, ev := range dec.Feed(buf[:n]) {
				switch ev.Kind {
				case sse.Text:
					t.mu.Lock()
					t.text.WriteString(ev.Text)
					acc := t.text.String()
					t.mu.Unlock()
					if onUpdate != nil {
						onUpdate(acc)
					}
				case sse.Error:
					t.recordDiscarded(dec)
					return t.Text(), &StreamError{Status: http.StatusOK, Message: ev.Err, Partial: t.Text()}
				case sse.Done:
					t.recordDiscarded(dec)
					return t.Text(), nil
				}
			}
		}
		if errors.Is(rerr, io.EOF) {
			t.recordDiscarded(dec)
			return t.Text(), nil
		}
		if rerr != nil {
			t.recordDiscarded(dec)
			return t.Text(), fmt.Errorf("consumer: read stream: %w", rerr)
		}
	}
}

func (t *Transaction) recordDiscarded(dec *sse.Decoder) {
	t.mu.Lock()
	t.discarded = dec.Discarded()
	t.mu.Unlock()
}
