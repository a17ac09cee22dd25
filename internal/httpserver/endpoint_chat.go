package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/httpserver/protocol"
	"github.com/tokligence/chatrelay/internal/ledger"
	"github.com/tokligence/chatrelay/internal/relay"
	"github.com/tokligence/chatrelay/internal/sse"
)

// maxChatBody bounds a chat request; inline images make bodies large.
const maxChatBody = 32 << 20

type chatEndpoint struct {
	server *Server
}

func newChatEndpoint(server *Server) protocol.Endpoint {
	return &chatEndpoint{server: server}
}

func (e *chatEndpoint) Name() string { return "chat" }

func (e *chatEndpoint) Routes() []protocol.EndpointRoute {
	var handler http.Handler = http.HandlerFunc(e.server.HandleChat)
	if e.server.limiter != nil {
		handler = e.server.limiter.Middleware(e.server.logger)(handler)
	}
	return []protocol.EndpointRoute{
		{Method: http.MethodPost, Path: "/api/chat", Handler: handler},
	}
}

// HandleChat relays one chat request as an event stream. Failures before
// the upstream stream is open are answered with HTTP 500 and a JSON error.
func (s *Server) HandleChat(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	var req chat.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxChatBody)).Decode(&req); err != nil {
		err = fmt.Errorf("invalid request body: %w", err)
		s.finishExchange(ctx, relay.Rejected(req, err, time.Since(start)), 0)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	call, err := s.relay.Open(ctx, req)
	if err != nil {
		res := relay.Rejected(req, err, time.Since(start))
		if !isValidationError(err) {
			res.Outcome = relay.OutcomeError
		}
		s.finishExchange(ctx, res, 0)
		s.respondError(w, http.StatusInternalServerError, err)
		return
	}

	// streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	tw := &timingWriter{ResponseWriter: w, start: start}
	sse.SetHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
	res := call.Pipe(sse.NewWriter(tw))
	s.finishExchange(ctx, res, tw.ttfb())
}

func isValidationError(err error) bool {
	var roleErr *chat.InvalidRoleError
	return errors.Is(err, chat.ErrNoMessages) || errors.As(err, &roleErr)
}

// finishExchange logs the summary line and records the ledger entry.
func (s *Server) finishExchange(ctx context.Context, res relay.Result, ttfb time.Duration) {
	s.logger.Printf("chat.stream total_ms=%d ttfb_ms=%d model=%s frames=%d outcome=%s",
		res.Duration.Milliseconds(), ttfb.Milliseconds(), res.Model, res.Frames, res.Outcome)
	if res.Err != "" {
		s.debugf("chat.stream error=%q", res.Err)
	}
	if s.ledger == nil {
		return
	}
	entry := ledger.Entry{
		RequestID:       middleware.GetReqID(ctx),
		Model:           res.Model,
		Turns:           res.Turns,
		Images:          res.Images,
		PromptChars:     res.PromptChars,
		CompletionChars: res.CompletionChars,
		Frames:          res.Frames,
		Outcome:         ledger.Outcome(res.Outcome),
		Error:           res.Err,
		DurationMS:      res.Duration.Milliseconds(),
	}
	if s.directory != nil && res.Model != "" {
		if name, err := s.directory.ProviderForModel(res.Model); err == nil {
			entry.Provider = name
		}
	}
	// the client may already be gone; the entry is still wanted
	if err := s.ledger.Record(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Printf("ledger record failed: %v", err)
	}
}

// timingWriter remembers when the first byte of the body was written.
type timingWriter struct {
	http.ResponseWriter
	start time.Time
	first time.Time
}

func (t *timingWriter) Write(p []byte) (int, error) {
	if t.first.IsZero() {
		t.first = time.Now()
	}
	return t.ResponseWriter.Write(p)
}

func (t *timingWriter) Flush() {
	if f, ok := t.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (t *timingWriter) Unwrap() http.ResponseWriter { return t.ResponseWriter }

func (t *timingWriter) ttfb() time.Duration {
	if t.first.IsZero() {
		return 0
	}
	return t.first.Sub(t.start)
}
