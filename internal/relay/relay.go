// Package relay forwards a chat request to an upstream provider and
// re-emits the provider's text deltas as SSE frames.
package relay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/sse"
	"github.com/tokligence/chatrelay/internal/upstream"
)

// Outcome is how a relayed exchange ended.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeError    Outcome = "error"
	OutcomeRejected Outcome = "rejected"
)

// Result summarises one relayed exchange.
type Result struct {
	Model           string
	Turns           int
	Images          int
	PromptChars     int
	CompletionChars int
	Frames          int
	Outcome         Outcome
	Err             string
	Duration        time.Duration
}

// Relay streams chat requests through a provider.
type Relay struct {
	provider upstream.Provider
	logger   *log.Logger
	logLevel string
}

// New creates a Relay over p.
func New(p upstream.Provider) *Relay {
	return &Relay{
		provider: p,
		logger:   log.New(os.Stdout, "[relayd/relay] ", log.LstdFlags|log.Lmicroseconds),
		logLevel: "info",
	}
}

// SetLogger replaces the logger and level.
func (r *Relay) SetLogger(level string, logger *log.Logger) {
	if logger != nil {
		r.logger = logger
	}
	r.logLevel = strings.ToLower(strings.TrimSpace(level))
}

func (r *Relay) debugf(format string, args ...any) {
	if r.logLevel == "debug" && r.logger != nil {
		r.logger.Printf("DEBUG "+format, args...)
	}
}

// Call is an upstream stream that has been opened but not yet relayed.
type Call struct {
	relay  *Relay
	stream upstream.Stream
	result Result
	start  time.Time
}

// Open validates req and opens the upstream stream. Errors returned here
// happen before any frame is written.
func (r *Relay) Open(ctx context.Context, req chat.Request) (*Call, error) {
	start := time.Now()
	if err := req.Validate(); err != nil {
		return nil, err
	}
	ureq := Transform(req)
	r.debugf("open model=%s turns=%d system=%t", ureq.Model, len(ureq.Messages), ureq.System != "")

	s, err := r.provider.OpenStream(ctx, ureq)
	if err != nil {
		return nil, fmt.Errorf("relay: open upstream: %w", err)
	}
	return &Call{relay: r, stream: s, result: summarize(req), start: start}, nil
}

// Pipe relays every text delta to w as its own frame, then ends the stream
// with [DONE], or with a single error frame if the upstream fails. The
// upstream stream is closed on return.
func (c *Call) Pipe(w *sse.Writer) Result {
	defer c.stream.Close()
	res := c.result
	for {
		ev, err := c.stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Outcome = OutcomeError
			res.Err = err.Error()
			if werr := w.WriteError(err.Error()); werr != nil {
				c.relay.debugf("write error frame: %v", werr)
			}
			return c.finish(res, w)
		}
		if ev.Kind != upstream.EventTextDelta {
			c.relay.debugf("skip upstream event %s", ev.Type)
			continue
		}
		if err := w.WriteText(ev.Text); err != nil {
			// client went away; nothing more can be delivered
			res.Outcome = OutcomeError
			res.Err = err.Error()
			return c.finish(res, w)
		}
		res.CompletionChars += utf8.RuneCountInString(ev.Text)
	}
	res.Outcome = OutcomeDone
	if err := w.WriteDone(); err != nil {
		res.Outcome = OutcomeError
		res.Err = err.Error()
	}
	return c.finish(res, w)
}

func (c *Call) finish(res Result, w *sse.Writer) Result {
	res.Frames = w.Frames()
	res.Duration = time.Since(c.start)
	c.relay.debugf("finished model=%s outcome=%s frames=%d chars=%d", res.Model, res.Outcome, res.Frames, res.CompletionChars)
	return res
}

// Rejected builds the result of a request refused before any upstream call.
func Rejected(req chat.Request, err error, elapsed time.Duration) Result {
	res := summarize(req)
	res.Outcome = OutcomeRejected
	if err != nil {
		res.Err = err.Error()
	}
	res.Duration = elapsed
	return res
}

func summarize(req chat.Request) Result {
	res := Result{Model: req.Model, Turns: len(req.Messages)}
	for _, t := range req.Messages {
		res.Images += len(t.Images)
		res.PromptChars += utf8.RuneCountInString(t.Content)
	}
	return res
}
