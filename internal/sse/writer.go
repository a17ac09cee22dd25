// Package sse implements the relay's Server-Sent Events framing: a Writer
// that emits one data frame per fragment and a Decoder that reassembles
// frames from arbitrarily split reads.
package sse

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// DoneSentinel is the payload of the final frame of a successful stream.
const DoneSentinel = "[DONE]"

// ErrClosed is returned by writes after a terminal frame.
var ErrClosed = errors.New("sse: stream already terminated")

// SetHeaders applies the response headers of an event stream.
func SetHeaders(h http.Header) {
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
}

// Writer writes data frames to w, flushing after each one when w is an
// http.Flusher. A Writer is not safe for concurrent use.
type Writer struct {
	w       io.Writer
	flusher http.Flusher
	frames  int
	closed  bool
	buf     bytes.Buffer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	f, _ := w.(http.Flusher)
	return &Writer{w: w, flusher: f}
}

// WriteText emits data: {"text": text}.
func (w *Writer) WriteText(text string) error {
	return w.writeJSON(struct {
		Text string `json:"text"`
	}{text}, false)
}

// WriteError emits data: {"error": message} and terminates the stream.
func (w *Writer) WriteError(message string) error {
	return w.writeJSON(struct {
		Error string `json:"error"`
	}{message}, true)
}

// WriteDone emits data: [DONE] and terminates the stream.
func (w *Writer) WriteDone() error {
	if w.closed {
		return ErrClosed
	}
	w.closed = true
	return w.frame([]byte(DoneSentinel))
}

// Frames returns the number of frames written, terminal frame included.
func (w *Writer) Frames() int { return w.frames }

// Closed reports whether a terminal frame has been written.
func (w *Writer) Closed() bool { return w.closed }

func (w *Writer) writeJSON(v any, terminal bool) error {
	if w.closed {
		return ErrClosed
	}
	if terminal {
		w.closed = true
	}
	w.buf.Reset()
	enc := json.NewEncoder(&w.buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("sse: encode frame: %w", err)
	}
	// Encode appends a newline
	return w.frame(bytes.TrimSuffix(w.buf.Bytes(), []byte("\n")))
}

func (w *Writer) frame(payload []byte) error {
	out := make([]byte, 0, len(payload)+8)
	out = append(out, "data: "...)
	out = append(out, payload...)
	out = append(out, "\n\n"...)
	if _, err := w.w.Write(out); err != nil {
		return fmt.Errorf("sse: write frame: %w", err)
	}
	w.frames++
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}
