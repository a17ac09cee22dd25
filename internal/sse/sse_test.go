package sse

import (
	"bytes"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFrames(t *testing.T) {
	rec := httptest.NewRecorder()
	w := NewWriter(rec)

	require.NoError(t, w.WriteText("A"))
	require.NoError(t, w.WriteText(`<b> "q" 한`))
	require.NoError(t, w.WriteDone())

	want := "data: {\"text\":\"A\"}\n\n" +
		"data: {\"text\":\"<b> \\\"q\\\" 한\"}\n\n" +
		"data: [DONE]\n\n"
	assert.Equal(t, want, rec.Body.String())
	assert.True(t, rec.Flushed)
	assert.Equal(t, 3, w.Frames())
	assert.True(t, w.Closed())

	assert.ErrorIs(t, w.WriteText("late"), ErrClosed)
	assert.ErrorIs(t, w.WriteDone(), ErrClosed)
	assert.ErrorIs(t, w.WriteError("late"), ErrClosed)
}

func TestWriterError(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	require.NoError(t, w.WriteText("partial"))
	require.NoError(t, w.WriteError("overloaded"))
	assert.Equal(t, "data: {\"text\":\"partial\"}\n\ndata: {\"error\":\"overloaded\"}\n\n", buf.String())
	assert.ErrorIs(t, w.WriteDone(), ErrClosed)
}

func TestSetHeaders(t *testing.T) {
	rec := httptest.NewRecorder()
	SetHeaders(rec.Header())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "no-cache", rec.Header().Get("Cache-Control"))
	assert.Equal(t, "keep-alive", rec.Header().Get("Connection"))
}

func collectText(events []Event) (string, []Event) {
	var sb strings.Builder
	var terminal []Event
	for _, ev := range events {
		if ev.Kind == Text {
			sb.WriteString(ev.Text)
		} else {
			terminal = append(terminal, ev)
		}
	}
	return sb.String(), terminal
}

func TestDecoderRoundTrip(t *testing.T) {
	stream := "data: {\"text\":\"A\"}\n\ndata: {\"text\":\"B\"}\n\ndata: {\"text\":\"C\"}\n\ndata: [DONE]\n\n"
	d := NewDecoder()
	text, terminal := collectText(d.Feed([]byte(stream)))
	assert.Equal(t, "ABC", text)
	require.Len(t, terminal, 1)
	assert.Equal(t, Done, terminal[0].Kind)
	assert.True(t, d.Terminal())
	assert.Nil(t, d.Feed([]byte("data: {\"text\":\"ignored\"}\n\n")))
}

func TestDecoderSplitAtEveryOffset(t *testing.T) {
	stream := "data: {\"text\":\"안녕\"}\n\ndata: {\"text\":\" 🙂 wörld\"}\n\ndata: [DONE]\n\n"
	for i := 0; i <= len(stream); i++ {
		d := NewDecoder()
		var events []Event
		events = append(events, d.Feed([]byte(stream[:i]))...)
		events = append(events, d.Feed([]byte(stream[i:]))...)
		text, terminal := collectText(events)
		if text != "안녕 🙂 wörld" {
			t.Fatalf("split at %d: got %q", i, text)
		}
		if len(terminal) != 1 || terminal[0].Kind != Done {
			t.Fatalf("split at %d: terminal events %+v", i, terminal)
		}
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	stream := "data: {\"text\":\"x\"}\n\ndata: {\"text\":\"é\"}\n\ndata: [DONE]\n\n"
	d := NewDecoder()
	var events []Event
	for i := 0; i < len(stream); i++ {
		events = append(events, d.Feed([]byte{stream[i]})...)
	}
	text, terminal := collectText(events)
	assert.Equal(t, "xé", text)
	require.Len(t, terminal, 1)
	assert.Zero(t, d.Pending())
}

func TestDecoderErrorFrame(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"text\":\"par\"}\n\ndata: {\"error\":\"rate limited\"}\n\ndata: {\"text\":\"tail\"}\n\n"))
	require.Len(t, events, 2)
	assert.Equal(t, Event{Kind: Text, Text: "par"}, events[0])
	assert.Equal(t, Event{Kind: Error, Err: "rate limited"}, events[1])
	assert.True(t, d.Terminal())
}

func TestDecoderErrorObject(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"error\":{\"code\":1}}\n"))
	require.Len(t, events, 1)
	assert.Equal(t, Error, events[0].Kind)
	assert.Equal(t, `{"code":1}`, events[0].Err)
}

func TestDecoderSkipsNonJSON(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: not json\n\ndata: {\"text\":\"ok\"}\n\n: comment\nevent: ping\ndata: 42\n\ndata: {\"text\":\"\"}\n\ndata: {\"error\":null}\n\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "ok", events[0].Text)
	assert.Equal(t, 1, d.Discarded())
	assert.False(t, d.Terminal())
}

func TestDecoderTextValues(t *testing.T) {
	cases := []struct {
		line string
		want string
		ok   bool
	}{
		{`data: {"text":"plain"}`, "plain", true},
		{`data: {"text":5}`, "5", true},
		{`data: {"text":-1.5}`, "-1.5", true},
		{`data: {"text":true}`, "true", true},
		{`data: {"text":0}`, "", false},
		{`data: {"text":false}`, "", false},
		{`data: {"text":null}`, "", false},
		{`data: {"text":{"a":1}}`, "", false},
		{`data: {"text":["a"]}`, "", false},
	}
	for _, tc := range cases {
		events := NewDecoder().Feed([]byte(tc.line + "\n"))
		if !tc.ok {
			assert.Empty(t, events, tc.line)
			continue
		}
		require.Len(t, events, 1, tc.line)
		assert.Equal(t, Event{Kind: Text, Text: tc.want}, events[0], tc.line)
	}
}

func TestDecoderCRLF(t *testing.T) {
	d := NewDecoder()
	events := d.Feed([]byte("data: {\"text\":\"a\"}\r\n\r\ndata: [DONE]\r\n\r\n"))
	require.Len(t, events, 2)
	assert.Equal(t, Done, events[1].Kind)
}

func TestDecoderKeepsResidue(t *testing.T) {
	d := NewDecoder()
	assert.Empty(t, d.Feed([]byte("data: {\"te")))
	assert.Equal(t, 10, d.Pending())
	events := d.Feed([]byte("xt\":\"z\"}\n"))
	require.Len(t, events, 1)
	assert.Equal(t, "z", events[0].Text)
	assert.Zero(t, d.Pending())
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "text", Text.String())
	assert.Equal(t, "done", Done.String())
	assert.Equal(t, "error", Error.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
}
