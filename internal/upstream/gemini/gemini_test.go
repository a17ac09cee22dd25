package gemini

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/testutil"
	"github.com/tokligence/chatrelay/internal/upstream"
)

var helloRequest = upstream.Request{
	Model:    "gemini-2.5-flash",
	Messages: []upstream.Message{{Role: chat.RoleUser, Text: "hello"}},
}

func chunk(text string) string {
	return `data: {"candidates":[{"content":{"role":"model","parts":[{"text":"` + text + `"}]}}]}` + "\n\n"
}

// newUpstream starts a stub Gemini API that answers streamGenerateContent
// with handler.
func newUpstream(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := testutil.NewIPv4Server(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":streamGenerateContent") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		handler(w, r)
	}))
	p, err := New(context.Background(), Config{APIKey: "test-key", BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return p
}

func TestStreamChunks(t *testing.T) {
	p := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, chunk("Hel"))
		_, _ = io.WriteString(w, chunk("lo"))
		_, _ = io.WriteString(w, `data: {"candidates":[{"content":{"role":"model","parts":[]},"finishReason":"STOP"}]}`+"\n\n")
	})

	stream, err := p.OpenStream(context.Background(), helloRequest)
	require.NoError(t, err)
	defer stream.Close()

	ev, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, upstream.TextDelta("Hel"), ev)
	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, upstream.TextDelta("lo"), ev)
	ev, err = stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, upstream.EventOther, ev.Kind)
	_, err = stream.Recv()
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamFailsMidway(t *testing.T) {
	p := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, chunk("one"))
		_, _ = io.WriteString(w, chunk("two"))
		_, _ = io.WriteString(w, "event: broken\n\n")
	})

	stream, err := p.OpenStream(context.Background(), helloRequest)
	require.NoError(t, err)
	defer stream.Close()

	var texts []string
	for {
		ev, err := stream.Recv()
		if err != nil {
			assert.NotErrorIs(t, err, io.EOF)
			assert.Contains(t, err.Error(), "gemini:")
			break
		}
		texts = append(texts, ev.Text)
	}
	assert.Equal(t, []string{"one", "two"}, texts)
}

func TestOpenStreamRejected(t *testing.T) {
	p := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"error":{"code":401,"message":"API key not valid","status":"UNAUTHENTICATED"}}`)
	})

	stream, err := p.OpenStream(context.Background(), helloRequest)
	require.Error(t, err)
	assert.Nil(t, stream)
	assert.Contains(t, err.Error(), "API key not valid")
}

func TestOpenStreamRequiresMessages(t *testing.T) {
	p := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("no request expected")
	})
	_, err := p.OpenStream(context.Background(), upstream.Request{Model: "gemini-2.5-flash"})
	assert.ErrorIs(t, err, upstream.ErrNoMessages)
}

func TestBuildContents(t *testing.T) {
	contents, config := buildContents(upstream.Request{
		Model:     "gemini-2.5-flash",
		System:    "answer in French",
		MaxTokens: 8192,
		Messages: []upstream.Message{
			{Role: chat.RoleUser, Parts: []upstream.Part{
				{Type: upstream.PartImage, Image: chat.Image{MediaType: "image/png", Data: "QUJD"}},
				{Type: upstream.PartText, Text: "what is this"},
			}},
			{Role: chat.RoleAssistant, Text: "letters"},
			{Role: chat.RoleUser, Text: "thanks"},
		},
	})

	assert.Equal(t, int32(8192), config.MaxOutputTokens)
	require.NotNil(t, config.SystemInstruction)
	assert.Equal(t, "answer in French", config.SystemInstruction.Parts[0].Text)

	require.Len(t, contents, 3)
	assert.Equal(t, genai.RoleUser, contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	require.NotNil(t, contents[0].Parts[0].InlineData)
	assert.Equal(t, "image/png", contents[0].Parts[0].InlineData.MIMEType)
	assert.Equal(t, []byte("ABC"), contents[0].Parts[0].InlineData.Data)
	assert.Equal(t, "what is this", contents[0].Parts[1].Text)

	assert.Equal(t, genai.RoleModel, contents[1].Role)
	assert.Equal(t, "letters", contents[1].Parts[0].Text)
}

func TestBuildContentsSkipsUndecodableImages(t *testing.T) {
	contents, config := buildContents(upstream.Request{
		Messages: []upstream.Message{{Role: chat.RoleUser, Parts: []upstream.Part{
			{Type: upstream.PartImage, Image: chat.Image{MediaType: "image/png", Data: "%%%"}},
			{Type: upstream.PartText, Text: "hi"},
		}}},
	})
	assert.Nil(t, config.SystemInstruction)
	assert.Zero(t, config.MaxOutputTokens)
	require.Len(t, contents[0].Parts, 1)
	assert.Equal(t, "hi", contents[0].Parts[0].Text)
}

func TestNewRequiresKey(t *testing.T) {
	_, err := New(context.Background(), Config{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api key required")
}
