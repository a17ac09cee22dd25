package conversation

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/consumer"
	"github.com/tokligence/chatrelay/internal/store"
	"github.com/tokligence/chatrelay/internal/store/sqlite"
	"github.com/tokligence/chatrelay/internal/testutil"
)

type fakeStreamer struct {
	mu      sync.Mutex
	reply   []string
	err     error
	block   chan struct{}
	entered chan struct{}
	reqs    []chat.Request
}

func (f *fakeStreamer) Stream(ctx context.Context, req chat.Request, onUpdate func(string)) (string, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.entered != nil {
		close(f.entered)
	}
	if f.block != nil {
		<-f.block
	}
	var acc string
	for _, frag := range f.reply {
		acc += frag
		if onUpdate != nil {
			onUpdate(acc)
		}
	}
	return acc, f.err
}

func newStore(t *testing.T) store.Store {
	t.Helper()
	s, err := sqlite.New(filepath.Join(t.TempDir(), "conv.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSendCreatesConversationAndCommitsReply(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fs := &fakeStreamer{reply: []string{"A", "B", "C"}}
	var updates []string
	svc := New(st, fs, WithDefaults("claude-sonnet-4-5-20250929", "be brief"), WithStreamObserver(func(s string) {
		updates = append(updates, s)
	}))

	reply, err := svc.Send(ctx, "", "hello", nil)
	require.NoError(t, err)
	assert.Equal(t, "ABC", reply.Content)
	assert.Equal(t, chat.RoleAssistant, reply.Role)
	assert.Equal(t, []string{"A", "AB", "ABC"}, updates)

	conv, msgs, err := svc.Show(ctx, reply.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "hello", conv.Title)
	assert.Equal(t, "be brief", conv.System())
	require.Len(t, msgs, 2)
	assert.Equal(t, chat.RoleUser, msgs[0].Role)
	assert.Nil(t, msgs[0].ImageURLs)
	assert.Equal(t, "ABC", msgs[1].Content)

	require.Len(t, fs.reqs, 1)
	assert.Equal(t, "claude-sonnet-4-5-20250929", fs.reqs[0].Model)
	assert.Equal(t, "be brief", fs.reqs[0].System)
	assert.Equal(t, []chat.Turn{{Role: chat.RoleUser, Content: "hello"}}, fs.reqs[0].Messages)
}

func TestSendSendsFullHistory(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fs := &fakeStreamer{reply: []string{"ok"}}
	svc := New(st, fs)

	first, err := svc.Send(ctx, "", "one", nil)
	require.NoError(t, err)
	_, err = svc.Send(ctx, first.ConversationID, "two", []string{"data:image/png;base64,AAAA"})
	require.NoError(t, err)

	require.Len(t, fs.reqs, 2)
	turns := fs.reqs[1].Messages
	require.Len(t, turns, 3)
	assert.Equal(t, "one", turns[0].Content)
	assert.Equal(t, chat.RoleAssistant, turns[1].Role)
	assert.Equal(t, []string{"data:image/png;base64,AAAA"}, turns[2].Images)

	conv, err := st.GetConversation(ctx, first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "one", conv.Title, "title is only derived from the first message")
}

func TestSendErrorBecomesAssistantTurn(t *testing.T) {
	ctx := context.Background()
	st := newStore(t)
	fs := &fakeStreamer{reply: []string{"par"}, err: &consumer.StreamError{Message: "overloaded", Partial: "par"}}
	svc := New(st, fs)

	reply, err := svc.Send(ctx, "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "⚠️ Error: overloaded", reply.Content)
	assert.True(t, IsErrorReply(reply.Content))

	_, msgs, err := svc.Show(ctx, reply.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.NotContains(t, msgs[1].Content, "par", "partial text is not committed on error")
}

func TestSendUnknownConversation(t *testing.T) {
	svc := New(newStore(t), &fakeStreamer{})
	_, err := svc.Send(context.Background(), store.NewID(), "hi", nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestSendRejectsConcurrentSend(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStreamer{reply: []string{"x"}, block: make(chan struct{}), entered: make(chan struct{})}
	svc := New(newStore(t), fs)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Send(ctx, "", "first", nil)
		done <- err
	}()
	<-fs.entered

	_, err := svc.Send(ctx, "", "second", nil)
	assert.ErrorIs(t, err, ErrSendInProgress)

	close(fs.block)
	require.NoError(t, <-done)
}

func TestSendReplayProducesIndependentTurns(t *testing.T) {
	ctx := context.Background()
	fs := &fakeStreamer{reply: []string{"same"}}
	svc := New(newStore(t), fs)

	first, err := svc.Send(ctx, "", "again", nil)
	require.NoError(t, err)
	second, err := svc.Send(ctx, first.ConversationID, "again", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, msgs, err := svc.Show(ctx, first.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 4)
	assert.Equal(t, msgs[1].Content, msgs[3].Content)
}

func TestSendOverRelayStream(t *testing.T) {
	srv := testutil.NewIPv4Server(t, testutil.ChunkedHandler("text/event-stream",
		"data: {\"text\":\"A\"}\n\n", "data: {\"te", "xt\":\"B\"}\n\ndata: {\"text\":\"C\"}\n\n", "data: [DONE]\n\n"))
	svc := New(newStore(t), consumer.New(srv.URL, srv.Client()))

	reply, err := svc.Send(context.Background(), "", "stream please", nil)
	require.NoError(t, err)
	assert.Equal(t, "ABC", reply.Content)
}

func TestSendOverRelayErrorFrame(t *testing.T) {
	srv := testutil.NewIPv4Server(t, testutil.ChunkedHandler("text/event-stream",
		"data: {\"text\":\"A\"}\n\n", "data: {\"error\":\"upstream exploded\"}\n\n"))
	svc := New(newStore(t), consumer.New(srv.URL, srv.Client()))

	reply, err := svc.Send(context.Background(), "", "hi", nil)
	require.NoError(t, err)
	assert.Equal(t, "⚠️ Error: upstream exploded", reply.Content)
}

func TestTitle(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{name: "short", content: "hello", want: "hello"},
		{name: "exactly thirty", content: strings.Repeat("a", 30), want: strings.Repeat("a", 30)},
		{name: "long", content: strings.Repeat("b", 31), want: strings.Repeat("b", 30) + "..."},
		{name: "multibyte", content: strings.Repeat("한", 40), want: strings.Repeat("한", 30) + "..."},
		{name: "image only", content: "", want: ImageTitle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Title(tt.content); got != tt.want {
				t.Fatalf("Title(%q) = %q, want %q", tt.content, got, tt.want)
			}
		})
	}
}

func TestConversationManagement(t *testing.T) {
	ctx := context.Background()
	svc := New(newStore(t), &fakeStreamer{}, WithDefaults("claude-haiku-4-5-20251001", ""))

	conv, err := svc.Create(ctx)
	require.NoError(t, err)
	assert.Equal(t, DefaultTitle, conv.Title)
	assert.Nil(t, conv.SystemPrompt)

	conv, err = svc.Rename(ctx, conv.ID, "Trip plans")
	require.NoError(t, err)
	assert.Equal(t, "Trip plans", conv.Title)

	conv, err = svc.SetSystemPrompt(ctx, conv.ID, "you are a travel agent")
	require.NoError(t, err)
	assert.Equal(t, "you are a travel agent", conv.System())

	conv, err = svc.SetModel(ctx, conv.ID, "claude-opus-4-6")
	require.NoError(t, err)
	assert.Equal(t, "claude-opus-4-6", conv.Model)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)

	require.NoError(t, svc.Delete(ctx, conv.ID))
	err = svc.Delete(ctx, conv.ID)
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
