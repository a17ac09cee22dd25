package loopback

import (
	"context"
	"errors"
	"testing"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/testutil"
	"github.com/tokligence/chatrelay/internal/upstream"
)

func TestLoopbackProvider(t *testing.T) {
	p := New()
	s, err := p.OpenStream(context.Background(), upstream.Request{
		Model: "loopback",
		Messages: []upstream.Message{
			{Role: chat.RoleUser, Text: "first"},
			{Role: chat.RoleAssistant, Text: "reply"},
			{Role: chat.RoleUser, Text: "Hello there friend"},
		},
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	text, err := testutil.CollectText(s)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "[loopback] Hello there friend" {
		t.Fatalf("unexpected content %q", text)
	}
}

func TestLoopbackProviderCountsImages(t *testing.T) {
	p := New()
	s, err := p.OpenStream(context.Background(), upstream.Request{
		Messages: []upstream.Message{{Role: chat.RoleUser, Parts: []upstream.Part{
			{Type: upstream.PartImage},
			{Type: upstream.PartText, Text: "look"},
		}}},
	})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	text, _ := testutil.CollectText(s)
	if text != "[loopback] look (+1 image(s))" {
		t.Fatalf("unexpected content %q", text)
	}
}

func TestLoopbackProviderNoMessages(t *testing.T) {
	if _, err := New().OpenStream(context.Background(), upstream.Request{}); !errors.Is(err, upstream.ErrNoMessages) {
		t.Fatalf("expected ErrNoMessages, got %v", err)
	}
}

func TestScripted(t *testing.T) {
	boom := errors.New("boom")
	s := NewScripted("a", "b")
	s.Err = boom
	st, err := s.OpenStream(context.Background(), upstream.Request{Model: "m"})
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	text, err := testutil.CollectText(st)
	if text != "ab" || !errors.Is(err, boom) {
		t.Fatalf("got %q, %v", text, err)
	}
	if reqs := s.Requests(); len(reqs) != 1 || reqs[0].Model != "m" {
		t.Fatalf("unexpected recorded requests %+v", reqs)
	}

	s.OpenErr = boom
	if _, err := s.OpenStream(context.Background(), upstream.Request{}); !errors.Is(err, boom) {
		t.Fatalf("expected open error, got %v", err)
	}
}

func TestScriptedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	st, _ := NewScripted("a", "b").OpenStream(ctx, upstream.Request{})
	if _, err := st.Recv(); err != nil {
		t.Fatalf("first Recv: %v", err)
	}
	cancel()
	if _, err := st.Recv(); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
