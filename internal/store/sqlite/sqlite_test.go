package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/store"
	"github.com/tokligence/chatrelay/internal/store/storetest"
)

func TestStoreContract(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "local.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()
	if s.Mode() != store.ModeLocal {
		t.Fatalf("unexpected mode %s", s.Mode())
	}
	storetest.Run(t, s)
}

func TestDocumentsUseStorageKeys(t *testing.T) {
	ctx := context.Background()
	s, err := New(filepath.Join(t.TempDir(), "nested", "local.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "keys"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if _, err := s.AppendMessage(ctx, chat.Message{ConversationID: conv.ID, Role: chat.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}

	rows, err := s.db.QueryContext(ctx, `SELECT key FROM kv ORDER BY key`)
	if err != nil {
		t.Fatalf("query keys: %v", err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			t.Fatalf("scan: %v", err)
		}
		keys = append(keys, k)
	}
	if len(keys) != 2 || keys[0] != "conversations" || keys[1] != "messages_"+conv.ID {
		t.Fatalf("unexpected keys %v", keys)
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "local.db")
	s, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	conv, err := s.CreateConversation(ctx, chat.Conversation{Title: "persisted"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	_ = s.Close()

	s, err = New(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation: %v", err)
	}
	if got.Title != "persisted" {
		t.Fatalf("unexpected title %q", got.Title)
	}
}
