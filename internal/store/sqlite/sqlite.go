// Package sqlite implements the local conversation store. Records are kept
// as JSON documents in a key/value table: the conversation list under
// "conversations" and each conversation's messages under "messages_<id>".
// Lookups are by key only.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	// register sqlite driver
	_ "modernc.org/sqlite"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/store"
)

const (
	conversationsKey = "conversations"
	messagesPrefix   = "messages_"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store backed by a SQLite key/value table.
type Store struct {
	db *sql.DB
	// mu serialises read-modify-write cycles on a document
	mu sync.Mutex
}

// New opens (or creates) a local store at the supplied path.
func New(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema() error {
	const schema = `
CREATE TABLE IF NOT EXISTS kv (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases underlying database resources.
func (s *Store) Close() error {
	return s.db.Close()
}

// Mode implements store.Store.
func (s *Store) Mode() string { return store.ModeLocal }

func messagesKey(conversationID string) string {
	return messagesPrefix + conversationID
}

// load decodes the document under key into v. A missing key leaves v untouched.
func load(ctx context.Context, q interface {
	QueryRowContext(context.Context, string, ...any) *sql.Row
}, key string, v any) error {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

func save(ctx context.Context, tx *sql.Tx, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO kv(key, value) VALUES(?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(raw))
	if err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// ListConversations implements store.Store.
func (s *Store) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	var convs []chat.Conversation
	if err := load(ctx, s.db, conversationsKey, &convs); err != nil {
		return nil, err
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].UpdatedAt.After(convs[j].UpdatedAt)
	})
	return convs, nil
}

// GetConversation implements store.Store.
func (s *Store) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	var convs []chat.Conversation
	if err := load(ctx, s.db, conversationsKey, &convs); err != nil {
		return chat.Conversation{}, err
	}
	for _, c := range convs {
		if c.ID == id {
			return c, nil
		}
	}
	return chat.Conversation{}, store.ErrNotFound
}

// CreateConversation implements store.Store. New conversations are kept at
// the front of the list.
func (s *Store) CreateConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	conv = store.PrepareConversation(conv)
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		var convs []chat.Conversation
		if err := load(ctx, tx, conversationsKey, &convs); err != nil {
			return err
		}
		for _, c := range convs {
			if c.ID == conv.ID {
				return fmt.Errorf("conversation %s already exists", conv.ID)
			}
		}
		convs = append([]chat.Conversation{conv}, convs...)
		return save(ctx, tx, conversationsKey, convs)
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	return conv, nil
}

// UpdateConversation implements store.Store.
func (s *Store) UpdateConversation(ctx context.Context, id string, upd store.ConversationUpdate) (chat.Conversation, error) {
	var updated chat.Conversation
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		var convs []chat.Conversation
		if err := load(ctx, tx, conversationsKey, &convs); err != nil {
			return err
		}
		for i, c := range convs {
			if c.ID == id {
				convs[i] = upd.Apply(c)
				updated = convs[i]
				return save(ctx, tx, conversationsKey, convs)
			}
		}
		return store.ErrNotFound
	})
	if err != nil {
		return chat.Conversation{}, err
	}
	return updated, nil
}

// DeleteConversation implements store.Store.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	return s.mutate(ctx, func(tx *sql.Tx) error {
		var convs []chat.Conversation
		if err := load(ctx, tx, conversationsKey, &convs); err != nil {
			return err
		}
		kept := convs[:0]
		found := false
		for _, c := range convs {
			if c.ID == id {
				found = true
				continue
			}
			kept = append(kept, c)
		}
		if !found {
			return store.ErrNotFound
		}
		if err := save(ctx, tx, conversationsKey, kept); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, messagesKey(id)); err != nil {
			return fmt.Errorf("delete messages: %w", err)
		}
		return nil
	})
}

// ListMessages implements store.Store.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	var msgs []chat.Message
	if err := load(ctx, s.db, messagesKey(conversationID), &msgs); err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}

// AppendMessage implements store.Store.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg = store.PrepareMessage(msg)
	err := s.mutate(ctx, func(tx *sql.Tx) error {
		var convs []chat.Conversation
		if err := load(ctx, tx, conversationsKey, &convs); err != nil {
			return err
		}
		found := false
		for _, c := range convs {
			if c.ID == msg.ConversationID {
				found = true
				break
			}
		}
		if !found {
			return store.ErrNotFound
		}
		var msgs []chat.Message
		if err := load(ctx, tx, messagesKey(msg.ConversationID), &msgs); err != nil {
			return err
		}
		msgs = append(msgs, msg)
		return save(ctx, tx, messagesKey(msg.ConversationID), msgs)
	})
	if err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Store) mutate(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
