// Package postgres provides the remote conversation store on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/tokligence/chatrelay/internal/chat"
	"github.com/tokligence/chatrelay/internal/store"
)

var _ store.Store = (*Store)(nil)

// Store implements store.Store for PostgreSQL.
type Store struct {
	db *sql.DB
}

// Config holds connection pool settings.
type Config struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultConfig returns sensible defaults for connection pooling.
func DefaultConfig() Config {
	return Config{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 1 * time.Minute,
	}
}

// New connects to dsn and applies the schema.
func New(dsn string, cfg Config) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	db.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Mode implements store.Store.
func (s *Store) Mode() string { return store.ModeRemote }

const conversationColumns = `id, title, system_prompt, model, created_at, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(row scanner) (chat.Conversation, error) {
	var c chat.Conversation
	var prompt sql.NullString
	if err := row.Scan(&c.ID, &c.Title, &prompt, &c.Model, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return chat.Conversation{}, err
	}
	if prompt.Valid {
		c.SystemPrompt = &prompt.String
	}
	c.CreatedAt = c.CreatedAt.UTC()
	c.UpdatedAt = c.UpdatedAt.UTC()
	return c, nil
}

// ListConversations implements store.Store.
func (s *Store) ListConversations(ctx context.Context) ([]chat.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		ORDER BY updated_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []chat.Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// GetConversation implements store.Store.
func (s *Store) GetConversation(ctx context.Context, id string) (chat.Conversation, error) {
	c, err := scanConversation(s.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+`
		FROM conversations
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return c, nil
}

// CreateConversation implements store.Store.
func (s *Store) CreateConversation(ctx context.Context, conv chat.Conversation) (chat.Conversation, error) {
	conv = store.PrepareConversation(conv)
	c, err := scanConversation(s.db.QueryRowContext(ctx, `
		INSERT INTO conversations (id, title, system_prompt, model, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING `+conversationColumns,
		conv.ID, conv.Title, conv.SystemPrompt, conv.Model, conv.CreatedAt, conv.UpdatedAt,
	))
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return c, nil
}

// UpdateConversation implements store.Store. COALESCE keeps columns whose
// update field is nil; NULLIF turns an empty prompt into NULL.
func (s *Store) UpdateConversation(ctx context.Context, id string, upd store.ConversationUpdate) (chat.Conversation, error) {
	updatedAt := upd.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = store.Now()
	}
	c, err := scanConversation(s.db.QueryRowContext(ctx, `
		UPDATE conversations SET
			title = COALESCE($2, title),
			system_prompt = CASE WHEN $3::TEXT IS NULL THEN system_prompt ELSE NULLIF($3::TEXT, '') END,
			model = COALESCE($4, model),
			updated_at = $5
		WHERE id = $1
		RETURNING `+conversationColumns,
		id, upd.Title, upd.SystemPrompt, upd.Model, updatedAt,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return chat.Conversation{}, store.ErrNotFound
	}
	if err != nil {
		return chat.Conversation{}, fmt.Errorf("update conversation: %w", err)
	}
	return c, nil
}

// DeleteConversation implements store.Store. Messages go with the
// conversation through the foreign key cascade.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListMessages implements store.Store.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, image_urls, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at ASC, seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []chat.Message
	for rows.Next() {
		var m chat.Message
		var role string
		if err := rows.Scan(&m.ID, &m.ConversationID, &role, &m.Content, pq.Array(&m.ImageURLs), &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.Role = chat.Role(role)
		m.CreatedAt = m.CreatedAt.UTC()
		if len(m.ImageURLs) == 0 {
			m.ImageURLs = nil
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AppendMessage implements store.Store.
func (s *Store) AppendMessage(ctx context.Context, msg chat.Message) (chat.Message, error) {
	msg = store.PrepareMessage(msg)
	var images any
	if msg.ImageURLs != nil {
		images = pq.Array(msg.ImageURLs)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, image_urls, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, msg.ID, msg.ConversationID, string(msg.Role), msg.Content, images, msg.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return chat.Message{}, store.ErrNotFound
		}
		return chat.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}
