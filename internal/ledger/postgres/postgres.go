package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/tokligence/chatrelay/internal/ledger"
)

// Store implements ledger.Store backed by PostgreSQL.
type Store struct {
	db *sql.DB
}

// New opens a PostgreSQL-backed ledger store using the provided DSN and connection pool settings.
func New(dsn string, maxOpen, maxIdle, lifetimeMinutes, idleTimeMinutes int) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres db: %w", err)
	}

	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	if lifetimeMinutes > 0 {
		db.SetConnMaxLifetime(time.Duration(lifetimeMinutes) * time.Minute)
	}
	if idleTimeMinutes > 0 {
		db.SetConnMaxIdleTime(time.Duration(idleTimeMinutes) * time.Minute)
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
CREATE TABLE IF NOT EXISTS exchanges (
	id BIGSERIAL PRIMARY KEY,
	request_id TEXT NOT NULL DEFAULT '',
	model TEXT NOT NULL DEFAULT '',
	provider TEXT NOT NULL DEFAULT '',
	turns INTEGER NOT NULL DEFAULT 0,
	images INTEGER NOT NULL DEFAULT 0,
	prompt_chars BIGINT NOT NULL DEFAULT 0,
	completion_chars BIGINT NOT NULL DEFAULT 0,
	frames INTEGER NOT NULL DEFAULT 0,
	outcome TEXT NOT NULL CHECK(outcome IN ('done','error','rejected')),
	error TEXT NOT NULL DEFAULT '',
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_exchanges_created ON exchanges(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_exchanges_model_created ON exchanges(model, created_at DESC);
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

// Record inserts a new exchange entry.
func (s *Store) Record(ctx context.Context, entry ledger.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	created := entry.CreatedAt
	if created.IsZero() {
		created = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO exchanges(request_id, model, provider, turns, images, prompt_chars, completion_chars, frames, outcome, error, duration_ms, created_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		entry.RequestID,
		entry.Model,
		entry.Provider,
		entry.Turns,
		entry.Images,
		entry.PromptChars,
		entry.CompletionChars,
		entry.Frames,
		string(entry.Outcome),
		entry.Error,
		entry.DurationMS,
		created,
	)
	return err
}

// Summary returns aggregated exchange counts since the given time.
func (s *Store) Summary(ctx context.Context, since time.Time) (ledger.Summary, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT
	COUNT(*),
	COALESCE(SUM(CASE WHEN outcome='done' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='error' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(CASE WHEN outcome='rejected' THEN 1 ELSE 0 END), 0),
	COALESCE(SUM(prompt_chars), 0),
	COALESCE(SUM(completion_chars), 0),
	COALESCE(AVG(duration_ms), 0)::FLOAT8
FROM exchanges
WHERE created_at >= $1`, since)

	var sum ledger.Summary
	if err := row.Scan(&sum.Exchanges, &sum.Done, &sum.Errors, &sum.Rejected, &sum.PromptChars, &sum.CompletionChars, &sum.AvgDurationMS); err != nil {
		return ledger.Summary{}, err
	}
	return sum, nil
}

// ListRecent returns the latest entries.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT id, request_id, model, provider, turns, images, prompt_chars, completion_chars, frames, outcome, error, duration_ms, created_at
FROM exchanges
ORDER BY created_at DESC, id DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var e ledger.Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.RequestID, &e.Model, &e.Provider, &e.Turns, &e.Images, &e.PromptChars, &e.CompletionChars, &e.Frames, &outcome, &e.Error, &e.DurationMS, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = ledger.Outcome(outcome)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
