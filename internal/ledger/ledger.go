// Package ledger records one entry per relayed exchange.
package ledger

import (
	"context"
	"fmt"
	"time"
)

// Outcome is how an exchange ended.
type Outcome string

const (
	OutcomeDone     Outcome = "done"
	OutcomeError    Outcome = "error"
	OutcomeRejected Outcome = "rejected"
)

// Entry represents a single exchange written to the ledger.
type Entry struct {
	ID              int64     `json:"id"`
	RequestID       string    `json:"request_id"`
	Model           string    `json:"model"`
	Provider        string    `json:"provider"`
	Turns           int       `json:"turns"`
	Images          int       `json:"images"`
	PromptChars     int       `json:"prompt_chars"`
	CompletionChars int       `json:"completion_chars"`
	Frames          int       `json:"frames"`
	Outcome         Outcome   `json:"outcome"`
	Error           string    `json:"error,omitempty"`
	DurationMS      int64     `json:"duration_ms"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the fields every backend requires.
func (e Entry) Validate() error {
	switch e.Outcome {
	case OutcomeDone, OutcomeError, OutcomeRejected:
		return nil
	default:
		return fmt.Errorf("invalid outcome %q", e.Outcome)
	}
}

// Summary aggregates exchanges recorded since a point in time.
type Summary struct {
	Exchanges       int64   `json:"exchanges"`
	Done            int64   `json:"done"`
	Errors          int64   `json:"errors"`
	Rejected        int64   `json:"rejected"`
	PromptChars     int64   `json:"prompt_chars"`
	CompletionChars int64   `json:"completion_chars"`
	AvgDurationMS   float64 `json:"avg_duration_ms"`
}

// Store defines persistence behaviour for the ledger.
type Store interface {
	Record(ctx context.Context, entry Entry) error
	// Summary aggregates entries created at or after since. A zero since
	// covers the whole ledger.
	Summary(ctx context.Context, since time.Time) (Summary, error)
	// ListRecent returns the newest entries first.
	ListRecent(ctx context.Context, limit int) ([]Entry, error)
	Close() error
}
