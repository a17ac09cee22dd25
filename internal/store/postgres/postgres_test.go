package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/tokligence/chatrelay/internal/store"
	"github.com/tokligence/chatrelay/internal/store/storetest"
)

// TestStoreContract runs against a disposable database named by
// CHATRELAY_TEST_POSTGRES_DSN; it is skipped otherwise.
func TestStoreContract(t *testing.T) {
	dsn := os.Getenv("CHATRELAY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("CHATRELAY_TEST_POSTGRES_DSN not set")
	}
	s, err := New(dsn, DefaultConfig())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer s.Close()

	if _, err := s.db.ExecContext(context.Background(), `TRUNCATE conversations CASCADE`); err != nil {
		t.Fatalf("truncate: %v", err)
	}
	if s.Mode() != store.ModeRemote {
		t.Fatalf("unexpected mode %s", s.Mode())
	}
	storetest.Run(t, s)
}

func TestNewInvalidDSN(t *testing.T) {
	if _, err := New("postgres://nobody@127.0.0.1:1/none?sslmode=disable&connect_timeout=1", DefaultConfig()); err == nil {
		t.Fatal("expected connection error")
	}
}
