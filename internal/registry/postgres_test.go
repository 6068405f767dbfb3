package registry

import (
	"context"
	"os"
	"testing"
)

// The Postgres reader runs against a real n8n database only when
// FLOWPATCH_TEST_PG_DSN is set.
func TestPGStore_Integration(t *testing.T) {
	dsn := os.Getenv("FLOWPATCH_TEST_PG_DSN")
	if dsn == "" {
		t.Skip("FLOWPATCH_TEST_PG_DSN not set")
	}
	ctx := context.Background()

	s, err := Open(ctx, dsn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	rows, err := s.WebhooksForWorkflow(ctx, "__flowpatch_missing__")
	if err != nil {
		t.Fatalf("WebhooksForWorkflow: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("rows for unknown workflow = %v", rows)
	}
	ok, err := s.CredentialExists(ctx, "__flowpatch_missing__")
	if err != nil || ok {
		t.Errorf("CredentialExists = %v, %v", ok, err)
	}
}

func TestNewPostgres_BadDSN(t *testing.T) {
	if _, err := NewPostgres(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("expected parse error")
	}
}
