package registry

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore reads the remote engine's own tables (webhook_entity and
// credentials_entity) through a pgx pool. It never writes.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPostgres connects to dsn and checks the connection.
func NewPostgres(ctx context.Context, dsn string) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("registry: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("registry: ping: %w", err)
	}
	return NewPGStore(pool), nil
}

// NewPGStore wraps an existing pool.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

// Close releases the pool.
func (s *PGStore) Close() error {
	s.db.Close()
	return nil
}

// WebhooksForWorkflow returns the registrations owned by workflowID.
func (s *PGStore) WebhooksForWorkflow(ctx context.Context, workflowID string) ([]Registration, error) {
	return s.queryWebhooks(ctx,
		`SELECT "webhookPath", method, node, "workflowId"::text FROM webhook_entity
		 WHERE "workflowId"::text = $1 ORDER BY "webhookPath", method`, workflowID)
}

// WebhooksForPath returns every registration of method on path.
func (s *PGStore) WebhooksForPath(ctx context.Context, method, path string) ([]Registration, error) {
	return s.queryWebhooks(ctx,
		`SELECT "webhookPath", method, node, "workflowId"::text FROM webhook_entity
		 WHERE method = $1 AND trim(both '/' from "webhookPath") = $2 ORDER BY "workflowId"`,
		strings.ToUpper(method), NormalizePath(path))
}

func (s *PGStore) queryWebhooks(ctx context.Context, query string, args ...any) ([]Registration, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: query webhooks: %w", err)
	}
	defer rows.Close()

	out := []Registration{}
	for rows.Next() {
		var r Registration
		if err := rows.Scan(&r.WebhookPath, &r.Method, &r.Node, &r.WorkflowID); err != nil {
			return nil, fmt.Errorf("registry: scan webhook: %w", err)
		}
		r.WebhookPath = NormalizePath(r.WebhookPath)
		out = append(out, r)
	}
	return out, rows.Err()
}

// CredentialExists reports whether credentials_entity has a row with the
// given id or name.
func (s *PGStore) CredentialExists(ctx context.Context, idOrName string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM credentials_entity WHERE id::text = $1 OR name = $1)`, idOrName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("registry: credential lookup: %w", err)
	}
	return exists, nil
}
