package registry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// SQLiteStore keeps webhook registrations and known credentials in a
// local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (creating if needed) the database at path.
func NewSQLite(path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("registry: empty sqlite path")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("registry: create data dir: %w", err)
		}
	}

	db, err := openDB("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("registry: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("registry: pragma %q: %w", p, err)
		}
	}

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("registry: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *SQLiteStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS webhooks (
			webhook_path TEXT NOT NULL,
			method       TEXT NOT NULL,
			node         TEXT NOT NULL,
			workflow_id  TEXT NOT NULL,
			created_at   TEXT NOT NULL DEFAULT (datetime('now')),
			PRIMARY KEY (webhook_path, method, workflow_id)
		);

		CREATE INDEX IF NOT EXISTS idx_webhooks_workflow ON webhooks(workflow_id);

		CREATE TABLE IF NOT EXISTS credentials (
			id         TEXT PRIMARY KEY,
			name       TEXT NOT NULL,
			type       TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_credentials_name ON credentials(name);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Webhooks ────────────────────────────────────────────────────────────────

// RegisterWebhook inserts or replaces a registration row. Method is
// stored upper-case and the path without surrounding slashes.
func (s *SQLiteStore) RegisterWebhook(ctx context.Context, r Registration) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO webhooks (webhook_path, method, node, workflow_id) VALUES (?, ?, ?, ?)`,
		NormalizePath(r.WebhookPath), strings.ToUpper(r.Method), r.Node, r.WorkflowID,
	)
	if err != nil {
		return fmt.Errorf("registry: register webhook: %w", err)
	}
	return nil
}

// UnregisterWorkflow removes every registration owned by workflowID.
func (s *SQLiteStore) UnregisterWorkflow(ctx context.Context, workflowID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE workflow_id = ?`, workflowID)
	if err != nil {
		return 0, fmt.Errorf("registry: unregister workflow: %w", err)
	}
	return res.RowsAffected()
}

// WebhooksForWorkflow returns the registrations owned by workflowID.
// Returns an empty slice (not nil) if none are found.
func (s *SQLiteStore) WebhooksForWorkflow(ctx context.Context, workflowID string) ([]Registration, error) {
	return s.queryWebhooks(ctx,
		`SELECT webhook_path, method, node, workflow_id FROM webhooks
		 WHERE workflow_id = ? ORDER BY webhook_path, method`, workflowID)
}

// WebhooksForPath returns every registration of method on path, across
// all workflows.
func (s *SQLiteStore) WebhooksForPath(ctx context.Context, method, path string) ([]Registration, error) {
	return s.queryWebhooks(ctx,
		`SELECT webhook_path, method, node, workflow_id FROM webhooks
		 WHERE method = ? AND webhook_path = ? ORDER BY workflow_id`,
		strings.ToUpper(method), NormalizePath(path))
}

func (s *SQLiteStore) queryWebhooks(ctx context.Context, query string, args ...any) ([]Registration, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
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
		out = append(out, r)
	}
	return out, rows.Err()
}

// ─── Credentials ─────────────────────────────────────────────────────────────

// AddCredential records a known credential.
func (s *SQLiteStore) AddCredential(ctx context.Context, id, name, credType string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO credentials (id, name, type) VALUES (?, ?, ?)`, id, name, credType)
	if err != nil {
		return fmt.Errorf("registry: add credential: %w", err)
	}
	return nil
}

// CredentialExists reports whether a credential with the given id or name
// is known.
func (s *SQLiteStore) CredentialExists(ctx context.Context, idOrName string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM credentials WHERE id = ? OR name = ?)`, idOrName, idOrName,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("registry: credential lookup: %w", err)
	}
	return exists, nil
}
