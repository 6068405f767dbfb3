// Package registry reads the remote engine's webhook registration table
// and credential table. Two backends exist: SQLiteStore keeps a local
// bookkeeping copy, PGStore reads the engine's own Postgres database.
package registry

import (
	"context"
	"fmt"
	"strings"
)

// Registration is one row of the webhook registration table.
type Registration struct {
	WebhookPath string `json:"webhookPath"`
	Method      string `json:"method"`
	Node        string `json:"node"`
	WorkflowID  string `json:"workflowId"`
}

// Store is the read side every backend provides.
type Store interface {
	WebhooksForWorkflow(ctx context.Context, workflowID string) ([]Registration, error)
	WebhooksForPath(ctx context.Context, method, path string) ([]Registration, error)
	CredentialExists(ctx context.Context, idOrName string) (bool, error)
	Close() error
}

// Open selects a backend from dsn: "sqlite://<path>" or a postgres URL
// ("postgres://…" / "postgresql://…").
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "sqlite://"):
		return NewSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return NewPostgres(ctx, dsn)
	case dsn == "":
		return nil, fmt.Errorf("registry: empty dsn")
	default:
		return nil, fmt.Errorf("registry: unsupported dsn scheme in %q", redact(dsn))
	}
}

// NormalizePath trims surrounding slashes so "/a/b/" and "a/b" compare equal.
func NormalizePath(p string) string {
	return strings.Trim(strings.TrimSpace(p), "/")
}

// redact hides everything after the scheme so credentials never reach logs.
func redact(dsn string) string {
	if i := strings.Index(dsn, "://"); i >= 0 {
		return dsn[:i] + "://…"
	}
	return "…"
}
