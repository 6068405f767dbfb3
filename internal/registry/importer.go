package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Snapshot is an export of the engine's registration and credential
// tables, in the form "flowpatch import" reads:
//
//	webhooks:
//	  - workflowId: wf1
//	    method: POST
//	    path: wf1/order-hook
//	    node: Order Hook
//	credentials:
//	  - id: "12"
//	    name: Slack bot
//	    type: slackApi
type Snapshot struct {
	Webhooks    []SnapshotWebhook    `yaml:"webhooks"`
	Credentials []SnapshotCredential `yaml:"credentials"`
}

// SnapshotWebhook is one exported registration row.
type SnapshotWebhook struct {
	WorkflowID string `yaml:"workflowId"`
	Method     string `yaml:"method"`
	Path       string `yaml:"path"`
	Node       string `yaml:"node"`
}

// SnapshotCredential is one exported credential row.
type SnapshotCredential struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// ImportStats counts what Import wrote.
type ImportStats struct {
	Workflows   int
	Webhooks    int
	Removed     int64
	Credentials int
}

// ReadSnapshot decodes a YAML (or JSON) snapshot and checks every row.
func ReadSnapshot(r io.Reader) (*Snapshot, error) {
	var snap Snapshot
	if err := yaml.NewDecoder(r).Decode(&snap); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("registry: decoding snapshot: %w", err)
	}
	for i, w := range snap.Webhooks {
		if strings.TrimSpace(w.WorkflowID) == "" || strings.TrimSpace(w.Method) == "" || NormalizePath(w.Path) == "" {
			return nil, fmt.Errorf("registry: webhook %d needs workflowId, method and path", i)
		}
	}
	for i, c := range snap.Credentials {
		if strings.TrimSpace(c.ID) == "" && strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("registry: credential %d needs an id or a name", i)
		}
	}
	return &snap, nil
}

// Import loads snap into s. Registrations replace everything previously
// recorded for the workflows the snapshot mentions; other workflows keep
// their rows. Credentials are upserted.
func (s *SQLiteStore) Import(ctx context.Context, snap *Snapshot) (ImportStats, error) {
	var stats ImportStats

	seen := map[string]bool{}
	for _, w := range snap.Webhooks {
		if seen[w.WorkflowID] {
			continue
		}
		seen[w.WorkflowID] = true
		n, err := s.UnregisterWorkflow(ctx, w.WorkflowID)
		if err != nil {
			return stats, err
		}
		stats.Workflows++
		stats.Removed += n
	}

	for _, w := range snap.Webhooks {
		err := s.RegisterWebhook(ctx, Registration{
			WebhookPath: w.Path,
			Method:      w.Method,
			Node:        w.Node,
			WorkflowID:  w.WorkflowID,
		})
		if err != nil {
			return stats, err
		}
		stats.Webhooks++
	}

	for _, c := range snap.Credentials {
		id := c.ID
		if id == "" {
			id = c.Name
		}
		if err := s.AddCredential(ctx, id, c.Name, c.Type); err != nil {
			return stats, err
		}
		stats.Credentials++
	}
	return stats, nil
}
