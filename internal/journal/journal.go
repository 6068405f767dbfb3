// Package journal keeps a local history of patch attempts in SQLite so an
// agent can see what was tried against a workflow, what stuck and what
// failed, across sessions.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	_ "modernc.org/sqlite"

	"github.com/sulla-ai/flowpatch/internal/patch"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeNow is a package-level var to allow deterministic timestamps in tests.
var timeNow = time.Now

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds journal configuration.
type Config struct {
	// Path is the SQLite file.
	Path string
	// MaxErrorLength truncates stored error text.
	MaxErrorLength int
	// Retain is how many entries to keep per workflow; 0 keeps everything.
	Retain int
}

// DefaultConfig returns the default configuration for the journal.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Path:           filepath.Join(home, ".flowpatch", "journal.db"),
		MaxErrorLength: 2000,
		Retain:         200,
	}
}

// ─── Types ───────────────────────────────────────────────────────────────────

// Entry is one recorded patch attempt.
type Entry struct {
	ID           int64  `json:"id"`
	PatchID      string `json:"patchId,omitempty"`
	WorkflowID   string `json:"workflowId"`
	Outcome      string `json:"outcome"`
	Phase        string `json:"phase,omitempty"`
	Submitted    int    `json:"submitted"`
	ChangedCount int    `json:"changedCount"`
	PatchedCount int    `json:"patchedCount"`
	DryRun       bool   `json:"dryRun,omitempty"`
	SkipReason   string `json:"skipReason,omitempty"`
	Error        string `json:"error,omitempty"`
	// Operations is the JSON encoded per-operation result list.
	Operations string `json:"operations,omitempty"`
	CreatedAt  string `json:"createdAt"`
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the patch journal backed by SQLite.
type Store struct {
	db    *sql.DB
	cfg   Config
	hooks storeHooks
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type storeHooks struct {
	exec    func(ctx context.Context, db execer, query string, args ...any) (sql.Result, error)
	beginTx func(ctx context.Context, db *sql.DB) (*sql.Tx, error)
	commit  func(tx *sql.Tx) error
}

func (s *Store) execHook(ctx context.Context, db execer, query string, args ...any) (sql.Result, error) {
	if s.hooks.exec != nil {
		return s.hooks.exec(ctx, db, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func (s *Store) beginTxHook(ctx context.Context) (*sql.Tx, error) {
	if s.hooks.beginTx != nil {
		return s.hooks.beginTx(ctx, s.db)
	}
	return s.db.BeginTx(ctx, nil)
}

func (s *Store) commitHook(tx *sql.Tx) error {
	if s.hooks.commit != nil {
		return s.hooks.commit(tx)
	}
	return tx.Commit()
}

// New opens (creating if needed) the journal database at cfg.Path with
// WAL mode and runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("journal: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0700); err != nil {
		return nil, fmt.Errorf("journal: create data dir: %w", err)
	}

	db, err := openDB("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("journal: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("journal: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db, cfg: cfg}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS patches (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			patch_id      TEXT NOT NULL DEFAULT '',
			workflow_id   TEXT NOT NULL,
			outcome       TEXT NOT NULL,
			phase         TEXT NOT NULL DEFAULT '',
			submitted     INTEGER NOT NULL DEFAULT 0,
			changed_count INTEGER NOT NULL DEFAULT 0,
			patched_count INTEGER NOT NULL DEFAULT 0,
			dry_run       INTEGER NOT NULL DEFAULT 0,
			skip_reason   TEXT NOT NULL DEFAULT '',
			error         TEXT NOT NULL DEFAULT '',
			operations    TEXT NOT NULL DEFAULT '',
			created_at    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_patches_workflow ON patches(workflow_id, id);
		CREATE INDEX IF NOT EXISTS idx_patches_patch_id ON patches(patch_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Record stores the outcome of one Apply call. res may be nil when the
// engine failed before building a result. Entries beyond Retain for the
// same workflow are pruned in the same transaction.
func (s *Store) Record(ctx context.Context, workflowID string, submitted int, res *patch.Result, applyErr error) (int64, error) {
	e := Entry{
		WorkflowID: workflowID,
		Outcome:    patch.Outcome(res, applyErr),
		Submitted:  submitted,
		CreatedAt:  timeNow().UTC().Format(time.RFC3339),
	}
	if res != nil {
		e.PatchID = res.PatchID
		e.Phase = string(res.Phase)
		e.ChangedCount = res.ChangedCount
		e.PatchedCount = res.PatchedCount
		e.DryRun = res.DryRun
		e.SkipReason = res.SkipReason
		if len(res.Operations) > 0 {
			data, err := json.Marshal(res.Operations)
			if err != nil {
				return 0, fmt.Errorf("journal: encoding operations: %w", err)
			}
			e.Operations = string(data)
		}
	}
	if applyErr != nil {
		e.Error = truncate(applyErr.Error(), s.cfg.MaxErrorLength)
		var pe *patch.Error
		if errors.As(applyErr, &pe) && pe.Phase != "" {
			e.Phase = string(pe.Phase)
		}
	}

	tx, err := s.beginTxHook(ctx)
	if err != nil {
		return 0, fmt.Errorf("journal: begin: %w", err)
	}
	defer tx.Rollback()

	r, err := s.execHook(ctx, tx,
		`INSERT INTO patches (patch_id, workflow_id, outcome, phase, submitted, changed_count,
			patched_count, dry_run, skip_reason, error, operations, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.PatchID, e.WorkflowID, e.Outcome, e.Phase, e.Submitted, e.ChangedCount,
		e.PatchedCount, e.DryRun, e.SkipReason, e.Error, e.Operations, e.CreatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("journal: insert: %w", err)
	}
	id, err := r.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("journal: insert id: %w", err)
	}

	if s.cfg.Retain > 0 {
		_, err := s.execHook(ctx, tx,
			`DELETE FROM patches
			 WHERE workflow_id = ? AND id NOT IN (
				SELECT id FROM patches WHERE workflow_id = ? ORDER BY id DESC LIMIT ?
			 )`,
			workflowID, workflowID, s.cfg.Retain,
		)
		if err != nil {
			return 0, fmt.Errorf("journal: prune: %w", err)
		}
	}

	if err := s.commitHook(tx); err != nil {
		return 0, fmt.Errorf("journal: commit: %w", err)
	}
	return id, nil
}

// ─── Reads ───────────────────────────────────────────────────────────────────

const entryColumns = `id, patch_id, workflow_id, outcome, phase, submitted, changed_count,
	patched_count, dry_run, skip_reason, error, operations, created_at`

// Recent returns up to limit entries for workflowID, newest first, and
// the total number recorded for it.
func (s *Store) Recent(ctx context.Context, workflowID string, limit int) ([]Entry, int, error) {
	if limit <= 0 {
		limit = 10
	}
	var total int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM patches WHERE workflow_id = ?`, workflowID,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("journal: count: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+entryColumns+` FROM patches WHERE workflow_id = ? ORDER BY id DESC LIMIT ?`,
		workflowID, limit,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("journal: recent: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("journal: scan: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("journal: recent: %w", err)
	}
	return entries, total, nil
}

// Get returns the entry recorded for patchID, or nil if there is none.
func (s *Store) Get(ctx context.Context, patchID string) (*Entry, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+entryColumns+` FROM patches WHERE patch_id = ? ORDER BY id DESC LIMIT 1`, patchID)
	e, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("journal: get %s: %w", patchID, err)
	}
	return &e, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (Entry, error) {
	var e Entry
	err := sc.Scan(&e.ID, &e.PatchID, &e.WorkflowID, &e.Outcome, &e.Phase, &e.Submitted,
		&e.ChangedCount, &e.PatchedCount, &e.DryRun, &e.SkipReason, &e.Error,
		&e.Operations, &e.CreatedAt)
	return e, err
}

// truncate cuts s to at most max bytes, backing off to a rune boundary.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max] + "…"
}
