package journal

import (
	"context"
	"log/slog"

	"github.com/sulla-ai/flowpatch/internal/patch"
)

// Patcher is the engine entry point being journaled.
type Patcher interface {
	Apply(ctx context.Context, workflowID string, ops []patch.Operation, opts patch.Options) (*patch.Result, error)
}

// RecordingPatcher records every Apply call in a Store. A journal write
// failure is logged and never changes the patch outcome.
type RecordingPatcher struct {
	next   Patcher
	store  *Store
	logger *slog.Logger
}

// Wrap returns a Patcher that journals calls to next.
func Wrap(next Patcher, store *Store, logger *slog.Logger) *RecordingPatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingPatcher{next: next, store: store, logger: logger}
}

// Apply runs the patch and records its outcome.
func (p *RecordingPatcher) Apply(ctx context.Context, workflowID string, ops []patch.Operation, opts patch.Options) (*patch.Result, error) {
	res, err := p.next.Apply(ctx, workflowID, ops, opts)
	// Record even if the caller's context was cancelled mid-patch.
	if _, jerr := p.store.Record(context.WithoutCancel(ctx), workflowID, len(ops), res, err); jerr != nil {
		p.logger.Warn("journal write failed", "workflow_id", workflowID, "error", jerr)
	}
	return res, err
}
