package patch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

// WorkflowStore is the part of the remote workflow store the engine needs.
// Implementations own timeouts and retries; the engine never retries.
type WorkflowStore interface {
	GetWorkflow(ctx context.Context, id string, excludePinnedData bool) (*graph.Workflow, error)
	UpdateWorkflow(ctx context.Context, id string, update graph.WorkflowUpdate) (*graph.Workflow, error)
}

// Recorder receives patch outcomes, typically for metrics. A nil Recorder
// is allowed.
type Recorder interface {
	PatchFinished(outcome string, elapsed time.Duration)
	OperationApplied(kind string, changed bool)
}

// Outcomes reported to the Recorder.
const (
	OutcomeVerified = "verified"
	OutcomeSkipped  = "skipped"
	OutcomeDryRun   = "dry_run"
)

// Options tune a single Apply call.
type Options struct {
	// DryRun stops after the postflight check and never writes.
	DryRun bool
}

// Engine applies operation batches to workflows held by a WorkflowStore.
// It holds no per-workflow state, so one Engine serves concurrent calls
// for different workflows.
type Engine struct {
	store        WorkflowStore
	logger       *slog.Logger
	recorder     Recorder
	versionCheck bool
	newPatchID   func() string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine's logger.
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) EngineOption {
	return func(e *Engine) { e.recorder = r }
}

// WithVersionCheck makes the engine re-read the workflow's versionId right
// before persisting and abort with a conflict error if it moved.
// Without it the engine is last-writer-wins.
func WithVersionCheck(enabled bool) EngineOption {
	return func(e *Engine) { e.versionCheck = enabled }
}

// NewEngine creates an Engine backed by store.
func NewEngine(store WorkflowStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		newPatchID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// graphEqual compares two snapshots, treating nil and empty containers alike.
var graphEqual = cmp.Options{cmpopts.EquateEmpty()}

// sameGraph reports whether the batch left the workflow without a net
// change. Connections are compared edge by edge so buckets emptied during
// the batch do not count as a change.
func sameGraph(a, b *graph.Workflow) bool {
	if !cmp.Equal(a, b, graphEqual, cmpopts.IgnoreFields(graph.Workflow{}, "Connections")) {
		return false
	}
	return cmp.Equal(edgeList(a.Connections), edgeList(b.Connections), graphEqual)
}

func edgeList(c graph.Connections) []string {
	var out []string
	c.Edges(func(source, connType string, slot int, e graph.Edge) {
		out = append(out, fmt.Sprintf("%s|%s|%d|%s|%s|%d", source, connType, slot, e.Node, e.Type, e.Index))
	})
	sort.Strings(out)
	return out
}

// Apply runs one patch batch against workflowID. Either every operation
// lands and is verified, nothing is written (skipped, dry run or an error
// before persistence), or a verification error reports a write that did
// not stick.
func (e *Engine) Apply(ctx context.Context, workflowID string, ops []Operation, opts Options) (*Result, error) {
	start := time.Now()
	res, err := e.apply(ctx, workflowID, ops, opts)
	if e.recorder != nil {
		e.recorder.PatchFinished(Outcome(res, err), time.Since(start))
	}
	return res, err
}

// Outcome classifies the return values of Apply. A failure reports its
// error kind. A batch with no net change is skipped even in a dry run.
func Outcome(res *Result, err error) string {
	switch {
	case err != nil:
		var pe *Error
		if errors.As(err, &pe) {
			return string(pe.Kind)
		}
		return "error"
	case res == nil:
		return "error"
	case res.Phase == PhaseSkipped:
		return OutcomeSkipped
	case res.DryRun:
		return OutcomeDryRun
	}
	return OutcomeVerified
}

func (e *Engine) apply(ctx context.Context, workflowID string, ops []Operation, opts Options) (*Result, error) {
	res := &Result{
		PatchID:    e.newPatchID(),
		WorkflowID: workflowID,
		Operations: []OpResult{},
		DryRun:     opts.DryRun,
	}
	log := e.logger.With("patch_id", res.PatchID, "workflow_id", workflowID)

	if workflowID == "" {
		return nil, newError(KindInvalid, "", -1, nil, "workflow id is required")
	}
	if len(ops) == 0 {
		res.Phase = PhaseSkipped
		res.SkippedUpdate = true
		res.SkipReason = "no operations submitted"
		return res, nil
	}

	fetched, err := e.fetch(ctx, workflowID, "")
	if err != nil {
		return nil, err
	}
	base := graph.Snapshot(fetched)
	work := graph.Snapshot(base)
	res.Phase = PhaseResolved
	log.Debug("patch phase", "phase", res.Phase, "nodes", len(work.Nodes), "operations", len(ops))

	if issues := graph.Validate(work); len(issues) > 0 {
		return nil, structuralError(PhaseResolved, "workflow is already structurally broken; refusing to patch", issues)
	}
	log.Debug("patch phase", "phase", PhasePreflightChecked)

	res.Phase = PhaseApplying
	st := &batch{wf: work, names: work.NodeNames()}
	for i, op := range ops {
		opRes, err := st.apply(i, op)
		if err != nil {
			log.Info("patch aborted", "phase", PhaseApplying, "operation", i, "error", err)
			return nil, err
		}
		if e.recorder != nil {
			e.recorder.OperationApplied(string(op.Kind()), opRes.Changed)
		}
		res.Operations = append(res.Operations, opRes)
		if opRes.Changed {
			res.ChangedCount++
		}
	}

	if issues := graph.Validate(work); len(issues) > 0 {
		return nil, structuralError(PhaseApplying, "batch would corrupt the workflow; nothing was saved", issues)
	}
	res.Phase = PhasePostflightChecked

	if res.ChangedCount == 0 || sameGraph(base, work) {
		res.Phase = PhaseSkipped
		res.SkippedUpdate = true
		res.SkipReason = "operations produced no net change"
		log.Info("patch skipped", "reason", res.SkipReason, "changed_ops", res.ChangedCount)
		return res, nil
	}

	if opts.DryRun {
		res.SkippedUpdate = true
		res.SkipReason = "dry run"
		log.Info("patch dry run", "changed_ops", res.ChangedCount)
		return res, nil
	}

	if e.versionCheck {
		current, err := e.fetch(ctx, workflowID, PhasePostflightChecked)
		if err != nil {
			return nil, err
		}
		if current.VersionID != base.VersionID {
			return nil, newError(KindConflict, PhasePostflightChecked, -1, nil,
				"versionId changed from %q to %q since the workflow was read", base.VersionID, current.VersionID)
		}
	}

	if _, err := e.store.UpdateWorkflow(ctx, workflowID, work.UpdatePayload()); err != nil {
		return nil, newError(KindCollaborator, PhasePostflightChecked, -1, err, "updating workflow: %v", err)
	}
	res.Phase = PhasePersisted
	log.Debug("patch phase", "phase", res.Phase)

	fresh, err := e.fetch(ctx, workflowID, PhasePersisted)
	if err != nil {
		return nil, err
	}
	if err := verify(work, fresh, res, st.renames); err != nil {
		log.Error("patch verification failed", "error", err)
		return res, err
	}
	res.Phase = PhaseVerified
	log.Info("patch verified", "patched", res.PatchedCount, "changed_ops", res.ChangedCount)
	return res, nil
}

func (e *Engine) fetch(ctx context.Context, id string, phase Phase) (*graph.Workflow, error) {
	wf, err := e.store.GetWorkflow(ctx, id, true)
	if err != nil {
		return nil, newError(KindCollaborator, phase, -1, err, "fetching workflow %q: %v", id, err)
	}
	if wf == nil {
		return nil, newError(KindCollaborator, phase, -1, nil, "workflow store returned no workflow for %q", id)
	}
	return wf, nil
}

func structuralError(phase Phase, msg string, issues []graph.Issue) *Error {
	details := make([]string, len(issues))
	for i, is := range issues {
		details[i] = is.String()
	}
	return &Error{
		Kind:    KindStructural,
		Phase:   phase,
		Op:      -1,
		Message: fmt.Sprintf("%s (%d issues)", msg, len(issues)),
		Details: boundDetails(details),
	}
}
