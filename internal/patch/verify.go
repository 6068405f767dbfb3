package patch

import (
	"fmt"
	"reflect"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

// verify checks every changed operation against the freshly fetched graph.
// The expected state of each touched node or edge is taken from the final
// in-memory graph, so an operation superseded later in the batch (a node
// added then removed) is checked against where it ended up. Names an
// operation recorded are carried through later renames first.
// It sets Verified and PatchedCount on res.
func verify(work, fresh *graph.Workflow, res *Result, renames []rename) error {
	var failures []string
	failedOp := -1

	for i := range res.Operations {
		op := &res.Operations[i]
		if !op.Changed {
			continue
		}
		if msg := checkOperation(work, fresh, forwarded(*op, renames)); msg != "" {
			failures = append(failures, fmt.Sprintf("operation %d (%s): %s", op.Index, op.Kind, msg))
			if failedOp < 0 {
				failedOp = op.Index
			}
			continue
		}
		op.Verified = true
		res.PatchedCount++
	}

	if len(failures) > 0 {
		return &Error{
			Kind:    KindVerification,
			Phase:   PhasePersisted,
			Op:      failedOp,
			Message: fmt.Sprintf("%d of %d changed operations are not reflected in the saved workflow", len(failures), res.ChangedCount),
			Details: failures,
		}
	}
	return nil
}

// forwarded returns a copy of op with its node and edge endpoint names as
// they stand at the end of the batch.
func forwarded(op OpResult, renames []rename) *OpResult {
	if op.NodeName != "" {
		op.NodeName = forward(renames, op.Index, op.NodeName)
	}
	if op.Connection != nil {
		ref := *op.Connection
		ref.Source = forward(renames, op.Index, ref.Source)
		ref.Target = forward(renames, op.Index, ref.Target)
		op.Connection = &ref
	}
	return &op
}

func checkOperation(work, fresh *graph.Workflow, op *OpResult) string {
	switch op.Kind {
	case KindAddNode, KindUpdateNode, KindRemoveNode:
		return checkNode(work, fresh, op)
	case KindAddConnection, KindRemoveConnection:
		return checkEdge(work, fresh, op)
	}
	return ""
}

func checkNode(work, fresh *graph.Workflow, op *OpResult) string {
	want, wantPresent := findNode(work, op)
	got, gotPresent := findNode(fresh, op)

	switch {
	case wantPresent && !gotPresent:
		return fmt.Sprintf("node %q (id %s) is missing after save", want.Name, op.NodeID)
	case !wantPresent && gotPresent:
		return fmt.Sprintf("node %q (id %s) is still present after save", got.Name, op.NodeID)
	case !wantPresent:
		return ""
	}

	if got.Name != want.Name {
		return fmt.Sprintf("node %s saved with name %q, expected %q", op.NodeID, got.Name, want.Name)
	}
	if op.Kind != KindUpdateNode || op.applied == nil {
		return ""
	}

	wantMap, err := want.ToMap()
	if err != nil {
		return fmt.Sprintf("encoding expected node: %v", err)
	}
	// A later update may have overwritten these fields; then only the
	// final name is checked (above).
	if !subsetMatch(op.applied, wantMap) {
		return ""
	}
	gotMap, err := got.ToMap()
	if err != nil {
		return fmt.Sprintf("encoding saved node: %v", err)
	}
	for key, v := range op.applied {
		if !subsetMatch(v, gotMap[key]) {
			return fmt.Sprintf("node %q field %q was not saved as applied", want.Name, key)
		}
	}
	return ""
}

// findNode locates the node an operation touched. Nodes without an id are
// looked up by the name the operation left them with.
func findNode(w *graph.Workflow, op *OpResult) (graph.Node, bool) {
	if op.NodeID != "" {
		return w.NodeByID(op.NodeID)
	}
	return w.NodeByName(op.NodeName)
}

func checkEdge(work, fresh *graph.Workflow, op *OpResult) string {
	ref := op.Connection
	if ref == nil {
		return "missing connection reference"
	}
	edge := ref.Edge()
	want := work.Connections.CountMatching(ref.Source, ref.Type, ref.SourceIndex, edge) > 0
	got := fresh.Connections.CountMatching(ref.Source, ref.Type, ref.SourceIndex, edge) > 0

	switch {
	case want && !got:
		return fmt.Sprintf("edge %s[%s][%d] → %s[%d] is missing after save",
			ref.Source, ref.Type, ref.SourceIndex, ref.Target, ref.TargetIndex)
	case !want && got:
		return fmt.Sprintf("edge %s[%s][%d] → %s[%d] is still present after save",
			ref.Source, ref.Type, ref.SourceIndex, ref.Target, ref.TargetIndex)
	}
	return ""
}

// subsetMatch reports whether every field of want is present in got with
// an equal value, recursing into objects. Arrays must match element-wise.
func subsetMatch(want, got any) bool {
	switch w := want.(type) {
	case map[string]any:
		g, ok := got.(map[string]any)
		if !ok {
			return len(w) == 0 && got == nil
		}
		for k, wv := range w {
			if !subsetMatch(wv, g[k]) {
				return false
			}
		}
		return true
	case []any:
		g, ok := got.([]any)
		if !ok || len(g) != len(w) {
			return len(w) == 0 && got == nil
		}
		for i := range w {
			if !subsetMatch(w[i], g[i]) {
				return false
			}
		}
		return true
	case nil:
		return got == nil
	default:
		return reflect.DeepEqual(want, got)
	}
}
