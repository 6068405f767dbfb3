package patch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

const demoWorkflow = `{
	"id": "wf1", "name": "Demo", "active": true, "versionId": "v1",
	"nodes": [
		{"id": "a", "name": "A", "type": "n8n-nodes-base.manualTrigger", "typeVersion": 1, "position": [0, 0], "parameters": {}},
		{"id": "b", "name": "B", "type": "n8n-nodes-base.set", "typeVersion": 1, "position": [200, 0],
		 "parameters": {"keepOnlySet": false, "values": {"string": [{"name": "x", "value": "1"}]}}},
		{"id": "c", "name": "C", "type": "n8n-nodes-base.noOp", "typeVersion": 1, "position": [400, 0], "parameters": {}}
	],
	"connections": {"B": {"main": [[{"node": "C", "type": "main", "index": 0}]]}},
	"settings": {}, "staticData": {}
}`

// fakeStore keeps the workflow as JSON, like the remote engine would, so
// every read returns an independent decode.
type fakeStore struct {
	mu      sync.Mutex
	data    []byte
	gets    int
	updates int

	// dropWrites makes UpdateWorkflow succeed without storing anything.
	dropWrites bool
	getErr     error
	updateErr  error
	// onGet may rewrite the stored workflow before the n-th read returns.
	onGet func(n int, w *graph.Workflow)
}

func newFakeStore(t *testing.T, src string) *fakeStore {
	t.Helper()
	var w graph.Workflow
	if err := json.Unmarshal([]byte(src), &w); err != nil {
		t.Fatalf("decoding fixture: %v", err)
	}
	return &fakeStore{data: []byte(src)}
}

func (s *fakeStore) GetWorkflow(_ context.Context, _ string, _ bool) (*graph.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	if s.getErr != nil {
		return nil, s.getErr
	}
	var w graph.Workflow
	if err := json.Unmarshal(s.data, &w); err != nil {
		return nil, err
	}
	if s.onGet != nil {
		s.onGet(s.gets, &w)
	}
	return &w, nil
}

func (s *fakeStore) UpdateWorkflow(_ context.Context, _ string, u graph.WorkflowUpdate) (*graph.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	var w graph.Workflow
	if err := json.Unmarshal(s.data, &w); err != nil {
		return nil, err
	}
	if s.dropWrites {
		return &w, nil
	}
	w.Name = u.Name
	w.Nodes = u.Nodes
	w.Connections = u.Connections
	w.Settings = u.Settings
	w.StaticData = u.StaticData
	data, err := json.Marshal(&w)
	if err != nil {
		return nil, err
	}
	s.data = data
	return &w, nil
}

func (s *fakeStore) stored(t *testing.T) *graph.Workflow {
	t.Helper()
	var w graph.Workflow
	if err := json.Unmarshal(s.data, &w); err != nil {
		t.Fatalf("decoding stored workflow: %v", err)
	}
	return &w
}

type fakeRecorder struct {
	outcomes []string
	ops      []string
}

func (r *fakeRecorder) PatchFinished(outcome string, _ time.Duration) {
	r.outcomes = append(r.outcomes, outcome)
}

func (r *fakeRecorder) OperationApplied(kind string, changed bool) {
	if changed {
		kind += "+"
	}
	r.ops = append(r.ops, kind)
}

func newTestEngine(store WorkflowStore, opts ...EngineOption) *Engine {
	e := NewEngine(store, opts...)
	e.newPatchID = func() string { return "patch-1" }
	return e
}

func conn(source, target string) ConnectionRef {
	return ConnectionRef{Source: source, Target: target}
}

// --- Connection scenarios ---

func TestApply_AddConnection(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	rec := &fakeRecorder{}
	e := newTestEngine(store, WithRecorder(rec))

	res, err := e.Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "B")}}, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Phase != PhaseVerified || res.PatchedCount != 1 || res.SkippedUpdate {
		t.Errorf("result = phase %s patched %d skipped %v", res.Phase, res.PatchedCount, res.SkippedUpdate)
	}
	if res.PatchID != "patch-1" {
		t.Errorf("PatchID = %q", res.PatchID)
	}
	op := res.Operations[0]
	if !op.Changed || !op.Verified || op.EdgesBefore != 0 || op.EdgesAfter != 1 {
		t.Errorf("op result = %+v", op)
	}
	if store.updates != 1 {
		t.Errorf("updates = %d, want 1", store.updates)
	}
	got := store.stored(t).Connections.CountMatching("A", "main", 0, graph.Edge{Node: "B", Type: "main", Index: 0})
	if got != 1 {
		t.Errorf("stored A→B edges = %d, want 1", got)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != OutcomeVerified {
		t.Errorf("recorded outcomes = %v", rec.outcomes)
	}
}

func TestApply_AddExistingConnectionIsSkipped(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	res, err := e.Apply(context.Background(), "wf1", []Operation{AddConnection{conn("B", "C")}}, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Operations[0].Changed {
		t.Error("adding an existing edge reported changed")
	}
	if !res.SkippedUpdate || res.Phase != PhaseSkipped {
		t.Errorf("expected skipped result, got %+v", res)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d, want 0", store.updates)
	}
}

func TestApply_RemoveMissingConnectionIsSkipped(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	res, err := e.Apply(context.Background(), "wf1", []Operation{RemoveConnection{conn("A", "C")}}, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.Operations[0].Changed || !res.SkippedUpdate {
		t.Errorf("result = %+v", res)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d, want 0", store.updates)
	}
}

func TestApply_AddThenRemoveConnectionHasNoNetChange(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	ops := []Operation{AddConnection{conn("A", "B")}, RemoveConnection{conn("A", "B")}}
	res, err := e.Apply(context.Background(), "wf1", ops, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if res.ChangedCount != 2 {
		t.Errorf("ChangedCount = %d, want 2", res.ChangedCount)
	}
	if !res.SkippedUpdate || store.updates != 0 {
		t.Errorf("skipped = %v updates = %d, want skipped with no write", res.SkippedUpdate, store.updates)
	}
}

func TestApply_ConnectionToUnknownNode(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	_, err := e.Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "Nope")}}, Options{})
	if !errors.Is(err, ErrSelector) || !errors.Is(err, graph.ErrNodeNotFound) {
		t.Fatalf("err = %v, want selector not-found", err)
	}
	var pe *Error
	if !errors.As(err, &pe) || pe.Op != 0 {
		t.Errorf("error op = %+v", pe)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d", store.updates)
	}
}

func TestApply_ConnectionIndexOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		ref  ConnectionRef
	}{
		{"huge source index", ConnectionRef{Source: "A", Target: "B", SourceIndex: 5_000_000}},
		{"source index just above bound", ConnectionRef{Source: "A", Target: "B", SourceIndex: graph.MaxOutputIndex + 1}},
		{"huge target index", ConnectionRef{Source: "A", Target: "B", TargetIndex: 1 << 30}},
		{"negative index", ConnectionRef{Source: "A", Target: "B", SourceIndex: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore(t, demoWorkflow)
			_, err := newTestEngine(store).Apply(context.Background(), "wf1", []Operation{AddConnection{tt.ref}}, Options{})
			if !errors.Is(err, ErrInvalidOperation) {
				t.Fatalf("err = %v, want invalid operation", err)
			}
			if store.updates != 0 {
				t.Errorf("updates = %d", store.updates)
			}
		})
	}

	// The highest allowed slot is accepted.
	store := newFakeStore(t, demoWorkflow)
	ref := ConnectionRef{Source: "A", Target: "B", SourceIndex: graph.MaxOutputIndex}
	if _, err := newTestEngine(store).Apply(context.Background(), "wf1", []Operation{AddConnection{ref}}, Options{}); err != nil {
		t.Fatalf("Apply at MaxOutputIndex: %v", err)
	}
	if n := len(store.stored(t).Connections["A"]["main"]); n != graph.MaxOutputIndex+1 {
		t.Errorf("buckets = %d, want %d", n, graph.MaxOutputIndex+1)
	}
}

// --- Node scenarios ---

func TestApply_RemoveNodeCleansEdges(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	ops := []Operation{
		AddConnection{conn("A", "B")},
		RemoveNode{Selector: graph.Selector{NodeName: "B"}},
	}
	res, err := e.Apply(context.Background(), "wf1", ops, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	rm := res.Operations[1]
	if rm.NodeID != "b" || rm.InboundEdges != 1 || rm.OutboundEdges != 1 {
		t.Errorf("remove result = %+v", rm)
	}

	w := store.stored(t)
	if _, ok := w.NodeByName("B"); ok {
		t.Error("B still stored")
	}
	if _, ok := w.Connections["B"]; ok {
		t.Error("B still has outgoing connections")
	}
	if n := w.Connections.CountInbound("B"); n != 0 {
		t.Errorf("%d edges still target B", n)
	}
	if issues := graph.Validate(w); len(issues) != 0 {
		t.Errorf("stored workflow has issues: %v", issues)
	}
}

func TestApply_RenamePropagatesToConnections(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	ops := []Operation{
		AddConnection{conn("A", "B")},
		UpdateNode{Selector: graph.Selector{NodeName: "B"}, Patch: map[string]any{"name": "New"}},
	}
	res, err := e.Apply(context.Background(), "wf1", ops, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	up := res.Operations[1]
	if up.PreviousName != "B" || up.NodeName != "New" || up.RewrittenEdges != 1 {
		t.Errorf("update result = %+v", up)
	}

	w := store.stored(t)
	if _, ok := w.Connections["New"]; !ok {
		t.Error("outgoing connections not moved to New")
	}
	if _, ok := w.Connections["B"]; ok {
		t.Error("old key B still present")
	}
	if n := w.Connections.CountMatching("A", "main", 0, graph.Edge{Node: "New", Type: "main"}); n != 1 {
		t.Errorf("A→New edges = %d, want 1", n)
	}
	if n := w.Connections.CountInbound("B"); n != 0 {
		t.Errorf("%d edges still target B", n)
	}
}

func TestApply_AddNodeAllocatesUniqueNameAndID(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	ops := []Operation{
		AddNode{Node: map[string]any{"id": "a", "name": "A", "type": "n8n-nodes-base.noOp"}},
		AddNode{Node: map[string]any{"type": "n8n-nodes-base.httpRequest"}},
	}
	res, err := e.Apply(context.Background(), "wf1", ops, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if got := res.Operations[0]; got.NodeName != "A (2)" || got.NodeID != "a-2-1" {
		t.Errorf("first add = %s/%s", got.NodeName, got.NodeID)
	}
	if got := res.Operations[1]; got.NodeName != "httpRequest" {
		t.Errorf("second add name = %q, want type suffix", got.NodeName)
	}
	w := store.stored(t)
	if len(w.Nodes) != 5 {
		t.Fatalf("stored %d nodes, want 5", len(w.Nodes))
	}
	seen := map[string]bool{}
	for _, n := range w.Nodes {
		if seen[n.ID] {
			t.Errorf("duplicate id %q", n.ID)
		}
		seen[n.ID] = true
	}
}

func TestApply_AddNodeRequiresType(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	_, err := e.Apply(context.Background(), "wf1", []Operation{AddNode{Node: map[string]any{"name": "X"}}}, Options{})
	if !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("err = %v, want invalid operation", err)
	}
}

func TestApply_AddThenRemoveNodeIsSkipped(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	ops := []Operation{
		AddNode{Node: map[string]any{"name": "Temp", "type": "n8n-nodes-base.noOp"}},
		RemoveNode{Selector: graph.Selector{NodeName: "Temp"}},
	}
	res, err := e.Apply(context.Background(), "wf1", ops, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.SkippedUpdate || store.updates != 0 {
		t.Errorf("skipped = %v updates = %d", res.SkippedUpdate, store.updates)
	}
}

func TestApply_PatchDeepMerges(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	op := UpdateNode{
		Selector: graph.Selector{NodeID: "b"},
		Patch:    map[string]any{"id": "hijack", "parameters": map[string]any{"keepOnlySet": true}},
	}
	if _, err := e.Apply(context.Background(), "wf1", []Operation{op}, Options{}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	b, ok := store.stored(t).NodeByID("b")
	if !ok {
		t.Fatal("node b missing; id must not change through update")
	}
	if b.Parameters["keepOnlySet"] != true {
		t.Errorf("keepOnlySet = %v", b.Parameters["keepOnlySet"])
	}
	if _, ok := b.Parameters["values"]; !ok {
		t.Error("partial patch dropped sibling parameter values")
	}
}

func TestApply_FullNodeReplacesParameters(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	op := UpdateNode{
		Selector: graph.Selector{NodeName: "B"},
		Node: map[string]any{
			"name": "B", "type": "n8n-nodes-base.set", "typeVersion": 3,
			"parameters": map[string]any{"mode": "raw"},
		},
	}
	res, err := e.Apply(context.Background(), "wf1", []Operation{op}, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.Operations[0].Verified {
		t.Error("update not verified")
	}
	b, _ := store.stored(t).NodeByID("b")
	if len(b.Parameters) != 1 || b.Parameters["mode"] != "raw" {
		t.Errorf("parameters = %v, want wholesale replacement", b.Parameters)
	}
	if b.TypeVersion != 3 || b.Position != (graph.Position{200, 0}) {
		t.Errorf("typeVersion %v position %v", b.TypeVersion, b.Position)
	}
}

func TestApply_UpdateNeedsExactlyOnePayload(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	op := UpdateNode{Selector: graph.Selector{NodeName: "B"}}
	if _, err := e.Apply(context.Background(), "wf1", []Operation{op}, Options{}); !errors.Is(err, ErrInvalidOperation) {
		t.Fatalf("err = %v, want invalid operation", err)
	}
}

func TestApply_AmbiguousSelector(t *testing.T) {
	store := newFakeStore(t, `{
		"id": "wf2", "name": "Fetch",
		"nodes": [
			{"id": "f1", "name": "Fetch Data", "type": "t", "parameters": {}},
			{"id": "f2", "name": "fetch-data", "type": "t", "parameters": {}}
		],
		"connections": {}
	}`)
	e := newTestEngine(store)

	op := RemoveNode{Selector: graph.Selector{NodeName: "fetch data"}}
	_, err := e.Apply(context.Background(), "wf2", []Operation{op}, Options{})
	if !errors.Is(err, ErrSelector) || !errors.Is(err, graph.ErrAmbiguousSelector) {
		t.Fatalf("err = %v, want ambiguous selector", err)
	}
	for _, name := range []string{"Fetch Data", "fetch-data"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q does not list candidate %q", err, name)
		}
	}
	if store.updates != 0 {
		t.Errorf("updates = %d", store.updates)
	}
}

// --- Failure phases ---

func TestApply_PreflightRejectsGhostSource(t *testing.T) {
	store := newFakeStore(t, `{
		"id": "wf3", "name": "Broken",
		"nodes": [{"id": "a", "name": "A", "type": "t", "parameters": {}}],
		"connections": {"Ghost": {"main": [[{"node": "A", "type": "main", "index": 0}]]}}
	}`)
	rec := &fakeRecorder{}
	e := newTestEngine(store, WithRecorder(rec))

	_, err := e.Apply(context.Background(), "wf3", []Operation{RemoveNode{Selector: graph.Selector{NodeName: "A"}}}, Options{})
	if !errors.Is(err, ErrStructural) {
		t.Fatalf("err = %v, want structural", err)
	}
	var pe *Error
	errors.As(err, &pe)
	if pe.Phase != PhaseResolved || len(pe.Details) == 0 || !strings.Contains(pe.Details[0], graph.IssueSourceNodeMissing) {
		t.Errorf("error = %+v", pe)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d", store.updates)
	}
	if len(rec.outcomes) != 1 || rec.outcomes[0] != string(KindStructural) {
		t.Errorf("outcomes = %v", rec.outcomes)
	}
}

func TestApply_VerificationFailure(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	store.dropWrites = true
	e := newTestEngine(store)

	res, err := e.Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "B")}}, Options{})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want verification failure", err)
	}
	if res == nil || res.Phase != PhasePersisted || res.PatchedCount != 0 || res.Operations[0].Verified {
		t.Errorf("result = %+v", res)
	}
	var pe *Error
	errors.As(err, &pe)
	if pe.Op != 0 || len(pe.Details) != 1 || !strings.Contains(pe.Details[0], "A[main][0] → B[0]") {
		t.Errorf("error = %+v", pe)
	}
}

func TestApply_VerificationFollowsLaterRename(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	// The verification read loses the new edge but keeps the rename.
	store.onGet = func(n int, w *graph.Workflow) {
		if n == 2 {
			delete(w.Connections, "A2")
		}
	}
	e := newTestEngine(store)

	ops := []Operation{
		AddConnection{conn("A", "B")},
		UpdateNode{Selector: graph.Selector{NodeName: "A"}, Patch: map[string]any{"name": "A2"}},
	}
	res, err := e.Apply(context.Background(), "wf1", ops, Options{})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want verification failure", err)
	}
	if res.Operations[0].Verified || !res.Operations[1].Verified || res.PatchedCount != 1 {
		t.Errorf("result = %+v", res)
	}
	// The reported operation keeps the names it was submitted with.
	if res.Operations[0].Connection.Source != "A" {
		t.Errorf("connection = %+v", res.Operations[0].Connection)
	}
	var pe *Error
	errors.As(err, &pe)
	if pe.Op != 0 || len(pe.Details) != 1 || !strings.Contains(pe.Details[0], "A2[main][0] → B[0]") {
		t.Errorf("error = %+v", pe)
	}
}

func TestApply_VerificationRejectsRevertedParameters(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	store.onGet = func(n int, w *graph.Workflow) {
		if n != 2 {
			return
		}
		for i := range w.Nodes {
			if w.Nodes[i].ID == "b" {
				w.Nodes[i].Parameters["keepOnlySet"] = false
			}
		}
	}
	e := newTestEngine(store)

	op := UpdateNode{
		Selector: graph.Selector{NodeID: "b"},
		Patch:    map[string]any{"parameters": map[string]any{"keepOnlySet": true}},
	}
	res, err := e.Apply(context.Background(), "wf1", []Operation{op}, Options{})
	if !errors.Is(err, ErrVerificationFailed) {
		t.Fatalf("err = %v, want verification failure", err)
	}
	if res.PatchedCount != 0 || res.Operations[0].Verified {
		t.Errorf("result = %+v", res)
	}
	var pe *Error
	errors.As(err, &pe)
	if len(pe.Details) != 1 || !strings.Contains(pe.Details[0], `field "parameters" was not saved as applied`) {
		t.Errorf("details = %v", pe.Details)
	}
}

func TestApply_VerificationFindsRenamedNodeWithoutID(t *testing.T) {
	store := newFakeStore(t, `{
		"id": "wf4", "name": "Legacy",
		"nodes": [{"name": "X", "type": "t", "parameters": {"url": "a"}}],
		"connections": {}
	}`)
	store.onGet = func(n int, w *graph.Workflow) {
		if n != 2 {
			return
		}
		for i := range w.Nodes {
			if w.Nodes[i].Name == "Y" {
				w.Nodes[i].Parameters["url"] = "a"
			}
		}
	}
	e := newTestEngine(store)

	ops := []Operation{
		UpdateNode{Selector: graph.Selector{NodeName: "X"}, Patch: map[string]any{"parameters": map[string]any{"url": "b"}}},
		UpdateNode{Selector: graph.Selector{NodeName: "X"}, Patch: map[string]any{"name": "Y"}},
	}
	_, err := e.Apply(context.Background(), "wf4", ops, Options{})
	var pe *Error
	if !errors.As(err, &pe) || pe.Kind != KindVerification || pe.Op != 0 {
		t.Fatalf("err = %v, want verification failure on operation 0", err)
	}
}

func TestApply_CollaboratorErrorsPropagate(t *testing.T) {
	cause := errors.New("connection refused")

	store := newFakeStore(t, demoWorkflow)
	store.getErr = cause
	_, err := newTestEngine(store).Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "B")}}, Options{})
	if !errors.Is(err, ErrCollaborator) || !errors.Is(err, cause) {
		t.Errorf("get failure: err = %v", err)
	}

	store = newFakeStore(t, demoWorkflow)
	store.updateErr = cause
	_, err = newTestEngine(store).Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "B")}}, Options{})
	if !errors.Is(err, ErrCollaborator) || !errors.Is(err, cause) {
		t.Errorf("update failure: err = %v", err)
	}
}

func TestApply_VersionConflict(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	store.onGet = func(n int, w *graph.Workflow) {
		if n > 1 {
			w.VersionID = "v2"
		}
	}
	e := newTestEngine(store, WithVersionCheck(true))

	_, err := e.Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "B")}}, Options{})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want conflict", err)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d", store.updates)
	}
}

func TestApply_DryRunDoesNotWrite(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	e := newTestEngine(store)

	res, err := e.Apply(context.Background(), "wf1", []Operation{AddConnection{conn("A", "B")}}, Options{DryRun: true})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.DryRun || !res.SkippedUpdate || res.ChangedCount != 1 || res.Phase != PhasePostflightChecked {
		t.Errorf("result = %+v", res)
	}
	if store.updates != 0 {
		t.Errorf("updates = %d", store.updates)
	}
}

func TestApply_EmptyBatch(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	res, err := newTestEngine(store).Apply(context.Background(), "wf1", nil, Options{})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !res.SkippedUpdate || store.gets != 0 {
		t.Errorf("skipped = %v gets = %d", res.SkippedUpdate, store.gets)
	}
}

func TestApply_RequiresWorkflowID(t *testing.T) {
	store := newFakeStore(t, demoWorkflow)
	if _, err := newTestEngine(store).Apply(context.Background(), "", nil, Options{}); !errors.Is(err, ErrInvalidOperation) {
		t.Errorf("err = %v, want invalid operation", err)
	}
}

func TestOutcome(t *testing.T) {
	tests := []struct {
		name string
		res  *Result
		err  error
		want string
	}{
		{"verified", &Result{Phase: PhaseVerified}, nil, OutcomeVerified},
		{"skipped", &Result{Phase: PhaseSkipped, SkippedUpdate: true}, nil, OutcomeSkipped},
		{"skipped dry run", &Result{Phase: PhaseSkipped, SkippedUpdate: true, DryRun: true}, nil, OutcomeSkipped},
		{"dry run", &Result{Phase: PhasePostflightChecked, SkippedUpdate: true, DryRun: true}, nil, OutcomeDryRun},
		{"patch error", nil, &Error{Kind: KindSelector, Op: 0}, string(KindSelector)},
		{"other error", nil, errors.New("boom"), "error"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Outcome(tt.res, tt.err); got != tt.want {
				t.Errorf("Outcome = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSortedNames_BoundedLikeResolver(t *testing.T) {
	names := graph.NameSet{}
	for i := 0; i < graph.MaxAvailableNames+5; i++ {
		names.Add(fmt.Sprintf("node-%02d", i))
	}
	got := sortedNames(names)
	if len(got) != graph.MaxAvailableNames || got[0] != "node-00" {
		t.Errorf("sortedNames = %v", got)
	}
}
