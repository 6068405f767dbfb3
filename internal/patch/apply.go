package patch

import (
	"fmt"
	"strings"

	"github.com/google/go-cmp/cmp"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

// batch is the mutable state shared by the operations of one Apply call.
// Later operations see the effects of earlier ones.
type batch struct {
	wf      *graph.Workflow
	names   graph.NameSet
	renames []rename
}

// rename records that operation op renamed a node.
type rename struct {
	op       int
	from, to string
}

// forward returns the name a node called name after operation op ended up
// with once every later rename in the batch is applied.
func forward(renames []rename, op int, name string) string {
	for _, r := range renames {
		if r.op > op && r.from == name {
			name = r.to
		}
	}
	return name
}

func (b *batch) apply(i int, op Operation) (OpResult, error) {
	res := OpResult{Index: i, Kind: op.Kind()}
	var err error
	switch o := op.(type) {
	case AddNode:
		err = b.addNode(&res, o)
	case UpdateNode:
		err = b.updateNode(i, &res, o)
	case RemoveNode:
		err = b.removeNode(&res, o)
	case AddConnection:
		err = b.addConnection(&res, o.ConnectionRef)
	case RemoveConnection:
		err = b.removeConnection(&res, o.ConnectionRef)
	default:
		err = fmt.Errorf("unsupported operation %T", op)
	}
	if err != nil {
		return res, asOpError(i, err)
	}
	return res, nil
}

// asOpError tags err with the operation index and classifies selector
// failures.
func asOpError(i int, err error) error {
	if pe, ok := err.(*Error); ok {
		pe.Op = i
		pe.Phase = PhaseApplying
		return pe
	}
	if _, ok := err.(*graph.SelectorError); ok {
		return &Error{Kind: KindSelector, Phase: PhaseApplying, Op: i, Err: err}
	}
	return &Error{Kind: KindInvalid, Phase: PhaseApplying, Op: i, Err: err}
}

func invalidf(format string, args ...any) *Error {
	return &Error{Kind: KindInvalid, Op: -1, Message: fmt.Sprintf(format, args...)}
}

// --- Node operations ---

func (b *batch) addNode(res *OpResult, op AddNode) error {
	if op.Node == nil {
		return invalidf("node.add requires a node payload")
	}
	fields := cloneFields(op.Node)

	typ, _ := fields["type"].(string)
	if strings.TrimSpace(typ) == "" {
		return invalidf("node.add requires a non-empty node type")
	}
	desired, _ := fields["name"].(string)
	if strings.TrimSpace(desired) == "" {
		desired = defaultNodeName(typ)
	}
	name := graph.EnsureUniqueName(desired, b.wf.Nodes, "")
	wantID, _ := fields["id"].(string)
	id := graph.EnsureUniqueID(wantID, name, b.wf.Nodes)
	fields["name"] = name
	fields["id"] = id

	node, err := graph.NodeFromMap(fields)
	if err != nil {
		return invalidf("node.add: %v", err)
	}
	if node.Parameters == nil {
		node.Parameters = map[string]any{}
	}

	b.wf.Nodes = append(b.wf.Nodes, node)
	b.names.Add(name)

	res.Changed = true
	res.NodeID = id
	res.NodeName = name
	return nil
}

func (b *batch) updateNode(i int, res *OpResult, op UpdateNode) error {
	if (op.Node == nil) == (op.Patch == nil) {
		return invalidf("node.update requires exactly one of node or patch")
	}
	idx, err := graph.ResolveNode(b.wf.Nodes, op.Selector)
	if err != nil {
		return err
	}
	existing := b.wf.Nodes[idx]

	fields := cloneFields(op.Patch)
	full := op.Node != nil
	if full {
		fields = cloneFields(op.Node)
	}
	// Ids are immutable through update; selectors and connections rely on them.
	delete(fields, "id")

	oldName := existing.Name
	newName := oldName
	if raw, ok := fields["name"]; ok {
		s, _ := raw.(string)
		if strings.TrimSpace(s) == "" {
			return invalidf("node.update: name must be a non-empty string")
		}
		if s != oldName {
			newName = graph.EnsureUniqueName(s, b.wf.Nodes, existing.ID)
		}
		fields["name"] = newName
	}

	current, err := existing.ToMap()
	if err != nil {
		return invalidf("node.update: encoding %q: %v", oldName, err)
	}
	merged, err := mergeNodeFields(current, fields, full)
	if err != nil {
		return invalidf("node.update: merging %q: %v", oldName, err)
	}
	updated, err := graph.NodeFromMap(merged)
	if err != nil {
		return invalidf("node.update: %v", err)
	}
	if updated.Parameters == nil {
		updated.Parameters = map[string]any{}
	}

	b.wf.Nodes[idx] = updated
	if newName != oldName {
		res.RewrittenEdges = b.wf.Connections.RenameNode(oldName, newName)
		b.names.Remove(oldName)
		b.names.Add(newName)
		b.renames = append(b.renames, rename{op: i, from: oldName, to: newName})
		res.PreviousName = oldName
	}

	res.Changed = !cmp.Equal(existing, updated, graphEqual)
	res.NodeID = updated.ID
	res.NodeName = updated.Name
	res.applied = fields
	return nil
}

func (b *batch) removeNode(res *OpResult, op RemoveNode) error {
	idx, err := graph.ResolveNode(b.wf.Nodes, op.Selector)
	if err != nil {
		return err
	}
	node := b.wf.Nodes[idx]

	res.InboundEdges = b.wf.Connections.CountInbound(node.Name)
	res.OutboundEdges = b.wf.Connections.CountOutbound(node.Name)

	b.wf.Nodes = append(b.wf.Nodes[:idx], b.wf.Nodes[idx+1:]...)
	b.names.Remove(node.Name)
	b.wf.Connections.RemoveNodeRefs(node.Name)

	res.Changed = true
	res.NodeID = node.ID
	res.NodeName = node.Name
	return nil
}

// --- Connection operations ---

func (b *batch) checkEndpoints(ref ConnectionRef) error {
	for _, name := range []string{ref.Source, ref.Target} {
		if !b.names.Has(name) {
			return &graph.SelectorError{
				Kind:      graph.ErrNodeNotFound,
				Selector:  graph.Selector{NodeName: name},
				Available: sortedNames(b.names),
			}
		}
	}
	if !validIndex(ref.SourceIndex) || !validIndex(ref.TargetIndex) {
		return invalidf("connection indexes must be between 0 and %d (sourceIndex %d, targetIndex %d)",
			graph.MaxOutputIndex, ref.SourceIndex, ref.TargetIndex)
	}
	return nil
}

func validIndex(i int) bool { return i >= 0 && i <= graph.MaxOutputIndex }

func (b *batch) addConnection(res *OpResult, ref ConnectionRef) error {
	ref = ref.normalized()
	if err := b.checkEndpoints(ref); err != nil {
		return err
	}
	edge := ref.Edge()
	conns := b.wf.Connections

	res.EdgesBefore = conns.CountMatching(ref.Source, ref.Type, ref.SourceIndex, edge)
	conns.AddEdge(ref.Source, ref.Type, ref.SourceIndex, edge)
	res.EdgesAfter = conns.CountMatching(ref.Source, ref.Type, ref.SourceIndex, edge)

	res.Changed = res.EdgesBefore != res.EdgesAfter
	res.Connection = &ref
	return nil
}

func (b *batch) removeConnection(res *OpResult, ref ConnectionRef) error {
	ref = ref.normalized()
	if err := b.checkEndpoints(ref); err != nil {
		return err
	}
	edge := ref.Edge()
	conns := b.wf.Connections

	res.EdgesBefore = conns.CountMatching(ref.Source, ref.Type, ref.SourceIndex, edge)
	conns.RemoveEdge(ref.Source, ref.Type, ref.SourceIndex, edge)
	res.EdgesAfter = conns.CountMatching(ref.Source, ref.Type, ref.SourceIndex, edge)

	res.Changed = res.EdgesBefore != res.EdgesAfter
	res.Connection = &ref
	return nil
}

// defaultNodeName derives a display name from a node type such as
// "n8n-nodes-base.httpRequest" → "httpRequest".
func defaultNodeName(typ string) string {
	if i := strings.LastIndex(typ, "."); i >= 0 && i < len(typ)-1 {
		return typ[i+1:]
	}
	return typ
}
