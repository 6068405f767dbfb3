// Package patch implements the atomic patch engine: it applies an ordered
// batch of node and connection operations to an isolated snapshot of one
// workflow, refuses to persist anything structurally broken, writes the
// result once, and re-reads the store to prove every claimed change landed.
//
// The engine never talks to a concrete store; it depends on the
// WorkflowStore interface so the REST client, a test fake or any other
// backend can be injected (DIP).
package patch

import "github.com/sulla-ai/flowpatch/internal/graph"

// Kind names an operation variant in results and metrics.
type Kind string

const (
	KindAddNode          Kind = "node.add"
	KindUpdateNode       Kind = "node.update"
	KindRemoveNode       Kind = "node.remove"
	KindAddConnection    Kind = "connection.add"
	KindRemoveConnection Kind = "connection.remove"
)

// Operation is one unit of a patch batch. The concrete types below are the
// only implementations.
type Operation interface {
	Kind() Kind
	isOperation()
}

// AddNode appends a node. Name and id are made unique before insertion.
type AddNode struct {
	Node map[string]any
}

// UpdateNode changes the selected node. Exactly one of Node (full
// replacement, parameters replaced wholesale) or Patch (partial, deep
// merged) is set.
type UpdateNode struct {
	Selector graph.Selector
	Node     map[string]any
	Patch    map[string]any
}

// RemoveNode deletes the selected node and every edge touching it.
type RemoveNode struct {
	Selector graph.Selector
}

// ConnectionRef addresses one edge: Source's output slot SourceIndex of
// type Type, into Target's input slot TargetIndex of type TargetType.
type ConnectionRef struct {
	Source      string `json:"source"`
	Target      string `json:"target"`
	SourceIndex int    `json:"sourceIndex"`
	TargetIndex int    `json:"targetIndex"`
	Type        string `json:"type,omitempty"`
	TargetType  string `json:"targetType,omitempty"`
}

// normalized returns the ref with type labels defaulted to "main".
func (r ConnectionRef) normalized() ConnectionRef {
	if r.Type == "" {
		r.Type = graph.DefaultConnectionType
	}
	if r.TargetType == "" {
		r.TargetType = graph.DefaultConnectionType
	}
	return r
}

// Edge returns the edge record stored in the source's bucket.
func (r ConnectionRef) Edge() graph.Edge {
	r = r.normalized()
	return graph.Edge{Node: r.Target, Type: r.TargetType, Index: r.TargetIndex}
}

// AddConnection adds an edge if it is not already present.
type AddConnection struct {
	ConnectionRef
}

// RemoveConnection removes every copy of an edge.
type RemoveConnection struct {
	ConnectionRef
}

func (AddNode) Kind() Kind          { return KindAddNode }
func (UpdateNode) Kind() Kind       { return KindUpdateNode }
func (RemoveNode) Kind() Kind       { return KindRemoveNode }
func (AddConnection) Kind() Kind    { return KindAddConnection }
func (RemoveConnection) Kind() Kind { return KindRemoveConnection }

func (AddNode) isOperation()          {}
func (UpdateNode) isOperation()       {}
func (RemoveNode) isOperation()       {}
func (AddConnection) isOperation()    {}
func (RemoveConnection) isOperation() {}
