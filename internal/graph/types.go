// Package graph models a workflow automation graph (nodes plus a
// name-keyed connection map) and implements the low-level operations the
// patch engine composes: snapshotting, node resolution, name/id
// allocation, edge rewriting and structural validation.
//
// The connection map arrives from the workflow store as loosely shaped
// JSON. It is converted into a typed tree exactly once, at ingress
// (Workflow.UnmarshalJSON), and encoded back at egress. Shapes that cannot
// be represented in the typed tree are kept as Issues on the snapshot so
// the validator still reports them.
//
// Design principles:
//   - Every function here is pure over its inputs; nothing is global.
//   - Node names are the connection keys, so every rename or removal
//     must go through the rewriter to keep the map consistent.
package graph

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// DefaultConnectionType is the connection-type label used when an
// operation or an edge does not specify one.
const DefaultConnectionType = "main"

// MaxOutputIndex is the highest output or input slot index accepted.
// Slots below it are padded with empty buckets, so the bound keeps one
// edge from materializing an unbounded bucket list.
const MaxOutputIndex = 63

// --- Core data structures ---

// Workflow is a snapshot of one workflow graph as returned by the store.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Active      bool           `json:"active"`
	Nodes       []Node         `json:"nodes"`
	Connections Connections    `json:"connections"`
	Settings    map[string]any `json:"settings"`
	StaticData  map[string]any `json:"staticData"`
	VersionID   string         `json:"versionId,omitempty"`

	// DecodeIssues holds connection shapes that could not be converted
	// into the typed tree when the workflow was decoded.
	DecodeIssues []Issue `json:"-"`
}

// WorkflowUpdate is the payload persisted by the store's update call.
type WorkflowUpdate struct {
	Name        string         `json:"name"`
	Nodes       []Node         `json:"nodes"`
	Connections Connections    `json:"connections"`
	Settings    map[string]any `json:"settings"`
	StaticData  map[string]any `json:"staticData"`
}

// UpdatePayload returns the subset of the workflow the store persists.
func (w *Workflow) UpdatePayload() WorkflowUpdate {
	return WorkflowUpdate{
		Name:        w.Name,
		Nodes:       w.Nodes,
		Connections: w.Connections,
		Settings:    w.Settings,
		StaticData:  w.StaticData,
	}
}

// Position is a node's [x, y] canvas coordinate.
type Position [2]float64

// Node is one step of a workflow. Fields the engine does not interpret
// are kept in Extra and written back unchanged.
type Node struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	TypeVersion float64        `json:"typeVersion,omitempty"`
	Position    Position       `json:"position"`
	Parameters  map[string]any `json:"parameters"`
	Credentials map[string]any `json:"credentials,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	WebhookID   string         `json:"webhookId,omitempty"`

	Extra map[string]any `json:"-"`
}

var knownNodeFields = map[string]bool{
	"id":          true,
	"name":        true,
	"type":        true,
	"typeVersion": true,
	"position":    true,
	"parameters":  true,
	"credentials": true,
	"disabled":    true,
	"webhookId":   true,
}

// UnmarshalJSON decodes the known node fields and stashes the rest in Extra.
func (n *Node) UnmarshalJSON(data []byte) error {
	type plain Node
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	*n = Node(p)
	n.Extra = nil
	for key, raw := range fields {
		if knownNodeFields[key] {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return fmt.Errorf("node field %q: %w", key, err)
		}
		if n.Extra == nil {
			n.Extra = make(map[string]any)
		}
		n.Extra[key] = v
	}
	return nil
}

// MarshalJSON encodes the node including any preserved Extra fields.
func (n Node) MarshalJSON() ([]byte, error) {
	type plain Node
	data, err := json.Marshal(plain(n))
	if err != nil || len(n.Extra) == 0 {
		return data, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	for k, v := range n.Extra {
		if _, taken := m[k]; !taken {
			m[k] = v
		}
	}
	return json.Marshal(m)
}

// ToMap converts the node into its generic JSON object form.
func (n Node) ToMap() (map[string]any, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// NodeFromMap converts a generic JSON object into a Node.
func NodeFromMap(m map[string]any) (Node, error) {
	var n Node
	data, err := json.Marshal(m)
	if err != nil {
		return n, err
	}
	if err := json.Unmarshal(data, &n); err != nil {
		return n, fmt.Errorf("decoding node: %w", err)
	}
	return n, nil
}

// Edge is one directed link into a target node's input slot.
type Edge struct {
	Node  string `json:"node"`
	Type  string `json:"type"`
	Index int    `json:"index"`
}

// Matches reports whether two edges address the same target slot.
func (e Edge) Matches(other Edge) bool {
	return e.Node == other.Node && e.Type == other.Type && e.Index == other.Index
}

// OutputBucket is the ordered list of edges leaving one output slot.
type OutputBucket []Edge

// MarshalJSON encodes an empty bucket as [] rather than null; the remote
// engine pads sparse outputs with empty arrays.
func (b OutputBucket) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Edge(b))
}

// Connections maps source node name → connection type → output buckets.
type Connections map[string]map[string][]OutputBucket

// --- Ingress conversion ---

// UnmarshalJSON decodes a workflow, converting the connection map into
// the typed tree and recording anything it could not convert.
func (w *Workflow) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID          string          `json:"id"`
		Name        string          `json:"name"`
		Active      bool            `json:"active"`
		Nodes       []Node          `json:"nodes"`
		Connections json.RawMessage `json:"connections"`
		Settings    map[string]any  `json:"settings"`
		StaticData  any             `json:"staticData"`
		VersionID   string          `json:"versionId"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	conns, issues, err := DecodeConnections(raw.Connections)
	if err != nil {
		return err
	}

	*w = Workflow{
		ID:           raw.ID,
		Name:         raw.Name,
		Active:       raw.Active,
		Nodes:        raw.Nodes,
		Connections:  conns,
		Settings:     raw.Settings,
		VersionID:    raw.VersionID,
		DecodeIssues: issues,
	}
	// staticData is null, an object, or (on old exports) a JSON string.
	switch sd := raw.StaticData.(type) {
	case map[string]any:
		w.StaticData = sd
	case string:
		var m map[string]any
		if json.Unmarshal([]byte(sd), &m) == nil {
			w.StaticData = m
		}
	}
	return nil
}

// DecodeConnections converts a raw connection map into the typed tree.
// Only a non-object top level is an error; every other shape problem is
// returned as an Issue and the offending fragment is left out of the tree.
func DecodeConnections(raw json.RawMessage) (Connections, []Issue, error) {
	conns := make(Connections)
	if len(raw) == 0 || string(raw) == "null" {
		return conns, nil, nil
	}

	var sources map[string]json.RawMessage
	if err := json.Unmarshal(raw, &sources); err != nil {
		return nil, nil, fmt.Errorf("connections must be an object: %w", err)
	}

	var issues []Issue
	for _, source := range sortedKeys(sources) {
		conns[source] = make(map[string][]OutputBucket)

		var types map[string]json.RawMessage
		if err := json.Unmarshal(sources[source], &types); err != nil {
			issues = append(issues, Issue{
				Issue:  IssueMalformedOutputBucket,
				Detail: fmt.Sprintf("connections[%q] is not an object", source),
			})
			continue
		}

		for _, typ := range sortedKeys(types) {
			buckets, typeIssues := decodeBuckets(source, typ, types[typ])
			issues = append(issues, typeIssues...)
			conns[source][typ] = buckets
		}
	}
	return conns, issues, nil
}

func decodeBuckets(source, typ string, raw json.RawMessage) ([]OutputBucket, []Issue) {
	var slots []json.RawMessage
	if err := json.Unmarshal(raw, &slots); err != nil {
		// Index-keyed objects ({"0": [...], "1": [...]}) convert to arrays.
		var keyed map[string]json.RawMessage
		if json.Unmarshal(raw, &keyed) != nil {
			return nil, []Issue{{
				Issue:  IssueMalformedOutputBucket,
				Detail: fmt.Sprintf("connections[%q][%q] is neither an array nor an object", source, typ),
			}}
		}
		converted, ok := keyedToSlots(keyed)
		if !ok {
			return nil, []Issue{{
				Issue:  IssueMalformedOutputBucket,
				Detail: fmt.Sprintf("connections[%q][%q] has output keys that are not indexes 0..%d", source, typ, MaxOutputIndex),
			}}
		}
		slots = converted
	}

	var issues []Issue
	buckets := make([]OutputBucket, len(slots))
	for slot, rawBucket := range slots {
		if len(rawBucket) == 0 || string(rawBucket) == "null" {
			continue
		}
		var rawEdges []json.RawMessage
		if err := json.Unmarshal(rawBucket, &rawEdges); err != nil {
			issues = append(issues, Issue{
				Issue:  IssueMalformedOutputBucket,
				Detail: fmt.Sprintf("connections[%q][%q][%d] is not an array", source, typ, slot),
			})
			continue
		}
		for i, rawEdge := range rawEdges {
			edge, issue, ok := decodeEdge(rawEdge)
			if !ok {
				issue.Detail = fmt.Sprintf("connections[%q][%q][%d][%d]: %s", source, typ, slot, i, issue.Detail)
				issues = append(issues, issue)
				continue
			}
			buckets[slot] = append(buckets[slot], edge)
		}
	}
	return buckets, issues
}

func keyedToSlots(keyed map[string]json.RawMessage) ([]json.RawMessage, bool) {
	maxSlot := -1
	indexed := make(map[int]json.RawMessage, len(keyed))
	for k, v := range keyed {
		slot, err := strconv.Atoi(k)
		if err != nil || slot < 0 || slot > MaxOutputIndex {
			return nil, false
		}
		indexed[slot] = v
		if slot > maxSlot {
			maxSlot = slot
		}
	}
	slots := make([]json.RawMessage, maxSlot+1)
	for slot, v := range indexed {
		slots[slot] = v
	}
	return slots, true
}

func decodeEdge(raw json.RawMessage) (Edge, Issue, bool) {
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
		return Edge{}, Issue{Issue: IssueMalformedOutputBucket, Detail: "edge is not an object"}, false
	}

	e := Edge{Type: DefaultConnectionType}
	if node, ok := fields["node"].(string); ok {
		e.Node = node
	}
	if typ, ok := fields["type"].(string); ok && typ != "" {
		e.Type = typ
	}

	idx, ok := fields["index"].(float64)
	if !ok || idx != float64(int(idx)) {
		return Edge{}, Issue{
			Issue:  IssueInvalidTargetIndex,
			Detail: fmt.Sprintf("edge to %q has index %v", e.Node, fields["index"]),
		}, false
	}
	e.Index = int(idx)
	return e, Issue{}, true
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
