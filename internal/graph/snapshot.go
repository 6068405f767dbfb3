package graph

// Snapshot returns an isolated working copy of w: no slice, map or nested
// parameter value is shared with the original. Missing containers are
// defaulted to empty ones so callers never have to nil-check them.
func Snapshot(w *Workflow) *Workflow {
	if w == nil {
		return &Workflow{
			Nodes:       []Node{},
			Connections: make(Connections),
			Settings:    map[string]any{},
			StaticData:  map[string]any{},
		}
	}

	c := &Workflow{
		ID:          w.ID,
		Name:        w.Name,
		Active:      w.Active,
		VersionID:   w.VersionID,
		Nodes:       make([]Node, len(w.Nodes)),
		Connections: w.Connections.Clone(),
		Settings:    cloneMap(w.Settings),
		StaticData:  cloneMap(w.StaticData),
	}
	for i, n := range w.Nodes {
		c.Nodes[i] = n.Clone()
	}
	if len(w.DecodeIssues) > 0 {
		c.DecodeIssues = append([]Issue(nil), w.DecodeIssues...)
	}
	if c.Settings == nil {
		c.Settings = map[string]any{}
	}
	if c.StaticData == nil {
		c.StaticData = map[string]any{}
	}
	return c
}

// Clone returns a deep copy of the node.
func (n Node) Clone() Node {
	c := n
	c.Parameters = cloneMap(n.Parameters)
	if c.Parameters == nil {
		c.Parameters = map[string]any{}
	}
	c.Credentials = cloneMap(n.Credentials)
	c.Extra = cloneMap(n.Extra)
	return c
}

// Clone returns a deep copy of the connection map. Nil buckets stay nil.
func (c Connections) Clone() Connections {
	out := make(Connections, len(c))
	for source, types := range c {
		outTypes := make(map[string][]OutputBucket, len(types))
		for typ, buckets := range types {
			outBuckets := make([]OutputBucket, len(buckets))
			for i, b := range buckets {
				if b != nil {
					outBuckets[i] = append(OutputBucket{}, b...)
				}
			}
			outTypes[typ] = outBuckets
		}
		out[source] = outTypes
	}
	return out
}

// NodeNames returns the set of node names in the workflow.
func (w *Workflow) NodeNames() NameSet {
	names := make(NameSet, len(w.Nodes))
	for _, n := range w.Nodes {
		names.Add(n.Name)
	}
	return names
}

// NodeByName returns the node with the exact name, if present.
func (w *Workflow) NodeByName(name string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.Name == name {
			return n, true
		}
	}
	return Node{}, false
}

// NodeByID returns the node with the exact id, if present.
func (w *Workflow) NodeByID(id string) (Node, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}
	return Node{}, false
}

// NameSet is the tracked set of node names during a patch.
type NameSet map[string]struct{}

// Has reports whether name is in the set.
func (s NameSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Add inserts name.
func (s NameSet) Add(name string) { s[name] = struct{}{} }

// Remove deletes name.
func (s NameSet) Remove(name string) { delete(s, name) }

// cloneMap deep-copies a decoded JSON object.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}
