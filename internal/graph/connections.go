package graph

// EdgeVisitor is called once per edge by Connections.Walk. It returns the
// edge to keep in its place (possibly rewritten) and whether to keep it.
type EdgeVisitor func(source, connType string, slot int, e Edge) (Edge, bool)

// Walk visits every edge in the map. Edges the visitor rejects are
// removed; rewritten edges replace the originals. It returns the number of
// edges that were removed or rewritten.
func (c Connections) Walk(visit EdgeVisitor) int {
	touched := 0
	for source, types := range c {
		for typ, buckets := range types {
			for slot, bucket := range buckets {
				if bucket == nil {
					continue
				}
				kept := bucket[:0]
				for _, e := range bucket {
					next, keep := visit(source, typ, slot, e)
					if !keep {
						touched++
						continue
					}
					if next != e {
						touched++
					}
					kept = append(kept, next)
				}
				buckets[slot] = kept
			}
		}
	}
	return touched
}

// Bucket returns the output bucket for (source, connType, slot), creating
// the source entry and padding intervening slots with empty buckets. The
// pointer stays valid until the next call that grows the same type list.
func (c Connections) Bucket(source, connType string, slot int) *OutputBucket {
	if connType == "" {
		connType = DefaultConnectionType
	}
	types, ok := c[source]
	if !ok {
		types = make(map[string][]OutputBucket)
		c[source] = types
	}
	buckets := types[connType]
	for len(buckets) <= slot {
		buckets = append(buckets, OutputBucket{})
	}
	if buckets[slot] == nil {
		buckets[slot] = OutputBucket{}
	}
	types[connType] = buckets
	return &buckets[slot]
}

// lookupBucket returns the bucket without creating anything.
func (c Connections) lookupBucket(source, connType string, slot int) OutputBucket {
	buckets := c[source][connType]
	if slot < 0 || slot >= len(buckets) {
		return nil
	}
	return buckets[slot]
}

// AddEdge appends e to the bucket unless an identical edge is already
// there or slot is outside 0..MaxOutputIndex. It reports whether the edge
// was added.
func (c Connections) AddEdge(source, connType string, slot int, e Edge) bool {
	if slot < 0 || slot > MaxOutputIndex {
		return false
	}
	b := c.Bucket(source, connType, slot)
	for _, existing := range *b {
		if existing.Matches(e) {
			return false
		}
	}
	*b = append(*b, e)
	return true
}

// RemoveEdge drops every edge in the bucket matching e and returns how
// many were removed. A missing bucket removes nothing.
func (c Connections) RemoveEdge(source, connType string, slot int, e Edge) int {
	if connType == "" {
		connType = DefaultConnectionType
	}
	buckets := c[source][connType]
	if slot < 0 || slot >= len(buckets) {
		return 0
	}
	kept := buckets[slot][:0]
	removed := 0
	for _, existing := range buckets[slot] {
		if existing.Matches(e) {
			removed++
			continue
		}
		kept = append(kept, existing)
	}
	buckets[slot] = kept
	return removed
}

// CountMatching returns how many edges in the bucket match e.
func (c Connections) CountMatching(source, connType string, slot int, e Edge) int {
	if connType == "" {
		connType = DefaultConnectionType
	}
	n := 0
	for _, existing := range c.lookupBucket(source, connType, slot) {
		if existing.Matches(e) {
			n++
		}
	}
	return n
}

// RenameNode moves the source key oldName to newName and rewrites every
// edge that targets oldName. It returns the number of rewritten edges.
func (c Connections) RenameNode(oldName, newName string) int {
	if oldName == newName {
		return 0
	}
	if types, ok := c[oldName]; ok {
		if existing, clash := c[newName]; clash {
			for typ, buckets := range types {
				existing[typ] = append(existing[typ], buckets...)
			}
		} else {
			c[newName] = types
		}
		delete(c, oldName)
	}
	return c.Walk(func(_, _ string, _ int, e Edge) (Edge, bool) {
		if e.Node == oldName {
			e.Node = newName
		}
		return e, true
	})
}

// RemoveNodeRefs deletes name's outgoing entry and every edge targeting
// name. It returns the number of inbound edges removed.
func (c Connections) RemoveNodeRefs(name string) int {
	delete(c, name)
	return c.Walk(func(_, _ string, _ int, e Edge) (Edge, bool) {
		return e, e.Node != name
	})
}

// CountInbound returns the number of edges targeting name.
func (c Connections) CountInbound(name string) int {
	n := 0
	c.each(func(_ string, e Edge) {
		if e.Node == name {
			n++
		}
	})
	return n
}

// CountOutbound returns the number of edges leaving name.
func (c Connections) CountOutbound(name string) int {
	n := 0
	c.each(func(source string, _ Edge) {
		if source == name {
			n++
		}
	})
	return n
}

// EdgeCount returns the total number of edges.
func (c Connections) EdgeCount() int {
	n := 0
	c.each(func(string, Edge) { n++ })
	return n
}

// Edges calls fn for every edge without modifying the map. Unlike Walk it
// never reassigns buckets, so it is safe on a graph that must stay as is.
func (c Connections) Edges(fn func(source, connType string, slot int, e Edge)) {
	for source, types := range c {
		for typ, buckets := range types {
			for slot, bucket := range buckets {
				for _, e := range bucket {
					fn(source, typ, slot, e)
				}
			}
		}
	}
}

func (c Connections) each(fn func(source string, e Edge)) {
	c.Edges(func(source, _ string, _ int, e Edge) { fn(source, e) })
}
