package graph

import "fmt"

// Issue codes reported by the structural validator.
const (
	IssueSourceNodeMissing     = "source_node_missing"
	IssueMalformedOutputBucket = "malformed_output_bucket"
	IssueMissingTargetNode     = "missing_target_node"
	IssueTargetNodeMissing     = "target_node_missing"
	IssueInvalidTargetIndex    = "invalid_target_index"
)

// Issue is one structural problem in a connection map.
type Issue struct {
	Issue  string `json:"issue"`
	Detail string `json:"detail"`
}

// String renders the issue as "code: detail".
func (i Issue) String() string {
	return i.Issue + ": " + i.Detail
}

// Validate checks w's connection map against its node names, including
// any shapes rejected when w was decoded. It never stops at the first
// problem.
func Validate(w *Workflow) []Issue {
	issues := append([]Issue(nil), w.DecodeIssues...)
	return append(issues, ValidateConnections(w.Connections, w.NodeNames())...)
}

// ValidateConnections walks the whole connection map and reports every
// dangling source or target and every invalid target index. Output is
// ordered by source, type, slot and position.
func ValidateConnections(conns Connections, names NameSet) []Issue {
	var issues []Issue
	for _, source := range sortedKeys(conns) {
		if !names.Has(source) {
			issues = append(issues, Issue{
				Issue:  IssueSourceNodeMissing,
				Detail: fmt.Sprintf("connections key %q is not a node name", source),
			})
		}
		types := conns[source]
		for _, typ := range sortedKeys(types) {
			for slot, bucket := range types[typ] {
				for i, e := range bucket {
					at := fmt.Sprintf("connections[%q][%q][%d][%d]", source, typ, slot, i)
					switch {
					case e.Node == "":
						issues = append(issues, Issue{
							Issue:  IssueMissingTargetNode,
							Detail: at + " has no target node",
						})
					case !names.Has(e.Node):
						issues = append(issues, Issue{
							Issue:  IssueTargetNodeMissing,
							Detail: fmt.Sprintf("%s targets unknown node %q", at, e.Node),
						})
					}
					if e.Index < 0 {
						issues = append(issues, Issue{
							Issue:  IssueInvalidTargetIndex,
							Detail: fmt.Sprintf("%s has index %d", at, e.Index),
						})
					}
				}
			}
		}
	}
	return issues
}
