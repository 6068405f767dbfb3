package graph

import (
	"context"
	"fmt"
	"sort"
)

// Issue codes outside the structural set. They are reported by the
// validate surfaces but never block a patch.
const (
	IssueCredentialMissing = "credential_missing"
	IssueDuplicateNodeName = "duplicate_node_name"
)

// CredentialRef is one entry of a node's credentials map, e.g.
// "credentials": {"slackApi": {"id": "12", "name": "Slack bot"}}.
type CredentialRef struct {
	Node string `json:"node"`
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
}

// CredentialChecker is a membership test against the credential table.
type CredentialChecker interface {
	CredentialExists(ctx context.Context, idOrName string) (bool, error)
}

// CredentialRefs lists every credential reference in w, ordered by node
// position and credential type. Disabled nodes are included.
func CredentialRefs(w *Workflow) []CredentialRef {
	var refs []CredentialRef
	for _, n := range w.Nodes {
		for _, typ := range sortedKeys(n.Credentials) {
			ref := CredentialRef{Node: n.Name, Type: typ}
			switch v := n.Credentials[typ].(type) {
			case map[string]any:
				ref.ID = stringify(v["id"])
				ref.Name, _ = v["name"].(string)
			case string:
				// Older exports store only the credential name.
				ref.Name = v
			}
			refs = append(refs, ref)
		}
	}
	return refs
}

// MissingCredentials reports a credential_missing issue for every
// reference whose id and name are both unknown to checker.
func MissingCredentials(ctx context.Context, w *Workflow, checker CredentialChecker) ([]Issue, error) {
	var issues []Issue
	for _, ref := range CredentialRefs(w) {
		found := false
		for _, key := range []string{ref.ID, ref.Name} {
			if key == "" {
				continue
			}
			ok, err := checker.CredentialExists(ctx, key)
			if err != nil {
				return nil, fmt.Errorf("checking credential %q of node %q: %w", key, ref.Node, err)
			}
			if ok {
				found = true
				break
			}
		}
		if !found {
			issues = append(issues, Issue{
				Issue:  IssueCredentialMissing,
				Detail: fmt.Sprintf("node %q references unknown %s credential (id %q, name %q)", ref.Node, ref.Type, ref.ID, ref.Name),
			})
		}
	}
	return issues, nil
}

// DuplicateNodeNames reports every node name used more than once. The
// connection map is keyed by name, so such a workflow cannot be patched
// safely.
func DuplicateNodeNames(w *Workflow) []Issue {
	counts := map[string]int{}
	for _, n := range w.Nodes {
		counts[n.Name]++
	}
	var dups []string
	for name, c := range counts {
		if c > 1 {
			dups = append(dups, name)
		}
	}
	sort.Strings(dups)

	issues := make([]Issue, 0, len(dups))
	for _, name := range dups {
		issues = append(issues, Issue{
			Issue:  IssueDuplicateNodeName,
			Detail: fmt.Sprintf("%d nodes are named %q", counts[name], name),
		})
	}
	return issues
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return fmt.Sprintf("%.0f", t)
	case nil:
		return ""
	default:
		return fmt.Sprint(t)
	}
}
