// Package webhook derives the external paths a workflow's webhook nodes
// should be reachable on and audits them against the engine's
// registration table: missing registrations, paths claimed by more than
// one workflow, and node names that do not survive kebab-casing.
package webhook

import (
	"strings"

	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/registry"
)

// DefaultMethod is the HTTP method of a webhook node without httpMethod.
const DefaultMethod = "GET"

// Kebab lowercases name and collapses every run of characters outside
// [a-z0-9] into one hyphen: "Order Created!" → "order-created".
func Kebab(name string) string {
	return graph.Slugify(name)
}

// ExpectedPath returns "{workflowID}/{kebab(nodeName)}/{subpath}", leaving
// out the subpath segment when it is empty.
func ExpectedPath(workflowID, nodeName, subpath string) string {
	parts := []string{workflowID, Kebab(nodeName)}
	if sub := registry.NormalizePath(subpath); sub != "" {
		parts = append(parts, sub)
	}
	return strings.Join(parts, "/")
}

// NamingRisk reports whether kebab-casing rewrites name, i.e. it contains
// whitespace, upper-case letters or punctuation outside [a-z0-9-].
func NamingRisk(name string) bool {
	return Kebab(name) != name
}

// Endpoint is one webhook node of a workflow.
type Endpoint struct {
	NodeID       string `json:"nodeId,omitempty"`
	Node         string `json:"node"`
	Method       string `json:"method"`
	Subpath      string `json:"subpath,omitempty"`
	ExpectedPath string `json:"expectedPath"`
	NamingRisk   bool   `json:"namingRisk"`

	// Set by the audit.
	Registered     bool   `json:"registered"`
	RegisteredPath string `json:"registeredPath,omitempty"`
}

// Endpoints lists the webhook nodes of w. Disabled nodes are skipped.
func Endpoints(w *graph.Workflow) []Endpoint {
	var out []Endpoint
	for _, n := range w.Nodes {
		if n.Disabled || !isWebhookNode(n) {
			continue
		}
		method := DefaultMethod
		if m, ok := n.Parameters["httpMethod"].(string); ok && m != "" {
			method = strings.ToUpper(m)
		}
		sub, _ := n.Parameters["path"].(string)
		out = append(out, Endpoint{
			NodeID:       n.ID,
			Node:         n.Name,
			Method:       method,
			Subpath:      registry.NormalizePath(sub),
			ExpectedPath: ExpectedPath(w.ID, n.Name, sub),
			NamingRisk:   NamingRisk(n.Name),
		})
	}
	return out
}

func isWebhookNode(n graph.Node) bool {
	typ := strings.ToLower(n.Type)
	return strings.HasSuffix(typ, ".webhook") || (n.WebhookID != "" && strings.Contains(typ, "webhook"))
}
