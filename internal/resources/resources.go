// Package resources implements MCP resource handlers for workflows.
//
// Resources provide read-only data that the host can consume for context.
// They use URI-based addressing (n8n://...) following MCP conventions.
package resources

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/patch"
	"github.com/sulla-ai/flowpatch/internal/webhook"
)

const (
	summaryPrefix = "n8n://workflows/"
	summarySuffix = "/summary"
	schemaURI     = "n8n://operations/schema"
)

// WorkflowGetter reads one workflow.
type WorkflowGetter interface {
	GetWorkflow(ctx context.Context, id string, excludePinnedData bool) (*graph.Workflow, error)
}

// Auditor audits the webhooks of one workflow.
type Auditor interface {
	Audit(ctx context.Context, w *graph.Workflow) (*webhook.Report, error)
}

// Handler manages workflow resource endpoints.
type Handler struct {
	store   WorkflowGetter
	auditor Auditor
}

// NewHandler creates a resource Handler. auditor may be nil, in which case
// summaries carry no webhook section.
func NewHandler(store WorkflowGetter, auditor Auditor) *Handler {
	return &Handler{store: store, auditor: auditor}
}

// SummaryTemplate returns the MCP resource template for workflow summaries.
func (h *Handler) SummaryTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate(
		summaryPrefix+"{id}"+summarySuffix,
		"Workflow Summary",
		mcp.WithTemplateDescription("Nodes, connections, structural issues and webhook state of one workflow"),
		mcp.WithTemplateMIMEType("text/markdown"),
	)
}

// SchemaResource returns the MCP resource definition for the operation schema.
func (h *Handler) SchemaResource() mcp.Resource {
	return mcp.NewResource(
		schemaURI,
		"Patch Operation Schema",
		mcp.WithResourceDescription("JSON Schema for the operations argument of workflow_patch"),
		mcp.WithMIMEType("application/schema+json"),
	)
}

// HandleSchema returns the embedded operation schema.
func (h *Handler) HandleSchema(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      req.Params.URI,
			MIMEType: "application/schema+json",
			Text:     patch.OperationsSchema(),
		},
	}, nil
}

// HandleSummary renders one workflow as markdown.
func (h *Handler) HandleSummary(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	uri := req.Params.URI
	id, ok := workflowID(uri)
	if !ok {
		return errorResource(uri, "expected "+summaryPrefix+"{id}"+summarySuffix), nil
	}

	w, err := h.store.GetWorkflow(ctx, id, true)
	if err != nil {
		return errorResource(uri, fmt.Sprintf("fetching workflow %s: %v", id, err)), nil
	}

	var report *webhook.Report
	if h.auditor != nil {
		report, err = h.auditor.Audit(ctx, w)
		if err != nil {
			return errorResource(uri, fmt.Sprintf("auditing webhooks: %v", err)), nil
		}
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/markdown",
			Text:     summarize(w, report),
		},
	}, nil
}

// workflowID extracts the id from n8n://workflows/{id}/summary.
func workflowID(uri string) (string, bool) {
	if !strings.HasPrefix(uri, summaryPrefix) || !strings.HasSuffix(uri, summarySuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, summaryPrefix), summarySuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func summarize(w *graph.Workflow, report *webhook.Report) string {
	var sb strings.Builder
	state := "inactive"
	if w.Active {
		state = "active"
	}
	fmt.Fprintf(&sb, "# %s\n\n", w.Name)
	fmt.Fprintf(&sb, "ID `%s`, %s", w.ID, state)
	if w.VersionID != "" {
		fmt.Fprintf(&sb, ", version `%s`", w.VersionID)
	}
	sb.WriteString("\n\n")

	fmt.Fprintf(&sb, "## Nodes (%d)\n\n", len(w.Nodes))
	for _, n := range w.Nodes {
		fmt.Fprintf(&sb, "- **%s** `%s`", n.Name, n.Type)
		if n.ID != "" {
			fmt.Fprintf(&sb, " id `%s`", n.ID)
		}
		if n.Disabled {
			sb.WriteString(" (disabled)")
		}
		sb.WriteString("\n")
	}

	edges := edgeLines(w.Connections)
	fmt.Fprintf(&sb, "\n## Connections (%d)\n\n", len(edges))
	for _, line := range edges {
		sb.WriteString("- ")
		sb.WriteString(line)
		sb.WriteString("\n")
	}

	issues := append(graph.Validate(w), graph.DuplicateNodeNames(w)...)
	sb.WriteString("\n## Issues\n\n")
	if len(issues) == 0 {
		sb.WriteString("None.\n")
	}
	for _, is := range issues {
		fmt.Fprintf(&sb, "- %s\n", is)
	}

	if report != nil {
		sb.WriteString("\n## Webhooks\n\n")
		sb.WriteString(report.Markdown())
	}
	return sb.String()
}

func edgeLines(conns graph.Connections) []string {
	var lines []string
	for source, types := range conns {
		for typ, slots := range types {
			for slot, bucket := range slots {
				for _, e := range bucket {
					lines = append(lines, fmt.Sprintf("%s[%s][%d] → %s[%d]", source, typ, slot, e.Node, e.Index))
				}
			}
		}
	}
	sort.Strings(lines)
	return lines
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
