package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/webhook"
)

// Auditor audits several workflows' webhooks.
type Auditor interface {
	AuditMany(ctx context.Context, src webhook.WorkflowSource, ids []string) ([]*webhook.Report, error)
}

// AuditTool handles the webhook_audit MCP tool.
type AuditTool struct {
	auditor Auditor
	source  webhook.WorkflowSource
}

// NewAuditTool creates an AuditTool.
func NewAuditTool(auditor Auditor, source webhook.WorkflowSource) *AuditTool {
	return &AuditTool{auditor: auditor, source: source}
}

// Definition returns the MCP tool definition for registration.
func (t *AuditTool) Definition() mcp.Tool {
	return mcp.NewTool("webhook_audit",
		mcp.WithDescription(
			"Audit the webhook nodes of one or more workflows: the path each should be served on, "+
				"whether it is registered, paths claimed by more than one workflow, and node names "+
				"that get rewritten in the URL. Critical issues mean callers will get 404s or hit "+
				"the wrong workflow.",
		),
		mcp.WithString("workflow_ids",
			mcp.Required(),
			mcp.Description("Comma separated workflow IDs"),
		),
	)
}

// auditSummary wraps the reports with totals.
type auditSummary struct {
	Workflows int               `json:"workflows"`
	Critical  int               `json:"critical"`
	Warning   int               `json:"warning"`
	Info      int               `json:"info"`
	Reports   []*webhook.Report `json:"reports"`
}

// Handle processes the webhook_audit tool call.
func (t *AuditTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := splitIDs(req.GetString("workflow_ids", ""))
	if len(ids) == 0 {
		return mcp.NewToolResultError("'workflow_ids' is required"), nil
	}
	if t.auditor == nil {
		return mcp.NewToolResultError("webhook audits need a registry; set registry_dsn"), nil
	}

	reports, err := t.auditor.AuditMany(ctx, t.source, ids)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("audit failed: %v", err)), nil
	}

	sum := auditSummary{Workflows: len(reports), Reports: reports}
	for _, r := range reports {
		sum.Critical += r.Count(webhook.SeverityCritical)
		sum.Warning += r.Count(webhook.SeverityWarning)
		sum.Info += r.Count(webhook.SeverityInfo)
	}
	return jsonResult(sum)
}
