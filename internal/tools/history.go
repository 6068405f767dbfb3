package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/journal"
)

// History reads the patch journal.
type History interface {
	Recent(ctx context.Context, workflowID string, limit int) ([]journal.Entry, int, error)
	Get(ctx context.Context, patchID string) (*journal.Entry, error)
}

// HistoryTool handles the patch_history MCP tool.
type HistoryTool struct {
	history History
}

// NewHistoryTool creates a HistoryTool. history may be nil when the
// journal is disabled.
func NewHistoryTool(history History) *HistoryTool {
	return &HistoryTool{history: history}
}

// Definition returns the MCP tool definition for registration.
func (t *HistoryTool) Definition() mcp.Tool {
	return mcp.NewTool("patch_history",
		mcp.WithDescription(
			"List recent patch attempts against a workflow made through this server, newest first: "+
				"outcome, how many operations changed and verified, and why a patch was skipped or failed. "+
				"Use it before retrying a failed patch. Pass patch_id to look up one patch by the id "+
				"workflow_patch returned.",
		),
		mcp.WithString("workflow_id",
			mcp.Description("ID of the workflow (required unless patch_id is given)"),
		),
		mcp.WithString("patch_id",
			mcp.Description("Return only this patch"),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum entries to return (default 10)"),
		),
		mcp.WithString("detail_level",
			mcp.Description("summary: one line each; standard: adds errors and skip reasons; full: adds per-operation results"),
			mcp.Enum(journal.DetailLevelValues()...),
		),
	)
}

// Handle processes the patch_history tool call.
func (t *HistoryTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if t.history == nil {
		return mcp.NewToolResultError("patch history needs the journal; set journal_path in the config"), nil
	}
	detail := journal.ParseDetailLevel(req.GetString("detail_level", ""))
	workflowID := strings.TrimSpace(req.GetString("workflow_id", ""))

	if patchID := strings.TrimSpace(req.GetString("patch_id", "")); patchID != "" {
		e, err := t.history.Get(ctx, patchID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
		}
		if e == nil || (workflowID != "" && e.WorkflowID != workflowID) {
			return mcp.NewToolResultError(fmt.Sprintf("no patch %q in the journal", patchID)), nil
		}
		return mcp.NewToolResultText(journal.Render(e.WorkflowID, []journal.Entry{*e}, 1, detail)), nil
	}

	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' or 'patch_id' is required"), nil
	}
	limit := intArg(req, "limit", 10)
	if limit < 1 {
		return mcp.NewToolResultError("'limit' must be at least 1"), nil
	}

	entries, total, err := t.history.Recent(ctx, workflowID, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to read history: %v", err)), nil
	}
	return mcp.NewToolResultText(journal.Render(workflowID, entries, total, detail)), nil
}
