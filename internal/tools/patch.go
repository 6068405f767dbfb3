package tools

import (
	"context"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/patch"
)

// PatchTool handles the workflow_patch MCP tool.
type PatchTool struct {
	engine Patcher
}

// NewPatchTool creates a PatchTool backed by engine.
func NewPatchTool(engine Patcher) *PatchTool {
	return &PatchTool{engine: engine}
}

// Definition returns the MCP tool definition for registration.
func (t *PatchTool) Definition() mcp.Tool {
	return mcp.NewTool("workflow_patch",
		mcp.WithDescription(
			"Apply an ordered batch of node and connection edits to one workflow and save it once. "+
				"The batch is all-or-nothing: an unknown or ambiguous node, or a graph the edits would "+
				"break, aborts before anything is written. After saving, the workflow is re-read and "+
				"every change is verified. Operations run in order, so a connection may reference a "+
				"node added earlier in the same batch.",
		),
		mcp.WithString("workflow_id",
			mcp.Required(),
			mcp.Description("ID of the workflow to edit"),
		),
		mcp.WithString("operations",
			mcp.Required(),
			mcp.Description(
				`JSON array of operations. Each item has "op" (add|update|remove) and "target" (node|connection). `+
					`Node add: {"node": {...}}. Node update: "nodeId" or "nodeName" plus "patch" (deep merge) `+
					`or "node" (full replacement). Node remove: "nodeId" or "nodeName". `+
					`Connections: {"connection": {"source", "target", "sourceIndex", "targetIndex", "type"}}.`,
			),
		),
		mcp.WithBoolean("dry_run",
			mcp.Description("Validate and report what would change without saving (default false)"),
		),
	)
}

// Handle processes the workflow_patch tool call.
func (t *PatchTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := strings.TrimSpace(req.GetString("workflow_id", ""))
	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' is required"), nil
	}
	raw := strings.TrimSpace(req.GetString("operations", ""))
	if raw == "" {
		return mcp.NewToolResultError("'operations' is required"), nil
	}

	ops, err := patch.DecodeOperations([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(patchErrorText(err)), nil
	}

	res, err := t.engine.Apply(ctx, workflowID, ops, patch.Options{DryRun: req.GetBool("dry_run", false)})
	if err != nil {
		text := patchErrorText(err)
		if res != nil {
			if partial, encErr := encodeJSON(res); encErr == nil {
				text += "\n\n" + partial
			}
		}
		return mcp.NewToolResultError(text), nil
	}
	return jsonResult(res)
}
