package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

// CreateTool handles the workflow_create MCP tool.
type CreateTool struct {
	store WorkflowCreator
}

// NewCreateTool creates a CreateTool.
func NewCreateTool(store WorkflowCreator) *CreateTool {
	return &CreateTool{store: store}
}

// Definition returns the MCP tool definition for registration.
func (t *CreateTool) Definition() mcp.Tool {
	return mcp.NewTool("workflow_create",
		mcp.WithDescription(
			"Create a new workflow from a JSON definition with name, nodes and connections. "+
				"The graph is validated first; a workflow with dangling connections or duplicate "+
				"node names is rejected. Returns the new workflow's id.",
		),
		mcp.WithString("workflow",
			mcp.Required(),
			mcp.Description(`Workflow JSON: {"name": "...", "nodes": [...], "connections": {...}, "settings": {...}}`),
		),
	)
}

// Handle processes the workflow_create tool call.
func (t *CreateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := strings.TrimSpace(req.GetString("workflow", ""))
	if raw == "" {
		return mcp.NewToolResultError("'workflow' is required"), nil
	}

	var w graph.Workflow
	if err := json.Unmarshal([]byte(raw), &w); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid workflow JSON: %v", err)), nil
	}
	if strings.TrimSpace(w.Name) == "" {
		return mcp.NewToolResultError("workflow 'name' is required"), nil
	}

	snap := graph.Snapshot(&w)
	issues := append(graph.Validate(snap), graph.DuplicateNodeNames(snap)...)
	if len(issues) > 0 {
		var sb strings.Builder
		fmt.Fprintf(&sb, "workflow has %d structural issues; nothing was created", len(issues))
		for _, is := range issues {
			sb.WriteString("\n- ")
			sb.WriteString(is.String())
		}
		return mcp.NewToolResultError(sb.String()), nil
	}

	created, err := t.store.CreateWorkflow(ctx, snap.UpdatePayload())
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to create workflow: %v", err)), nil
	}
	return jsonResult(map[string]any{
		"id":    created.ID,
		"name":  created.Name,
		"nodes": len(created.Nodes),
		"edges": created.Connections.EdgeCount(),
	})
}
