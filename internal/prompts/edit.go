// Package prompts implements MCP prompt handlers for workflow editing.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence. Unlike tools (which
// the AI calls), prompts are initiated by the user.
package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// EditPrompt handles the workflow-edit MCP prompt.
// It walks the AI through inspecting, patching and verifying a workflow.
type EditPrompt struct{}

// NewEditPrompt creates an EditPrompt.
func NewEditPrompt() *EditPrompt {
	return &EditPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *EditPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("workflow-edit",
		mcp.WithPromptDescription(
			"Edit an existing workflow safely: inspect it, express the change as one "+
				"patch batch, dry-run it, then apply and check the verified result.",
		),
		mcp.WithArgument("workflow_id",
			mcp.ArgumentDescription("ID of the workflow to edit"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What the workflow should do differently"),
		),
	)
}

// Handle processes the workflow-edit prompt request.
func (p *EditPrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	workflowID := strings.TrimSpace(req.Params.Arguments["workflow_id"])
	if workflowID == "" {
		return nil, fmt.Errorf("workflow-edit: workflow_id is required")
	}
	goal := strings.TrimSpace(req.Params.Arguments["goal"])
	if goal == "" {
		goal = "ask me what should change before touching anything"
	}

	return &mcp.GetPromptResult{
		Description: "Edit workflow " + workflowID,
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(fmt.Sprintf(
					"I want to change workflow `%s`. Goal: %s\n\n"+
						"Steps:\n"+
						"1. Read the resource `n8n://workflows/%s/summary` and tell me what the workflow does now\n"+
						"2. Run `workflow_validate`; if it reports issues, list them and ask whether to fix them in the same batch\n"+
						"3. Write ONE `workflow_patch` batch for the whole change. Reference nodes by id when names are not unique, "+
						"and add nodes before the connections that use them\n"+
						"4. Call `workflow_patch` with dry_run=true and show me the per-operation result\n"+
						"5. After I confirm, call it again without dry_run and report patchedCount and any operation that did not verify\n"+
						"6. If the workflow has webhook nodes, finish with `webhook_audit`",
					workflowID, goal, workflowID,
				)),
			},
		},
	}, nil
}
