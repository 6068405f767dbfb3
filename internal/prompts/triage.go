package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// TriagePrompt handles the webhook-triage MCP prompt.
// It instructs the AI to audit webhooks and explain each finding.
type TriagePrompt struct{}

// NewTriagePrompt creates a TriagePrompt.
func NewTriagePrompt() *TriagePrompt {
	return &TriagePrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *TriagePrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("webhook-triage",
		mcp.WithPromptDescription(
			"Find out why a webhook returns 404 or reaches the wrong workflow. "+
				"Audits the given workflows and proposes fixes for each finding.",
		),
		mcp.WithArgument("workflow_ids",
			mcp.ArgumentDescription("Comma separated workflow IDs"),
			mcp.RequiredArgument(),
		),
	)
}

// Handle processes the webhook-triage prompt request.
func (p *TriagePrompt) Handle(ctx context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	ids := strings.TrimSpace(req.Params.Arguments["workflow_ids"])
	if ids == "" {
		return nil, fmt.Errorf("webhook-triage: workflow_ids is required")
	}

	return &mcp.GetPromptResult{
		Description: "Webhook triage",
		Messages: []mcp.PromptMessage{
			{
				Role: mcp.RoleUser,
				Content: mcp.NewTextContent(
					"Please run `webhook_audit` with workflow_ids=`" + ids + "`.\n\n" +
						"Then:\n" +
						"1. Start with critical issues: for each, say which URL callers will hit and what they get back\n" +
						"2. For collisions, name every workflow claiming the path and suggest which one should move\n" +
						"3. For naming risks, show the path the node name turns into and offer a `workflow_patch` rename\n" +
						"4. Keep info items to one line each; inactive workflows register on activation",
				),
			},
		},
	}, nil
}
