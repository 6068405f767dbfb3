package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

// ValidationReport is the result of validating one workflow.
type ValidationReport struct {
	WorkflowID string        `json:"workflowId"`
	Valid      bool          `json:"valid"`
	Issues     []graph.Issue `json:"issues"`
	Warnings   []graph.Issue `json:"warnings"`
}

// Validator runs the structural checks and, when a credential checker is
// configured, the credential reference check.
type Validator struct {
	creds graph.CredentialChecker
}

// NewValidator creates a Validator. creds may be nil.
func NewValidator(creds graph.CredentialChecker) *Validator {
	return &Validator{creds: creds}
}

// Validate checks w. Structural problems and duplicate names make it
// invalid; missing credentials are warnings.
func (v *Validator) Validate(ctx context.Context, w *graph.Workflow) (*ValidationReport, error) {
	issues := append(graph.Validate(w), graph.DuplicateNodeNames(w)...)
	rep := &ValidationReport{
		WorkflowID: w.ID,
		Valid:      len(issues) == 0,
		Issues:     issues,
		Warnings:   []graph.Issue{},
	}
	if rep.Issues == nil {
		rep.Issues = []graph.Issue{}
	}
	if v.creds != nil {
		missing, err := graph.MissingCredentials(ctx, w, v.creds)
		if err != nil {
			return nil, err
		}
		rep.Warnings = append(rep.Warnings, missing...)
	}
	return rep, nil
}

// ValidateTool handles the workflow_validate MCP tool.
type ValidateTool struct {
	store     WorkflowGetter
	validator *Validator
}

// NewValidateTool creates a ValidateTool.
func NewValidateTool(store WorkflowGetter, validator *Validator) *ValidateTool {
	return &ValidateTool{store: store, validator: validator}
}

// Definition returns the MCP tool definition for registration.
func (t *ValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("workflow_validate",
		mcp.WithDescription(
			"Check a workflow's connection map for dangling sources or targets, malformed output "+
				"buckets and invalid indexes, plus duplicate node names and credential references "+
				"that do not exist. Read-only. Run it before patching a workflow you did not create.",
		),
		mcp.WithString("workflow_id",
			mcp.Required(),
			mcp.Description("ID of the workflow to validate"),
		),
	)
}

// Handle processes the workflow_validate tool call.
func (t *ValidateTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	workflowID := strings.TrimSpace(req.GetString("workflow_id", ""))
	if workflowID == "" {
		return mcp.NewToolResultError("'workflow_id' is required"), nil
	}

	w, err := t.store.GetWorkflow(ctx, workflowID, true)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to fetch workflow: %v", err)), nil
	}
	rep, err := t.validator.Validate(ctx, w)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to check credentials: %v", err)), nil
	}
	return jsonResult(rep)
}
