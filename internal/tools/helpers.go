// Package tools implements the MCP tool handlers that expose the workflow
// patch engine, the validator and the webhook analyzer to an agent.
//
// Each tool is a struct that receives its dependencies through its
// constructor (DIP) and exposes Definition and Handle for registration.
//
// Design principles:
// - SRP: each file = one tool
// - DIP: tools depend on small interfaces, never on the REST client or a
//   database handle directly
// - User mistakes (bad JSON, unknown node, broken graph) are tool errors
//   the agent can read and act on; Handle only returns a Go error for
//   protocol-level failures.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/patch"
)

// WorkflowGetter reads one workflow.
type WorkflowGetter interface {
	GetWorkflow(ctx context.Context, id string, excludePinnedData bool) (*graph.Workflow, error)
}

// WorkflowCreator creates a workflow.
type WorkflowCreator interface {
	CreateWorkflow(ctx context.Context, payload graph.WorkflowUpdate) (*graph.Workflow, error)
}

// Patcher applies a patch batch.
type Patcher interface {
	Apply(ctx context.Context, workflowID string, ops []patch.Operation, opts patch.Options) (*patch.Result, error)
}

// jsonResult renders v as indented JSON text.
func jsonResult(v any) (*mcp.CallToolResult, error) {
	text, err := encodeJSON(v)
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(text), nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding result: %w", err)
	}
	return string(data), nil
}

// patchErrorText formats a patch failure so the agent can tell what to
// fix: the kind, the phase, the offending operation and the details.
func patchErrorText(err error) string {
	var pe *patch.Error
	if !errors.As(err, &pe) {
		return err.Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s error", pe.Kind)
	if pe.Phase != "" {
		fmt.Fprintf(&sb, " during %s", pe.Phase)
	}
	if pe.Op >= 0 {
		fmt.Fprintf(&sb, " at operation %d", pe.Op)
	}
	sb.WriteString(": ")
	if pe.Message != "" {
		sb.WriteString(pe.Message)
	} else if pe.Err != nil {
		sb.WriteString(pe.Err.Error())
	}
	for _, d := range pe.Details {
		sb.WriteString("\n- ")
		sb.WriteString(d)
	}
	if pe.Kind == patch.KindVerification {
		sb.WriteString("\nThe write was sent but did not stick; re-read the workflow before retrying.")
	}
	return sb.String()
}

// splitIDs parses a comma separated id list, dropping blanks and
// duplicates.
func splitIDs(s string) []string {
	seen := map[string]bool{}
	var ids []string
	for _, part := range strings.Split(s, ",") {
		id := strings.TrimSpace(part)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids
}

// intArg extracts an integer argument; JSON numbers arrive as float64.
func intArg(req mcp.CallToolRequest, key string, defaultVal int) int {
	v, ok := req.GetArguments()[key].(float64)
	if !ok {
		return defaultVal
	}
	return int(v)
}
