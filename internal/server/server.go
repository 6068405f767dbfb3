// Package server wires all components and creates the MCP and HTTP
// front ends.
//
// This is the composition root (DIP): it creates concrete implementations
// and injects them into the tools/prompts/resources that depend on abstractions.
// No business logic lives here, only wiring.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/mark3labs/mcp-go/server"

	"github.com/sulla-ai/flowpatch/internal/config"
	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/httpapi"
	"github.com/sulla-ai/flowpatch/internal/journal"
	"github.com/sulla-ai/flowpatch/internal/metrics"
	"github.com/sulla-ai/flowpatch/internal/n8n"
	"github.com/sulla-ai/flowpatch/internal/patch"
	"github.com/sulla-ai/flowpatch/internal/prompts"
	"github.com/sulla-ai/flowpatch/internal/registry"
	"github.com/sulla-ai/flowpatch/internal/resources"
	"github.com/sulla-ai/flowpatch/internal/tools"
	"github.com/sulla-ai/flowpatch/internal/webhook"
)

// Version is set at build time via ldflags.
var Version = "dev"

// Runtime holds the assembled front ends and the metrics they report to.
type Runtime struct {
	MCP     *server.MCPServer
	HTTP    *httpapi.Server
	Metrics *metrics.Metrics
}

// New creates every dependency from cfg and registers all tools,
// prompts and resources. This is the single place where all
// dependencies are resolved.
//
// The returned cleanup function closes the registry and journal databases
// and must be called on shutdown (typically via defer). It is always
// non-nil and safe to call even if neither was opened.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Runtime, func(), error) {
	if err := cfg.Validate(); err != nil {
		return nil, noop, err
	}

	// --- Create shared dependencies ---

	m := metrics.New()
	client := n8n.NewClient(cfg.N8NBaseURL, cfg.N8NAPIKey,
		n8n.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout}))

	engine := patch.NewEngine(client,
		patch.WithLogger(logger.With("component", "patch")),
		patch.WithRecorder(m),
		patch.WithVersionCheck(cfg.VersionCheck),
	)

	// The journal is optional: patches run unrecorded without it.
	var (
		patcher tools.Patcher = engine
		history tools.History
		closers []func() error
	)
	if cfg.JournalPath != "" {
		jcfg := journal.DefaultConfig()
		jcfg.Path = cfg.JournalPath
		jcfg.Retain = cfg.JournalRetain
		j, err := journal.New(jcfg)
		if err != nil {
			logger.Warn("patch journal disabled", "error", err)
		} else {
			closers = append(closers, j.Close)
			patcher = journal.Wrap(engine, j, logger.With("component", "journal"))
			history = j
		}
	}

	// So is the registry. Without it, patching and structural
	// validation still work, webhook audits and credential checks do not.
	var (
		creds   graph.CredentialChecker
		auditor *webhook.Analyzer
	)
	if cfg.RegistryDSN != "" {
		reg, err := registry.Open(ctx, cfg.RegistryDSN)
		if err != nil {
			logger.Warn("webhook registry disabled", "error", err)
		} else {
			closers = append(closers, reg.Close)
			creds = reg
			auditor = webhook.NewAnalyzer(reg,
				webhook.WithLogger(logger.With("component", "webhook")),
				webhook.WithRecorder(m),
				webhook.WithConcurrency(cfg.AuditConcurrency),
			)
		}
	}
	validator := tools.NewValidator(creds)

	// --- Create the MCP server ---

	s := server.NewMCPServer(
		"flowpatch",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithPromptCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// --- Register tools ---

	patchTool := tools.NewPatchTool(patcher)
	s.AddTool(patchTool.Definition(), patchTool.Handle)

	validateTool := tools.NewValidateTool(client, validator)
	s.AddTool(validateTool.Definition(), validateTool.Handle)

	createTool := tools.NewCreateTool(client)
	s.AddTool(createTool.Definition(), createTool.Handle)

	// Interfaces must stay untyped nil when the registry is off.
	var (
		toolAuditor     tools.Auditor
		resourceAuditor resources.Auditor
		httpAuditor     httpapi.Auditor
	)
	if auditor != nil {
		toolAuditor, resourceAuditor, httpAuditor = auditor, auditor, auditor
	}
	auditTool := tools.NewAuditTool(toolAuditor, client)
	s.AddTool(auditTool.Definition(), auditTool.Handle)

	historyTool := tools.NewHistoryTool(history)
	s.AddTool(historyTool.Definition(), historyTool.Handle)

	// --- Register prompts ---

	editPrompt := prompts.NewEditPrompt()
	s.AddPrompt(editPrompt.Definition(), editPrompt.Handle)

	triagePrompt := prompts.NewTriagePrompt()
	s.AddPrompt(triagePrompt.Definition(), triagePrompt.Handle)

	// --- Register resources ---

	resourceHandler := resources.NewHandler(client, resourceAuditor)
	s.AddResourceTemplate(resourceHandler.SummaryTemplate(), resourceHandler.HandleSummary)
	s.AddResource(resourceHandler.SchemaResource(), resourceHandler.HandleSchema)

	// --- HTTP front end ---

	api := httpapi.New(httpapi.Deps{
		Store:     client,
		Patcher:   patcher,
		Validator: validator,
		Auditor:   httpAuditor,
		History:   history,
		Logger:    logger.With("component", "http"),
	})

	logger.Debug("server wired",
		"n8n", cfg.N8NBaseURL,
		"registry", auditor != nil,
		"journal", history != nil,
		"version_check", cfg.VersionCheck,
	)
	cleanup := func() {
		for _, closeFn := range closers {
			if err := closeFn(); err != nil {
				logger.Warn("close", "error", err)
			}
		}
	}
	return &Runtime{MCP: s, HTTP: api, Metrics: m}, cleanup, nil
}

// noop is the cleanup returned when wiring fails.
func noop() {}

// serverInstructions returns the system instructions that tell the AI
// how to use flowpatch effectively.
func serverInstructions() string {
	return fmt.Sprintf(`You have access to flowpatch %s, which edits n8n workflows safely.

## Tools
- workflow_patch: apply an ordered batch of node and connection edits and save once
- workflow_validate: report dangling connections, duplicate names and missing credentials
- workflow_create: create a workflow after checking its connection map
- webhook_audit: find unregistered, colliding or oddly named webhook paths
- patch_history: see earlier patch attempts on a workflow and why they failed

## How to patch
1. Read n8n://workflows/{id}/summary first. Never guess node names.
2. Put the whole change in ONE batch. Operations run in order, so add a
   node before connecting it.
3. Prefer nodeId when two nodes could share a name.
4. Use "patch" for small edits (deep merged) and "node" only to replace a
   node's parameters wholesale.
5. Dry-run anything that removes nodes. Removing a node also removes all
   of its connections.
6. Renaming a node rewrites every connection that mentions it.

## Reading results
- patchedCount is the number of changes confirmed by re-reading the saved
  workflow. skippedUpdate=true means nothing was written.
- A verification error means the save went through but a change did not
  stick. Re-read the workflow before retrying.
- Selector and structural errors mean nothing was written. Fix the batch
  and resend it whole.

The operation schema is at n8n://operations/schema.`, Version)
}
