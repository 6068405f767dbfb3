// Package httpapi exposes the patch engine, the validator and the webhook
// analyzer over a small JSON HTTP API for callers that do not speak MCP.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/recover"

	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/patch"
	"github.com/sulla-ai/flowpatch/internal/tools"
	"github.com/sulla-ai/flowpatch/internal/webhook"
)

// Auditor audits the webhooks of one workflow.
type Auditor interface {
	Audit(ctx context.Context, w *graph.Workflow) (*webhook.Report, error)
}

// Deps are the collaborators the API serves. Auditor and History may be nil.
type Deps struct {
	Store     tools.WorkflowGetter
	Patcher   tools.Patcher
	Validator *tools.Validator
	Auditor   Auditor
	History   tools.History
	Logger    *slog.Logger
}

// Server is the HTTP front end.
type Server struct {
	app  *fiber.App
	deps Deps
}

// patchRequest is the body of POST /workflows/:id/patch.
type patchRequest struct {
	Operations json.RawMessage `json:"operations"`
	DryRun     bool            `json:"dryRun"`
}

// New builds the fiber app and registers every route.
func New(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps}

	app := fiber.New(fiber.Config{AppName: "flowpatch"})
	app.Use(recover.New())
	app.Use(s.logRequests)

	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// ── Workflows ─────────────────────────────────────────────────────
	app.Post("/workflows/:id/patch", s.handlePatch)
	app.Get("/workflows/:id/validate", s.handleValidate)
	app.Get("/workflows/:id/webhooks", s.handleWebhooks)
	app.Get("/workflows/:id/history", s.handleHistory)

	// ── Patches ───────────────────────────────────────────────────────
	app.Get("/patches/:patchId", s.handlePatchEntry)

	s.app = app
	return s
}

// App returns the underlying fiber app.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until ctx is cancelled.
func (s *Server) Listen(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.app.ShutdownWithContext(shutdownCtx)
	}
}

func (s *Server) logRequests(c fiber.Ctx) error {
	start := time.Now()
	err := c.Next()
	s.deps.Logger.Debug("http request",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"elapsed", time.Since(start),
	)
	return err
}

func (s *Server) handlePatch(c fiber.Ctx) error {
	var body patchRequest
	if err := c.Bind().JSON(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}
	if len(body.Operations) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "operations is required"})
	}

	ops, err := patch.DecodeOperations(body.Operations)
	if err != nil {
		return patchError(c, err, nil)
	}
	res, err := s.deps.Patcher.Apply(c.Context(), c.Params("id"), ops, patch.Options{DryRun: body.DryRun})
	if err != nil {
		return patchError(c, err, res)
	}
	return c.JSON(res)
}

func (s *Server) handleValidate(c fiber.Ctx) error {
	w, err := s.deps.Store.GetWorkflow(c.Context(), c.Params("id"), true)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	rep, err := s.deps.Validator.Validate(c.Context(), w)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rep)
}

func (s *Server) handleWebhooks(c fiber.Ctx) error {
	if s.deps.Auditor == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "no webhook registry configured"})
	}
	w, err := s.deps.Store.GetWorkflow(c.Context(), c.Params("id"), true)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	rep, err := s.deps.Auditor.Audit(c.Context(), w)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rep)
}

func (s *Server) handleHistory(c fiber.Ctx) error {
	if s.deps.History == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "patch journal disabled"})
	}
	limit := fiber.Query[int](c, "limit", 10)
	if limit < 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "limit must be at least 1"})
	}
	entries, total, err := s.deps.History.Recent(c.Context(), c.Params("id"), limit)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"entries": entries, "total": total})
}

func (s *Server) handlePatchEntry(c fiber.Ctx) error {
	if s.deps.History == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "patch journal disabled"})
	}
	e, err := s.deps.History.Get(c.Context(), c.Params("patchId"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	if e == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "patch not found"})
	}
	return c.JSON(e)
}

// patchError maps a patch failure to a status code. The partial result
// is included when there is one.
func patchError(c fiber.Ctx, err error, res *patch.Result) error {
	body := fiber.Map{"error": err.Error()}
	var pe *patch.Error
	if errors.As(err, &pe) {
		body["kind"] = pe.Kind
		body["operation"] = pe.Op
		if pe.Phase != "" {
			body["phase"] = pe.Phase
		}
		if len(pe.Details) > 0 {
			body["details"] = pe.Details
		}
	}
	if res != nil {
		body["result"] = res
	}
	return c.Status(statusFor(err)).JSON(body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, patch.ErrInvalidOperation):
		return fiber.StatusBadRequest
	case errors.Is(err, patch.ErrSelector), errors.Is(err, patch.ErrStructural):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, patch.ErrConflict):
		return fiber.StatusConflict
	case errors.Is(err, patch.ErrCollaborator):
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
