package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/registry"
)

// Severity ranks an audit issue.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Issue codes.
const (
	IssueNotRegistered = "not_registered"
	IssueCollision     = "collision"
	IssueNamingRisk    = "naming_risk"
	IssueInactive      = "inactive_unregistered"
)

// defaultConcurrency bounds AuditMany's fan-out.
const defaultConcurrency = 4

// Registrations is the read side of the registration table.
type Registrations interface {
	WebhooksForWorkflow(ctx context.Context, workflowID string) ([]registry.Registration, error)
	WebhooksForPath(ctx context.Context, method, path string) ([]registry.Registration, error)
}

// WorkflowSource fetches workflows for AuditMany.
type WorkflowSource interface {
	GetWorkflow(ctx context.Context, id string, excludePinnedData bool) (*graph.Workflow, error)
}

// IssueRecorder counts reported issues, typically for metrics.
type IssueRecorder interface {
	WebhookIssue(severity string)
}

// Issue is one audit finding.
type Issue struct {
	Code        string   `json:"issue"`
	Severity    Severity `json:"severity"`
	Node        string   `json:"node"`
	Method      string   `json:"method"`
	Path        string   `json:"path"`
	Detail      string   `json:"detail"`
	WorkflowIDs []string `json:"workflowIds,omitempty"`
}

// Report is the audit of one workflow.
type Report struct {
	WorkflowID   string     `json:"workflowId"`
	WorkflowName string     `json:"workflowName"`
	Active       bool       `json:"active"`
	Endpoints    []Endpoint `json:"endpoints"`
	Issues       []Issue    `json:"issues"`
}

// Count returns the number of issues with the given severity.
func (r *Report) Count(sev Severity) int {
	n := 0
	for _, is := range r.Issues {
		if is.Severity == sev {
			n++
		}
	}
	return n
}

// Analyzer audits workflows against a registration table.
type Analyzer struct {
	regs        Registrations
	logger      *slog.Logger
	recorder    IssueRecorder
	concurrency int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the analyzer's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Analyzer) { a.logger = l }
}

// WithRecorder sets the issue recorder.
func WithRecorder(r IssueRecorder) Option {
	return func(a *Analyzer) { a.recorder = r }
}

// WithConcurrency bounds how many workflows AuditMany audits at once.
func WithConcurrency(n int) Option {
	return func(a *Analyzer) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// NewAnalyzer creates an Analyzer reading regs.
func NewAnalyzer(regs Registrations, opts ...Option) *Analyzer {
	a := &Analyzer{
		regs:        regs,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		concurrency: defaultConcurrency,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Audit checks every webhook node of w:
//   - a node with no registration matching (method, node name) or
//     (method, expected path) is critical on an active workflow and
//     informational on an inactive one;
//   - a method+path pair registered by more than one workflow is critical;
//   - a node name rewritten by kebab-casing is a warning.
func (a *Analyzer) Audit(ctx context.Context, w *graph.Workflow) (*Report, error) {
	rep := &Report{
		WorkflowID:   w.ID,
		WorkflowName: w.Name,
		Active:       w.Active,
		Endpoints:    Endpoints(w),
		Issues:       []Issue{},
	}
	if len(rep.Endpoints) == 0 {
		return rep, nil
	}

	rows, err := a.regs.WebhooksForWorkflow(ctx, w.ID)
	if err != nil {
		return nil, fmt.Errorf("webhook: registrations for %s: %w", w.ID, err)
	}

	for i := range rep.Endpoints {
		ep := &rep.Endpoints[i]
		if ep.NamingRisk {
			rep.Issues = append(rep.Issues, Issue{
				Code: IssueNamingRisk, Severity: SeverityWarning,
				Node: ep.Node, Method: ep.Method, Path: ep.ExpectedPath,
				Detail: fmt.Sprintf("node name %q is rewritten to %q in the webhook path", ep.Node, Kebab(ep.Node)),
			})
		}

		if row, ok := match(rows, *ep); ok {
			ep.Registered = true
			ep.RegisteredPath = registry.NormalizePath(row.WebhookPath)
		} else {
			rep.Issues = append(rep.Issues, unregistered(w, *ep))
		}

		path := ep.ExpectedPath
		if ep.Registered {
			path = ep.RegisteredPath
		}
		owners, err := a.owners(ctx, ep.Method, path)
		if err != nil {
			return nil, err
		}
		if len(owners) > 1 {
			rep.Issues = append(rep.Issues, Issue{
				Code: IssueCollision, Severity: SeverityCritical,
				Node: ep.Node, Method: ep.Method, Path: path,
				Detail:      fmt.Sprintf("%s %s is registered by %d workflows", ep.Method, path, len(owners)),
				WorkflowIDs: owners,
			})
		}
	}

	if a.recorder != nil {
		for _, is := range rep.Issues {
			a.recorder.WebhookIssue(string(is.Severity))
		}
	}
	a.logger.Debug("webhook audit", "workflow_id", w.ID, "endpoints", len(rep.Endpoints),
		"critical", rep.Count(SeverityCritical))
	return rep, nil
}

// AuditMany fetches and audits each workflow, at most the configured
// number at a time. Reports are returned in the order of ids; the first
// error cancels the rest.
func (a *Analyzer) AuditMany(ctx context.Context, src WorkflowSource, ids []string) ([]*Report, error) {
	reports := make([]*Report, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)

	for i, id := range ids {
		g.Go(func() error {
			w, err := src.GetWorkflow(gctx, id, true)
			if err != nil {
				return fmt.Errorf("webhook: fetching workflow %s: %w", id, err)
			}
			if w == nil {
				return fmt.Errorf("webhook: workflow %s not found", id)
			}
			rep, err := a.Audit(gctx, w)
			if err != nil {
				return err
			}
			reports[i] = rep
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, nil
}

func (a *Analyzer) owners(ctx context.Context, method, path string) ([]string, error) {
	rows, err := a.regs.WebhooksForPath(ctx, method, path)
	if err != nil {
		return nil, fmt.Errorf("webhook: registrations for %s %s: %w", method, path, err)
	}
	seen := map[string]bool{}
	var ids []string
	for _, r := range rows {
		if !seen[r.WorkflowID] {
			seen[r.WorkflowID] = true
			ids = append(ids, r.WorkflowID)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// match finds the registration row for ep: same method and either the
// same node name or the exact expected path.
func match(rows []registry.Registration, ep Endpoint) (registry.Registration, bool) {
	for _, r := range rows {
		if !strings.EqualFold(r.Method, ep.Method) {
			continue
		}
		if r.Node == ep.Node || registry.NormalizePath(r.WebhookPath) == ep.ExpectedPath {
			return r, true
		}
	}
	return registry.Registration{}, false
}

func unregistered(w *graph.Workflow, ep Endpoint) Issue {
	is := Issue{Node: ep.Node, Method: ep.Method, Path: ep.ExpectedPath}
	if w.Active {
		is.Code = IssueNotRegistered
		is.Severity = SeverityCritical
		is.Detail = fmt.Sprintf("active workflow has no registration for %s %s", ep.Method, ep.ExpectedPath)
	} else {
		is.Code = IssueInactive
		is.Severity = SeverityInfo
		is.Detail = "workflow is inactive; the webhook registers on activation"
	}
	return is
}

// Markdown renders the report as a short markdown block.
func (r *Report) Markdown() string {
	var sb strings.Builder
	state := "inactive"
	if r.Active {
		state = "active"
	}
	fmt.Fprintf(&sb, "### %s (%s, %s)\n\n", r.WorkflowName, r.WorkflowID, state)
	if len(r.Endpoints) == 0 {
		sb.WriteString("No webhook nodes.\n")
		return sb.String()
	}
	for _, ep := range r.Endpoints {
		mark := "registered"
		if !ep.Registered {
			mark = "NOT registered"
		}
		fmt.Fprintf(&sb, "- `%s /%s` (%s), %s\n", ep.Method, ep.ExpectedPath, ep.Node, mark)
	}
	for _, is := range r.Issues {
		fmt.Fprintf(&sb, "- **%s** %s: %s\n", is.Severity, is.Code, is.Detail)
	}
	return sb.String()
}
