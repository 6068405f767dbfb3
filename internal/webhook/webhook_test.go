package webhook

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/sulla-ai/flowpatch/internal/graph"
	"github.com/sulla-ai/flowpatch/internal/registry"
)

type fakeRegistrations struct {
	rows []registry.Registration
	err  error
}

func (f *fakeRegistrations) WebhooksForWorkflow(_ context.Context, id string) ([]registry.Registration, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []registry.Registration
	for _, r := range f.rows {
		if r.WorkflowID == id {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeRegistrations) WebhooksForPath(_ context.Context, method, path string) ([]registry.Registration, error) {
	var out []registry.Registration
	for _, r := range f.rows {
		if strings.EqualFold(r.Method, method) && registry.NormalizePath(r.WebhookPath) == path {
			out = append(out, r)
		}
	}
	return out, nil
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) WebhookIssue(sev string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = map[string]int{}
	}
	c.counts[sev]++
}

func webhookWorkflow(id string, active bool, nodes ...graph.Node) *graph.Workflow {
	return &graph.Workflow{ID: id, Name: "wf " + id, Active: active, Nodes: nodes}
}

func hookNode(name, method, path string) graph.Node {
	params := map[string]any{}
	if method != "" {
		params["httpMethod"] = method
	}
	if path != "" {
		params["path"] = path
	}
	return graph.Node{ID: "id-" + Kebab(name), Name: name, Type: "n8n-nodes-base.webhook", Parameters: params}
}

func issueCodes(r *Report) []string {
	var out []string
	for _, is := range r.Issues {
		out = append(out, fmt.Sprintf("%s/%s/%s", is.Code, is.Severity, is.Node))
	}
	return out
}

// --- Path derivation ---

func TestExpectedPath(t *testing.T) {
	tests := []struct {
		wf, node, sub string
		want          string
	}{
		{"wf1", "Order Created", "", "wf1/order-created"},
		{"wf1", "order-created", "/v2/", "wf1/order-created/v2"},
		{"wf1", "Stripe: Payment!", "hooks/in", "wf1/stripe-payment/hooks/in"},
	}
	for _, tt := range tests {
		if got := ExpectedPath(tt.wf, tt.node, tt.sub); got != tt.want {
			t.Errorf("ExpectedPath(%q, %q, %q) = %q, want %q", tt.wf, tt.node, tt.sub, got, tt.want)
		}
	}
}

func TestNamingRisk(t *testing.T) {
	tests := map[string]bool{
		"order-created": false,
		"hook2":         false,
		"Order Created": true,
		"order_created": true,
		"orders":        false,
		"Orders":        true,
	}
	for name, want := range tests {
		if got := NamingRisk(name); got != want {
			t.Errorf("NamingRisk(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestEndpoints_SkipsDisabledAndNonWebhookNodes(t *testing.T) {
	disabled := hookNode("off", "", "")
	disabled.Disabled = true
	w := webhookWorkflow("wf1", true,
		hookNode("in", "post", "x"),
		disabled,
		graph.Node{Name: "Set", Type: "n8n-nodes-base.set"},
	)

	got := Endpoints(w)
	want := []Endpoint{{NodeID: "id-in", Node: "in", Method: "POST", Subpath: "x", ExpectedPath: "wf1/in/x"}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Endpoints mismatch (-want +got):\n%s", diff)
	}
}

// --- Audit ---

func TestAudit(t *testing.T) {
	regs := &fakeRegistrations{rows: []registry.Registration{
		// matched by node name although the stored path differs
		{WebhookPath: "legacy/path", Method: "POST", Node: "orders", WorkflowID: "wf1"},
		// matched by exact path
		{WebhookPath: "wf1/status", Method: "GET", Node: "renamed", WorkflowID: "wf1"},
		// same path claimed by another workflow
		{WebhookPath: "legacy/path", Method: "POST", Node: "copy", WorkflowID: "wf9"},
	}}

	tests := []struct {
		name   string
		wf     *graph.Workflow
		want   []string
		counts map[string]int
	}{
		{
			name: "registered by node name, colliding path",
			wf:   webhookWorkflow("wf1", true, hookNode("orders", "post", "")),
			want: []string{"collision/critical/orders"},
		},
		{
			name: "registered by exact path",
			wf:   webhookWorkflow("wf1", true, hookNode("status", "", "")),
			want: nil,
		},
		{
			name: "method must match",
			wf:   webhookWorkflow("wf1", true, hookNode("status", "delete", "")),
			want: []string{"not_registered/critical/status"},
		},
		{
			name: "inactive workflow is informational",
			wf:   webhookWorkflow("wf2", false, hookNode("Fresh Hook", "post", "")),
			want: []string{"naming_risk/warning/Fresh Hook", "inactive_unregistered/info/Fresh Hook"},
		},
		{
			name: "no webhook nodes",
			wf:   webhookWorkflow("wf3", true, graph.Node{Name: "Set", Type: "n8n-nodes-base.set"}),
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rep, err := NewAnalyzer(regs).Audit(context.Background(), tt.wf)
			if err != nil {
				t.Fatalf("Audit: %v", err)
			}
			if diff := cmp.Diff(tt.want, issueCodes(rep)); diff != "" {
				t.Errorf("issues mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestAudit_CollisionListsWorkflows(t *testing.T) {
	regs := &fakeRegistrations{rows: []registry.Registration{
		{WebhookPath: "wf1/in", Method: "POST", Node: "in", WorkflowID: "wf1"},
		{WebhookPath: "/wf1/in/", Method: "post", Node: "in", WorkflowID: "wf7"},
	}}
	rec := &countingRecorder{}
	rep, err := NewAnalyzer(regs, WithRecorder(rec)).Audit(context.Background(),
		webhookWorkflow("wf1", true, hookNode("in", "POST", "")))
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if rep.Count(SeverityCritical) != 1 {
		t.Fatalf("issues = %v", issueCodes(rep))
	}
	if diff := cmp.Diff([]string{"wf1", "wf7"}, rep.Issues[0].WorkflowIDs); diff != "" {
		t.Errorf("WorkflowIDs mismatch (-want +got):\n%s", diff)
	}
	if !rep.Endpoints[0].Registered || rep.Endpoints[0].RegisteredPath != "wf1/in" {
		t.Errorf("endpoint = %+v", rep.Endpoints[0])
	}
	if rec.counts["critical"] != 1 {
		t.Errorf("recorded = %v", rec.counts)
	}
}

func TestAudit_RegistrationErrorPropagates(t *testing.T) {
	cause := errors.New("db down")
	_, err := NewAnalyzer(&fakeRegistrations{err: cause}).Audit(context.Background(),
		webhookWorkflow("wf1", true, hookNode("in", "", "")))
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
}

func TestAudit_AgainstSQLiteRegistry(t *testing.T) {
	ctx := context.Background()
	store, err := registry.NewSQLite(filepath.Join(t.TempDir(), "registry.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	defer store.Close()
	if err := store.RegisterWebhook(ctx, registry.Registration{
		WebhookPath: "wf1/in", Method: "POST", Node: "in", WorkflowID: "wf1",
	}); err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}

	rep, err := NewAnalyzer(store).Audit(ctx, webhookWorkflow("wf1", true, hookNode("in", "post", ""), hookNode("out", "post", "")))
	if err != nil {
		t.Fatalf("Audit: %v", err)
	}
	if diff := cmp.Diff([]string{"not_registered/critical/out"}, issueCodes(rep)); diff != "" {
		t.Errorf("issues mismatch (-want +got):\n%s", diff)
	}
}

// --- AuditMany ---

type fakeSource struct {
	workflows map[string]*graph.Workflow
}

func (f *fakeSource) GetWorkflow(_ context.Context, id string, _ bool) (*graph.Workflow, error) {
	w, ok := f.workflows[id]
	if !ok {
		return nil, fmt.Errorf("workflow %s: 404", id)
	}
	return w, nil
}

func TestAuditMany(t *testing.T) {
	src := &fakeSource{workflows: map[string]*graph.Workflow{}}
	var ids []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("wf%d", i)
		src.workflows[id] = webhookWorkflow(id, i%2 == 0, hookNode("in", "", ""))
		ids = append(ids, id)
	}

	reps, err := NewAnalyzer(&fakeRegistrations{}, WithConcurrency(3)).AuditMany(context.Background(), src, ids)
	if err != nil {
		t.Fatalf("AuditMany: %v", err)
	}
	if len(reps) != len(ids) {
		t.Fatalf("got %d reports", len(reps))
	}
	for i, rep := range reps {
		if rep.WorkflowID != ids[i] {
			t.Errorf("report %d is for %s", i, rep.WorkflowID)
		}
		wantCritical := 0
		if i%2 == 0 {
			wantCritical = 1
		}
		if got := rep.Count(SeverityCritical); got != wantCritical {
			t.Errorf("%s critical = %d, want %d", rep.WorkflowID, got, wantCritical)
		}
	}
}

func TestAuditMany_FetchErrorFails(t *testing.T) {
	src := &fakeSource{workflows: map[string]*graph.Workflow{"wf1": webhookWorkflow("wf1", true)}}
	_, err := NewAnalyzer(&fakeRegistrations{}).AuditMany(context.Background(), src, []string{"wf1", "missing"})
	if err == nil || !strings.Contains(err.Error(), "missing") {
		t.Errorf("err = %v", err)
	}
}
