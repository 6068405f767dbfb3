package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

type setChecker map[string]bool

func (s setChecker) CredentialExists(_ context.Context, key string) (bool, error) {
	if key == "explode" {
		return false, errors.New("db down")
	}
	return s[key], nil
}

func TestCredentialRefs(t *testing.T) {
	w := decodeWorkflow(t, `{
		"nodes": [
			{"name": "Slack", "type": "t", "credentials": {"slackApi": {"id": 12, "name": "Bot"}, "oAuth2": {"id": "x9"}}},
			{"name": "Legacy", "type": "t", "credentials": {"httpBasicAuth": "Basic creds"}},
			{"name": "Plain", "type": "t"}
		],
		"connections": {}
	}`)

	want := []CredentialRef{
		{Node: "Slack", Type: "oAuth2", ID: "x9"},
		{Node: "Slack", Type: "slackApi", ID: "12", Name: "Bot"},
		{Node: "Legacy", Type: "httpBasicAuth", Name: "Basic creds"},
	}
	if diff := cmp.Diff(want, CredentialRefs(w)); diff != "" {
		t.Errorf("CredentialRefs mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingCredentials(t *testing.T) {
	w := decodeWorkflow(t, `{
		"nodes": [
			{"name": "ById", "type": "t", "credentials": {"a": {"id": "1", "name": "renamed"}}},
			{"name": "ByName", "type": "t", "credentials": {"b": {"id": "stale", "name": "Known"}}},
			{"name": "Gone", "type": "t", "credentials": {"c": {"id": "404", "name": "Nope"}}}
		],
		"connections": {}
	}`)

	issues, err := MissingCredentials(context.Background(), w, setChecker{"1": true, "Known": true})
	if err != nil {
		t.Fatalf("MissingCredentials: %v", err)
	}
	if len(issues) != 1 || issues[0].Issue != IssueCredentialMissing {
		t.Fatalf("issues = %v", issues)
	}

	w.Nodes[0].Credentials = map[string]any{"a": map[string]any{"id": "explode"}}
	if _, err := MissingCredentials(context.Background(), w, setChecker{}); err == nil {
		t.Error("expected checker error to propagate")
	}
}

func TestDuplicateNodeNames(t *testing.T) {
	w := &Workflow{Nodes: nodesNamed("A", "B", "A", "C", "B", "A")}
	issues := DuplicateNodeNames(w)
	want := []Issue{
		{Issue: IssueDuplicateNodeName, Detail: `3 nodes are named "A"`},
		{Issue: IssueDuplicateNodeName, Detail: `2 nodes are named "B"`},
	}
	if diff := cmp.Diff(want, issues); diff != "" {
		t.Errorf("DuplicateNodeNames mismatch (-want +got):\n%s", diff)
	}
}
