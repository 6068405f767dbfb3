package patch

// Phase is a state of the patch state machine:
//
//	resolved → preflight_checked → applying → postflight_checked → {skipped | persisted} → verified
type Phase string

const (
	PhaseResolved          Phase = "resolved"
	PhasePreflightChecked  Phase = "preflight_checked"
	PhaseApplying          Phase = "applying"
	PhasePostflightChecked Phase = "postflight_checked"
	PhaseSkipped           Phase = "skipped"
	PhasePersisted         Phase = "persisted"
	PhaseVerified          Phase = "verified"
)

// Result is the structured outcome of one patch invocation.
type Result struct {
	PatchID       string     `json:"patchId"`
	WorkflowID    string     `json:"workflowId"`
	Phase         Phase      `json:"phase"`
	PatchedCount  int        `json:"patchedCount"`
	ChangedCount  int        `json:"changedCount"`
	SkippedUpdate bool       `json:"skippedUpdate"`
	SkipReason    string     `json:"skipReason,omitempty"`
	DryRun        bool       `json:"dryRun,omitempty"`
	Operations    []OpResult `json:"operations"`
}

// OpResult records what one operation did to the in-memory graph.
type OpResult struct {
	Index    int  `json:"index"`
	Kind     Kind `json:"op"`
	Changed  bool `json:"changed"`
	Verified bool `json:"verified"`

	// Node operations.
	NodeID         string `json:"nodeId,omitempty"`
	NodeName       string `json:"nodeName,omitempty"`
	PreviousName   string `json:"previousName,omitempty"`
	RewrittenEdges int    `json:"rewrittenEdges,omitempty"`
	InboundEdges   int    `json:"inboundEdges,omitempty"`
	OutboundEdges  int    `json:"outboundEdges,omitempty"`

	// Connection operations.
	Connection  *ConnectionRef `json:"connection,omitempty"`
	EdgesBefore int            `json:"edgesBefore,omitempty"`
	EdgesAfter  int            `json:"edgesAfter,omitempty"`

	// applied holds the update fields the verifier expects to find.
	applied map[string]any
}
