package patch

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

//go:embed operations.schema.json
var operationsSchema string

var compiledSchema = sync.OnceValues(func() (*gojsonschema.Schema, error) {
	return gojsonschema.NewSchema(gojsonschema.NewStringLoader(operationsSchema))
})

// OperationsSchema returns the JSON Schema operation batches are checked
// against.
func OperationsSchema() string { return operationsSchema }

// wireOperation is one element of the JSON operation array.
type wireOperation struct {
	Op         string         `json:"op"`
	Target     string         `json:"target"`
	Node       map[string]any `json:"node"`
	Patch      map[string]any `json:"patch"`
	NodeID     string         `json:"nodeId"`
	NodeName   string         `json:"nodeName"`
	Connection *ConnectionRef `json:"connection"`
}

// DecodeOperations parses a JSON array of operations, e.g.
//
//	[{"op":"add","target":"connection","connection":{"source":"A","target":"B"}}]
//
// The input is validated against the operation schema first; every
// violation is reported in the returned error's Details.
func DecodeOperations(data []byte) ([]Operation, error) {
	schema, err := compiledSchema()
	if err != nil {
		return nil, fmt.Errorf("patch: compiling operation schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, newError(KindInvalid, "", -1, err, "operations are not valid JSON: %v", err)
	}
	if !result.Valid() {
		var details []string
		for _, desc := range result.Errors() {
			details = append(details, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return nil, &Error{
			Kind:    KindInvalid,
			Op:      -1,
			Message: fmt.Sprintf("operations do not match the schema (%d errors)", len(details)),
			Details: boundDetails(details),
		}
	}

	var wire []wireOperation
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, newError(KindInvalid, "", -1, err, "decoding operations: %v", err)
	}

	ops := make([]Operation, 0, len(wire))
	for i, w := range wire {
		op, err := w.operation()
		if err != nil {
			return nil, newError(KindInvalid, "", i, err, "%v", err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (w wireOperation) operation() (Operation, error) {
	sel := graph.Selector{NodeID: w.NodeID, NodeName: w.NodeName}
	switch w.Target + "." + w.Op {
	case "node.add":
		return AddNode{Node: w.Node}, nil
	case "node.update":
		return UpdateNode{Selector: sel, Node: w.Node, Patch: w.Patch}, nil
	case "node.remove":
		return RemoveNode{Selector: sel}, nil
	case "connection.add":
		return AddConnection{ConnectionRef: *w.Connection}, nil
	case "connection.remove":
		return RemoveConnection{ConnectionRef: *w.Connection}, nil
	}
	return nil, fmt.Errorf("unsupported operation %q on %q", w.Op, w.Target)
}
