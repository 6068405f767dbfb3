package patch

import (
	"encoding/json"
	"sort"

	"dario.cat/mergo"

	"github.com/sulla-ai/flowpatch/internal/graph"
)

// mergeNodeFields merges fields over the node's current JSON form. Nested
// objects are deep merged. When full is set, a "parameters" value in
// fields replaces the current parameters wholesale: nested parameter
// schemas must not keep stale fragments from the old version.
func mergeNodeFields(current, fields map[string]any, full bool) (map[string]any, error) {
	src := cloneFields(fields)
	params, replaceParams := src["parameters"]
	if full && replaceParams {
		delete(src, "parameters")
	}

	if err := mergo.Merge(&current, src, mergo.WithOverride); err != nil {
		return nil, err
	}

	if full && replaceParams {
		current["parameters"] = params
	}
	return current, nil
}

// cloneFields deep-copies a decoded JSON object so merging never writes
// through to the caller's operation payload.
func cloneFields(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return m
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return m
	}
	return out
}

func sortedNames(names graph.NameSet) []string {
	out := make([]string, 0, len(names))
	for n := range names {
		out = append(out, n)
	}
	sort.Strings(out)
	if len(out) > graph.MaxAvailableNames {
		out = out[:graph.MaxAvailableNames]
	}
	return out
}
