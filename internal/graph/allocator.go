package graph

import (
	"fmt"
	"strings"
)

// EnsureUniqueName returns desired if no node other than excludeID uses it,
// otherwise the first free "desired (2)", "desired (3)", …
func EnsureUniqueName(desired string, nodes []Node, excludeID string) string {
	taken := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if excludeID != "" && n.ID == excludeID {
			continue
		}
		taken[n.Name] = true
	}
	if !taken[desired] {
		return desired
	}
	for i := 2; ; i++ {
		candidate := fmt.Sprintf("%s (%d)", desired, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// EnsureUniqueID returns desired when it is non-empty and unused, otherwise
// a slug of fallbackName suffixed with the first free "-1", "-2", …
func EnsureUniqueID(desired, fallbackName string, nodes []Node) string {
	taken := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		taken[n.ID] = true
	}
	if desired != "" && !taken[desired] {
		return desired
	}
	base := Slugify(fallbackName)
	for i := 1; ; i++ {
		candidate := fmt.Sprintf("%s-%d", base, i)
		if !taken[candidate] {
			return candidate
		}
	}
}

// Slugify lowercases s and collapses every run of non-alphanumeric
// characters into one hyphen, trimming hyphens at both ends.
// Example: "HTTP Request (v2)" → "http-request-v2". Empty input gives "node".
func Slugify(s string) string {
	var b strings.Builder
	prevHyphen := false
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			prevHyphen = false
			continue
		}
		if !prevHyphen {
			b.WriteByte('-')
			prevHyphen = true
		}
	}
	slug := strings.Trim(b.String(), "-")
	if slug == "" {
		return "node"
	}
	return slug
}
