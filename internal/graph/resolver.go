package graph

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// maxAmbiguousCandidates bounds the candidate list of an ambiguity error.
	maxAmbiguousCandidates = 8
	// MaxAvailableNames bounds the name list of a not-found error.
	MaxAvailableNames = 12

	// minSubstringQuery is the shortest normalized name that may fall back
	// to substring matching.
	minSubstringQuery = 3
)

var (
	ErrEmptySelector     = errors.New("graph: selector needs nodeId or nodeName")
	ErrNodeNotFound      = errors.New("graph: node not found")
	ErrAmbiguousSelector = errors.New("graph: ambiguous node selector")
	ErrSelectorMismatch  = errors.New("graph: nodeId and nodeName select different nodes")
)

// Selector identifies one node by id, by name, or both.
type Selector struct {
	NodeID   string `json:"nodeId,omitempty"`
	NodeName string `json:"nodeName,omitempty"`
}

// String renders the selector for error messages.
func (s Selector) String() string {
	switch {
	case s.NodeID != "" && s.NodeName != "":
		return fmt.Sprintf("nodeId %q / nodeName %q", s.NodeID, s.NodeName)
	case s.NodeID != "":
		return fmt.Sprintf("nodeId %q", s.NodeID)
	default:
		return fmt.Sprintf("nodeName %q", s.NodeName)
	}
}

// SelectorError describes why a selector did not resolve to exactly one node.
// It unwraps to one of the Err* sentinels above.
type SelectorError struct {
	Kind       error    `json:"-"`
	Selector   Selector `json:"selector"`
	Candidates []string `json:"candidates,omitempty"`
	Available  []string `json:"available,omitempty"`
}

func (e *SelectorError) Error() string {
	switch e.Kind {
	case ErrAmbiguousSelector:
		return fmt.Sprintf("ambiguous node selector %s matches %s; provide nodeId",
			e.Selector, quoteList(e.Candidates))
	case ErrSelectorMismatch:
		return fmt.Sprintf("selector mismatch: %s resolve to different nodes %s",
			e.Selector, quoteList(e.Candidates))
	case ErrNodeNotFound:
		if len(e.Available) == 0 {
			return fmt.Sprintf("node not found for %s", e.Selector)
		}
		return fmt.Sprintf("node not found for %s; available nodes: %s",
			e.Selector, quoteList(e.Available))
	default:
		return ErrEmptySelector.Error()
	}
}

func (e *SelectorError) Unwrap() error { return e.Kind }

// ResolveNode returns the position of the single node in nodes that sel
// selects. Resolution order:
//
//  1. exact id, when given;
//  2. exact name, then case-insensitive or normalized-token name;
//  3. when both are given they must land on the same node;
//  4. substring match on normalized names for queries of 3+ characters.
func ResolveNode(nodes []Node, sel Selector) (int, error) {
	if sel.NodeID == "" && sel.NodeName == "" {
		return -1, &SelectorError{Kind: ErrEmptySelector, Selector: sel}
	}

	idIdx := -1
	if sel.NodeID != "" {
		for i, n := range nodes {
			if n.ID == sel.NodeID {
				idIdx = i
				break
			}
		}
		if idIdx < 0 {
			return -1, &SelectorError{Kind: ErrNodeNotFound, Selector: sel, Available: availableNames(nodes)}
		}
		if sel.NodeName == "" {
			return idIdx, nil
		}
	}

	matches := matchByName(nodes, sel.NodeName)

	// With an id in hand, an ambiguous name is fine as long as the id's
	// node is among the candidates.
	if idIdx >= 0 {
		for _, m := range matches {
			if m == idIdx {
				return idIdx, nil
			}
		}
		names := []string{nodes[idIdx].Name}
		for _, m := range matches {
			names = append(names, nodes[m].Name)
		}
		return -1, &SelectorError{Kind: ErrSelectorMismatch, Selector: sel, Candidates: names}
	}

	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		return -1, &SelectorError{Kind: ErrNodeNotFound, Selector: sel, Available: availableNames(nodes)}
	default:
		names := make([]string, 0, len(matches))
		for _, m := range matches {
			names = append(names, nodes[m].Name)
		}
		return -1, &SelectorError{Kind: ErrAmbiguousSelector, Selector: sel, Candidates: limit(names, maxAmbiguousCandidates)}
	}
}

// matchByName returns the indexes of the nodes matched by the first name
// stage that yields anything.
func matchByName(nodes []Node, name string) []int {
	var matches []int
	for i, n := range nodes {
		if n.Name == name {
			matches = append(matches, i)
		}
	}
	if len(matches) > 0 {
		return matches
	}

	// Case-insensitive and normalized-token matches form one stage, so
	// "Fetch Data" and "fetch-data" are both candidates for "fetch data".
	norm := NormalizeName(name)
	for i, n := range nodes {
		if strings.EqualFold(n.Name, name) || (norm != "" && NormalizeName(n.Name) == norm) {
			matches = append(matches, i)
		}
	}
	if len(matches) > 0 || utf8.RuneCountInString(norm) < minSubstringQuery {
		return matches
	}

	for i, n := range nodes {
		if strings.Contains(NormalizeName(n.Name), norm) {
			matches = append(matches, i)
		}
	}
	return matches
}

// NormalizeName lowercases name and strips every non-alphanumeric rune.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func availableNames(nodes []Node) []string {
	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}
	return limit(names, MaxAvailableNames)
}

func limit(s []string, n int) []string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = fmt.Sprintf("%q", n)
	}
	return "[" + strings.Join(quoted, ", ") + "]"
}
