package journal

import (
	"fmt"
	"strings"
)

// Detail level constants for rendering history.
//   - summary: one line per patch
//   - standard: adds skip reasons and errors
//   - full: adds the per-operation results
const (
	DetailSummary  = "summary"
	DetailStandard = "standard"
	DetailFull     = "full"
)

// DetailLevelValues returns the enum values for MCP tool definitions.
func DetailLevelValues() []string {
	return []string{DetailSummary, DetailStandard, DetailFull}
}

// ParseDetailLevel normalizes a detail_level string, defaulting to "standard"
// for empty or unrecognized values.
func ParseDetailLevel(s string) string {
	switch s {
	case DetailSummary, DetailFull:
		return s
	default:
		return DetailStandard
	}
}

// NavigationHint returns a one-line footer when results are capped by a limit.
// Returns an empty string when all results fit or total is 0.
func NavigationHint(showing, total int) string {
	if total <= 0 || showing >= total {
		return ""
	}
	return fmt.Sprintf("\nShowing %d of %d. Raise limit for older patches.", showing, total)
}

// Render formats entries as markdown at the given detail level.
func Render(workflowID string, entries []Entry, total int, detail string) string {
	detail = ParseDetailLevel(detail)
	var sb strings.Builder
	fmt.Fprintf(&sb, "## Patch history for %s\n\n", workflowID)
	if len(entries) == 0 {
		sb.WriteString("No patches recorded.\n")
		return sb.String()
	}

	for _, e := range entries {
		id := e.PatchID
		if id == "" {
			id = fmt.Sprintf("#%d", e.ID)
		}
		fmt.Fprintf(&sb, "- %s `%s` **%s**: %d submitted, %d changed, %d verified",
			e.CreatedAt, id, e.Outcome, e.Submitted, e.ChangedCount, e.PatchedCount)
		if e.DryRun {
			sb.WriteString(" (dry run)")
		}
		sb.WriteString("\n")
		if detail == DetailSummary {
			continue
		}
		if e.SkipReason != "" {
			fmt.Fprintf(&sb, "  - skipped: %s\n", e.SkipReason)
		}
		if e.Error != "" {
			fmt.Fprintf(&sb, "  - error: %s\n", e.Error)
		}
		if detail == DetailFull && e.Operations != "" {
			fmt.Fprintf(&sb, "  - operations: `%s`\n", e.Operations)
		}
	}
	sb.WriteString(NavigationHint(len(entries), total))
	return sb.String()
}
