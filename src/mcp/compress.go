package mcp

import (
	"regexp"
	"strings"
)

// Log lines are compacted before they reach an LLM: whitespace runs collapse,
// deep paths keep only their file name and a lead shared by every match is
// elided.

var (
	// Matches: /opt/vehicle/diag/drivers/brake.c:42 (three or more directories)
	deepPathPattern = regexp.MustCompile(`/(?:[^/\s]+/){3,}([^/\s:]+(?::\d+)?)`)
	blankRunPattern = regexp.MustCompile(`\s+`)
)

// minSharedLead is the shortest shared lead worth eliding.
const minSharedLead = 20

func compactLine(line string) string {
	line = strings.TrimSpace(blankRunPattern.ReplaceAllString(line, " "))
	return deepPathPattern.ReplaceAllString(line, ".../$1")
}

// sharedLead returns the longest run of whole tokens every line starts with.
// Fewer than two lines never share a lead.
func sharedLead(lines []string) string {
	if len(lines) < 2 {
		return ""
	}
	n := len(lines[0])
	for _, line := range lines[1:] {
		if len(line) < n {
			n = len(line)
		}
		for i := 0; i < n; i++ {
			if line[i] != lines[0][i] {
				n = i
				break
			}
		}
	}
	lead := lines[0][:n]
	if cut := strings.LastIndexByte(lead, ' '); cut >= 0 {
		lead = lead[:cut+1]
	} else {
		lead = ""
	}
	if len(lead) < minSharedLead {
		return ""
	}
	return lead
}

// elideSharedLead replaces the shared lead of lines with "... ".
func elideSharedLead(lines []string) []string {
	lead := sharedLead(lines)
	if lead == "" {
		return lines
	}
	out := make([]string, len(lines))
	for i, line := range lines {
		out[i] = "... " + strings.TrimPrefix(line, lead)
	}
	return out
}
