// Package mcp provides the MCP server exposing fault queries to LLM clients.
package mcp

import "faultscope/src/patterns"

// Manifest is the structured part of a fault or stats tool response.
type Manifest struct {
	ReportID  string          `json:"report_id"`
	FaultID   string          `json:"fault_id,omitempty"`
	BasePath  string          `json:"base_path"`
	Artifact  string          `json:"artifact"`
	Mode      string          `json:"mode"`
	Strategy  string          `json:"strategy"`
	Degraded  bool            `json:"degraded"`
	Reason    string          `json:"reason,omitempty"`
	Counts    TierCounts      `json:"tier_counts"`
	Records   []RecordSummary `json:"records"`
	Truncated int             `json:"truncated,omitempty"`
}

// TierCounts is the size of each ranking tier.
type TierCounts struct {
	Open      int `json:"open"`
	Recurring int `json:"recurring"`
	Single    int `json:"single"`
	Uncounted int `json:"uncounted"`
}

// RecordSummary is an occurrence record with its ranking.
type RecordSummary struct {
	Rank            int     `json:"rank"`
	Tier            string  `json:"tier"`
	FaultID         string  `json:"fault_id"`
	OccurrenceCount *int    `json:"occurrence_count"`
	Level           string  `json:"level"`
	Open            bool    `json:"open"`
	FirstOccurrence *string `json:"first_occurrence"`
	LastOccurrence  *string `json:"last_occurrence"`
	Remediation     string  `json:"remediation,omitempty"`
}

// SearchManifest is the structured part of a search_logs response.
type SearchManifest struct {
	ResultID string         `json:"result_id"`
	Artifact string         `json:"artifact"`
	Mode     string         `json:"mode"`
	Degraded bool           `json:"degraded"`
	Reason   string         `json:"reason,omitempty"`
	Matches  []MatchSummary `json:"matches"`
	// Shapes groups the matched lines by template, most frequent first.
	Shapes []patterns.ShapeCount `json:"shapes,omitempty"`
}

// MatchSummary is a matched line with compacted context.
type MatchSummary struct {
	Line      int64    `json:"line"`
	Timestamp string   `json:"timestamp,omitempty"`
	Text      string   `json:"text"`
	Before    []string `json:"before,omitempty"`
	After     []string `json:"after,omitempty"`
}
