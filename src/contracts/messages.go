// Package contracts defines the data model shared by the locate, plan, scan and report
// stages, plus the message types exchanged over the broker in agent mode.
package contracts

import "time"

// ArtifactKind tells the scanner whether the log must be decompressed.
type ArtifactKind string

const (
	ArtifactRaw  ArtifactKind = "raw"
	ArtifactGzip ArtifactKind = "gzip"
)

// LogArtifact is the canonical log file found under a base directory.
// Created once per query by the locator and never mutated afterwards.
type LogArtifact struct {
	Path               string       `json:"path"`
	Kind               ArtifactKind `json:"kind"`
	SizeBytes          int64        `json:"sizeBytes"`
	LocatedSnapshotDir string       `json:"locatedSnapshotDir"`
}

// Mode selects where filtering happens.
type Mode string

const (
	// ModeRemote pipes the artifact through zcat/cat + grep on the remote host.
	ModeRemote Mode = "remote"
	// ModeLocal downloads the artifact once into the cache and scans it in-process.
	ModeLocal Mode = "local"
)

// ScanBudget caps how much input a single scan may consume.
// Both limits are hard stops.
type ScanBudget struct {
	MaxBytes        int64 `json:"maxBytes"`
	MaxLinesPerFile int64 `json:"maxLinesPerFile"`
}

// MatchedLine is one line that survived every filter stage.
// State fields are nil when the line was produced by a strategy that does not
// decode them.
type MatchedLine struct {
	LineNumber      int64  `json:"lineNumber"`
	RawText         string `json:"rawText"`
	Timestamp       string `json:"timestamp,omitempty"`
	FaultID         string `json:"faultId,omitempty"`
	ReportState     *int   `json:"reportState,omitempty"`
	LevelState      *int   `json:"levelState,omitempty"`
	LevelClearState *int   `json:"levelClearState,omitempty"`
	// Countable is false for lines from strategies that cannot reconstruct
	// report/clear transitions.
	Countable bool `json:"countable"`

	Before []ContextLine `json:"before,omitempty"`
	After  []ContextLine `json:"after,omitempty"`
}

// ContextLine is a neighbouring line attached to a search match.
type ContextLine struct {
	LineNumber int64  `json:"lineNumber"`
	Text       string `json:"text"`
}

// OccurrenceRecord summarizes one fault identifier over a whole scan.
// Nil pointers render as JSON null: OccurrenceCount is nil when the counting
// method is unsupported for the data, never silently zero.
type OccurrenceRecord struct {
	FaultID         string  `json:"faultId"`
	FirstOccurrence *string `json:"firstOccurrence"`
	LastOccurrence  *string `json:"lastOccurrence"`
	OccurrenceCount *int    `json:"occurrenceCount"`
	Level           *string `json:"level"`
	// Open is set when the last signal seen for the id was a report.
	Open        bool   `json:"open,omitempty"`
	Remediation string `json:"remediation,omitempty"`
}

// StageCount reports how many lines passed a named filter stage.
type StageCount struct {
	Stage  string `json:"stage"`
	Passed int64  `json:"passed"`
}

// FilterStatistics describes the cascade for observability.
type FilterStatistics struct {
	Strategy       string       `json:"strategy"`
	LinesRead      int64        `json:"linesRead"`
	BytesRead      int64        `json:"bytesRead"`
	Stages         []StageCount `json:"stages"`
	Matched        int64        `json:"matched"`
	RemoteFiltered bool         `json:"remoteFiltered"`
	FallbackUsed   bool         `json:"fallbackUsed"`
}

// Report is the outcome of one fault or statistics query.
type Report struct {
	ID               string             `json:"id"`
	FaultID          string             `json:"faultIdQuery,omitempty"`
	BasePath         string             `json:"basePath"`
	Artifact         LogArtifact        `json:"artifact"`
	Mode             Mode               `json:"mode"`
	Records          []OccurrenceRecord `json:"records"`
	FilterStatistics FilterStatistics   `json:"filterStatistics"`
	Degraded         bool               `json:"degraded"`
	Reason           string             `json:"reason,omitempty"`
	CreatedAt        time.Time          `json:"createdAt"`
}

// SearchResult is the outcome of a generic keyword search.
type SearchResult struct {
	ID               string           `json:"id"`
	BasePath         string           `json:"basePath"`
	Artifact         LogArtifact      `json:"artifact"`
	Mode             Mode             `json:"mode"`
	Matches          []MatchedLine    `json:"matches"`
	FilterStatistics FilterStatistics `json:"filterStatistics"`
	Degraded         bool             `json:"degraded"`
	Reason           string           `json:"reason,omitempty"`
	CreatedAt        time.Time        `json:"createdAt"`
}

// ReportSummary is the index row kept by report stores.
type ReportSummary struct {
	ID        string    `json:"id"`
	FaultID   string    `json:"faultId,omitempty"`
	BasePath  string    `json:"basePath"`
	Records   int       `json:"records"`
	Degraded  bool      `json:"degraded"`
	CreatedAt time.Time `json:"createdAt"`
}

// QueryKind selects the engine entry point for a QueryRequest.
type QueryKind string

const (
	QueryFault QueryKind = "fault"
	QueryStats QueryKind = "stats"
)

// QueryRequest asks an agent to run a query.
// Published to: faultscope.queries
// Key: {request_id}
type QueryRequest struct {
	RequestID    string    `json:"request_id"`
	Kind         QueryKind `json:"kind"`
	FaultID      string    `json:"fault_id,omitempty"`
	BasePath     string    `json:"base_path"`
	Keywords     []string  `json:"keywords,omitempty"`
	Logic        string    `json:"logic,omitempty"`
	Fuzzy        bool      `json:"fuzzy,omitempty"`
	ForceRefresh bool      `json:"force_refresh,omitempty"`
	Timestamp    string    `json:"timestamp"`
}

// QueryResponse carries a finished report or the fatal error that stopped it.
// Published to: faultscope.reports
// Key: {request_id}
type QueryResponse struct {
	RequestID string  `json:"request_id"`
	Report    *Report `json:"report,omitempty"`
	Error     string  `json:"error,omitempty"`
	ErrorKind string  `json:"error_kind,omitempty"`
}

// Topic names used in agent mode.
const (
	// TopicQueries contains query requests
	TopicQueries = "faultscope.queries"

	// TopicReports contains finished reports
	TopicReports = "faultscope.reports"
)
