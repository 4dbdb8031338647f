package mcp

import (
	"faultscope/src/contracts"
	"faultscope/src/patterns"
	"faultscope/src/ranking"
	"faultscope/src/report"
)

const (
	// DefaultLimit caps the records listed in a manifest.
	DefaultLimit = 25
	// shapeLimit caps the line shapes listed in a search manifest.
	shapeLimit = 10
)

// ToManifest ranks the report's records and keeps the first limit of them.
func ToManifest(r *contracts.Report, limit int) Manifest {
	if limit <= 0 {
		limit = DefaultLimit
	}

	tiers := ranking.Rank(r.Records)
	open, recurring, single, uncounted := tiers.Counts()

	m := Manifest{
		ReportID: r.ID,
		FaultID:  r.FaultID,
		BasePath: r.BasePath,
		Artifact: r.Artifact.Path,
		Mode:     string(r.Mode),
		Strategy: r.FilterStatistics.Strategy,
		Degraded: r.Degraded,
		Reason:   r.Reason,
		Counts:   TierCounts{Open: open, Recurring: recurring, Single: single, Uncounted: uncounted},
		Records:  []RecordSummary{},
	}

	for _, rr := range tiers.FlattenByTier() {
		if len(m.Records) == limit {
			m.Truncated++
			continue
		}
		m.Records = append(m.Records, RecordSummary{
			Rank:            rr.Rank,
			Tier:            ranking.TierName(rr.Tier),
			FaultID:         rr.Record.FaultID,
			OccurrenceCount: rr.Record.OccurrenceCount,
			Level:           report.LevelText(rr.Record.Level),
			Open:            rr.Record.Open,
			FirstOccurrence: rr.Record.FirstOccurrence,
			LastOccurrence:  rr.Record.LastOccurrence,
			Remediation:     rr.Record.Remediation,
		})
	}
	return m
}

// ToSearchManifest compacts search matches for an LLM reader.
func ToSearchManifest(res *contracts.SearchResult) SearchManifest {
	m := SearchManifest{
		ResultID: res.ID,
		Artifact: res.Artifact.Path,
		Mode:     string(res.Mode),
		Degraded: res.Degraded,
		Reason:   res.Reason,
		Matches:  make([]MatchSummary, 0, len(res.Matches)),
	}

	raw := make([]string, len(res.Matches))
	texts := make([]string, len(res.Matches))
	for i, match := range res.Matches {
		raw[i] = match.RawText
		texts[i] = compactLine(match.RawText)
	}
	texts = elideSharedLead(texts)
	if len(raw) > 1 {
		m.Shapes = patterns.Shapes(raw, shapeLimit)
	}

	for i, match := range res.Matches {
		m.Matches = append(m.Matches, MatchSummary{
			Line:      match.LineNumber,
			Timestamp: match.Timestamp,
			Text:      texts[i],
			Before:    contextTexts(match.Before),
			After:     contextTexts(match.After),
		})
	}
	return m
}

func contextTexts(lines []contracts.ContextLine) []string {
	if len(lines) == 0 {
		return nil
	}
	out := make([]string, len(lines))
	for i, l := range lines {
		out[i] = compactLine(l.Text)
	}
	return out
}
