// Package report renders query results as JSON or as an aligned text table.
// Formatting is pure: the same input always yields the same bytes.
package report

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"

	"faultscope/src/contracts"
	"faultscope/src/errkind"
	"faultscope/src/occurrence"
	"faultscope/src/patterns"
)

// Format selects the output encoding.
type Format string

const (
	JSON Format = "json"
	Text Format = "text"
)

// ParseFormat accepts "json" or "text"; empty means text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "text", "table":
		return Text, nil
	case "json":
		return JSON, nil
	default:
		return "", errkind.Newf(errkind.InvalidInput, "format", "", "unknown format %q (want json|text)", s)
	}
}

// document is the JSON shape of a fault report. Field order is fixed.
type document struct {
	Records          []contracts.OccurrenceRecord `json:"records"`
	FilterStatistics contracts.FilterStatistics   `json:"filterStatistics"`
	Degraded         bool                         `json:"degraded"`
	Reason           string                       `json:"reason,omitempty"`
}

type searchDocument struct {
	Matches          []contracts.MatchedLine    `json:"matches"`
	FilterStatistics contracts.FilterStatistics `json:"filterStatistics"`
	Degraded         bool                       `json:"degraded"`
	Reason           string                     `json:"reason,omitempty"`
}

// Records renders bare records, ordered by identifier.
func Records(records []contracts.OccurrenceRecord, f Format) ([]byte, error) {
	return Report(contracts.Report{Records: records}, f)
}

// Report renders a fault or statistics report.
func Report(r contracts.Report, f Format) ([]byte, error) {
	records := sortedCopy(r.Records)
	switch f {
	case JSON:
		doc := document{
			Records:          records,
			FilterStatistics: r.FilterStatistics,
			Degraded:         r.Degraded,
			Reason:           r.Reason,
		}
		if doc.Records == nil {
			doc.Records = []contracts.OccurrenceRecord{}
		}
		return marshal(doc)
	case Text:
		var b strings.Builder
		writeHeader(&b, r.Artifact, r.Mode, r.FilterStatistics, r.Degraded, r.Reason)
		writeRecords(&b, records)
		return []byte(b.String()), nil
	default:
		return nil, errkind.Newf(errkind.InvalidInput, "format", "", "unknown format %q", f)
	}
}

// Search renders keyword search results.
func Search(r contracts.SearchResult, f Format) ([]byte, error) {
	switch f {
	case JSON:
		doc := searchDocument{
			Matches:          r.Matches,
			FilterStatistics: r.FilterStatistics,
			Degraded:         r.Degraded,
			Reason:           r.Reason,
		}
		if doc.Matches == nil {
			doc.Matches = []contracts.MatchedLine{}
		}
		return marshal(doc)
	case Text:
		var b strings.Builder
		writeHeader(&b, r.Artifact, r.Mode, r.FilterStatistics, r.Degraded, r.Reason)
		writeMatches(&b, r.Matches)
		return []byte(b.String()), nil
	default:
		return nil, errkind.Newf(errkind.InvalidInput, "format", "", "unknown format %q", f)
	}
}

// History renders report summaries, newest first as given.
func History(rows []contracts.ReportSummary, f Format) ([]byte, error) {
	switch f {
	case JSON:
		if rows == nil {
			rows = []contracts.ReportSummary{}
		}
		return marshal(rows)
	case Text:
		var b strings.Builder
		if len(rows) == 0 {
			b.WriteString("No saved reports.\n")
			return []byte(b.String()), nil
		}
		table := [][]string{{"REPORT", "CREATED", "FAULT", "RECORDS", "BASE"}}
		for _, r := range rows {
			fault := r.FaultID
			if fault == "" {
				fault = "(all)"
			}
			records := strconv.Itoa(r.Records)
			if r.Degraded {
				records += " (partial)"
			}
			table = append(table, []string{r.ID, r.CreatedAt.UTC().Format(time.RFC3339), fault, records, r.BasePath})
		}
		writeTable(&b, table)
		return []byte(b.String()), nil
	default:
		return nil, errkind.Newf(errkind.InvalidInput, "format", "", "unknown format %q", f)
	}
}

func marshal(v interface{}) ([]byte, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode report: %w", err)
	}
	return append(data, '\n'), nil
}

func sortedCopy(records []contracts.OccurrenceRecord) []contracts.OccurrenceRecord {
	if records == nil {
		return nil
	}
	m := make(map[string]contracts.OccurrenceRecord, len(records))
	for _, r := range records {
		m[r.FaultID] = r
	}
	return occurrence.Sorted(m)
}

func writeHeader(b *strings.Builder, a contracts.LogArtifact, mode contracts.Mode, st contracts.FilterStatistics, degraded bool, reason string) {
	if a.Path != "" {
		fmt.Fprintf(b, "Artifact: %s (%s, %s)\n", a.Path, a.Kind, humanBytes(a.SizeBytes))
	}
	if mode != "" {
		fmt.Fprintf(b, "Mode:     %s\n", mode)
	}
	if st.Strategy != "" {
		strategy := st.Strategy
		if st.FallbackUsed {
			strategy += " (fallback)"
		}
		fmt.Fprintf(b, "Strategy: %s\n", strategy)
		fmt.Fprintf(b, "Scanned:  %d lines, %s", st.LinesRead, humanBytes(st.BytesRead))
		for _, s := range st.Stages {
			fmt.Fprintf(b, " -> %s %d", s.Stage, s.Passed)
		}
		fmt.Fprintf(b, " -> matched %d\n", st.Matched)
	}
	if degraded {
		fmt.Fprintf(b, "PARTIAL:  %s\n", reason)
	}
	if b.Len() > 0 {
		b.WriteString("\n")
	}
}

func writeRecords(b *strings.Builder, records []contracts.OccurrenceRecord) {
	if len(records) == 0 {
		b.WriteString("No fault occurrences found.\n")
		return
	}
	rows := [][]string{{"FAULT ID", "FIRST", "LAST", "COUNT", "LEVEL"}}
	for _, r := range records {
		count := "n/a"
		if r.OccurrenceCount != nil {
			count = strconv.Itoa(*r.OccurrenceCount)
			if r.Open {
				count += " (open)"
			}
		}
		rows = append(rows, []string{r.FaultID, deref(r.FirstOccurrence), deref(r.LastOccurrence), count, LevelText(r.Level)})
	}
	writeTable(b, rows)

	for _, r := range records {
		if r.Remediation != "" {
			fmt.Fprintf(b, "\n%s: %s", r.FaultID, r.Remediation)
		}
	}
	if hasRemediation(records) {
		b.WriteString("\n")
	}
}

func writeMatches(b *strings.Builder, matches []contracts.MatchedLine) {
	if len(matches) == 0 {
		b.WriteString("No matching lines.\n")
		return
	}
	width := len(strconv.FormatInt(lastLineNumber(matches[len(matches)-1]), 10))
	var printed int64
	line := func(n int64, sep, text string) {
		if n <= printed {
			return
		}
		if printed > 0 && n > printed+1 {
			b.WriteString("--\n")
		}
		fmt.Fprintf(b, "%*d%s %s\n", width, n, sep, text)
		printed = n
	}
	for _, m := range matches {
		for _, c := range m.Before {
			line(c.LineNumber, "-", c.Text)
		}
		line(m.LineNumber, ":", m.RawText)
		for _, c := range m.After {
			line(c.LineNumber, "-", c.Text)
		}
	}
}

func lastLineNumber(m contracts.MatchedLine) int64 {
	if len(m.After) > 0 {
		return m.After[len(m.After)-1].LineNumber
	}
	return m.LineNumber
}

// writeTable left-aligns columns by display width.
func writeTable(b *strings.Builder, rows [][]string) {
	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}
	for _, row := range rows {
		var line strings.Builder
		for i, cell := range row {
			if i > 0 {
				line.WriteString("  ")
			}
			line.WriteString(runewidth.FillRight(cell, widths[i]))
		}
		b.WriteString(strings.TrimRight(line.String(), " "))
		b.WriteString("\n")
	}
}

// LevelText renders a level with its name, e.g. "0x3 (out of service)".
func LevelText(level *string) string {
	if level == nil {
		return "-"
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(*level, "0x"), 16, 32)
	if err != nil {
		return *level
	}
	return *level + " (" + patterns.LevelName(int(v)) + ")"
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func hasRemediation(records []contracts.OccurrenceRecord) bool {
	for _, r := range records {
		if r.Remediation != "" {
			return true
		}
	}
	return false
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
