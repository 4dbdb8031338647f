package patterns

import (
	"regexp"
	"sort"
	"strings"
)

// Volatile tokens masked by Shape. Order matters: timestamps and UUIDs contain
// digits that numberPattern would otherwise split.
var (
	// Matches: [2024-05-21 10:00:05.123], [  12.345678]
	bracketTimePattern = regexp.MustCompile(`\[\s*\d[^\]]*\]`)
	// Matches: 2024-05-21T10:00:05.123Z, 2024-05-21 10:00:05,123
	isoTimePattern = regexp.MustCompile(`\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}([.,]\d+)?(Z|[+-]\d{2}:?\d{2})?`)
	// Matches: 550e8400-e29b-41d4-a716-446655440000
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
	// Matches: 0x0165, 0X7fff5fbff8c0
	hexValuePattern = regexp.MustCompile(`\b0[xX][0-9a-fA-F]+\b`)
	// Matches: abc123def456789 (12+ hex chars)
	longHashPattern = regexp.MustCompile(`\b[a-f0-9]{12,}\b`)
	// Matches: 42, 1234
	numberPattern = regexp.MustCompile(`\b\d+\b`)
	// Matches: /opt/vehicle/diag/drivers/brake.c
	absPathPattern = regexp.MustCompile(`/(?:[^/\s]+/)+[^/\s:]+`)

	spacePattern = regexp.MustCompile(`\s+`)
)

// Shape reduces a log line to its template so lines that differ only in
// timestamps, identifiers, counters or paths compare equal.
//
//	[2024-05-21 10:00:05.123] SetFunc fa_id:0x0165 fa_st:1
//	  -> [TS] SetFunc fa_id:[HEX] fa_st:[NUM]
func Shape(line string) string {
	line = bracketTimePattern.ReplaceAllString(line, "[TS]")
	line = isoTimePattern.ReplaceAllString(line, "[TS]")
	line = uuidPattern.ReplaceAllString(line, "[UUID]")
	line = hexValuePattern.ReplaceAllString(line, "[HEX]")
	line = longHashPattern.ReplaceAllString(line, "[HASH]")
	line = absPathPattern.ReplaceAllString(line, "[PATH]")
	line = numberPattern.ReplaceAllString(line, "[NUM]")
	return strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
}

// ShapeCount is one distinct line shape and how often it occurred.
type ShapeCount struct {
	Shape string `json:"shape"`
	Count int    `json:"count"`
	// Example is the first line seen with this shape.
	Example string `json:"example"`
}

// Shapes groups lines by Shape, most frequent first (ties keep first-seen
// order). limit <= 0 returns every shape.
func Shapes(lines []string, limit int) []ShapeCount {
	index := make(map[string]int)
	var out []ShapeCount
	for _, line := range lines {
		s := Shape(line)
		if i, ok := index[s]; ok {
			out[i].Count++
			continue
		}
		index[s] = len(out)
		out = append(out, ShapeCount{Shape: s, Count: 1, Example: line})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}
