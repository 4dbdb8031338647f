// Package ranking provides shared tier classification for occurrence records.
// Both the MCP server and TUI consume this package so they list faults in the
// same order.
package ranking

import (
	"sort"
	"strconv"

	"faultscope/src/contracts"
)

// Tier constants for record classification, most urgent first.
const (
	TierOpen      = 1 // reported and not cleared when the log ends
	TierRecurring = 2 // more than one report/clear cycle
	TierSingle    = 3 // exactly one cycle
	TierUncounted = 4 // count unavailable for the data
)

// TierName returns the display name of a tier.
func TierName(tier int) string {
	switch tier {
	case TierOpen:
		return "open"
	case TierRecurring:
		return "recurring"
	case TierSingle:
		return "single"
	case TierUncounted:
		return "uncounted"
	default:
		return "unknown"
	}
}

// RankedRecord wraps an OccurrenceRecord with tier and rank information.
type RankedRecord struct {
	Record contracts.OccurrenceRecord
	Tier   int
	Rank   int // Position within the flattened list (1-indexed)
}

// TieredRecords groups records by tier.
type TieredRecords struct {
	Open      []RankedRecord
	Recurring []RankedRecord
	Single    []RankedRecord
	Uncounted []RankedRecord
}

// Rank classifies records into tiers. Within a tier records are ordered by
// count (descending), level (descending), last occurrence (latest first) and
// finally fault id.
func Rank(records []contracts.OccurrenceRecord) TieredRecords {
	if len(records) == 0 {
		return TieredRecords{}
	}

	sorted := make([]contracts.OccurrenceRecord, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if ca, cb := count(a), count(b); ca != cb {
			return ca > cb
		}
		if la, lb := level(a), level(b); la != lb {
			return la > lb
		}
		if ta, tb := deref(a.LastOccurrence), deref(b.LastOccurrence); ta != tb {
			return ta > tb
		}
		return a.FaultID < b.FaultID
	})

	var tc TieredRecords
	for _, rec := range sorted {
		ranked := RankedRecord{Record: rec, Tier: ClassifyTier(rec)}
		switch ranked.Tier {
		case TierOpen:
			tc.Open = append(tc.Open, ranked)
		case TierRecurring:
			tc.Recurring = append(tc.Recurring, ranked)
		case TierSingle:
			tc.Single = append(tc.Single, ranked)
		default:
			tc.Uncounted = append(tc.Uncounted, ranked)
		}
	}
	return tc
}

// FlattenByTier returns all records in tier order and assigns global ranks
// (1-indexed).
func (tc TieredRecords) FlattenByTier() []RankedRecord {
	total := len(tc.Open) + len(tc.Recurring) + len(tc.Single) + len(tc.Uncounted)
	if total == 0 {
		return nil
	}

	result := make([]RankedRecord, 0, total)
	result = append(result, tc.Open...)
	result = append(result, tc.Recurring...)
	result = append(result, tc.Single...)
	result = append(result, tc.Uncounted...)

	for i := range result {
		result[i].Rank = i + 1
	}
	return result
}

// Counts returns the size of each tier.
func (tc TieredRecords) Counts() (open, recurring, single, uncounted int) {
	return len(tc.Open), len(tc.Recurring), len(tc.Single), len(tc.Uncounted)
}

// ClassifyTier determines which tier a record belongs to.
func ClassifyTier(rec contracts.OccurrenceRecord) int {
	switch {
	case rec.Open:
		return TierOpen
	case rec.OccurrenceCount == nil:
		return TierUncounted
	case *rec.OccurrenceCount > 1:
		return TierRecurring
	default:
		return TierSingle
	}
}

func count(rec contracts.OccurrenceRecord) int {
	if rec.OccurrenceCount == nil {
		return -1
	}
	return *rec.OccurrenceCount
}

func level(rec contracts.OccurrenceRecord) int64 {
	if rec.Level == nil {
		return -1
	}
	v, err := strconv.ParseInt(*rec.Level, 0, 64)
	if err != nil {
		return -1
	}
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
