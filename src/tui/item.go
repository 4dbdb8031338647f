package tui

import (
	"strconv"

	"faultscope/src/ranking"
)

// Item represents a fault record in the report list.
// It wraps the ranked record and implements bubbles/list.Item.
type Item struct {
	ranking.RankedRecord
}

// FilterValue is the value used for fuzzy filtering.
func (i Item) FilterValue() string { return i.Record.FaultID }

// Title returns the primary text for the item (required by list.Item).
func (i Item) Title() string { return i.Record.FaultID }

// Description returns the secondary text for the item (required by list.Item).
func (i Item) Description() string { return ranking.TierName(i.Tier) }

// CountText renders the occurrence count, "n/a" when the strategy could not count.
func (i Item) CountText() string {
	if i.Record.OccurrenceCount == nil {
		return "n/a"
	}
	return strconv.Itoa(*i.Record.OccurrenceCount)
}

func (i Item) lastSeen() string {
	if i.Record.LastOccurrence == nil {
		return ""
	}
	return *i.Record.LastOccurrence
}
