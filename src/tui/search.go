package tui

import (
	"strings"

	"faultscope/src/report"
)

// applyFilter filters items by tier and search query, then refreshes the detail panel.
func (m *MainModel) applyFilter() {
	tier := m.header.TierFilter()
	query := strings.ToLower(strings.TrimSpace(m.searchQuery))

	var filtered []Item
	for _, item := range m.items {
		if tier != 0 && item.Tier != tier {
			continue
		}
		if query != "" && !matchesQuery(item, query) {
			continue
		}
		filtered = append(filtered, item)
	}

	m.listView.SetItems(filtered)
	m.refreshDetail()
}

// matchesQuery searches fault id, timestamps, level and remediation text.
func matchesQuery(item Item, query string) bool {
	r := item.Record
	fields := []string{r.FaultID, report.LevelText(r.Level), r.Remediation, item.lastSeen()}
	if r.FirstOccurrence != nil {
		fields = append(fields, *r.FirstOccurrence)
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), query) {
			return true
		}
	}
	return false
}
