package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"faultscope/src/contracts"
	"faultscope/src/ranking"
)

// tierFilters is the cycle order of the tier filter. Zero means all tiers.
var tierFilters = []int{0, ranking.TierOpen, ranking.TierRecurring, ranking.TierSingle, ranking.TierUncounted}

// Header represents the top status bar component.
type Header struct {
	title       string
	degraded    string
	tierFilter  int
	searchQuery string
	searchMode  bool
	styles      *StyleConfig
}

// NewHeader creates a header describing report r.
func NewHeader(r contracts.Report, styles *StyleConfig) Header {
	return Header{
		title:    reportTitle(r),
		degraded: degradedText(r),
		styles:   styles,
	}
}

func reportTitle(r contracts.Report) string {
	subject := "all faults"
	if r.FaultID != "" {
		subject = r.FaultID
	}
	if r.Artifact.Path == "" {
		return subject
	}
	return fmt.Sprintf("%s @ %s (%s)", subject, r.Artifact.Path, r.Mode)
}

func degradedText(r contracts.Report) string {
	if !r.Degraded {
		return ""
	}
	if r.Reason == "" {
		return "partial"
	}
	return "partial: " + r.Reason
}

// TierFilter returns the selected tier, 0 for all.
func (h Header) TierFilter() int {
	return h.tierFilter
}

// CycleFilter cycles to the next tier filter
func (h *Header) CycleFilter() {
	currentIndex := 0
	for i, f := range tierFilters {
		if f == h.tierFilter {
			currentIndex = i
			break
		}
	}
	h.tierFilter = tierFilters[(currentIndex+1)%len(tierFilters)]
}

// SetFilter selects a tier directly.
func (h *Header) SetFilter(tier int) {
	h.tierFilter = tier
}

// SetSearch updates the search state
func (h *Header) SetSearch(query string, mode bool) {
	h.searchQuery = query
	h.searchMode = mode
}

// Render renders the header
func (h Header) Render(width int) string {
	section := lipgloss.NewStyle().
		Foreground(h.styles.PrimaryBlue).
		Bold(true).
		Padding(0, 2)

	status := section.Render(Clip(h.title, max(width/2, 10)))

	filterName := "all"
	if h.tierFilter != 0 {
		filterName = ranking.TierName(h.tierFilter)
	}
	filter := section.Render("Tier: " + filterName)

	var searchText string
	switch {
	case h.searchMode:
		searchText = fmt.Sprintf("Search: %s█", h.searchQuery)
	case h.searchQuery != "":
		searchText = fmt.Sprintf("Search: %s", h.searchQuery)
	default:
		searchText = "[/] to search"
	}
	searchStyle := lipgloss.NewStyle().
		Foreground(h.styles.TextSecondary).
		Padding(0, 2)
	if h.searchMode {
		searchStyle = searchStyle.Foreground(h.styles.PrimaryBlue)
	}

	content := lipgloss.JoinHorizontal(lipgloss.Left, status, filter, searchStyle.Render(searchText))
	if h.degraded != "" {
		warning := lipgloss.NewStyle().
			Foreground(h.styles.WarningColor).
			Bold(true).
			Padding(0, 2).
			Render(Clip(h.degraded, max(width-4, 1)))
		content = lipgloss.JoinVertical(lipgloss.Left, content, warning)
	}

	headerStyle := lipgloss.NewStyle().
		Background(h.styles.DarkBackground).
		BorderStyle(lipgloss.NormalBorder()).
		BorderBottom(true).
		BorderForeground(h.styles.BorderColor).
		Width(width).
		MaxWidth(width)

	return headerStyle.Render(content)
}
