package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"faultscope/src/ranking"
	"faultscope/src/report"
)

// renderDetail renders the detail content for a fault record
func (m MainModel) renderDetail(item Item, maxWidth int) string {
	content := strings.Builder{}
	r := item.Record
	label := m.styles.LabelStyle()

	header := lipgloss.NewStyle().
		Foreground(m.styles.PrimaryBlue).
		Bold(true).
		Render(fmt.Sprintf("Fault %s | Rank %d", r.FaultID, item.Rank))
	fmt.Fprintf(&content, "%s\n\n", header)

	tier := lipgloss.NewStyle().Foreground(m.styles.TierColor(item.Tier)).Bold(true).Render(ranking.TierName(item.Tier))
	rows := [][2]string{
		{"Tier", tier},
		{"First seen", deref(r.FirstOccurrence)},
		{"Last seen", deref(r.LastOccurrence)},
		{"Count", item.CountText()},
		{"Level", report.LevelText(r.Level)},
	}
	if r.Open {
		rows = append(rows, [2]string{"State", "open"})
	} else if r.OccurrenceCount != nil {
		rows = append(rows, [2]string{"State", "cleared"})
	}
	for _, row := range rows {
		fmt.Fprintf(&content, "%s %s\n", label.Render(fmt.Sprintf("%-11s", row[0]+":")), row[1])
	}

	if r.OccurrenceCount == nil {
		fmt.Fprintln(&content)
		note := "Count unavailable: lines came from a strategy that cannot reconstruct report/clear transitions."
		fmt.Fprintln(&content, lipgloss.NewStyle().Foreground(m.styles.TextSecondary).Faint(true).Render(Wrap(note, maxWidth)))
	}

	if r.Remediation != "" {
		fmt.Fprintln(&content)
		fmt.Fprintln(&content, label.Render("Remediation:"))
		fmt.Fprintln(&content, Wrap(r.Remediation, maxWidth))
	}

	return content.String()
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// refreshDetail updates the viewport with content from the selected item
func (m *MainModel) refreshDetail() {
	item, ok := m.listView.GetSelectedItem()
	if !ok {
		m.detailViewport.SetContent("")
		return
	}
	// 1 char padding on each side
	maxWidth := m.detailViewport.Width - 2
	m.detailViewport.SetContent(m.renderDetail(item, maxWidth))
	m.detailViewport.GotoTop()
}

// renderDetailPanel renders the right panel with detail viewport
func (m MainModel) renderDetailPanel(width, height int) string {
	borderColor := m.styles.BorderColor
	if m.detailFocused {
		borderColor = m.styles.AccentBlue
	}
	panel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(borderColor).
		Width(width - 2).
		Height(height)

	if item, ok := m.listView.GetSelectedItem(); ok {
		headerRow := lipgloss.NewStyle().
			Foreground(m.styles.PrimaryBlue).
			Bold(true).
			Padding(0, 1).
			Render(Clip("Fault: "+item.Record.FaultID, width-2))
		return lipgloss.JoinVertical(lipgloss.Left, headerRow, panel.Render(m.detailViewport.View()))
	}

	placeholderRow := lipgloss.NewStyle().Padding(0, 1).Render(" ")
	empty := panel.
		Align(lipgloss.Center, lipgloss.Center).
		Foreground(m.styles.TextSecondary).
		Faint(true).
		Render("No fault occurrences match")
	return lipgloss.JoinVertical(lipgloss.Left, placeholderRow, empty)
}
