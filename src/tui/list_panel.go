package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"
)

// renderListPanel renders the left panel with the ranked records
func (m MainModel) renderListPanel(width, height int) string {
	listPanel := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(m.styles.BorderColor).
		Width(width - 2).
		Height(height).
		Render(m.listView.Render())

	delegate := m.listView.GetDelegate()
	headerText := fmt.Sprintf("%*s │ %-*s │ %*s │ %-*s │ Last seen",
		delegate.RankWidth, "Rk",
		tierWidth, "Tier",
		delegate.CountWidth, "Cnt",
		idWidth, "Fault")
	headerRow := lipgloss.NewStyle().
		Foreground(m.styles.PrimaryBlue).
		Bold(true).
		Width(width-2).
		Padding(0, 1).
		Render(Clip(headerText, width-4))

	return lipgloss.JoinVertical(lipgloss.Left, headerRow, listPanel)
}
