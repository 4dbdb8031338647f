package tui

import (
	"fmt"
	"io"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"faultscope/src/ranking"
)

const (
	// listRenderingOverhead accounts for padding added by bubbles/list and panel borders.
	// Breakdown: panel border (2) + list internal padding/margins (8) = 10 chars total.
	listRenderingOverhead = 10

	tierWidth = 9  // "recurring"
	idWidth   = 10 // "0x" + 8 hex digits
)

// Delegate renders report items as table rows.
type Delegate struct {
	RankWidth  int
	CountWidth int
	styles     *StyleConfig
}

// NewDelegate creates a new row delegate with default styles
func NewDelegate() Delegate {
	return NewDelegateWithStyles(DefaultStyles())
}

// NewDelegateWithStyles creates a new delegate with custom styles
func NewDelegateWithStyles(styles *StyleConfig) Delegate {
	return Delegate{
		RankWidth:  2,
		CountWidth: 3,
		styles:     styles,
	}
}

// SetColumnWidths sizes the rank and count columns for the widest values.
func (d *Delegate) SetColumnWidths(maxRank int, maxCount string) {
	d.RankWidth = max(2, len(fmt.Sprintf("%d", maxRank)))
	d.CountWidth = max(3, len(maxCount))
}

// Height returns the height of a list item
func (d Delegate) Height() int {
	return 1
}

// Spacing returns spacing between items
func (d Delegate) Spacing() int {
	return 0
}

// Update handles item updates
func (d Delegate) Update(msg tea.Msg, m *list.Model) tea.Cmd {
	return nil
}

// Row formats the plain text of one row for the given list width.
func (d Delegate) Row(entry Item, width int) string {
	rankCol := fmt.Sprintf("%*d", d.RankWidth, entry.Rank)
	tierCol := Cell(ranking.TierName(entry.Tier), tierWidth)
	countCol := fmt.Sprintf("%*s", d.CountWidth, entry.CountText())
	idCol := Cell(entry.Record.FaultID, idWidth)

	// Fixed columns plus four " │ " separators
	fixedWidth := d.RankWidth + tierWidth + d.CountWidth + idWidth + 12
	availableWidth := width - fixedWidth - listRenderingOverhead

	var lastSeen string
	if availableWidth > 0 {
		lastSeen = Cell(entry.lastSeen(), availableWidth)
	}

	return fmt.Sprintf("%s │ %s │ %s │ %s │ %s", rankCol, tierCol, countCol, idCol, lastSeen)
}

// Render renders a list item
func (d Delegate) Render(w io.Writer, m list.Model, index int, item list.Item) {
	entry, ok := item.(Item)
	if !ok {
		return
	}

	style := lipgloss.NewStyle().Foreground(d.styles.TextSecondary)
	if entry.Record.Open {
		style = style.Foreground(d.styles.TierColor(ranking.TierOpen))
	}
	if index == m.Index() {
		style = style.Bold(true).Foreground(d.styles.PrimaryBlue).Background(d.styles.SelectedColor)
	}

	fmt.Fprint(w, style.Render(d.Row(entry, m.Width())))
}
