package tui

import (
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

// View manages the list of report items.
type View struct {
	list     list.Model
	items    []Item
	delegate *Delegate
}

// NewView creates a new report list view
func NewView(styles *StyleConfig) View {
	delegate := NewDelegateWithStyles(styles)
	l := list.New([]list.Item{}, &delegate, 0, 0)
	l.SetShowStatusBar(false)
	l.SetShowTitle(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	// q is handled by the model; esc must not quit.
	l.KeyMap.Quit.SetEnabled(false)

	return View{
		list:     l,
		delegate: &delegate,
	}
}

// Update handles list updates
func (v View) Update(msg tea.Msg) (View, tea.Cmd) {
	var cmd tea.Cmd
	v.list, cmd = v.list.Update(msg)
	return v, cmd
}

// SetSize sets the list dimensions
func (v *View) SetSize(width, height int) {
	v.list.SetSize(width, height)
}

// SetItems replaces the list items and resets the selection.
func (v *View) SetItems(items []Item) {
	v.items = items

	maxRank := 0
	maxCount := ""
	for _, item := range items {
		maxRank = max(maxRank, item.Rank)
		if c := item.CountText(); len(c) > len(maxCount) {
			maxCount = c
		}
	}
	v.delegate.SetColumnWidths(maxRank, maxCount)

	listItems := make([]list.Item, len(items))
	for i, item := range items {
		listItems[i] = item
	}
	v.list.SetItems(listItems)
	v.list.Select(0)
}

// Items returns the items currently shown.
func (v View) Items() []Item {
	return v.items
}

// GetSelectedItem returns the currently selected item
func (v View) GetSelectedItem() (Item, bool) {
	if len(v.list.Items()) == 0 {
		return Item{}, false
	}
	item, ok := v.list.SelectedItem().(Item)
	return item, ok
}

// Index returns the selected position.
func (v View) Index() int {
	return v.list.Index()
}

// Render returns the string representation of the view
func (v View) Render() string {
	return v.list.View()
}

// GetDelegate returns the delegate for accessing column widths
func (v View) GetDelegate() *Delegate {
	return v.delegate
}
