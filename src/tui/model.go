// Package tui is the interactive viewer for fault reports. Records are listed
// in ranking order on the left with the selected record's details on the right.
package tui

import (
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"faultscope/src/contracts"
	"faultscope/src/ranking"
)

// Status is the lifecycle of the viewer.
type Status int

const (
	StatusLoading Status = iota
	StatusReady
	StatusFailed
)

// LoadFunc produces the report to display. It runs off the UI goroutine.
type LoadFunc func() (contracts.Report, error)

type reportLoadedMsg struct {
	report contracts.Report
	err    error
}

// MainModel is the Bubble Tea model of the report viewer.
type MainModel struct {
	styles         *StyleConfig
	header         Header
	listView       View
	detailViewport viewport.Model
	progress       ProgressModel

	items  []Item
	status Status
	err    error
	load   LoadFunc

	searchQuery   string
	searchMode    bool
	detailFocused bool

	width  int
	height int
	ready  bool
}

// NewModel creates a viewer for an already finished report.
func NewModel(r contracts.Report) MainModel {
	m := newModel()
	m.setReport(r)
	return m
}

// NewLoadingModel creates a viewer that shows a spinner until load returns.
// Pressing r re-runs load.
func NewLoadingModel(stage string, load LoadFunc) MainModel {
	m := newModel()
	m.load = load
	m.progress = NewProgressModel(stage)
	return m
}

func newModel() MainModel {
	styles := DefaultStyles()
	return MainModel{
		styles:         styles,
		header:         NewHeader(contracts.Report{}, styles),
		listView:       NewView(styles),
		detailViewport: viewport.New(0, 0),
		status:         StatusLoading,
	}
}

func (m *MainModel) setReport(r contracts.Report) {
	m.header = NewHeader(r, m.styles)
	if m.searchQuery != "" {
		m.header.SetSearch(m.searchQuery, false)
	}

	ranked := ranking.Rank(r.Records).FlattenByTier()
	m.items = make([]Item, len(ranked))
	for i, rec := range ranked {
		m.items[i] = Item{RankedRecord: rec}
	}
	m.status = StatusReady
	m.err = nil
	m.applyFilter()
}

func (m MainModel) loadCmd() tea.Cmd {
	load := m.load
	return func() tea.Msg {
		r, err := load()
		return reportLoadedMsg{report: r, err: err}
	}
}

// Init starts the loader when the viewer was created with one.
func (m MainModel) Init() tea.Cmd {
	if m.status == StatusLoading && m.load != nil {
		return tea.Batch(SpinnerTick(), m.loadCmd())
	}
	return nil
}

// Update handles messages and updates the model state.
func (m MainModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.resizeComponents()
		return m, nil

	case reportLoadedMsg:
		if msg.err != nil {
			m.status = StatusFailed
			m.err = msg.err
			return m, nil
		}
		m.progress, _ = m.progress.Update(ProgressMsg{Stage: "complete"})
		m.setReport(msg.report)
		if m.ready {
			m.resizeComponents()
		}
		return m, nil

	case ProgressMsg, SpinnerTickMsg:
		var cmd tea.Cmd
		m.progress, cmd = m.progress.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		if m.searchMode {
			return m.updateSearch(msg), nil
		}
		return m.updateKeys(msg)
	}

	return m, nil
}

func (m MainModel) updateSearch(msg tea.KeyMsg) MainModel {
	switch msg.Type {
	case tea.KeyEsc:
		m.searchMode = false
		m.searchQuery = ""
	case tea.KeyEnter:
		m.searchMode = false
	case tea.KeyBackspace:
		if r := []rune(m.searchQuery); len(r) > 0 {
			m.searchQuery = string(r[:len(r)-1])
		}
	case tea.KeyRunes, tea.KeySpace:
		m.searchQuery += string(msg.Runes)
	default:
		return m
	}
	m.header.SetSearch(m.searchQuery, m.searchMode)
	m.applyFilter()
	return m
}

func (m MainModel) updateKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "r":
		if m.load != nil && m.status != StatusLoading {
			m.status = StatusLoading
			m.progress = NewProgressModel(m.progress.stage)
			return m, tea.Batch(SpinnerTick(), m.loadCmd())
		}
		return m, nil
	}

	if m.status != StatusReady {
		return m, nil
	}

	if m.detailFocused {
		switch msg.String() {
		case "esc", "left", "h":
			m.detailFocused = false
			return m, nil
		}
		var cmd tea.Cmd
		m.detailViewport, cmd = m.detailViewport.Update(msg)
		return m, cmd
	}

	switch msg.String() {
	case "enter", "right", "l":
		if _, ok := m.listView.GetSelectedItem(); ok {
			m.detailFocused = true
		}
		return m, nil
	case "tab":
		m.header.CycleFilter()
		m.applyFilter()
		return m, nil
	case "0", "1", "2", "3", "4":
		m.header.SetFilter(tierFilters[msg.Runes[0]-'0'])
		m.applyFilter()
		return m, nil
	case "/":
		m.searchMode = true
		m.header.SetSearch(m.searchQuery, true)
		return m, nil
	}

	before := m.listView.Index()
	var cmd tea.Cmd
	m.listView, cmd = m.listView.Update(msg)
	if m.listView.Index() != before {
		m.refreshDetail()
	}
	return m, cmd
}

// Start runs the viewer on a finished report.
func Start(r contracts.Report) error {
	return run(NewModel(r))
}

// StartLoading runs the viewer while load executes in the background.
func StartLoading(stage string, load LoadFunc) error {
	return run(NewLoadingModel(stage, load))
}

func run(m MainModel) error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
