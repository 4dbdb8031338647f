package tui

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const logoText = "faultscope"

// Gradient colors applied letter by letter across the logo
var logoGradientColors = []string{
	"#5DADE2",
	"#3498DB",
	"#2E86C1",
	"#2874A6",
	"#21618C",
}

// Spinner frames for the loading animation
var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// ProgressMsg updates progress display
type ProgressMsg struct {
	Stage   string
	Current int
	Total   int
}

// SpinnerTickMsg triggers spinner animation frame advance
type SpinnerTickMsg time.Time

// ProgressModel is the loading screen shown while a query runs.
type ProgressModel struct {
	stage        string
	current      int
	total        int
	done         bool
	spinnerFrame int
}

func NewProgressModel(stage string) ProgressModel {
	return ProgressModel{stage: stage}
}

// SpinnerTick returns a command that sends SpinnerTickMsg after a delay
func SpinnerTick() tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(t time.Time) tea.Msg {
		return SpinnerTickMsg(t)
	})
}

func (m ProgressModel) Update(msg tea.Msg) (ProgressModel, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.stage = msg.Stage
		m.current = msg.Current
		m.total = msg.Total
		if msg.Stage == "complete" {
			m.done = true
		}
	case SpinnerTickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
		if !m.done {
			return m, SpinnerTick()
		}
	}
	return m, nil
}

func (m ProgressModel) View() string {
	var logo strings.Builder
	for i, r := range logoText {
		color := logoGradientColors[i*len(logoGradientColors)/len(logoText)]
		logo.WriteString(lipgloss.NewStyle().Foreground(lipgloss.Color(color)).Bold(true).Render(string(r)))
	}

	if m.done {
		status := lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Render("✓ Complete")
		return lipgloss.JoinVertical(lipgloss.Center, logo.String(), "", status)
	}

	spinner := lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD700")).Render(spinnerFrames[m.spinnerFrame])

	var statusLine string
	switch {
	case m.total > 0:
		pct := float64(m.current) / float64(m.total) * 100
		statusLine = fmt.Sprintf("%s %s (%d/%d, %.0f%%)", spinner, m.stage, m.current, m.total, pct)
	case m.stage != "":
		statusLine = fmt.Sprintf("%s %s...", spinner, m.stage)
	default:
		statusLine = fmt.Sprintf("%s Loading...", spinner)
	}

	return lipgloss.JoinVertical(lipgloss.Center, logo.String(), "", statusLine)
}
