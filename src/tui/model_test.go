package tui

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/x/ansi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"faultscope/src/contracts"
	"faultscope/src/ranking"
)

func strp(s string) *string { return &s }
func intp(n int) *int       { return &n }

func sampleReport() contracts.Report {
	return contracts.Report{
		ID:       "rep-1",
		BasePath: "/cap/run1",
		Artifact: contracts.LogArtifact{Path: "/cap/run1/snapshot-txtlog-192.168.1.10/log.gz", Kind: contracts.ArtifactGzip},
		Mode:     contracts.ModeLocal,
		Records: []contracts.OccurrenceRecord{
			{
				FaultID:         "0x0165",
				FirstOccurrence: strp("2024-05-21 10:00:01"),
				LastOccurrence:  strp("2024-05-21 10:04:00"),
				OccurrenceCount: intp(3),
				Level:           strp("0x3"),
				Remediation:     "check brake sensor harness",
			},
			{
				FaultID:         "0x0200",
				FirstOccurrence: strp("2024-05-21 10:02:00"),
				LastOccurrence:  strp("2024-05-21 10:03:00"),
				OccurrenceCount: intp(2),
				Level:           strp("0x4"),
				Open:            true,
			},
			{
				FaultID:         "0x1165",
				FirstOccurrence: strp("2024-05-21 10:00:30"),
				LastOccurrence:  strp("2024-05-21 10:00:40"),
				OccurrenceCount: intp(1),
			},
			{
				FaultID:         "0x0300",
				FirstOccurrence: strp("2024-05-21 10:05:00"),
				LastOccurrence:  strp("2024-05-21 10:05:00"),
			},
		},
	}
}

func key(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "backspace":
		return tea.KeyMsg{Type: tea.KeyBackspace}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func send(t *testing.T, m MainModel, msgs ...tea.Msg) MainModel {
	t.Helper()
	for _, msg := range msgs {
		updated, _ := m.Update(msg)
		var ok bool
		m, ok = updated.(MainModel)
		require.True(t, ok)
	}
	return m
}

func sized(t *testing.T, r contracts.Report) MainModel {
	return send(t, NewModel(r), tea.WindowSizeMsg{Width: 120, Height: 30})
}

func visibleIDs(m MainModel) []string {
	var ids []string
	for _, item := range m.listView.Items() {
		ids = append(ids, item.Record.FaultID)
	}
	return ids
}

func TestNewModel_RanksByTier(t *testing.T) {
	m := NewModel(sampleReport())

	assert.Equal(t, StatusReady, m.status)
	assert.Equal(t, []string{"0x0200", "0x0165", "0x1165", "0x0300"}, visibleIDs(m))
	assert.Equal(t, ranking.TierOpen, m.items[0].Tier)
	assert.Equal(t, "n/a", m.items[3].CountText())
}

func TestMainModel_NotReadyBeforeSize(t *testing.T) {
	assert.Equal(t, "\n  Initializing...", NewModel(sampleReport()).View())
}

func TestMainModel_Navigation(t *testing.T) {
	m := sized(t, sampleReport())

	sel, ok := m.listView.GetSelectedItem()
	require.True(t, ok)
	assert.Equal(t, "0x0200", sel.Record.FaultID)
	assert.Contains(t, ansi.Strip(m.detailViewport.View()), "Fault 0x0200 | Rank 1")

	m = send(t, m, key("down"), key("j"))
	sel, _ = m.listView.GetSelectedItem()
	assert.Equal(t, "0x1165", sel.Record.FaultID)

	detail := ansi.Strip(m.detailViewport.View())
	assert.Contains(t, detail, "Fault 0x1165 | Rank 3")
	assert.Contains(t, detail, "single")

	m = send(t, m, key("k"))
	detail = ansi.Strip(m.detailViewport.View())
	assert.Contains(t, detail, "0x3 (out of service)")
	assert.Contains(t, detail, "check brake sensor harness")
}

func TestMainModel_TierFilter(t *testing.T) {
	tests := []struct {
		name string
		keys []string
		want []string
	}{
		{"open", []string{"1"}, []string{"0x0200"}},
		{"recurring", []string{"2"}, []string{"0x0165"}},
		{"single", []string{"3"}, []string{"0x1165"}},
		{"uncounted", []string{"4"}, []string{"0x0300"}},
		{"back to all", []string{"2", "0"}, []string{"0x0200", "0x0165", "0x1165", "0x0300"}},
		{"tab cycles", []string{"tab", "tab"}, []string{"0x0165"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sized(t, sampleReport())
			for _, k := range tt.keys {
				m = send(t, m, key(k))
			}
			assert.Equal(t, tt.want, visibleIDs(m))
		})
	}
}

func TestMainModel_Search(t *testing.T) {
	m := sized(t, sampleReport())

	m = send(t, m, key("/"), key("1"), key("1"), key("6"), key("5"))
	assert.True(t, m.searchMode)
	assert.Equal(t, []string{"0x1165"}, visibleIDs(m))

	m = send(t, m, key("backspace"), key("backspace"), key("backspace"), key("brake"))
	assert.Equal(t, "1brake", m.searchQuery)
	assert.Empty(t, visibleIDs(m))

	m = send(t, m, key("esc"))
	assert.False(t, m.searchMode)
	assert.Len(t, visibleIDs(m), 4)

	m = send(t, m, key("/"), key("brake"), key("enter"))
	assert.False(t, m.searchMode)
	assert.Equal(t, []string{"0x0165"}, visibleIDs(m))
	assert.Contains(t, ansi.Strip(m.View()), "Search: brake")

	// q while typing is text, not quit
	m = send(t, m, key("/"))
	_, cmd := m.Update(key("q"))
	assert.Nil(t, cmd)
}

func TestMainModel_DetailFocus(t *testing.T) {
	m := sized(t, sampleReport())

	m = send(t, m, key("enter"))
	assert.True(t, m.detailFocused)

	// list navigation is suspended while the detail panel has focus
	m = send(t, m, key("j"))
	sel, _ := m.listView.GetSelectedItem()
	assert.Equal(t, "0x0200", sel.Record.FaultID)

	m = send(t, m, key("esc"))
	assert.False(t, m.detailFocused)
}

func TestMainModel_Quit(t *testing.T) {
	m := sized(t, sampleReport())

	_, cmd := m.Update(key("q"))
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestMainModel_ViewFitsTerminal(t *testing.T) {
	r := sampleReport()
	r.Records[0].Remediation = strings.Repeat("inspect the rear left brake sensor connector and harness routing ", 6)
	r.Degraded = true
	r.Reason = "budget exhausted after 5000000 lines"

	for _, width := range []int{80, 120, 200} {
		m := send(t, NewModel(r), tea.WindowSizeMsg{Width: width, Height: 30}, key("1"), key("0"), key("j"))
		view := m.View()
		for i, line := range strings.Split(view, "\n") {
			assert.LessOrEqual(t, ansi.StringWidth(line), width, "width %d line %d: %q", width, i, ansi.Strip(line))
		}
		assert.Contains(t, ansi.Strip(view), "partial: budget exhausted")
	}
}

func TestMainModel_EmptyReport(t *testing.T) {
	m := sized(t, contracts.Report{FaultID: "0x0165"})

	view := ansi.Strip(m.View())
	assert.Contains(t, view, "0x0165")
	assert.Contains(t, view, "No fault occurrences match")

	m = send(t, m, key("enter"))
	assert.False(t, m.detailFocused)
}

func TestLoadingModel(t *testing.T) {
	calls := 0
	load := func() (contracts.Report, error) {
		calls++
		return sampleReport(), nil
	}

	m := NewLoadingModel("Querying /cap/run1", load)
	assert.NotNil(t, m.Init())
	m = send(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	assert.Contains(t, ansi.Strip(m.View()), "Querying /cap/run1...")

	// keys other than quit and reload are ignored while loading
	m = send(t, m, key("2"))
	assert.Equal(t, StatusLoading, m.status)

	msg := m.loadCmd()()
	assert.Equal(t, 1, calls)
	m = send(t, m, msg)
	assert.Equal(t, StatusReady, m.status)
	assert.Len(t, visibleIDs(m), 4)

	updated, cmd := m.Update(key("r"))
	m = updated.(MainModel)
	assert.NotNil(t, cmd)
	assert.Equal(t, StatusLoading, m.status)
}

func TestLoadingModel_Failure(t *testing.T) {
	m := NewLoadingModel("Querying", func() (contracts.Report, error) {
		return contracts.Report{}, errors.New("artifact_not_found: no snapshot directory")
	})
	m = send(t, m, tea.WindowSizeMsg{Width: 100, Height: 30})
	m = send(t, m, m.loadCmd()())

	assert.Equal(t, StatusFailed, m.status)
	assert.Contains(t, ansi.Strip(m.View()), "Query failed: artifact_not_found")
}
