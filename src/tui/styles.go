package tui

import (
	"github.com/charmbracelet/lipgloss"

	"faultscope/src/ranking"
)

// StyleConfig holds all customizable style colors for the report viewer.
type StyleConfig struct {
	// Primary colors
	PrimaryBlue    lipgloss.Color
	AccentBlue     lipgloss.Color
	DarkBackground lipgloss.Color
	CardBackground lipgloss.Color
	TextPrimary    lipgloss.Color
	TextSecondary  lipgloss.Color
	BorderColor    lipgloss.Color
	SelectedColor  lipgloss.Color
	WarningColor   lipgloss.Color

	// TierColors is indexed by ranking tier.
	TierColors map[int]lipgloss.Color
}

// DefaultStyles returns the default color palette
func DefaultStyles() *StyleConfig {
	return &StyleConfig{
		PrimaryBlue:    lipgloss.Color("#8AB4F8"),
		AccentBlue:     lipgloss.Color("#4285F4"),
		DarkBackground: lipgloss.Color("#1E1E1E"),
		CardBackground: lipgloss.Color("#2D2D2D"),
		TextPrimary:    lipgloss.Color("#E8EAED"),
		TextSecondary:  lipgloss.Color("#9AA0A6"),
		BorderColor:    lipgloss.Color("#5F6368"),
		SelectedColor:  lipgloss.Color("#303134"),
		WarningColor:   lipgloss.Color("#FBBC04"),
		TierColors: map[int]lipgloss.Color{
			ranking.TierOpen:      lipgloss.Color("#EA4335"), // Red
			ranking.TierRecurring: lipgloss.Color("#FBBC04"), // Yellow
			ranking.TierSingle:    lipgloss.Color("#34A853"), // Green
			ranking.TierUncounted: lipgloss.Color("#9AA0A6"), // Gray
		},
	}
}

// TierColor returns the color used for a tier label.
func (s *StyleConfig) TierColor(tier int) lipgloss.Color {
	if c, ok := s.TierColors[tier]; ok {
		return c
	}
	return s.TextSecondary
}

// HelpStyle returns a help text lipgloss style using this config
func (s *StyleConfig) HelpStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Padding(0, 2)
}

// LabelStyle renders field names in the detail panel.
func (s *StyleConfig) LabelStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Foreground(s.TextSecondary).
		Bold(true)
}
