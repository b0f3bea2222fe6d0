// Package ui renders batch progress as an interactive card view.
package ui

import (
	"github.com/charmbracelet/lipgloss"
)

// Semantic colors shared across the view.
var (
	colorSuccess = lipgloss.Color("#8BC34A") // Lime green
	colorError   = lipgloss.Color("#e53935") // Red
	colorWarning = lipgloss.Color("#FFC107") // Yellow
	colorInfo    = lipgloss.Color("#2196F3") // Blue
	colorMuted   = lipgloss.Color("241")
	colorBorder  = lipgloss.Color("240")
)

// Styles holds the lipgloss styles for the batch view.
type Styles struct {
	Header   lipgloss.Style
	Card     lipgloss.Style
	Selected lipgloss.Style
	Success  lipgloss.Style
	Error    lipgloss.Style
	Warning  lipgloss.Style
	Info     lipgloss.Style
	Muted    lipgloss.Style
	Bold     lipgloss.Style
	Help     lipgloss.Style
}

// DefaultStyles returns the standard batch view styles.
func DefaultStyles() Styles {
	card := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(colorBorder).
		Padding(0, 1)

	return Styles{
		Header:   lipgloss.NewStyle().Bold(true).Padding(0, 1),
		Card:     card,
		Selected: card.BorderForeground(colorInfo),
		Success:  lipgloss.NewStyle().Foreground(colorSuccess),
		Error:    lipgloss.NewStyle().Foreground(colorError),
		Warning:  lipgloss.NewStyle().Foreground(colorWarning),
		Info:     lipgloss.NewStyle().Foreground(colorInfo),
		Muted:    lipgloss.NewStyle().Foreground(colorMuted),
		Bold:     lipgloss.NewStyle().Bold(true),
		Help:     lipgloss.NewStyle().Foreground(colorMuted).Padding(1, 1, 0, 1),
	}
}
