// Package ui renders command-line output for the local tooling commands.
package ui

import "github.com/charmbracelet/lipgloss"

// theme groups reusable styles for CLI output.
type theme struct {
	header    lipgloss.Style
	meta      lipgloss.Style
	label     lipgloss.Style
	value     lipgloss.Style
	muted     lipgloss.Style
	box       lipgloss.Style
	warnBox   lipgloss.Style
	errorBox  lipgloss.Style
	errorText lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		header: lipgloss.NewStyle().
			Bold(true).
			Padding(0, 1).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("88")),
		meta: lipgloss.NewStyle().
			Foreground(lipgloss.Color("223")),
		label: lipgloss.NewStyle().
			Bold(true).
			Width(12).
			Foreground(lipgloss.Color("214")),
		value: lipgloss.NewStyle().
			Foreground(lipgloss.Color("252")),
		muted: lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")),
		box: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("44")).
			Padding(0, 1),
		warnBox: lipgloss.NewStyle().
			Border(lipgloss.DoubleBorder()).
			BorderForeground(lipgloss.Color("214")).
			Padding(0, 1),
		errorBox: lipgloss.NewStyle().
			Border(lipgloss.ThickBorder()).
			BorderForeground(lipgloss.Color("196")).
			Padding(0, 1),
		errorText: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("203")),
	}
}
