package main

import "github.com/charmbracelet/lipgloss"

var (
	colorAccent = lipgloss.Color("#74c7ec")
	colorMuted  = lipgloss.Color("#a6adc8")
	colorPass   = lipgloss.Color("#a6e3a1")
	colorWarn   = lipgloss.Color("#fab387")
	colorFail   = lipgloss.Color("#f38ba8")
	colorBorder = lipgloss.Color("#45475a")

	titleStyle = lipgloss.NewStyle().Foreground(colorAccent).Bold(true)
	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle = mutedStyle.Width(18)
	passStyle  = lipgloss.NewStyle().Foreground(colorPass)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarn).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(colorFail).Bold(true)

	panelStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)
)

func row(label, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Top, labelStyle.Render(label), value)
}

func panel(title string, rows ...string) string {
	body := lipgloss.JoinVertical(lipgloss.Left, append([]string{titleStyle.Render(title)}, rows...)...)
	return panelStyle.Render(body)
}
