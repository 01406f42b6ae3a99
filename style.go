package main

import "github.com/charmbracelet/lipgloss"

var (
	fuchsia = lipgloss.Color("#EE6FF8")
	green   = lipgloss.Color("#43BF6D")
	yellow  = lipgloss.Color("#ECFD65")
	red     = lipgloss.Color("#ED567A")

	keywordStyle   = lipgloss.NewStyle().Foreground(fuchsia).Bold(true)
	paragraphStyle = lipgloss.NewStyle().Width(78).Padding(0, 0, 0, 2)
	okStyle        = lipgloss.NewStyle().Foreground(green)
	warnStyle      = lipgloss.NewStyle().Foreground(yellow)
	failStyle      = lipgloss.NewStyle().Foreground(red)
)

func keyword(s string) string {
	return keywordStyle.Render(s)
}

func paragraph(s string) string {
	return paragraphStyle.Render(s)
}
