package sessions

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	id        lipgloss.Style
	ephemeral lipgloss.Style
	detail    lipgloss.Style
	live      lipgloss.Style
	dead      lipgloss.Style
	tag       lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		id:        lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		ephemeral: lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		live:      lipgloss.NewStyle().Foreground(lipgloss.Color("114")),
		dead:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		tag:       lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
	}
}
