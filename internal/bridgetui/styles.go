package bridgetui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors
	Teal     = lipgloss.Color("#0d7377")
	OffWhite = lipgloss.Color("#f8f7f4")
	DarkGray = lipgloss.Color("#333333")
	Red      = lipgloss.Color("#ff0000")
	Green    = lipgloss.Color("#2ecc71")

	// Styles
	AppStyle = lipgloss.NewStyle().
			Background(DarkGray).
			Foreground(OffWhite)

	StatusBarStyle = lipgloss.NewStyle().
			Background(Teal).
			Foreground(OffWhite).
			Bold(true).
			Padding(0, 1)

	StatusPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Teal).
				Padding(1)

	EventsPanelStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(Teal).
				Padding(1)

	EventStyle = lipgloss.NewStyle().
			Foreground(OffWhite)
)
