package questions

import "github.com/charmbracelet/lipgloss"

var (
	colorUrgent   = lipgloss.Color("196")
	colorHigh     = lipgloss.Color("214")
	colorLow      = lipgloss.Color("76")
	colorSelected = lipgloss.Color("39")
	colorMuted    = lipgloss.Color("242")
	colorWhite    = lipgloss.Color("15")
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("12")).
			MarginBottom(1)

	selectedItemStyle = lipgloss.NewStyle().
				Background(lipgloss.Color("236")).
				Foreground(colorWhite).
				Bold(true)

	normalItemStyle = lipgloss.NewStyle().
			Foreground(colorWhite)

	urgentStyle = lipgloss.NewStyle().
			Foreground(colorUrgent).
			Bold(true)

	highStyle = lipgloss.NewStyle().
			Foreground(colorHigh)

	normalUrgencyStyle = lipgloss.NewStyle().
				Foreground(colorWhite)

	lowStyle = lipgloss.NewStyle().
			Foreground(colorLow)

	detailTitleStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(colorSelected).
				MarginBottom(1)

	detailLabelStyle = lipgloss.NewStyle().
				Foreground(colorMuted)

	detailValueStyle = lipgloss.NewStyle().
				Foreground(colorWhite)

	inputLabelStyle = lipgloss.NewStyle().
			Foreground(colorSelected).
			Bold(true)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorMuted)

	statusStyle = lipgloss.NewStyle().
			Foreground(colorMuted).
			Italic(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(colorUrgent)
)

// urgencyLabel returns a styled, fixed-width urgency tag.
func urgencyLabel(urgency string) string {
	switch urgency {
	case "urgent":
		return urgentStyle.Render("[URG]")
	case "high":
		return highStyle.Render("[HIGH]")
	case "low":
		return lowStyle.Render("[LOW]")
	default:
		return normalUrgencyStyle.Render("[NORM]")
	}
}
