package cli

import "github.com/charmbracelet/lipgloss"

// Styles
var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#00D4AA")).
		MarginBottom(1)

	headerStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FFFFFF"))

	successStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#00D4AA"))

	warningStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FFA500"))

	errorStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#FF4444"))

	infoStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888"))
)

// statusText renders a provider or service status with the matching style.
func statusText(status string) string {
	switch status {
	case "up", "active", "healthy", "ready", "alive", "settled":
		return successStyle.Render(status)
	case "degraded", "congested":
		return warningStyle.Render(status)
	default:
		return errorStyle.Render(status)
	}
}
