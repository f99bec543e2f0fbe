package ui

import "github.com/charmbracelet/lipgloss"

// Palette shared by every printer view.
var (
	colorPrimary = lipgloss.Color("#00BFFF") // headings
	colorAccent  = lipgloss.Color("#FFD700") // claims and in-flight work
	colorSuccess = lipgloss.Color("#00E676") // confirmations
	colorDanger  = lipgloss.Color("#FF5252") // errors and blocked items
	colorMuted   = lipgloss.Color("#636363") // de-emphasized
)

var (
	styleHeading = lipgloss.NewStyle().Foreground(colorPrimary).Bold(true)
	styleStage   = lipgloss.NewStyle().Foreground(colorPrimary)
	styleClaim   = lipgloss.NewStyle().Foreground(colorAccent)
	styleOK      = lipgloss.NewStyle().Foreground(colorSuccess).Bold(true)
	styleError   = lipgloss.NewStyle().Foreground(colorDanger).Bold(true)
	styleBlocked = lipgloss.NewStyle().Foreground(colorDanger)
	styleMuted   = lipgloss.NewStyle().Foreground(colorMuted)
)
