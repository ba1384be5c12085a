package tui

import "github.com/charmbracelet/lipgloss"

// Palette shared by the live progress view, the run summary and the
// inspect report.
var (
	ColorInk       = lipgloss.Color("#ECEFF4")
	ColorDim       = lipgloss.Color("#616E88")
	ColorAccent    = lipgloss.Color("#8FBCBB")
	ColorAccentAlt = lipgloss.Color("#5E81AC")
	ColorSuccess   = lipgloss.Color("#A3BE8C")
	ColorWarn      = lipgloss.Color("#D08770")
	ColorFail      = lipgloss.Color("#BF616A")
)
