// Package tui renders a live terminal view of a mission run and markdown
// descriptions of mission templates.
package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

var (
	colorGreen  = lipgloss.Color("42")
	colorRed    = lipgloss.Color("196")
	colorYellow = lipgloss.Color("214")
	colorBlue   = lipgloss.Color("39")
	colorCyan   = lipgloss.Color("51")
	colorDim    = lipgloss.Color("240")
	colorWhite  = lipgloss.Color("255")
)

// look pairs a status glyph with the style of a step row in that status.
// Glyphs carry the meaning on terminals without color.
type look struct {
	glyph string
	style lipgloss.Style
}

var pendingLook = look{"○", lipgloss.NewStyle().Foreground(colorWhite)}

var looks = map[scope.Status]look{
	scope.StatusRunning:   {"▸", lipgloss.NewStyle().Bold(true).Foreground(colorYellow)},
	scope.StatusCompleted: {"✓", lipgloss.NewStyle().Foreground(colorGreen)},
	scope.StatusFailed:    {"✗", lipgloss.NewStyle().Foreground(colorRed)},
	scope.StatusJumped:    {"↺", lipgloss.NewStyle().Faint(true)},
	scope.StatusEnded:     {"◆", lipgloss.NewStyle().Foreground(colorBlue)},
	scope.StatusCancelled: {"⊘", lipgloss.NewStyle().Faint(true)},
}

func lookFor(status string) look {
	if l, ok := looks[scope.Status(status)]; ok {
		return l
	}
	return pendingLook
}

var (
	headerStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)
	stageStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	selectedStyle = lipgloss.NewStyle().Bold(true).Foreground(colorCyan)
	spinnerStyle  = lipgloss.NewStyle().Foreground(colorYellow)

	panelBorder = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(colorDim)
	panelTitle  = lipgloss.NewStyle().Bold(true).Foreground(colorCyan).Padding(0, 1)

	keyStyle     = lipgloss.NewStyle().Foreground(colorCyan).Bold(true)
	keyDescStyle = lipgloss.NewStyle().Foreground(colorDim)
	keyBarStyle  = lipgloss.NewStyle().Padding(0, 1)

	resultOKStyle      = lipgloss.NewStyle().Foreground(colorGreen).Bold(true)
	resultFailedStyle  = lipgloss.NewStyle().Foreground(colorRed).Bold(true)
	resultRunningStyle = lipgloss.NewStyle().Foreground(colorYellow)
)
