package tui

import (
	"strings"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
)

// outputPanel renders the scrollable event log of the selected step.
type outputPanel struct {
	viewport viewport.Model

	// lines stores the log per step ID.
	lines map[string][]string

	// activeStep is the step ID whose log is currently displayed.
	activeStep string

	width  int
	height int
	ready  bool
}

func newOutputPanel() outputPanel {
	return outputPanel{lines: make(map[string][]string)}
}

// SetSize updates the viewport dimensions.
func (p *outputPanel) SetSize(width, height int) {
	p.width = width
	p.height = height

	contentW := width - 4  // border padding
	contentH := height - 3 // title + border
	if contentW < 1 {
		contentW = 1
	}
	if contentH < 1 {
		contentH = 1
	}

	if !p.ready {
		p.viewport = viewport.New(contentW, contentH)
		p.ready = true
	} else {
		p.viewport.Width = contentW
		p.viewport.Height = contentH
	}
	p.refresh()
}

// Append adds a line to a step's log.
func (p *outputPanel) Append(stepID, line string) {
	p.lines[stepID] = append(p.lines[stepID], line)
	if stepID == p.activeStep {
		p.refresh()
		p.viewport.GotoBottom()
	}
}

// Show switches the panel to stepID's log.
func (p *outputPanel) Show(stepID string) {
	if p.activeStep == stepID {
		return
	}
	p.activeStep = stepID
	p.refresh()
	p.viewport.GotoBottom()
}

// Lines returns the log for stepID.
func (p *outputPanel) Lines(stepID string) []string { return p.lines[stepID] }

func (p *outputPanel) refresh() {
	if !p.ready {
		return
	}
	p.viewport.SetContent(strings.Join(p.lines[p.activeStep], "\n"))
}

// Update forwards scroll messages to the viewport.
func (p *outputPanel) Update(msg tea.Msg) tea.Cmd {
	if !p.ready {
		return nil
	}
	var cmd tea.Cmd
	p.viewport, cmd = p.viewport.Update(msg)
	return cmd
}

// View renders the panel.
func (p *outputPanel) View() string {
	title := "Events"
	if p.activeStep != "" {
		title = "Events: " + p.activeStep
	}
	body := ""
	if p.ready {
		body = p.viewport.View()
	}
	return panelBorder.Width(max(p.width-2, 1)).Render(panelTitle.Render(title) + "\n" + body)
}
