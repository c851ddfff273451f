package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
)

var (
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	stageStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
)

// consoleSink prints run progress as plain status lines.
type consoleSink struct {
	mu      sync.Mutex
	w       io.Writer
	verbose bool
}

func newConsoleSink(w io.Writer, verbose bool) *consoleSink {
	return &consoleSink{w: w, verbose: verbose}
}

func (c *consoleSink) Emit(evt trace.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch evt.Type {
	case trace.EventScopeStatus:
		if evt.Data["kind"] == string(scope.KindStage) && evt.Status == string(scope.StatusRunning) {
			fmt.Fprintln(c.w, stageStyle.Render("▸ stage "+evt.ScopeID))
		}
	case trace.EventStepStatus:
		switch scope.Status(evt.Status) {
		case scope.StatusCompleted:
			fmt.Fprintf(c.w, "  %s %s\n", okStyle.Render("✓"), evt.StepID)
		case scope.StatusFailed:
			msg, _ := evt.Data["error"].(string)
			fmt.Fprintf(c.w, "  %s %s: %s\n", failStyle.Render("✗"), evt.StepID, msg)
		case scope.StatusJumped:
			fmt.Fprintf(c.w, "  %s %s %s\n", warnStyle.Render("↺"), evt.StepID, dimStyle.Render("(jumped)"))
		case scope.StatusRunning:
			if c.verbose {
				fmt.Fprintf(c.w, "  %s %s\n", dimStyle.Render("…"), evt.StepID)
			}
		}
	case trace.EventVariableUpdated:
		if c.verbose {
			line := fmt.Sprintf("%v = %v", evt.Data["name"], evt.Data["value"])
			if evt.Data["cleared"] == true {
				line = fmt.Sprintf("%v cleared", evt.Data["name"])
			}
			fmt.Fprintf(c.w, "    %s\n", dimStyle.Render(line))
		}
	case trace.EventEvaluationDecided:
		if c.verbose {
			fmt.Fprintf(c.w, "    %s\n", dimStyle.Render(fmt.Sprintf("decision %v", evt.Data)))
		}
	case trace.EventMaxJumpsReached:
		fmt.Fprintf(c.w, "  %s %s reached its jump limit, continuing\n", warnStyle.Render("⚠"), evt.StepID)
	}
	return nil
}

// printResult writes the run summary line.
func printResult(w io.Writer, missionID string, res *engine.RunResult) {
	switch res.Status {
	case scope.StatusCompleted, scope.StatusEnded:
		fmt.Fprintf(w, "%s Mission %s %s in %s (jump_count %d)\n", okStyle.Render("✓"), missionID, res.Status, res.Duration.Round(1e6), res.JumpCount)
	default:
		fmt.Fprintf(w, "%s Mission %s %s", failStyle.Render("✗"), missionID, res.Status)
		if res.FailedStep != "" {
			fmt.Fprintf(w, " at step %s", res.FailedStep)
		}
		if res.Error != nil {
			fmt.Fprintf(w, ": %v", res.Error)
		}
		fmt.Fprintln(w)
	}
}

// succeeded reports whether a run finished without failure or cancellation.
func succeeded(res *engine.RunResult) bool {
	return res.Status == scope.StatusCompleted || res.Status == scope.StatusEnded
}
