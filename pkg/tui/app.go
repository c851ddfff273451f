package tui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
)

// stepRow tracks the status of one step in the view.
type stepRow struct {
	ID     string
	Stage  string
	Type   string
	Tool   string
	Status string
	Runs   int
	Error  string
}

// Model is the Bubble Tea model for a live mission run.
type Model struct {
	template string
	stages   []string
	rows     []stepRow
	stageOf  map[string]string // stage scope id → status
	selected int
	follow   bool // selection tracks the running step

	spinner spinner.Model
	output  outputPanel

	status    string // pending, running, then the mission's final status
	jumpCount int
	err       error
	width     int
	height    int
	cancel    context.CancelFunc
}

// eventMsg delivers a trace event to the view.
type eventMsg struct{ Event trace.Event }

// doneMsg signals run completion.
type doneMsg struct{ Result *engine.RunResult }

// NewModel creates a view of m's steps. The tree is read once here and
// never again; progress arrives as trace events.
func NewModel(m *scope.Mission) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle

	model := Model{
		template: m.Template,
		stageOf:  make(map[string]string),
		follow:   true,
		spinner:  sp,
		output:   newOutputPanel(),
		status:   string(scope.StatusPending),
	}
	for _, st := range m.Workflow.Stages {
		model.stages = append(model.stages, st.ID)
		model.stageOf[st.ID] = string(st.Status)
	}
	for _, ref := range m.Workflow.Steps() {
		model.rows = append(model.rows, stepRow{
			ID:     ref.Step.ID,
			Stage:  ref.Stage.ID,
			Type:   string(ref.Step.Type),
			Tool:   ref.Step.Tool,
			Status: string(ref.Step.Status),
			Runs:   ref.Step.Runs,
		})
	}
	if len(model.rows) > 0 {
		model.output.Show(model.rows[0].ID)
	}
	return model
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			if m.cancel != nil {
				m.cancel()
			}
			return m, tea.Quit
		case key.Matches(msg, keys.Up):
			if m.selected > 0 {
				m.selected--
				m.follow = false
			}
		case key.Matches(msg, keys.Down):
			if m.selected < len(m.rows)-1 {
				m.selected++
				m.follow = false
			}
		case key.Matches(msg, keys.Follow):
			m.follow = true
			for i := range m.rows {
				if m.rows[i].Status == string(scope.StatusRunning) {
					m.selected = i
				}
			}
		case key.Matches(msg, keys.PgUp), key.Matches(msg, keys.PgDown):
			return m, m.output.Update(msg)
		}
		m.syncOutput()

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.output.SetSize(msg.Width, max(msg.Height-len(m.rows)-len(m.stages)-6, 5))

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.applyEvent(msg.Event)

	case doneMsg:
		if msg.Result != nil {
			m.status = string(msg.Result.Status)
			m.jumpCount = msg.Result.JumpCount
			m.err = msg.Result.Error
		}
	}
	return m, nil
}

// applyEvent updates step states and event logs from a trace event.
func (m *Model) applyEvent(evt trace.Event) {
	switch evt.Type {
	case trace.EventRunStart:
		m.status = string(scope.StatusRunning)
	case trace.EventScopeStatus:
		if _, ok := m.stageOf[evt.ScopeID]; ok {
			m.stageOf[evt.ScopeID] = evt.Status
		}
	case trace.EventStepStatus:
		i := m.rowIndex(evt.StepID)
		if i < 0 {
			return
		}
		m.rows[i].Status = evt.Status
		switch scope.Status(evt.Status) {
		case scope.StatusRunning:
			m.rows[i].Runs++
			m.rows[i].Error = ""
			if m.follow {
				m.selected = i
			}
			m.output.Append(evt.StepID, fmt.Sprintf("run #%d started", m.rows[i].Runs))
		case scope.StatusFailed:
			msg, _ := evt.Data["error"].(string)
			m.rows[i].Error = msg
			m.output.Append(evt.StepID, "failed: "+msg)
		default:
			m.output.Append(evt.StepID, evt.Status)
		}
	case trace.EventVariableUpdated:
		name, _ := evt.Data["name"].(string)
		if evt.Data["cleared"] == true {
			m.output.Append(evt.StepID, name+" cleared")
			break
		}
		m.output.Append(evt.StepID, fmt.Sprintf("%s = %v", name, evt.Data["value"]))
	case trace.EventEvaluationDecided:
		m.output.Append(evt.StepID, "decision: "+formatData(evt.Data))
	case trace.EventMaxJumpsReached:
		m.output.Append(evt.StepID, "maximum jumps reached, continuing")
	}
	m.syncOutput()
}

func (m *Model) syncOutput() {
	if m.selected < len(m.rows) {
		m.output.Show(m.rows[m.selected].ID)
	}
}

func (m *Model) rowIndex(stepID string) int {
	for i := range m.rows {
		if m.rows[i].ID == stepID {
			return i
		}
	}
	return -1
}

func (m Model) finished() bool {
	switch scope.Status(m.status) {
	case scope.StatusPending, scope.StatusRunning:
		return false
	}
	return true
}

// View implements tea.Model.
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(headerStyle.Render("missionkit: " + m.template))
	b.WriteString("\n\n")

	for _, stage := range m.stages {
		b.WriteString(stageStyle.Render(fmt.Sprintf(" %s stage %s", lookFor(m.stageOf[stage]).glyph, stage)))
		b.WriteString("\n")
		for i, r := range m.rows {
			if r.Stage != stage {
				continue
			}
			b.WriteString(m.renderRow(i, r))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	switch {
	case !m.finished():
		b.WriteString(" " + m.spinner.View() + resultRunningStyle.Render(" Running..."))
	case m.err != nil:
		b.WriteString(resultFailedStyle.Render(fmt.Sprintf(" %s %s: %v", lookFor(m.status).glyph, m.status, m.err)))
	default:
		b.WriteString(resultOKStyle.Render(fmt.Sprintf(" %s %s (jump_count %d)", lookFor(m.status).glyph, m.status, m.jumpCount)))
	}
	b.WriteString("\n")

	if m.output.ready {
		b.WriteString(m.output.View())
		b.WriteString("\n")
	}
	b.WriteString(keyBarStyle.Render(keyBarText(m.finished())))
	return b.String()
}

func (m Model) renderRow(i int, r stepRow) string {
	label := r.ID
	if r.Tool != "" {
		label += " (" + r.Tool + ")"
	} else {
		label += " [" + r.Type + "]"
	}
	if r.Runs > 1 {
		label += fmt.Sprintf(" ×%d", r.Runs)
	}
	l := lookFor(r.Status)
	line := fmt.Sprintf("   %s %s", l.glyph, label)
	if i == m.selected {
		return selectedStyle.Render(line)
	}
	return l.style.Render(line)
}

func formatData(data map[string]any) string {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, data[k]))
	}
	return strings.Join(parts, " ")
}

// Run executes m under cfg while rendering its progress. Quitting the view
// before the mission finishes cancels the run.
func Run(ctx context.Context, m *scope.Mission, cfg engine.RunConfig, opts ...tea.ProgramOption) (*engine.RunResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	model := NewModel(m)
	model.cancel = cancel
	if len(opts) == 0 {
		opts = []tea.ProgramOption{tea.WithAltScreen()}
	}
	p := tea.NewProgram(model, opts...)

	cfg.Events = trace.Multi(cfg.Events, trace.SinkFunc(func(evt trace.Event) error {
		p.Send(eventMsg{Event: evt})
		return nil
	}))
	eng := engine.New(m, cfg)

	results := make(chan *engine.RunResult, 1)
	go func() {
		res := eng.Run(ctx)
		results <- res
		p.Send(doneMsg{Result: res})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-results
		return nil, fmt.Errorf("tui: %w", err)
	}
	cancel()
	return <-results, nil
}
