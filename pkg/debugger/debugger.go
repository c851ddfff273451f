// Package debugger implements the interactive REPL debugger for missions.
// The engine runs in its own goroutine and pauses before every tool call
// until the REPL releases it.
package debugger

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

// errAborted is returned to the engine for a call the user abandoned.
var errAborted = errors.New("debugger: call aborted")

// pause is a tool call held until the REPL decides its fate.
type pause struct {
	call   executor.Call
	resume chan bool // true invokes the tool, false aborts the call
}

// callRecord is one released tool call and its outcome.
type callRecord struct {
	Call   executor.Call
	Result *executor.Result
	Err    error
}

// Debugger provides an interactive REPL for stepping through a mission run.
type Debugger struct {
	m      *scope.Mission
	eng    *engine.Engine
	inner  executor.Invoker
	output io.Writer
	rl     *readline.Instance

	paused  chan *pause
	done    chan *engine.RunResult
	current *pause
	result  *engine.RunResult
	started bool

	mu      sync.Mutex
	free    bool // continue without pausing
	history []callRecord
}

// New creates a debugger for m. Tool calls go to inner once released; cfg's
// Invoker is replaced by the debugger's gate.
func New(m *scope.Mission, inner executor.Invoker, cfg engine.RunConfig) *Debugger {
	d := &Debugger{
		m:      m,
		inner:  inner,
		output: os.Stdout,
		paused: make(chan *pause),
		done:   make(chan *engine.RunResult, 1),
	}
	cfg.Invoker = executor.InvokerFunc(d.invoke)
	d.eng = engine.New(m, cfg)
	return d
}

// SetOutput redirects REPL output.
func (d *Debugger) SetOutput(w io.Writer) { d.output = w }

// Result returns the run result once the mission has finished.
func (d *Debugger) Result() *engine.RunResult { return d.result }

// invoke is the engine-facing gate.
func (d *Debugger) invoke(ctx context.Context, call executor.Call) (*executor.Result, error) {
	d.mu.Lock()
	free := d.free
	d.mu.Unlock()

	if !free {
		p := &pause{call: call, resume: make(chan bool)}
		select {
		case d.paused <- p:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		var ok bool
		select {
		case ok = <-p.resume:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if !ok {
			return nil, errAborted
		}
	}

	res, err := d.inner.Invoke(ctx, call)
	d.mu.Lock()
	d.history = append(d.history, callRecord{Call: call, Result: res, Err: err})
	d.mu.Unlock()
	return res, err
}

// start launches the engine and waits for its first stop.
func (d *Debugger) start(ctx context.Context) {
	if d.started {
		return
	}
	d.started = true
	go func() { d.done <- d.eng.Run(ctx) }()
	d.waitStop()
}

// waitStop blocks until the engine pauses on a tool call or finishes.
func (d *Debugger) waitStop() {
	d.announce(d.nextStop())
}

func (d *Debugger) nextStop() (*pause, *engine.RunResult) {
	select {
	case p := <-d.paused:
		return p, nil
	case res := <-d.done:
		return nil, res
	}
}

func (d *Debugger) announce(p *pause, res *engine.RunResult) {
	if p != nil {
		d.current = p
		fmt.Fprintf(d.output, "Paused before step %s (tool %s)\n", p.call.StepID, p.call.Tool)
		if step := d.stepByID(p.call.StepID); step != nil && step.Runs > 1 {
			fmt.Fprintf(d.output, "  run #%d\n", step.Runs)
		}
		return
	}
	d.current = nil
	d.result = res
	fmt.Fprintf(d.output, "Mission %s", res.Status)
	if res.Error != nil {
		fmt.Fprintf(d.output, ": %v", res.Error)
	}
	fmt.Fprintln(d.output)
}

// Run starts the interactive REPL loop.
func (d *Debugger) Run(ctx context.Context) error {
	commands := []string{"next", "continue", "print vars", "print params",
		"history", "help", "quit"}

	var completer = readline.NewPrefixCompleter()
	for _, cmd := range commands {
		completer.Children = append(completer.Children,
			readline.PcItem(cmd))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          d.buildPrompt(),
		AutoComplete:    completer,
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	d.rl = rl
	defer rl.Close()

	fmt.Fprintf(d.output, "missionkit debugger: %s, %d steps\n", d.m.Template, d.m.Workflow.StepCount())
	fmt.Fprintf(d.output, "Type 'help' for available commands, 'next' to release the paused tool call.\n\n")
	d.start(ctx)

	for {
		rl.SetPrompt(d.buildPrompt())
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				d.quit()
				return nil
			}
			return err
		}
		if d.exec(ctx, line) {
			return nil
		}
	}
}

// exec runs one REPL command and reports whether the REPL should exit.
func (d *Debugger) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	d.start(ctx)

	parts := strings.Fields(line)
	switch parts[0] {
	case "next", "n":
		d.handleNext()
	case "continue", "c":
		d.handleContinue()
	case "print", "p":
		d.handlePrint(parts)
	case "history", "h":
		d.handleHistory()
	case "help", "?":
		d.handleHelp()
	case "quit", "q":
		d.quit()
		fmt.Fprintf(d.output, "Exiting debugger.\n")
		return true
	default:
		fmt.Fprintf(d.output, "Unknown command: %q. Type 'help' for available commands.\n", parts[0])
	}
	return false
}

// quit cancels the run and releases a paused call so the engine can stop.
func (d *Debugger) quit() {
	if d.result != nil || !d.started {
		return
	}
	d.eng.Cancel()
	if d.current != nil {
		d.current.resume <- false
		d.current = nil
	}
	d.result = <-d.done
}

// buildPrompt creates the prompt string: mission[step N/total | step_id]>
func (d *Debugger) buildPrompt() string {
	if d.current == nil {
		return "mission[done]> "
	}
	total := d.m.Workflow.StepCount()
	for _, ref := range d.m.Workflow.Steps() {
		if ref.Step.ID == d.current.call.StepID {
			return fmt.Sprintf("mission[%d/%d | %s]> ", ref.Index+1, total, ref.Step.ID)
		}
	}
	return fmt.Sprintf("mission[%s]> ", d.current.call.StepID)
}

func (d *Debugger) stepByID(id string) *scope.Step {
	for _, ref := range d.m.Workflow.Steps() {
		if ref.Step.ID == id {
			return ref.Step
		}
	}
	return nil
}
