package debugger

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// handleNext releases the paused tool call and runs to the next stop.
func (d *Debugger) handleNext() {
	if d.current == nil {
		fmt.Fprintf(d.output, "Mission finished.\n")
		return
	}
	p := d.current
	d.current = nil
	p.resume <- true

	// The call's record is appended before the engine can stop again.
	next, res := d.nextStop()
	d.mu.Lock()
	n := len(d.history)
	d.mu.Unlock()
	if n > 0 {
		d.printRecord(n - 1)
	}
	d.announce(next, res)
}

// handleContinue releases every remaining call.
func (d *Debugger) handleContinue() {
	if d.current == nil {
		fmt.Fprintf(d.output, "Mission finished.\n")
		return
	}
	d.mu.Lock()
	d.free = true
	d.mu.Unlock()
	p := d.current
	d.current = nil
	p.resume <- true
	d.waitStop()
}

// handlePrint displays variables or the paused call's parameters.
func (d *Debugger) handlePrint(parts []string) {
	if len(parts) < 2 {
		fmt.Fprintf(d.output, "Usage: print vars|params\n")
		return
	}
	switch parts[1] {
	case "vars":
		d.printRegistry("mission", d.m.State)
		d.printRegistry("workflow", d.m.Workflow.State)
		if ref, ok := d.m.Workflow.StepAt(d.m.Workflow.Cursor); ok {
			d.printRegistry("stage "+ref.Stage.ID, ref.Stage.State)
		}
	case "params":
		if d.current == nil {
			fmt.Fprintf(d.output, "No tool call is paused.\n")
			return
		}
		data, _ := json.MarshalIndent(d.current.call.Parameters, "  ", "  ")
		fmt.Fprintf(d.output, "  %s\n", data)
	default:
		fmt.Fprintf(d.output, "Unknown print target: %q. Use 'vars' or 'params'.\n", parts[1])
	}
}

func (d *Debugger) printRegistry(label string, reg *variable.Registry) {
	vars := reg.Variables()
	if len(vars) == 0 {
		return
	}
	fmt.Fprintf(d.output, "%s:\n", label)
	sort.SliceStable(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	for _, v := range vars {
		if v.Ready() {
			fmt.Fprintf(d.output, "  %s = %v\n", v.Name, v.Value.Raw())
		} else {
			fmt.Fprintf(d.output, "  %s (%s)\n", v.Name, v.Status)
		}
	}
}

// handleHistory shows released tool calls.
func (d *Debugger) handleHistory() {
	d.mu.Lock()
	n := len(d.history)
	d.mu.Unlock()
	if n == 0 {
		fmt.Fprintf(d.output, "No tool calls released yet.\n")
		return
	}
	for i := 0; i < n; i++ {
		d.printRecord(i)
	}
}

func (d *Debugger) printRecord(i int) {
	d.mu.Lock()
	r := d.history[i]
	d.mu.Unlock()
	switch {
	case r.Err != nil:
		fmt.Fprintf(d.output, "  ✗ [%d] %s (%s): %v\n", i+1, r.Call.StepID, r.Call.Tool, r.Err)
	case r.Result.Failed():
		fmt.Fprintf(d.output, "  ✗ [%d] %s (%s): %s\n", i+1, r.Call.StepID, r.Call.Tool, r.Result.Error)
	default:
		fmt.Fprintf(d.output, "  ✓ [%d] %s (%s)\n", i+1, r.Call.StepID, r.Call.Tool)
	}
}

// handleHelp displays available commands.
func (d *Debugger) handleHelp() {
	fmt.Fprintf(d.output, `Commands:
  next, n          Release the paused tool call and stop before the next one
  continue, c      Run the rest of the mission without pausing
  print vars       Show mission, workflow and current stage variables
  print params     Show the paused call's parameters
  history, h       Show released tool calls and their outcomes
  help, ?          Show this help
  quit, q          Cancel the run and exit
`)
}
