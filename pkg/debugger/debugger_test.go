package debugger

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

func newDebugger(t *testing.T, summaries ...string) (*Debugger, *bytes.Buffer) {
	t.Helper()
	tpl, err := schema.LoadFile(filepath.Join("..", "kernel", "testing", "testdata", "summarise.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	m, err := scope.Build(tpl, scope.WithMissionID("dbg"), scope.WithInputs(map[string]string{"raw_question": "what is go?"}))
	if err != nil {
		t.Fatal(err)
	}
	var resps []replay.ToolResponse
	for _, s := range summaries {
		resps = append(resps, replay.ToolResponse{Outputs: map[string]any{"summary": s}})
	}
	inv := replay.NewInvoker(&replay.Scenario{ToolResponses: map[string][]replay.ToolResponse{"summarizer": resps}})

	d := New(m, inv, engine.RunConfig{})
	var buf bytes.Buffer
	d.SetOutput(&buf)
	return d, &buf
}

// TestDebuggerCommandHelp verifies help output lists all commands.
func TestDebuggerCommandHelp(t *testing.T) {
	var buf bytes.Buffer
	d := &Debugger{output: &buf}
	d.handleHelp()
	out := buf.String()
	for _, cmd := range []string{"next", "continue", "print", "history", "help", "quit"} {
		if !strings.Contains(out, cmd) {
			t.Errorf("help output missing command %q", cmd)
		}
	}
}

func TestDebugger_PausesBeforeToolCall(t *testing.T) {
	d, buf := newDebugger(t, "Go is a language")
	ctx := context.Background()

	d.exec(ctx, "print params")
	out := buf.String()
	if !strings.Contains(out, "Paused before step summarize (tool summarizer)") {
		t.Errorf("missing pause banner: %s", out)
	}
	if !strings.Contains(out, `"text": "what is go?"`) || !strings.Contains(out, `"style": "brief"`) {
		t.Errorf("params not shown: %s", out)
	}
	if got := d.buildPrompt(); got != "mission[1/2 | summarize]> " {
		t.Errorf("prompt = %q", got)
	}

	buf.Reset()
	d.exec(ctx, "print vars")
	if !strings.Contains(buf.String(), "raw_question = what is go?") {
		t.Errorf("vars output: %s", buf.String())
	}

	d.exec(ctx, "quit")
}

func TestDebugger_NextRunsToCompletion(t *testing.T) {
	d, buf := newDebugger(t, "Go is a language")
	ctx := context.Background()

	d.exec(ctx, "next")
	out := buf.String()
	if !strings.Contains(out, "✓ [1] summarize (summarizer)") {
		t.Errorf("call outcome not reported: %s", out)
	}
	if !strings.Contains(out, "Mission completed") {
		t.Errorf("completion not reported: %s", out)
	}
	if d.Result() == nil || d.Result().Status != scope.StatusCompleted {
		t.Fatalf("result = %+v", d.Result())
	}
	if d.Result().Outputs["final_summary"] != "Go is a language" {
		t.Errorf("final_summary = %v", d.Result().Outputs["final_summary"])
	}
	if got := d.buildPrompt(); got != "mission[done]> " {
		t.Errorf("prompt = %q", got)
	}

	buf.Reset()
	d.exec(ctx, "next")
	if !strings.Contains(buf.String(), "Mission finished") {
		t.Errorf("next after finish: %s", buf.String())
	}
}

func TestDebugger_JumpPausesAgain(t *testing.T) {
	d, buf := newDebugger(t, "", "second try")
	ctx := context.Background()

	d.exec(ctx, "next")
	if !strings.Contains(buf.String(), "run #2") {
		t.Errorf("second run not announced: %s", buf.String())
	}
	d.exec(ctx, "continue")
	if d.Result() == nil || d.Result().Outputs["final_summary"] != "second try" {
		t.Fatalf("result = %+v", d.Result())
	}

	buf.Reset()
	d.exec(ctx, "history")
	if strings.Count(buf.String(), "summarize (summarizer)") != 2 {
		t.Errorf("history: %s", buf.String())
	}
}

func TestDebugger_QuitCancels(t *testing.T) {
	d, _ := newDebugger(t, "unused")
	ctx := context.Background()

	d.exec(ctx, "print params")
	if !d.exec(ctx, "quit") {
		t.Fatal("quit did not end the REPL")
	}
	if d.Result() == nil || d.Result().Status != scope.StatusCancelled {
		t.Errorf("result = %+v, want cancelled", d.Result())
	}
}

func TestDebugger_UnknownCommand(t *testing.T) {
	d, buf := newDebugger(t, "x")
	ctx := context.Background()
	d.exec(ctx, "frobnicate")
	if !strings.Contains(buf.String(), `Unknown command: "frobnicate"`) {
		t.Errorf("output: %s", buf.String())
	}
	d.exec(ctx, "quit")
}
