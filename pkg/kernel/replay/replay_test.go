package replay

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
)

func TestParseScenario(t *testing.T) {
	yaml := `
inputs:
  topic: golang
tool_responses:
  "search:find":
    - outputs:
        count: 3
  summarizer:
    - error: rate limited
    - outputs:
        summary: ok
      repeat: true
`
	s, err := ParseScenario([]byte(yaml))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if s.Inputs["topic"] != "golang" {
		t.Errorf("topic = %q", s.Inputs["topic"])
	}
	if len(s.ToolResponses["search:find"]) != 1 {
		t.Errorf("search responses = %d", len(s.ToolResponses["search:find"]))
	}
	if !s.ToolResponses["summarizer"][1].Repeat {
		t.Error("repeat flag not loaded")
	}
}

func TestInvoker_ConsumesInOrder(t *testing.T) {
	s := &Scenario{
		ToolResponses: map[string][]ToolResponse{
			"probe": {
				{Outputs: map[string]any{"status": "200"}},
				{Status: executor.StatusFailure, Error: "503"},
			},
		},
	}
	inv := NewInvoker(s)
	ctx := context.Background()

	r1, err := inv.Invoke(ctx, executor.Call{Tool: "probe", StepID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if r1.Failed() || r1.Outputs["status"] != "200" {
		t.Errorf("first response = %+v", r1)
	}

	r2, err := inv.Invoke(ctx, executor.Call{Tool: "probe", StepID: "s1"})
	if err != nil {
		t.Fatal(err)
	}
	if !r2.Failed() || r2.Error != "503" {
		t.Errorf("second response = %+v", r2)
	}

	if _, err := inv.Invoke(ctx, executor.Call{Tool: "probe"}); err == nil {
		t.Error("expected exhausted error")
	}
	if n := len(inv.Calls()); n != 3 {
		t.Errorf("calls = %d, want 3", n)
	}
}

func TestInvoker_StepKeyWins(t *testing.T) {
	s := &Scenario{
		ToolResponses: map[string][]ToolResponse{
			"probe":       {{Outputs: map[string]any{"from": "tool"}, Repeat: true}},
			"probe:final": {{Outputs: map[string]any{"from": "step"}}},
		},
	}
	inv := NewInvoker(s)
	ctx := context.Background()

	r, _ := inv.Invoke(ctx, executor.Call{Tool: "probe", StepID: "final"})
	if r.Outputs["from"] != "step" {
		t.Errorf("from = %v, want step", r.Outputs["from"])
	}
	r, _ = inv.Invoke(ctx, executor.Call{Tool: "probe", StepID: "first"})
	if r.Outputs["from"] != "tool" {
		t.Errorf("from = %v, want tool", r.Outputs["from"])
	}
}

func TestInvoker_Repeat(t *testing.T) {
	s := &Scenario{
		ToolResponses: map[string][]ToolResponse{
			"mark": {
				{Outputs: map[string]any{"x": 0}},
				{Outputs: map[string]any{"x": 1}, Repeat: true},
			},
		},
	}
	inv := NewInvoker(s)
	want := []any{0, 1, 1, 1}
	for i, w := range want {
		r, err := inv.Invoke(context.Background(), executor.Call{Tool: "mark"})
		if err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
		if r.Outputs["x"] != w {
			t.Errorf("call %d: x = %v, want %v", i, r.Outputs["x"], w)
		}
	}
}

func TestInvoker_UnknownTool(t *testing.T) {
	inv := NewInvoker(nil)
	if _, err := inv.Invoke(context.Background(), executor.Call{Tool: "nope"}); err == nil {
		t.Error("expected error for tool without responses")
	}
}

func TestLoadScenarioDir(t *testing.T) {
	dir := t.TempDir()
	content := "inputs:\n  topic: go\n"
	if err := os.WriteFile(filepath.Join(dir, "scenario.yaml"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s, err := LoadScenarioDir(dir)
	if err != nil {
		t.Fatalf("LoadScenarioDir: %v", err)
	}
	if s.Inputs["topic"] != "go" {
		t.Errorf("topic = %q", s.Inputs["topic"])
	}
}

func TestLoadScenarioPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, []byte("inputs:\n  topic: go\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	for _, p := range []string{dir, path} {
		s, err := LoadScenarioPath(p)
		if err != nil {
			t.Fatalf("LoadScenarioPath(%s): %v", p, err)
		}
		if s.Inputs["topic"] != "go" {
			t.Errorf("%s: topic = %q", p, s.Inputs["topic"])
		}
	}
	if _, err := LoadScenarioPath(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for missing path")
	}
}
