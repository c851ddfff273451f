package testing

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func templatePath() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata", "summarise.yaml")
}

func TestDiscoverScenarios(t *testing.T) {
	scenarios, err := DiscoverScenarios(templatePath())
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, s := range scenarios {
		names[s.Name] = true
	}
	for _, want := range []string{"happy", "retry", "tool-fails", "untested", "wrong-output"} {
		if !names[want] {
			t.Errorf("scenario %q not discovered", want)
		}
	}
}

func TestDiscoverScenarios_NoDir(t *testing.T) {
	scenarios, err := DiscoverScenarios(filepath.Join(t.TempDir(), "lonely.yaml"))
	if err != nil || scenarios != nil {
		t.Errorf("got %v, %v; want nil, nil", scenarios, err)
	}
}

func TestRunner_RunAll(t *testing.T) {
	r := &Runner{TraceDir: t.TempDir()}
	out, err := r.RunAll(context.Background(), templatePath())
	if err != nil {
		t.Fatalf("RunAll: %v", err)
	}
	if out.Template != "summarise" {
		t.Errorf("template = %q", out.Template)
	}

	want := map[string]string{
		"happy":        StatusPassed,
		"retry":        StatusPassed,
		"tool-fails":   StatusPassed,
		"untested":     StatusSkipped,
		"wrong-output": StatusFailed,
	}
	for _, res := range out.Scenarios {
		if res.Status != want[res.ScenarioName] {
			t.Errorf("%s: status = %s, want %s (error %q, assertions %+v)",
				res.ScenarioName, res.Status, want[res.ScenarioName], res.Error, res.Assertions)
		}
	}
	s := out.Summary
	if s.Total != 5 || s.Passed != 3 || s.Failed != 1 || s.Skipped != 1 || s.Errors != 0 {
		t.Errorf("summary = %+v", s)
	}
}

func TestRunner_TraceWritten(t *testing.T) {
	dir := t.TempDir()
	r := &Runner{TraceDir: dir}
	res, err := r.RunScenario(context.Background(), templatePath(), "happy")
	if err != nil {
		t.Fatal(err)
	}
	if res.TracePath == "" {
		t.Fatal("no trace path recorded")
	}
	data, err := os.ReadFile(res.TracePath)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) == 0 {
		t.Error("trace is empty")
	}
}

func TestRunner_FailFast(t *testing.T) {
	r := &Runner{FailFast: true}
	out, err := r.RunAll(context.Background(), templatePath())
	if err != nil {
		t.Fatal(err)
	}
	last := out.Scenarios[len(out.Scenarios)-1]
	if last.ScenarioName != "wrong-output" || last.Status != StatusFailed {
		t.Errorf("last = %s/%s, want wrong-output/failed", last.ScenarioName, last.Status)
	}
}

func TestRunner_MissingScenario(t *testing.T) {
	r := &Runner{}
	res, err := r.RunScenario(context.Background(), templatePath(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusError {
		t.Errorf("status = %s, want error", res.Status)
	}
}

func TestRunner_InvalidTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	if err := os.WriteFile(path, []byte("apiVersion: mission/v0\nmeta: {name: x}\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := (&Runner{}).RunAll(context.Background(), path); err == nil {
		t.Error("expected validation error")
	}
}

func TestRunner_ScenariosDirOverride(t *testing.T) {
	// Copy the template elsewhere so the sibling convention cannot apply.
	data, err := os.ReadFile(templatePath())
	if err != nil {
		t.Fatal(err)
	}
	moved := filepath.Join(t.TempDir(), "summarise.yaml")
	if err := os.WriteFile(moved, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r := &Runner{ScenariosDir: filepath.Join(filepath.Dir(templatePath()), "scenarios")}
	res, err := r.RunScenario(context.Background(), moved, "happy")
	if err != nil {
		t.Fatal(err)
	}
	if res.Status != StatusPassed {
		t.Errorf("status = %s (error %q)", res.Status, res.Error)
	}
}
