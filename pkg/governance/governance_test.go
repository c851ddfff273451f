package governance

import (
	"context"
	"errors"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
)

func mustNew(t *testing.T, p Policy) *Engine {
	t.Helper()
	g, err := New(p)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestCheckCommand(t *testing.T) {
	g := mustNew(t, Policy{
		AllowedCommands: []string{"summarizer", "search", "curl"},
		DeniedCommands:  []string{"curl"}, // deny wins
	})
	tests := []struct {
		command string
		allowed bool
	}{
		{"summarizer", true},
		{"/usr/local/bin/search", true},
		{"curl", false},
		{"rm", false},
	}
	for _, tt := range tests {
		err := g.CheckCommand(tt.command)
		if (err == nil) != tt.allowed {
			t.Errorf("CheckCommand(%q) = %v, want allowed=%v", tt.command, err, tt.allowed)
		}
	}
}

func TestNoPolicyAllowsAll(t *testing.T) {
	var g *Engine
	if err := g.CheckCommand("anything"); err != nil {
		t.Errorf("nil engine should allow all: %v", err)
	}
	if err := g.CheckEnvVar("SECRET_KEY"); err != nil {
		t.Errorf("nil engine should allow env: %v", err)
	}
	if got := g.Redact("token=abc"); got != "token=abc" {
		t.Errorf("Redact = %q", got)
	}
}

func TestEnvVarPatternMatching(t *testing.T) {
	g := mustNew(t, Policy{DenyEnvVars: []string{"SECRET_*", "TOKEN", "AWS_*"}})
	tests := []struct {
		name    string
		blocked bool
	}{
		{"SECRET_KEY", true},
		{"TOKEN", true},
		{"AWS_ACCESS_KEY_ID", true},
		{"HOME", false},
		{"TOKENS", false},
	}
	for _, tt := range tests {
		err := g.CheckEnvVar(tt.name)
		if (err != nil) != tt.blocked {
			t.Errorf("CheckEnvVar(%q) = %v, want blocked=%v", tt.name, err, tt.blocked)
		}
	}
}

func TestFilterEnvVars(t *testing.T) {
	g := mustNew(t, Policy{DenyEnvVars: []string{"SECRET_*"}})
	kept, blocked := g.FilterEnvVars([]string{"HOME=/root", "SECRET_KEY=x", "PATH=/bin"})
	if len(kept) != 2 || kept[0] != "HOME=/root" || kept[1] != "PATH=/bin" {
		t.Errorf("kept = %v", kept)
	}
	if len(blocked) != 1 || blocked[0] != "SECRET_KEY" {
		t.Errorf("blocked = %v", blocked)
	}
	if !g.Restricted() {
		t.Error("Restricted() = false")
	}
}

func TestInvalidRedactionPattern(t *testing.T) {
	if _, err := New(Policy{Redact: []RedactionRule{{Pattern: "([", Replace: "x"}}}); err == nil {
		t.Error("expected compile error")
	}
}

func TestGuardRedactsDiagnostics(t *testing.T) {
	g := mustNew(t, Policy{Redact: []RedactionRule{{Pattern: `key=\w+`, Replace: "key=***"}}})
	inner := executor.InvokerFunc(func(context.Context, executor.Call) (*executor.Result, error) {
		return &executor.Result{
			Status:  executor.StatusFailure,
			Error:   "auth failed with key=abc123",
			Stderr:  "debug: key=abc123",
			Outputs: map[string]any{"echo": "key=abc123"},
		}, nil
	})
	res, err := g.Guard(inner).Invoke(context.Background(), executor.Call{Tool: "t"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Error != "auth failed with key=***" {
		t.Errorf("Error = %q", res.Error)
	}
	if res.Stderr != "debug: key=***" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
	if res.Outputs["echo"] != "key=abc123" {
		t.Errorf("outputs must not be redacted, got %v", res.Outputs["echo"])
	}
}

func TestGuardPassesErrors(t *testing.T) {
	g := mustNew(t, Policy{Redact: []RedactionRule{{Pattern: "x", Replace: "y"}}})
	boom := errors.New("boom")
	inner := executor.InvokerFunc(func(context.Context, executor.Call) (*executor.Result, error) {
		return nil, boom
	})
	if _, err := g.Guard(inner).Invoke(context.Background(), executor.Call{}); !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}
