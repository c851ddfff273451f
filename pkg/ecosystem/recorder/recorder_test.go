package recorder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
)

func stubInvoker(results ...*executor.Result) executor.Invoker {
	i := 0
	return executor.InvokerFunc(func(context.Context, executor.Call) (*executor.Result, error) {
		r := results[i]
		i++
		return r, nil
	})
}

func TestRecorder_CapturesResponse(t *testing.T) {
	rec := New(stubInvoker(
		&executor.Result{Status: executor.StatusSuccess, Outputs: map[string]any{"summary": "ok"}},
		&executor.Result{Status: executor.StatusFailure, Error: "rate limited"},
	))
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := rec.Invoke(ctx, executor.Call{Tool: "summarizer", StepID: "s"}); err != nil {
			t.Fatal(err)
		}
	}

	if rec.Len() != 2 {
		t.Fatalf("expected 2 responses, got %d", rec.Len())
	}
	s := rec.Scenario(map[string]string{"topic": "go"})
	resps := s.ToolResponses["summarizer"]
	if len(resps) != 2 {
		t.Fatalf("responses = %d", len(resps))
	}
	if resps[0].Outputs["summary"] != "ok" || resps[0].Status != "" {
		t.Errorf("first = %+v", resps[0])
	}
	if resps[1].Status != executor.StatusFailure || resps[1].Error != "rate limited" {
		t.Errorf("second = %+v", resps[1])
	}
	if s.Inputs["topic"] != "go" {
		t.Errorf("inputs = %v", s.Inputs)
	}
}

func TestRecorder_RedactsSecrets(t *testing.T) {
	t.Setenv("TEST_SECRET_TOKEN", "super-secret-123")

	rec := New(stubInvoker(&executor.Result{
		Status: executor.StatusFailure,
		Error:  "auth failed for super-secret-123",
		Outputs: map[string]any{
			"token":  "super-secret-123",
			"nested": map[string]any{"t": "super-secret-123"},
		},
	}))
	rec.SetSecrets([]string{"TEST_SECRET_TOKEN"})

	if _, err := rec.Invoke(context.Background(), executor.Call{Tool: "auth"}); err != nil {
		t.Fatal(err)
	}
	r := rec.Scenario(nil).ToolResponses["auth"][0]
	if r.Error != "auth failed for <REDACTED>" {
		t.Errorf("error = %q", r.Error)
	}
	if r.Outputs["token"] != "<REDACTED>" {
		t.Errorf("token = %v", r.Outputs["token"])
	}
	if r.Outputs["nested"].(map[string]any)["t"] != "<REDACTED>" {
		t.Errorf("nested = %v", r.Outputs["nested"])
	}
}

func TestRecorder_ReplaysRecording(t *testing.T) {
	rec := New(stubInvoker(&executor.Result{Status: executor.StatusSuccess, Outputs: map[string]any{"n": 1}}))
	if _, err := rec.Invoke(context.Background(), executor.Call{Tool: "count"}); err != nil {
		t.Fatal(err)
	}

	dir := filepath.Join(t.TempDir(), "recorded")
	path, err := rec.WriteScenario(dir, map[string]string{"topic": "go"})
	if err != nil {
		t.Fatal(err)
	}
	if path != filepath.Join(dir, "scenario.yaml") {
		t.Errorf("path = %q", path)
	}

	s, err := replay.LoadScenarioDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	res, err := replay.NewInvoker(s).Invoke(context.Background(), executor.Call{Tool: "count"})
	if err != nil {
		t.Fatal(err)
	}
	if res.Failed() || res.Outputs["n"] != 1 {
		t.Errorf("replayed = %+v", res)
	}
}
