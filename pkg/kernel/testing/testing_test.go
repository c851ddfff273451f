package testing

import (
	"testing"
)

func TestParseTestSpec(t *testing.T) {
	yaml := `
description: "retry once then publish"
expected_status: completed
expected_error: ""
expected_jumps: 1
must_reach:
  - summarize
  - check
must_not_reach:
  - publish
expected_outputs:
  final_summary: "/^Go/"
`
	spec, err := ParseTestSpec([]byte(yaml))
	if err != nil {
		t.Fatal(err)
	}
	if spec.ExpectedStatus != "completed" {
		t.Errorf("status = %q", spec.ExpectedStatus)
	}
	if spec.ExpectedJumps == nil || *spec.ExpectedJumps != 1 {
		t.Errorf("jumps = %v", spec.ExpectedJumps)
	}
	if len(spec.MustReach) != 2 {
		t.Errorf("must_reach = %d", len(spec.MustReach))
	}
	if len(spec.MustNotReach) != 1 {
		t.Errorf("must_not_reach = %d", len(spec.MustNotReach))
	}
}

func TestEvaluate_AllPass(t *testing.T) {
	jumps := 2
	spec := &TestSpec{
		ExpectedStatus: "failed",
		ExpectedError:  "tool_invocation_error",
		ExpectedJumps:  &jumps,
		MustReach:      []string{"step1", "step2"},
		MustNotReach:   []string{"step3"},
		ExpectedOutputs: map[string]string{
			"result": "ok",
		},
	}

	run := &RunResult{
		Status:       "failed",
		ErrorKind:    "tool_invocation_error",
		Jumps:        2,
		VisitedSteps: []string{"step1", "step2"},
		Outputs:      map[string]any{"result": "ok"},
	}

	results := Evaluate(spec, run)
	if HasFailures(results) {
		for _, r := range results {
			if !r.Passed {
				t.Errorf("unexpected failure: %s: %s", r.Type, r.Message)
			}
		}
	}

	// status, error, jumps, 2 must_reach, 1 must_not_reach, 1 output
	if len(results) != 7 {
		t.Errorf("expected 7 assertions, got %d", len(results))
	}
}

func TestEvaluate_JumpMismatch(t *testing.T) {
	zero := 0
	spec := &TestSpec{ExpectedJumps: &zero}
	run := &RunResult{Jumps: 3}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for jump count mismatch")
	}
	if results[0].Actual != "3" {
		t.Errorf("actual = %q, want 3", results[0].Actual)
	}
}

func TestEvaluate_NumericOutput(t *testing.T) {
	spec := &TestSpec{ExpectedOutputs: map[string]string{"count": "3"}}
	run := &RunResult{Outputs: map[string]any{"count": float64(3)}}

	if results := Evaluate(spec, run); HasFailures(results) {
		t.Errorf("float64(3) should print as 3: %+v", results)
	}
}

func TestEvaluate_MustReachFails(t *testing.T) {
	spec := &TestSpec{
		MustReach: []string{"missing_step"},
	}
	run := &RunResult{
		VisitedSteps: []string{"step1"},
	}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for must_reach")
	}
}

func TestEvaluate_MustNotReachFails(t *testing.T) {
	spec := &TestSpec{
		MustNotReach: []string{"step1"},
	}
	run := &RunResult{
		VisitedSteps: []string{"step1"},
	}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("expected failure for must_not_reach")
	}
}

func TestEvaluate_RegexMatch(t *testing.T) {
	spec := &TestSpec{
		ExpectedOutputs: map[string]string{
			"code": `/^2\d\d$/`,
		},
	}
	run := &RunResult{
		Outputs: map[string]any{"code": "200"},
	}

	results := Evaluate(spec, run)
	if HasFailures(results) {
		t.Error("regex should match 200")
	}
}

func TestEvaluate_RegexNoMatch(t *testing.T) {
	spec := &TestSpec{
		ExpectedOutputs: map[string]string{
			"code": `/^2\d\d$/`,
		},
	}
	run := &RunResult{
		Outputs: map[string]any{"code": "503"},
	}

	results := Evaluate(spec, run)
	if !HasFailures(results) {
		t.Error("regex should not match 503")
	}
}

func TestEvaluate_Visits(t *testing.T) {
	spec := &TestSpec{
		MustReach:      []string{"draft"},
		ExpectedVisits: map[string]int{"draft": 2, "review": 1},
	}
	run := &RunResult{VisitedSteps: []string{"draft", "review", "draft"}}

	results := Evaluate(spec, run)
	if len(results) != 3 {
		t.Fatalf("got %d assertions, want 3", len(results))
	}
	if results[0].Actual != "visited 2 times" || !results[0].Passed {
		t.Errorf("must_reach = %+v", results[0])
	}
	if results[1].Key != "draft" || !results[1].Passed {
		t.Errorf("draft visits = %+v", results[1])
	}
	if results[2].Key != "review" || !results[2].Passed {
		t.Errorf("review visits = %+v", results[2])
	}

	run.VisitedSteps = run.VisitedSteps[:2]
	if !HasFailures(Evaluate(spec, run)) {
		t.Error("expected failure when draft ran once")
	}
}

func TestEvaluate_Substring(t *testing.T) {
	spec := &TestSpec{ExpectedOutputs: map[string]string{"summary": "~language"}}
	if HasFailures(Evaluate(spec, &RunResult{Outputs: map[string]any{"summary": "Go is a language"}})) {
		t.Error("substring should match")
	}
	if !HasFailures(Evaluate(spec, &RunResult{Outputs: map[string]any{"summary": "Go"}})) {
		t.Error("substring should not match")
	}
}

func TestParseTestSpec_UnknownField(t *testing.T) {
	if _, err := ParseTestSpec([]byte("expected_stauts: completed\n")); err == nil {
		t.Error("expected error for misspelled key")
	}
}

func TestEvaluate_EmptySpec(t *testing.T) {
	spec := &TestSpec{}
	run := &RunResult{}

	results := Evaluate(spec, run)
	if len(results) != 0 {
		t.Errorf("empty spec should produce 0 assertions, got %d", len(results))
	}
}

func TestHasFailures(t *testing.T) {
	allPass := []AssertionResult{{Passed: true}, {Passed: true}}
	if HasFailures(allPass) {
		t.Error("no failures expected")
	}

	withFail := []AssertionResult{{Passed: true}, {Passed: false}}
	if !HasFailures(withFail) {
		t.Error("failure expected")
	}
}
