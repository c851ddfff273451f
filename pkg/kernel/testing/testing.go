// Package testing implements the mission scenario test harness. It replays
// templates against canned scenarios and evaluates assertions on the run
// status, step visits, jump counts and mission outputs.
package testing

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// TestSpec declares what to assert about a scenario replay result.
// Omitted fields produce no assertions.
type TestSpec struct {
	Description    string `yaml:"description,omitempty" json:"description,omitempty"`
	ExpectedStatus string `yaml:"expected_status,omitempty" json:"expected_status,omitempty"` // completed, failed, ended, cancelled
	ExpectedError  string `yaml:"expected_error,omitempty" json:"expected_error,omitempty"`   // fault kind, e.g. tool_invocation_error
	ExpectedJumps  *int   `yaml:"expected_jumps,omitempty" json:"expected_jumps,omitempty"`

	MustReach    []string `yaml:"must_reach,omitempty" json:"must_reach,omitempty"`
	MustNotReach []string `yaml:"must_not_reach,omitempty" json:"must_not_reach,omitempty"`
	// ExpectedVisits pins how many times a step ran, counting re-runs after jumps.
	ExpectedVisits map[string]int `yaml:"expected_visits,omitempty" json:"expected_visits,omitempty"`

	// ExpectedOutputs maps mission variable names to a matcher: "/re/" for a
	// regular expression, "~text" for a substring, anything else for equality.
	ExpectedOutputs map[string]string `yaml:"expected_outputs,omitempty" json:"expected_outputs,omitempty"`
	Tags            []string          `yaml:"tags,omitempty" json:"tags,omitempty"`
}

// LoadTestSpec loads a test spec from a YAML file.
func LoadTestSpec(path string) (*TestSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read test spec: %w", err)
	}
	return ParseTestSpec(data)
}

// ParseTestSpec parses test spec YAML. Unknown keys are rejected so a typo
// cannot silently drop an assertion.
func ParseTestSpec(data []byte) (*TestSpec, error) {
	var s TestSpec
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse test spec: %w", err)
	}
	return &s, nil
}

// RunResult is what a replayed run exposes to the assertions.
type RunResult struct {
	Status       string
	ErrorKind    string
	VisitedSteps []string // in run order, repeated for re-runs
	Jumps        int
	Outputs      map[string]any
	Error        error
}

func (r *RunResult) visits() map[string]int {
	n := make(map[string]int, len(r.VisitedSteps))
	for _, id := range r.VisitedSteps {
		n[id]++
	}
	return n
}

// AssertionResult is the result of a single assertion.
type AssertionResult struct {
	Type     string `json:"type"`
	Key      string `json:"key,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

func check(typ, key, expected, actual string, passed bool) AssertionResult {
	label := typ
	if key != "" {
		label = fmt.Sprintf("%s %q", typ, key)
	}
	return AssertionResult{
		Type:     typ,
		Key:      key,
		Expected: expected,
		Actual:   actual,
		Passed:   passed,
		Message:  fmt.Sprintf("%s: expected %q, got %q", label, expected, actual),
	}
}

// Evaluate runs every assertion of spec against run, in a stable order.
func Evaluate(spec *TestSpec, run *RunResult) []AssertionResult {
	var out []AssertionResult

	if spec.ExpectedStatus != "" {
		out = append(out, check("expected_status", "", spec.ExpectedStatus, run.Status, run.Status == spec.ExpectedStatus))
	}
	if spec.ExpectedError != "" {
		out = append(out, check("expected_error", "", spec.ExpectedError, run.ErrorKind, run.ErrorKind == spec.ExpectedError))
	}
	if spec.ExpectedJumps != nil {
		want, got := fmt.Sprint(*spec.ExpectedJumps), fmt.Sprint(run.Jumps)
		out = append(out, check("expected_jumps", "", want, got, want == got))
	}

	visits := run.visits()
	for _, id := range spec.MustReach {
		out = append(out, check("must_reach", id, "visited", visitedLabel(visits[id]), visits[id] > 0))
	}
	for _, id := range spec.MustNotReach {
		out = append(out, check("must_not_reach", id, "not visited", visitedLabel(visits[id]), visits[id] == 0))
	}
	for _, id := range sortedKeys(spec.ExpectedVisits) {
		want := spec.ExpectedVisits[id]
		out = append(out, check("expected_visits", id, fmt.Sprint(want), fmt.Sprint(visits[id]), visits[id] == want))
	}

	for _, name := range sortedKeys(spec.ExpectedOutputs) {
		want := spec.ExpectedOutputs[name]
		got := ""
		if v, ok := run.Outputs[name]; ok {
			got = fmt.Sprint(v)
		}
		out = append(out, check("expected_output", name, want, got, matchOutput(want, got)))
	}
	return out
}

// HasFailures reports whether any assertion failed.
func HasFailures(results []AssertionResult) bool {
	for _, r := range results {
		if !r.Passed {
			return true
		}
	}
	return false
}

func matchOutput(want, got string) bool {
	switch {
	case len(want) > 2 && strings.HasPrefix(want, "/") && strings.HasSuffix(want, "/"):
		re, err := regexp.Compile(want[1 : len(want)-1])
		return err == nil && re.MatchString(got)
	case strings.HasPrefix(want, "~"):
		return strings.Contains(got, want[1:])
	default:
		return want == got
	}
}

func visitedLabel(n int) string {
	switch n {
	case 0:
		return "not visited"
	case 1:
		return "visited"
	default:
		return fmt.Sprintf("visited %d times", n)
	}
}
