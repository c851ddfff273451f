package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
	"github.com/ormasoftchile/missionkit/pkg/kernel/validate"
)

// Scenario statuses.
const (
	StatusPassed  = "passed"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// TestResult is the result of running one scenario.
type TestResult struct {
	TemplateName string            `json:"template_name"`
	ScenarioName string            `json:"scenario_name"`
	Status       string            `json:"status"` // passed, failed, skipped, error
	DurationMs   int64             `json:"duration_ms"`
	Assertions   []AssertionResult `json:"assertions,omitempty"`
	Error        string            `json:"error,omitempty"`
	TracePath    string            `json:"trace_path,omitempty"`
}

// TestSummary aggregates counts across scenarios.
type TestSummary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Skipped int `json:"skipped"`
	Errors  int `json:"errors"`
}

// TestOutput is the top-level output of a test run.
type TestOutput struct {
	Template  string       `json:"template"`
	Scenarios []TestResult `json:"scenarios"`
	Summary   TestSummary  `json:"summary"`
}

// Runner executes scenario-based tests against a template.
type Runner struct {
	Timeout  time.Duration
	FailFast bool
	// TraceDir, when set, receives one JSONL trace per scenario.
	TraceDir string
	// ScenariosDir overrides the scenarios root; scenarios for template
	// <name> are then read from <ScenariosDir>/<name>/.
	ScenariosDir string
	Logger       hclog.Logger
}

// ScenarioInfo describes a discovered scenario directory.
type ScenarioInfo struct {
	Name string
	Dir  string
}

// DiscoverScenarios finds scenario directories for a template.
// Convention: scenarios are in a sibling `scenarios/<template-name>/` directory,
// each subdirectory containing a `scenario.yaml`.
func DiscoverScenarios(templatePath string) ([]ScenarioInfo, error) {
	return discoverIn(scenariosRoot("", templatePath))
}

func discoverIn(scenariosDir string) ([]ScenarioInfo, error) {
	entries, err := os.ReadDir(scenariosDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read scenarios dir: %w", err)
	}

	var scenarios []ScenarioInfo
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		scenarioFile := filepath.Join(scenariosDir, entry.Name(), "scenario.yaml")
		if _, err := os.Stat(scenarioFile); err == nil {
			scenarios = append(scenarios, ScenarioInfo{
				Name: entry.Name(),
				Dir:  filepath.Join(scenariosDir, entry.Name()),
			})
		}
	}
	return scenarios, nil
}

func scenariosRoot(override, templatePath string) string {
	base := strings.TrimSuffix(filepath.Base(templatePath), filepath.Ext(templatePath))
	if override != "" {
		return filepath.Join(override, base)
	}
	return filepath.Join(filepath.Dir(templatePath), "scenarios", base)
}

// RunAll discovers and runs all scenarios for a template.
func (r *Runner) RunAll(ctx context.Context, templatePath string) (*TestOutput, error) {
	scenarios, err := discoverIn(scenariosRoot(r.ScenariosDir, templatePath))
	if err != nil {
		return nil, err
	}

	tpl, err := loadValid(templatePath)
	if err != nil {
		return nil, err
	}

	output := &TestOutput{
		Template: tpl.Meta.Name,
	}

	for _, si := range scenarios {
		result := r.runScenario(ctx, tpl, si)
		output.Scenarios = append(output.Scenarios, result)

		switch result.Status {
		case StatusPassed:
			output.Summary.Passed++
		case StatusFailed:
			output.Summary.Failed++
		case StatusSkipped:
			output.Summary.Skipped++
		case StatusError:
			output.Summary.Errors++
		}
		output.Summary.Total++

		if r.FailFast && (result.Status == StatusFailed || result.Status == StatusError) {
			break
		}
	}

	return output, nil
}

// RunScenario runs a single named scenario.
func (r *Runner) RunScenario(ctx context.Context, templatePath, scenarioName string) (*TestResult, error) {
	tpl, err := loadValid(templatePath)
	if err != nil {
		return nil, err
	}
	si := ScenarioInfo{Name: scenarioName, Dir: filepath.Join(scenariosRoot(r.ScenariosDir, templatePath), scenarioName)}
	result := r.runScenario(ctx, tpl, si)
	return &result, nil
}

func loadValid(path string) (*schema.Template, error) {
	tpl, errs := validate.ValidateFile(path)
	if err := validate.Err(errs); err != nil {
		return nil, fmt.Errorf("template validation failed: %w", err)
	}
	return tpl, nil
}

// runScenario executes a single scenario and evaluates its test spec.
func (r *Runner) runScenario(ctx context.Context, tpl *schema.Template, si ScenarioInfo) TestResult {
	start := time.Now()
	result := TestResult{TemplateName: tpl.Meta.Name, ScenarioName: si.Name}
	finish := func(status, errMsg string) TestResult {
		result.Status = status
		result.Error = errMsg
		result.DurationMs = time.Since(start).Milliseconds()
		return result
	}

	// Load scenario
	scenario, err := replay.LoadScenarioDir(si.Dir)
	if err != nil {
		return finish(StatusError, fmt.Sprintf("load scenario: %s", err))
	}

	// Load test spec (optional; without one the scenario is skipped)
	testSpecPath := filepath.Join(si.Dir, "test.yaml")
	if _, err := os.Stat(testSpecPath); err != nil {
		return finish(StatusSkipped, "")
	}
	spec, err := LoadTestSpec(testSpecPath)
	if err != nil {
		return finish(StatusError, fmt.Sprintf("load test spec: %s", err))
	}

	runID := "test-" + si.Name
	m, err := scope.Build(tpl, scope.WithMissionID(runID), scope.WithInputs(scenario.Inputs))
	if err != nil {
		return finish(StatusError, fmt.Sprintf("instantiate: %s", err))
	}

	var traceBuf bytes.Buffer
	tw := trace.NewWriter(&traceBuf, runID)

	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	eng := engine.New(m, engine.RunConfig{
		RunID:   runID,
		Invoker: replay.NewInvoker(scenario),
		Events:  tw,
		Logger:  r.Logger,
	})
	res := eng.Run(ctx)

	if r.TraceDir != "" {
		path := filepath.Join(r.TraceDir, tpl.Meta.Name+"-"+si.Name+".jsonl")
		if err := os.WriteFile(path, traceBuf.Bytes(), 0o644); err == nil {
			result.TracePath = path
		}
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return finish(StatusError, "timeout")
	}

	run := &RunResult{
		Status:       string(res.Status),
		ErrorKind:    string(fault.KindOf(res.Error)),
		VisitedSteps: eng.VisitedSteps,
		Jumps:        res.JumpCount,
		Outputs:      res.Outputs,
		Error:        res.Error,
	}

	result.Assertions = Evaluate(spec, run)
	if HasFailures(result.Assertions) {
		return finish(StatusFailed, "")
	}
	return finish(StatusPassed, "")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
