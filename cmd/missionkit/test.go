package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	kt "github.com/ormasoftchile/missionkit/pkg/kernel/testing"
)

var (
	testScenario string
	testJSON     bool
	testFailFast bool
	testTimeout  string
)

var testCmd = &cobra.Command{
	Use:   "test [template...]",
	Short: "Run scenario replay tests for mission templates",
	Long: `Discover scenarios for each template, replay them, and compare the runs
against each scenario's test.yaml assertions.

Scenarios are discovered by convention at:
  {template-dir}/scenarios/{template-name}/*/scenario.yaml
or under paths.scenarios from missionkit.yaml.

Scenarios without test.yaml are reported as skipped.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTest,
}

func runTest(cmd *cobra.Command, args []string) error {
	timeout := 30 * time.Second
	if testTimeout != "" {
		d, err := time.ParseDuration(testTimeout)
		if err != nil {
			return fmt.Errorf("invalid --timeout %q: %w", testTimeout, err)
		}
		timeout = d
	}

	proj, err := loadProject()
	if err != nil {
		return err
	}
	runner := &kt.Runner{
		Timeout:      timeout,
		FailFast:     testFailFast,
		TraceDir:     proj.TracesDir(),
		ScenariosDir: proj.ScenariosDir(),
		Logger:       projectLogger(proj),
	}
	out := cmd.OutOrStdout()
	ctx := commandContext(cmd)

	allPassed := true
	for _, ref := range args {
		path, err := proj.ResolveTemplate(ref)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %s: %v\n", ref, err)
			allPassed = false
			continue
		}

		var output *kt.TestOutput
		if testScenario != "" {
			var res *kt.TestResult
			res, err = runner.RunScenario(ctx, path, testScenario)
			if err == nil {
				output = &kt.TestOutput{Template: res.TemplateName, Scenarios: []kt.TestResult{*res}}
				output.Summary = summarize(output.Scenarios)
			}
		} else {
			output, err = runner.RunAll(ctx, path)
		}
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "  ✗ %s: %v\n", ref, err)
			allPassed = false
			continue
		}

		if testJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			enc.Encode(output)
		} else {
			printTestOutput(out, output)
		}

		if output.Summary.Failed > 0 || output.Summary.Errors > 0 {
			allPassed = false
		}
		if testFailFast && !allPassed {
			break
		}
	}

	if !allPassed {
		return fmt.Errorf("tests failed")
	}
	return nil
}

func summarize(results []kt.TestResult) kt.TestSummary {
	s := kt.TestSummary{Total: len(results)}
	for _, r := range results {
		switch r.Status {
		case kt.StatusPassed:
			s.Passed++
		case kt.StatusFailed:
			s.Failed++
		case kt.StatusSkipped:
			s.Skipped++
		case kt.StatusError:
			s.Errors++
		}
	}
	return s
}

func printTestOutput(w io.Writer, output *kt.TestOutput) {
	fmt.Fprintf(w, "\n  %s\n", output.Template)
	for _, s := range output.Scenarios {
		switch s.Status {
		case kt.StatusPassed:
			fmt.Fprintf(w, "    %s %-30s %dms\n", okStyle.Render("✓"), s.ScenarioName, s.DurationMs)
		case kt.StatusFailed:
			fmt.Fprintf(w, "    %s %-30s %dms\n", failStyle.Render("✗"), s.ScenarioName, s.DurationMs)
			for _, a := range s.Assertions {
				if !a.Passed {
					fmt.Fprintf(w, "        %s: %s\n", a.Type, a.Message)
				}
			}
		case kt.StatusSkipped:
			fmt.Fprintf(w, "    ○ %-30s (no test.yaml)  %dms\n", s.ScenarioName, s.DurationMs)
		case kt.StatusError:
			fmt.Fprintf(w, "    %s %-30s ERROR: %s\n", failStyle.Render("✗"), s.ScenarioName, s.Error)
		}
	}
	fmt.Fprintf(w, "\n  %d scenarios, %d passed, %d failed, %d skipped\n",
		output.Summary.Total, output.Summary.Passed, output.Summary.Failed, output.Summary.Skipped)
	if output.Summary.Errors > 0 {
		fmt.Fprintf(w, "  %d errors\n", output.Summary.Errors)
	}
}

func init() {
	testCmd.Flags().StringVar(&testScenario, "scenario", "", "Run only the named scenario (default: all)")
	testCmd.Flags().BoolVar(&testJSON, "json", false, "Output results as structured JSON")
	testCmd.Flags().BoolVar(&testFailFast, "fail-fast", false, "Stop after first failure")
	testCmd.Flags().StringVar(&testTimeout, "timeout", "30s", "Per-scenario timeout (e.g. 30s, 1m)")
	rootCmd.AddCommand(testCmd)
}

