package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/ecosystem/recorder"
	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
	"github.com/ormasoftchile/missionkit/pkg/project"
	"github.com/ormasoftchile/missionkit/pkg/tui"
)

var (
	runVars      []string
	runScenario  string
	runRecord    string
	runMissionID string
	runSecrets   []string
	runTUI       bool
	runVerbose   bool
	runNoStore   bool
)

var runCmd = &cobra.Command{
	Use:   "run [template]",
	Short: "Run a mission",
	Long: `Instantiate a mission from a template and run it to completion.

Tools are routed through the project's tool configuration, or served from
canned responses when --scenario is given. The run is checkpointed to the
project store after every step and traced to the traces directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	tpl, _, err := loadTemplate(cmd.ErrOrStderr(), proj, args[0])
	if err != nil {
		return err
	}

	vars, err := parseVars(runVars)
	if err != nil {
		return err
	}
	var sc *replay.Scenario
	if runScenario != "" {
		if sc, err = replay.LoadScenarioPath(runScenario); err != nil {
			return err
		}
	}
	inputs := mergeInputs(sc, vars)

	runID := uuid.NewString()
	missionID := runMissionID
	if missionID == "" {
		missionID = runID
	}
	m, err := scope.Build(tpl, scope.WithMissionID(missionID), scope.WithInputs(inputs))
	if err != nil {
		return fmt.Errorf("instantiate mission: %w", err)
	}

	log := projectLogger(proj)
	inv, err := buildInvoker(proj, log, sc)
	if err != nil {
		return err
	}
	var rec *recorder.Recorder
	if runRecord != "" {
		rec = recorder.New(inv)
		rec.SetSecrets(runSecrets)
		inv = rec
	}
	defer closeInvoker(inv)

	res, err := execute(cmd, proj, m, runID, inv, log)
	if err != nil {
		return err
	}

	if rec != nil && succeeded(res) {
		path, err := rec.WriteScenario(runRecord, inputs)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to record scenario: %v\n", err)
		} else {
			fmt.Fprintf(cmd.OutOrStdout(), "  Scenario: %s (%d responses)\n", path, rec.Len())
		}
	}
	if !succeeded(res) {
		return fmt.Errorf("mission %s", res.Status)
	}
	return nil
}

// execute runs m with checkpointing and tracing, rendering progress on the
// console or in the TUI. Shared by run and resume.
func execute(cmd *cobra.Command, proj *project.Project, m *scope.Mission, runID string, inv executor.Invoker, log hclog.Logger) (*engine.RunResult, error) {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	cfg := engine.RunConfig{RunID: runID, Invoker: inv, Logger: log}
	if !runNoStore {
		st, err := proj.OpenStore()
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		defer st.Close()
		cfg.Saver = st
	}

	tw, tracePath, err := openTrace(proj.TracesDir(), runID)
	if err != nil {
		return nil, err
	}
	defer tw.Close()
	tw.SetSecrets(runSecrets)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Mission: %s (%s)\n", m.ID, m.Template)
	fmt.Fprintf(out, "Run ID:  %s\n", runID)

	var res *engine.RunResult
	if runTUI {
		cfg.Events = tw
		res, err = tui.Run(ctx, m, cfg)
		if err != nil {
			return nil, err
		}
	} else {
		cfg.Events = trace.Multi(tw, newConsoleSink(out, runVerbose))
		res = engine.New(m, cfg).Run(ctx)
	}

	printResult(out, m.ID, res)
	if len(res.Outputs) > 0 {
		for _, k := range sortedKeys(res.Outputs) {
			fmt.Fprintf(out, "  %s = %v\n", k, res.Outputs[k])
		}
	}
	fmt.Fprintf(out, "  Trace: %s\n", tracePath)
	return res, nil
}

// buildInvoker returns a replay invoker for a scenario, otherwise the
// project's tool manager.
func buildInvoker(proj *project.Project, log hclog.Logger, sc *replay.Scenario) (executor.Invoker, error) {
	if sc != nil {
		return replay.NewInvoker(sc), nil
	}
	mgr, err := proj.ToolManager(log)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	return mgr, nil
}

func closeInvoker(inv executor.Invoker) {
	if c, ok := inv.(io.Closer); ok {
		c.Close()
	}
}

// openTrace creates <dir>/<runID>.jsonl.
func openTrace(dir, runID string) (*trace.Writer, string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("create trace dir: %w", err)
	}
	path := filepath.Join(dir, runID+".jsonl")
	tw, err := trace.NewFileWriter(path, runID)
	if err != nil {
		return nil, "", err
	}
	return tw, path, nil
}

// parseVars parses repeated key=value flags.
func parseVars(pairs []string) (map[string]string, error) {
	vars := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --var %q: expected key=value", p)
		}
		vars[k] = v
	}
	return vars, nil
}

// mergeInputs layers --var values over scenario inputs.
func mergeInputs(sc *replay.Scenario, vars map[string]string) map[string]string {
	out := make(map[string]string)
	if sc != nil {
		for k, v := range sc.Inputs {
			out[k] = v
		}
	}
	for k, v := range vars {
		out[k] = v
	}
	return out
}

func init() {
	runCmd.Flags().StringArrayVar(&runVars, "var", nil, "Set a mission input (key=value), repeatable")
	runCmd.Flags().StringVar(&runScenario, "scenario", "", "Serve tool calls from a scenario file or directory")
	runCmd.Flags().StringVar(&runRecord, "record", "", "Save tool responses as a replayable scenario in this directory")
	runCmd.Flags().StringVar(&runMissionID, "mission-id", "", "Mission id (default: the run id)")
	runCmd.Flags().StringArrayVar(&runSecrets, "secret", nil, "Environment variable whose value is redacted from traces and recordings, repeatable")
	runCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a terminal UI")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Print variable updates and evaluation decisions")
	runCmd.Flags().BoolVar(&runNoStore, "no-store", false, "Do not checkpoint the mission")
	rootCmd.AddCommand(runCmd)
}
