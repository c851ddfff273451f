package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/debugger"
	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

var (
	debugVars     []string
	debugScenario string
)

var debugCmd = &cobra.Command{
	Use:   "debug [template]",
	Short: "Step through a mission interactively",
	Long: `Run a mission under an interactive debugger that pauses before every tool
call. Use 'next' to release one call, 'continue' to run freely, and
'print vars' to inspect scope variables.`,
	Args: cobra.ExactArgs(1),
	RunE: runDebug,
}

func runDebug(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	tpl, _, err := loadTemplate(cmd.ErrOrStderr(), proj, args[0])
	if err != nil {
		return err
	}
	vars, err := parseVars(debugVars)
	if err != nil {
		return err
	}
	var sc *replay.Scenario
	if debugScenario != "" {
		if sc, err = replay.LoadScenarioPath(debugScenario); err != nil {
			return err
		}
	}

	runID := uuid.NewString()
	m, err := scope.Build(tpl, scope.WithMissionID(runID), scope.WithInputs(mergeInputs(sc, vars)))
	if err != nil {
		return fmt.Errorf("instantiate mission: %w", err)
	}

	log := projectLogger(proj)
	inv, err := buildInvoker(proj, log, sc)
	if err != nil {
		return err
	}
	defer closeInvoker(inv)

	d := debugger.New(m, inv, engine.RunConfig{RunID: runID, Logger: log})
	d.SetOutput(cmd.OutOrStdout())
	return d.Run(commandContext(cmd))
}

func init() {
	debugCmd.Flags().StringArrayVar(&debugVars, "var", nil, "Set a mission input (key=value), repeatable")
	debugCmd.Flags().StringVar(&debugScenario, "scenario", "", "Serve tool calls from a scenario file or directory")
	rootCmd.AddCommand(debugCmd)
}
