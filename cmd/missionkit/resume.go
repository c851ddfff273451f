package main

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/store"
)

var resumeScenario string

var resumeCmd = &cobra.Command{
	Use:   "resume [mission-id]",
	Short: "Resume a checkpointed mission",
	Long: `Reload a mission from the project store and continue from its cursor.
Finished missions are reported, not re-run.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func runResume(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	m, err := loadMission(cmd, args[0])
	if err != nil {
		return err
	}
	if isFinished(m.Status) {
		fmt.Fprintf(cmd.OutOrStdout(), "Mission %s already %s\n", m.ID, m.Status)
		return nil
	}

	var sc *replay.Scenario
	if resumeScenario != "" {
		if sc, err = replay.LoadScenarioPath(resumeScenario); err != nil {
			return err
		}
	}
	log := projectLogger(proj)
	inv, err := buildInvoker(proj, log, sc)
	if err != nil {
		return err
	}
	defer closeInvoker(inv)

	// resume always checkpoints back to the store it was loaded from
	runNoStore = false
	res, err := execute(cmd, proj, m, uuid.NewString(), inv, log)
	if err != nil {
		return err
	}
	if !succeeded(res) {
		return fmt.Errorf("mission %s", res.Status)
	}
	return nil
}

// loadMission restores a mission tree from the project store.
func loadMission(cmd *cobra.Command, missionID string) (*scope.Mission, error) {
	proj, err := loadProject()
	if err != nil {
		return nil, err
	}
	st, err := proj.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	snap, err := st.Load(commandContext(cmd), missionID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("no checkpoint for mission %q", missionID)
	}
	if err != nil {
		return nil, err
	}
	return scope.Restore(snap)
}

func isFinished(s scope.Status) bool {
	switch s {
	case scope.StatusCompleted, scope.StatusEnded, scope.StatusFailed:
		return true
	}
	return false
}

func init() {
	resumeCmd.Flags().StringVar(&resumeScenario, "scenario", "", "Serve tool calls from a scenario file or directory")
	resumeCmd.Flags().StringArrayVar(&runSecrets, "secret", nil, "Environment variable whose value is redacted from traces, repeatable")
	resumeCmd.Flags().BoolVar(&runTUI, "tui", false, "Show live progress in a terminal UI")
	rootCmd.AddCommand(resumeCmd)
}
