package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/serve"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the JSON-RPC server for editor integrations (stdio)",
	Long: `Serve newline-delimited JSON-RPC 2.0 on stdin/stdout. Methods:
mission/start, mission/resume, mission/cancel, mission/status,
mission/variables, mission/list and shutdown. Trace events are pushed as
mission/event notifications.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	st, err := proj.OpenStore()
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	return serve.New(proj, st, projectLogger(proj)).Run()
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
