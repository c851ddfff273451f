package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
	"github.com/ormasoftchile/missionkit/pkg/store"
)

var showJSON bool

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List checkpointed missions",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

func runList(cmd *cobra.Command, args []string) error {
	st, err := openProjectStore()
	if err != nil {
		return err
	}
	defer st.Close()

	missions, err := st.List(commandContext(cmd))
	if err != nil {
		return err
	}
	if len(missions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No missions.")
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), renderMissionTable(missions))
	return nil
}

func renderMissionTable(missions []store.Summary) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		Headers("MISSION", "TEMPLATE", "STATUS", "SAVED")
	for _, m := range missions {
		t.Row(m.ID, m.Template, string(m.Status), m.SavedAt.Local().Format(time.DateTime))
	}
	return t.String()
}

var showCmd = &cobra.Command{
	Use:   "show [mission-id]",
	Short: "Show a checkpointed mission's tree and variables",
	Args:  cobra.ExactArgs(1),
	RunE:  runShow,
}

func runShow(cmd *cobra.Command, args []string) error {
	st, err := openProjectStore()
	if err != nil {
		return err
	}
	defer st.Close()

	snap, err := st.Load(commandContext(cmd), args[0])
	if err != nil {
		return err
	}
	if showJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}
	printSnapshot(cmd.OutOrStdout(), snap)
	return nil
}

// printSnapshot renders the scope tree with statuses and ready variables.
func printSnapshot(w io.Writer, snap *scope.Snapshot) {
	fmt.Fprintf(w, "Mission %s (%s), saved %s\n", snap.Mission.ID, snap.Template, snap.SavedAt.Local().Format(time.DateTime))
	printRecord(w, snap.Mission, 0)
}

func printRecord(w io.Writer, r scope.Record, depth int) {
	indent := strings.Repeat("  ", depth)
	line := fmt.Sprintf("%s%s %s [%s]", indent, r.Kind, r.ID, r.Status)
	if r.Kind == scope.KindWorkflow {
		line += fmt.Sprintf(" cursor=%d jump_count=%d", r.Cursor, r.JumpCount)
	}
	if r.Kind == scope.KindStep && r.Runs > 0 {
		line += fmt.Sprintf(" runs=%d", r.Runs)
	}
	fmt.Fprintln(w, line)
	if r.Error != "" {
		fmt.Fprintf(w, "%s  error: %s\n", indent, r.Error)
	}
	for _, v := range r.Variables {
		if v.Status != variable.StatusReady {
			continue
		}
		fmt.Fprintf(w, "%s  %s %s = %s\n", indent, dimStyle.Render("·"), v.Name, formatValue(v.Value))
	}
	for _, c := range r.Children {
		printRecord(w, c, depth+1)
	}
}

func formatValue(v any) string {
	switch v.(type) {
	case map[string]any, []any:
		data, err := json.Marshal(v)
		if err == nil {
			return string(data)
		}
	}
	return fmt.Sprintf("%v", v)
}

var deleteCmd = &cobra.Command{
	Use:   "delete [mission-id...]",
	Short: "Delete checkpointed missions",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runDelete,
}

func runDelete(cmd *cobra.Command, args []string) error {
	st, err := openProjectStore()
	if err != nil {
		return err
	}
	defer st.Close()

	for _, id := range args {
		if err := st.Delete(commandContext(cmd), id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
	}
	return nil
}

func openProjectStore() (store.Store, error) {
	proj, err := loadProject()
	if err != nil {
		return nil, err
	}
	st, err := proj.OpenStore()
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	return st, nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	showCmd.Flags().BoolVar(&showJSON, "json", false, "Print the raw snapshot as JSON")
	rootCmd.AddCommand(listCmd, showCmd, deleteCmd)
}
