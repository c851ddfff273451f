package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/ormasoftchile/missionkit/pkg/diagram"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/tui"
)

// --- schema ---

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Schema operations",
}

var schemaExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the template JSON Schema to stdout",
	RunE:  runSchemaExport,
}

func runSchemaExport(cmd *cobra.Command, args []string) error {
	data, err := schema.GenerateTemplateJSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	var out json.RawMessage = data
	formatted, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(formatted))
	return nil
}

// --- describe ---

var describeRaw bool

var describeCmd = &cobra.Command{
	Use:   "describe [template]",
	Short: "Describe a mission template: tools, state and workflow",
	Args:  cobra.ExactArgs(1),
	RunE:  runDescribe,
}

func runDescribe(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	tpl, _, err := loadTemplate(cmd.ErrOrStderr(), proj, args[0])
	if err != nil {
		return err
	}
	md := tui.Describe(tpl)
	if describeRaw {
		fmt.Fprint(cmd.OutOrStdout(), md)
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), tui.Render(md, terminalWidth()))
	return nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

// --- diagram ---

var diagramFormat string

var diagramCmd = &cobra.Command{
	Use:   "diagram [template]",
	Short: "Draw a mission template as a Mermaid or ASCII diagram",
	Args:  cobra.ExactArgs(1),
	RunE:  runDiagram,
}

func runDiagram(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	tpl, _, err := loadTemplate(cmd.ErrOrStderr(), proj, args[0])
	if err != nil {
		return err
	}
	out, err := diagram.Generate(tpl, diagram.Format(diagramFormat))
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	return nil
}

func init() {
	schemaCmd.AddCommand(schemaExportCmd)
	describeCmd.Flags().BoolVar(&describeRaw, "raw", false, "Print markdown without terminal styling")
	diagramCmd.Flags().StringVar(&diagramFormat, "format", string(diagram.FormatASCII), "Diagram format: ascii or mermaid")
	rootCmd.AddCommand(schemaCmd, describeCmd, diagramCmd)
}
