package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/validate"
	"github.com/ormasoftchile/missionkit/pkg/project"
)

var validateCmd = &cobra.Command{
	Use:   "validate [template]",
	Short: "Validate a mission template",
	Long: `Validate a mission template through the structural, semantic and domain
phases. The template is a path or a name resolved against the project's
templates directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	proj, err := loadProject()
	if err != nil {
		return err
	}
	tpl, _, err := loadTemplate(cmd.ErrOrStderr(), proj, args[0])
	if err != nil {
		return err
	}
	steps := 0
	for _, st := range tpl.Mission.Workflow.Stages {
		steps += len(st.Steps)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s is valid (%d stages, %d steps)\n", tpl.Meta.Name, len(tpl.Mission.Workflow.Stages), steps)
	return nil
}

// loadTemplate resolves ref within proj and validates it, printing warnings
// and errors to w. It returns the template and its resolved path.
func loadTemplate(w io.Writer, proj *project.Project, ref string) (*schema.Template, string, error) {
	path, err := proj.ResolveTemplate(ref)
	if err != nil {
		return nil, "", err
	}
	tpl, errs := validate.ValidateFile(path)
	for _, e := range validate.Warnings(errs) {
		fmt.Fprintf(w, "  ⚠ [%s] %s\n", e.Phase, e.Message)
		if e.Path != "" {
			fmt.Fprintf(w, "    at: %s\n", e.Path)
		}
	}
	if validate.HasErrors(errs) {
		errors := validate.Errors(errs)
		fmt.Fprintf(w, "Validation failed: %d error(s)\n\n", len(errors))
		for i, e := range errors {
			fmt.Fprintf(w, "  %d. [%s] %s\n", i+1, e.Phase, e.Message)
			if e.Path != "" {
				fmt.Fprintf(w, "     at: %s\n", e.Path)
			}
		}
		return nil, path, fmt.Errorf("validation failed with %d error(s)", len(errors))
	}
	return tpl, path, nil
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
