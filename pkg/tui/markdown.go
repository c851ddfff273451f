package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ormasoftchile/missionkit/pkg/kernel/contract"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
)

// Describe renders a template as a markdown document: metadata, tool
// contracts, mission state and the stage/step outline.
func Describe(tpl *schema.Template) string {
	var b strings.Builder

	name := tpl.Meta.Name
	if name == "" {
		name = "mission"
	}
	fmt.Fprintf(&b, "# %s\n\n", name)
	if tpl.Meta.Description != "" {
		b.WriteString(tpl.Meta.Description + "\n\n")
	}
	if len(tpl.Meta.Tags) > 0 {
		fmt.Fprintf(&b, "Tags: `%s`\n\n", strings.Join(tpl.Meta.Tags, "`, `"))
	}

	if len(tpl.Tools) > 0 {
		b.WriteString("## Tools\n\n")
		for _, t := range tpl.Tools {
			fmt.Fprintf(&b, "### %s\n\n", t.Name)
			if t.Description != "" {
				b.WriteString(t.Description + "\n\n")
			}
			writeParams(&b, "Inputs", t.Contract.Inputs, true)
			writeParams(&b, "Outputs", t.Contract.Outputs, false)
		}
	}

	if len(tpl.Mission.State) > 0 {
		b.WriteString("## State\n\n")
		writeState(&b, tpl.Mission.State)
	}

	b.WriteString("## Workflow\n\n")
	index := 0
	for _, st := range tpl.Mission.Workflow.Stages {
		title := st.ID
		if st.Name != "" {
			title = st.Name + " (" + st.ID + ")"
		}
		fmt.Fprintf(&b, "### Stage %s\n\n", title)
		for _, s := range st.Steps {
			writeStep(&b, index, s)
			index++
		}
		b.WriteString("\n")
	}
	return b.String()
}

func writeParams(b *strings.Builder, title string, params map[string]contract.ParamDef, inputs bool) {
	if len(params) == 0 {
		return
	}
	names := make([]string, 0, len(params))
	for n := range params {
		names = append(names, n)
	}
	sort.Strings(names)

	fmt.Fprintf(b, "**%s**\n\n", title)
	b.WriteString("| name | type | notes |\n|---|---|---|\n")
	for _, n := range names {
		p := params[n]
		var notes []string
		if inputs && p.IsRequired() {
			notes = append(notes, "required")
		}
		if p.Default != nil {
			notes = append(notes, fmt.Sprintf("default `%v`", p.Default))
		}
		if p.Description != "" {
			notes = append(notes, p.Description)
		}
		fmt.Fprintf(b, "| %s | `%s` | %s |\n", n, p.Schema.String(), strings.Join(notes, ", "))
	}
	b.WriteString("\n")
}

func writeState(b *strings.Builder, decls []schema.VariableDecl) {
	b.WriteString("| variable | type | io |\n|---|---|---|\n")
	for _, d := range decls {
		io := d.IOType
		if io == "" {
			io = "wip"
		}
		if d.Required {
			io += ", required"
		}
		fmt.Fprintf(b, "| %s | `%s` | %s |\n", d.Name, d.Schema.String(), io)
	}
	b.WriteString("\n")
}

func writeStep(b *strings.Builder, index int, s schema.Step) {
	if s.Type == schema.StepEvaluation {
		fmt.Fprintf(b, "%d. **%s** evaluation\n", index, s.ID)
		if s.Evaluation == nil {
			return
		}
		for _, c := range s.Evaluation.Conditions {
			target := "continue"
			if c.TargetStepIndex != nil {
				target = fmt.Sprintf("jump to step %d", *c.TargetStepIndex)
			}
			fmt.Fprintf(b, "   - `%s`: %s %s `%v` → %s\n", c.ConditionID, c.Variable, c.Operator, c.Value, target)
		}
		if s.Evaluation.DefaultAction != "" {
			fmt.Fprintf(b, "   - otherwise %s\n", s.Evaluation.DefaultAction)
		}
		fmt.Fprintf(b, "   - at most %d jumps\n", s.Evaluation.MaximumJumps)
		return
	}

	fmt.Fprintf(b, "%d. **%s** calls `%s`\n", index, s.ID, s.Tool)
	for _, p := range s.ParameterMappings {
		fmt.Fprintf(b, "   - %s ← %s\n", p.Param, p.Variable)
	}
	for _, o := range s.OutputMappings {
		fmt.Fprintf(b, "   - %s → %s\n", o.Output, o.Target.Variable)
	}
}

// Render converts markdown to styled terminal output wrapped at width.
// Falls back to the raw input if glamour is unavailable or rendering fails.
func Render(md string, width int) string {
	if strings.TrimSpace(md) == "" {
		return md
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return md
	}
	out, err := r.Render(md)
	if err != nil {
		return md
	}
	return strings.TrimRight(out, "\n")
}
