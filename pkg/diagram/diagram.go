// Package diagram generates visual diagrams from mission templates.
// Supports Mermaid flowchart and ASCII formats.
package diagram

import (
	"fmt"
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
)

// Format represents the output diagram format.
type Format string

const (
	FormatMermaid Format = "mermaid"
	FormatASCII   Format = "ascii"
)

// Generate produces a diagram string from a parsed template.
func Generate(tpl *schema.Template, format Format) (string, error) {
	if tpl == nil {
		return "", fmt.Errorf("nil template")
	}
	switch format {
	case FormatMermaid:
		return generateMermaid(tpl), nil
	case FormatASCII:
		return generateASCII(tpl), nil
	default:
		return "", fmt.Errorf("unsupported diagram format: %s", format)
	}
}

// --- Mermaid flowchart ---

func generateMermaid(tpl *schema.Template) string {
	var b strings.Builder
	b.WriteString("flowchart TD\n")

	steps := flatten(tpl)
	if len(steps) == 0 {
		return b.String()
	}

	b.WriteString("    START([Start]) --> " + safeID(steps[0].id) + "\n")

	stage := ""
	for _, s := range steps {
		if s.stage != stage {
			if stage != "" {
				b.WriteString("    end\n")
			}
			stage = s.stage
			b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n", safeID("stage_"+stage), escMermaid(stage)))
		}
		b.WriteString("        " + nodeDefinition(s) + "\n")
	}
	b.WriteString("    end\n")

	b.WriteString("    END([End])\n")
	for i, s := range steps {
		next := "END"
		if i < len(steps)-1 {
			next = safeID(steps[i+1].id)
		}
		if s.eval == nil {
			b.WriteString(fmt.Sprintf("    %s --> %s\n", safeID(s.id), next))
			continue
		}

		for _, c := range s.eval.Conditions {
			if c.TargetStepIndex == nil || *c.TargetStepIndex < 0 || *c.TargetStepIndex >= len(steps) {
				continue
			}
			label := truncate(fmt.Sprintf("%s %s %v", c.Variable, c.Operator, c.Value), 30)
			b.WriteString(fmt.Sprintf("    %s -.->|%q| %s\n",
				safeID(s.id), label, safeID(steps[*c.TargetStepIndex].id)))
		}
		if s.eval.DefaultAction == eval.DefaultEnd {
			b.WriteString(fmt.Sprintf("    %s -->|\"end\"| END\n", safeID(s.id)))
		} else {
			b.WriteString(fmt.Sprintf("    %s -->|\"continue\"| %s\n", safeID(s.id), next))
		}
	}

	for _, s := range steps {
		if s.eval != nil {
			b.WriteString(fmt.Sprintf("    style %s fill:#3a2a4a,stroke:#a6f\n", safeID(s.id)))
		}
	}
	return b.String()
}

// --- ASCII ---

func generateASCII(tpl *schema.Template) string {
	var b strings.Builder

	name := tpl.Meta.Name
	if name == "" {
		name = "Mission"
	}

	steps := flatten(tpl)
	if len(steps) == 0 {
		b.WriteString(name + " (empty)\n")
		return b.String()
	}

	// Uniform box width so every box and connector aligns.
	const indent = 8
	boxWidth := computeUniformBoxWidth(steps, name)
	connCol := indent + 1 + boxWidth/2 // +1 accounts for the └/┌ border character
	pad := strings.Repeat(" ", indent)
	connPad := strings.Repeat(" ", connCol)

	headerText := centerPad(name, boxWidth)
	mid := boxWidth / 2
	b.WriteString(pad + "╔" + strings.Repeat("═", boxWidth) + "╗\n")
	b.WriteString(pad + "║" + headerText + "║\n")
	b.WriteString(pad + "╚" + strings.Repeat("═", mid) + "╤" + strings.Repeat("═", boxWidth-mid-1) + "╝\n")

	stage := ""
	for i, s := range steps {
		if s.stage != stage {
			stage = s.stage
			b.WriteString(connPad + "│\n")
			b.WriteString(pad + "  stage " + stage + "\n")
		}
		b.WriteString(connPad + "│\n")
		writeASCIIStep(&b, s, indent, boxWidth)

		if s.eval != nil {
			for _, c := range s.eval.Conditions {
				if c.TargetStepIndex == nil || *c.TargetStepIndex < 0 || *c.TargetStepIndex >= len(steps) {
					continue
				}
				b.WriteString(fmt.Sprintf("%s  ↺ %s %s %v → %s\n", pad, c.Variable, c.Operator, c.Value,
					steps[*c.TargetStepIndex].id))
			}
			if s.eval.MaximumJumps > 0 {
				b.WriteString(fmt.Sprintf("%s    (at most %d jumps)\n", pad, s.eval.MaximumJumps))
			}
			if s.eval.DefaultAction == eval.DefaultEnd {
				b.WriteString(pad + "  ◆ otherwise end\n")
			}
		}
		if i == len(steps)-1 {
			b.WriteString(connPad + "│\n")
			b.WriteString(connPad[:max(connCol-1, 0)] + "◆ End\n")
		}
	}
	return b.String()
}

// computeUniformBoxWidth returns the widest interior width needed across
// all steps and the header name.
func computeUniformBoxWidth(steps []diagramStep, name string) int {
	w := 22
	if nameWidth := runewidth.StringWidth(name) + 4; nameWidth > w {
		w = nameWidth
	}
	for _, s := range steps {
		if sw := stepContentWidth(s); sw > w {
			w = sw
		}
	}
	return w
}

// stepContentWidth returns the interior width a single step box needs.
func stepContentWidth(s diagramStep) int {
	w := runewidth.StringWidth(fmt.Sprintf(" %s %s ", stepIcon(s), s.label()))
	if s.outputs != "" {
		if cw := runewidth.StringWidth(" → " + s.outputs); cw > w {
			w = cw
		}
	}
	return w
}

// centerPad centers s within width using spaces, based on display width.
func centerPad(s string, width int) string {
	sw := runewidth.StringWidth(s)
	if sw >= width {
		return s
	}
	total := width - sw
	left := total / 2
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", total-left)
}

func writeASCIIStep(b *strings.Builder, s diagramStep, indent, boxWidth int) {
	content := fmt.Sprintf(" %s %s ", stepIcon(s), s.label())
	contentWidth := runewidth.StringWidth(content)

	pad := strings.Repeat(" ", indent)
	mid := boxWidth / 2

	b.WriteString(pad + "┌" + strings.Repeat("─", boxWidth) + "┐\n")
	b.WriteString(pad + "│" + content + strings.Repeat(" ", boxWidth-contentWidth) + "│\n")
	if s.outputs != "" {
		outLine := " → " + s.outputs
		b.WriteString(pad + "│" + outLine + strings.Repeat(" ", boxWidth-runewidth.StringWidth(outLine)) + "│\n")
	}
	b.WriteString(pad + "└" + strings.Repeat("─", mid) + "┬" + strings.Repeat("─", boxWidth-mid-1) + "┘\n")
}

func stepIcon(s diagramStep) string {
	if s.eval != nil {
		return "◇"
	}
	return "⚙"
}

// --- template walking helpers ---

type diagramStep struct {
	id      string
	name    string
	stage   string
	tool    string
	outputs string
	eval    *eval.Config
}

func (s diagramStep) label() string {
	label := s.name
	if label == "" {
		label = s.id
	}
	if s.tool != "" {
		label += " (" + s.tool + ")"
	}
	return label
}

// flatten lists steps in workflow order, the order target_step_index uses.
func flatten(tpl *schema.Template) []diagramStep {
	var out []diagramStep
	for si, st := range tpl.Mission.Workflow.Stages {
		stage := st.ID
		if stage == "" {
			stage = fmt.Sprintf("stage-%d", si+1)
		}
		for _, s := range st.Steps {
			ds := diagramStep{id: s.ID, name: s.Name, stage: stage, tool: s.Tool}
			if ds.id == "" {
				ds.id = fmt.Sprintf("step-%d", len(out)+1)
			}
			if s.Type == schema.StepEvaluation {
				ds.eval = s.Evaluation
				if ds.eval == nil {
					ds.eval = &eval.Config{}
				}
			}
			if len(s.OutputMappings) > 0 {
				names := make([]string, 0, len(s.OutputMappings))
				for _, o := range s.OutputMappings {
					names = append(names, o.Output)
				}
				ds.outputs = strings.Join(names, ", ")
			}
			out = append(out, ds)
		}
	}
	return out
}

// --- string helpers ---

func nodeDefinition(s diagramStep) string {
	id := safeID(s.id)
	title := escMermaid(s.label())
	switch {
	case s.eval != nil:
		return fmt.Sprintf(`%s{"%s"}`, id, title)
	case s.outputs != "":
		return fmt.Sprintf(`%s[/"%s<br/>→ %s"/]`, id, title, escMermaid(s.outputs))
	default:
		return fmt.Sprintf(`%s[/"%s"/]`, id, title)
	}
}

func safeID(id string) string {
	r := strings.NewReplacer("-", "_", " ", "_", ".", "_")
	return r.Replace(id)
}

func escMermaid(s string) string {
	s = strings.ReplaceAll(s, `"`, "#quot;")
	s = strings.ReplaceAll(s, `'`, "#apos;")
	return s
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
