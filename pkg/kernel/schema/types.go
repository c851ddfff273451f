// Package schema defines the mission/v0 template format: the static
// Mission → Workflow → Stage → Step tree a run is instantiated from.
package schema

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/missionkit/pkg/kernel/contract"
	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
)

// API version constant for mission templates.
const APIVersion = "mission/v0"

// ---------------------------------------------------------------------------
// Template
// ---------------------------------------------------------------------------

// Template is the top-level mission/v0 document.
type Template struct {
	APIVersion string     `yaml:"apiVersion"      json:"apiVersion"`
	Meta       Meta       `yaml:"meta"            json:"meta"`
	Tools      []ToolDecl `yaml:"tools,omitempty" json:"tools,omitempty"`
	Mission    Mission    `yaml:"mission"         json:"mission"`
}

// Meta contains template metadata.
type Meta struct {
	Name        string   `yaml:"name"                  json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"        json:"tags,omitempty"`
}

// ToolDecl declares a tool the template's steps may reference.
type ToolDecl struct {
	Name        string            `yaml:"name"                  json:"name"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
	Contract    contract.Contract `yaml:"contract"              json:"contract"`
}

// Tool returns the declared tool named name.
func (t *Template) Tool(name string) (*ToolDecl, bool) {
	for i := range t.Tools {
		if t.Tools[i].Name == name {
			return &t.Tools[i], true
		}
	}
	return nil, false
}

// ---------------------------------------------------------------------------
// Scopes
// ---------------------------------------------------------------------------

// Mission is the root scope. It owns exactly one workflow.
type Mission struct {
	Name     string         `yaml:"name,omitempty"  json:"name,omitempty"`
	State    []VariableDecl `yaml:"state,omitempty" json:"state,omitempty"`
	Workflow Workflow       `yaml:"workflow"        json:"workflow"`
}

// Workflow owns ordered stages.
type Workflow struct {
	ID             string         `yaml:"id,omitempty"              json:"id,omitempty"`
	Name           string         `yaml:"name,omitempty"            json:"name,omitempty"`
	State          []VariableDecl `yaml:"state,omitempty"           json:"state,omitempty"`
	InputMappings  []MappingDecl  `yaml:"input_mappings,omitempty"  json:"input_mappings,omitempty"`
	OutputMappings []MappingDecl  `yaml:"output_mappings,omitempty" json:"output_mappings,omitempty"`
	Stages         []Stage        `yaml:"stages"                    json:"stages"`
}

// Stage owns ordered steps.
type Stage struct {
	ID             string         `yaml:"id,omitempty"              json:"id,omitempty"`
	Name           string         `yaml:"name,omitempty"            json:"name,omitempty"`
	State          []VariableDecl `yaml:"state,omitempty"           json:"state,omitempty"`
	InputMappings  []MappingDecl  `yaml:"input_mappings,omitempty"  json:"input_mappings,omitempty"`
	OutputMappings []MappingDecl  `yaml:"output_mappings,omitempty" json:"output_mappings,omitempty"`
	Steps          []Step         `yaml:"steps"                     json:"steps"`
}

// StepType enumerates the step kinds.
type StepType string

const (
	StepTool       StepType = "tool"
	StepEvaluation StepType = "evaluation"
)

// Step is a leaf scope: a tool call or an evaluation.
type Step struct {
	ID   string   `yaml:"id,omitempty"   json:"id,omitempty"`
	Name string   `yaml:"name,omitempty" json:"name,omitempty"`
	Type StepType `yaml:"type"           json:"type" jsonschema:"enum=tool,enum=evaluation"`

	// Tool step
	Tool              string             `yaml:"tool,omitempty"               json:"tool,omitempty"`
	Contract          *contract.Contract `yaml:"contract,omitempty"           json:"contract,omitempty"`
	With              map[string]any     `yaml:"with,omitempty"               json:"with,omitempty"`
	ParameterMappings ParameterBindings  `yaml:"parameter_mappings,omitempty" json:"parameter_mappings,omitempty"`
	OutputMappings    OutputBindings     `yaml:"output_mappings,omitempty"    json:"output_mappings,omitempty"`

	// Evaluation step
	Evaluation *eval.Config `yaml:"evaluation,omitempty" json:"evaluation,omitempty"`

	State []VariableDecl `yaml:"state,omitempty" json:"state,omitempty"`
}

// ---------------------------------------------------------------------------
// Variables and mappings
// ---------------------------------------------------------------------------

// VariableDecl declares one variable in a scope's state.
type VariableDecl struct {
	Name         string `yaml:"name" json:"name"`
	value.Schema `yaml:",inline"`
	IOType       string `yaml:"io_type,omitempty"  json:"io_type,omitempty" jsonschema:"enum=input,enum=output,enum=wip"`
	Required     bool   `yaml:"required,omitempty" json:"required,omitempty"`
	Value        any    `yaml:"value,omitempty"    json:"value,omitempty"`
}

// MappingDecl relates a variable of the enclosing scope to one of the
// declaring scope, by name.
type MappingDecl struct {
	Source string     `yaml:"source" json:"source"`
	Target TargetDecl `yaml:"target" json:"target"`
}

// TargetDecl is a mapping destination. The short form is a bare variable
// name; the long form is {type: variable, variable: name}.
type TargetDecl struct {
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	Variable string `yaml:"variable"       json:"variable"`
}

// UnmarshalYAML accepts both the short and the long form.
func (t *TargetDecl) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		t.Type = "variable"
		t.Variable = node.Value
		return nil
	case yaml.MappingNode:
		type plain TargetDecl
		var p plain
		if err := decodeStrict(node, &p); err != nil {
			return err
		}
		*t = TargetDecl(p)
		if t.Type == "" {
			t.Type = "variable"
		}
		return nil
	default:
		return fmt.Errorf("line %d: mapping target must be a variable name or an object", node.Line)
	}
}

// OutputTarget names the Stage/Workflow variable a tool output is written to,
// optionally declaring how to create it.
type OutputTarget struct {
	Variable    string       `yaml:"variable"              json:"variable"`
	Materialize *Materialize `yaml:"materialize,omitempty" json:"materialize,omitempty"`
}

// UnmarshalYAML accepts a bare variable name or the enhanced object form.
func (o *OutputTarget) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		o.Variable = node.Value
		return nil
	case yaml.MappingNode:
		type plain OutputTarget
		var p plain
		if err := decodeStrict(node, &p); err != nil {
			return err
		}
		*o = OutputTarget(p)
		return nil
	default:
		return fmt.Errorf("line %d: output mapping must be a variable name or an object", node.Line)
	}
}

// Materialize declares a variable created at instantiation to receive a
// tool output. The schema defaults to the tool contract's output schema.
type Materialize struct {
	value.Schema `yaml:",inline"`
	IOType       string `yaml:"io_type,omitempty" json:"io_type,omitempty" jsonschema:"enum=input,enum=output,enum=wip"`
	Scope        string `yaml:"scope,omitempty"   json:"scope,omitempty" jsonschema:"enum=stage,enum=workflow"` // stage (default) or workflow
}

// ---------------------------------------------------------------------------
// Traversal
// ---------------------------------------------------------------------------

// StepRef locates a step in the flattened workflow order.
type StepRef struct {
	Index      int // flattened step index
	StageIndex int
	Stage      *Stage
	Step       *Step
}

// Steps returns the workflow's steps flattened across stages in declaration
// order. Step indices used by evaluation targets address this list.
func (w *Workflow) Steps() []StepRef {
	var out []StepRef
	for si := range w.Stages {
		st := &w.Stages[si]
		for i := range st.Steps {
			out = append(out, StepRef{Index: len(out), StageIndex: si, Stage: st, Step: &st.Steps[i]})
		}
	}
	return out
}

func decodeStrict(node *yaml.Node, out any) error {
	// yaml.Node.Decode has no KnownFields switch; re-encode and decode strictly.
	data, err := yaml.Marshal(node)
	if err != nil {
		return err
	}
	return unmarshalStrict(data, out)
}
