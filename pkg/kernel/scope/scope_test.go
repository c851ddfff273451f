package scope

import (
	"errors"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/contract"
	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

var (
	str = value.Schema{Type: value.TypeString}
	num = value.Schema{Type: value.TypeNumber}
)

func decl(name string, s value.Schema, io string) schema.VariableDecl {
	return schema.VariableDecl{Name: name, Schema: s, IOType: io}
}

func target(name string) schema.TargetDecl {
	return schema.TargetDecl{Type: "variable", Variable: name}
}

func intPtr(i int) *int { return &i }

// summarise: [stage-1: summarize(tool), check(evaluation)] with
// stage-1.summary mapped out to workflow.final_summary. check reads the
// workflow's final_summary.
func summariseTemplate() *schema.Template {
	return &schema.Template{
		APIVersion: schema.APIVersion,
		Meta:       schema.Meta{Name: "summarise"},
		Tools: []schema.ToolDecl{{
			Name: "summarizer",
			Contract: contract.Contract{
				Inputs:  map[string]contract.ParamDef{"text": {Schema: str}},
				Outputs: map[string]contract.ParamDef{"summary": {Schema: str}},
			},
		}},
		Mission: schema.Mission{
			State: []schema.VariableDecl{decl("raw_question", str, "input")},
			Workflow: schema.Workflow{
				ID: "wf",
				State: []schema.VariableDecl{
					decl("raw_question", str, "input"),
					decl("final_summary", str, "output"),
				},
				InputMappings: []schema.MappingDecl{{Source: "raw_question", Target: target("raw_question")}},
				Stages: []schema.Stage{{
					ID: "stage-1",
					State: []schema.VariableDecl{
						decl("question", str, "input"),
						decl("summary", str, "output"),
					},
					InputMappings:  []schema.MappingDecl{{Source: "raw_question", Target: target("question")}},
					OutputMappings: []schema.MappingDecl{{Source: "summary", Target: target("final_summary")}},
					Steps: []schema.Step{
						{
							ID:                "summarize",
							Type:              schema.StepTool,
							Tool:              "summarizer",
							ParameterMappings: schema.ParameterBindings{{Param: "text", Variable: "question"}},
							OutputMappings:    schema.OutputBindings{{Output: "summary", Target: schema.OutputTarget{Variable: "summary"}}},
						},
						{
							ID:   "check",
							Type: schema.StepEvaluation,
							Evaluation: &eval.Config{
								Conditions: []eval.Condition{{
									ConditionID: "empty", Variable: "final_summary", Operator: eval.Equals, Value: "", TargetStepIndex: intPtr(0),
								}},
								MaximumJumps: 2,
							},
						},
					},
				}},
			},
		},
	}
}

func TestBuild(t *testing.T) {
	m, err := Build(summariseTemplate(), WithMissionID("m-1"), WithInputs(map[string]string{"raw_question": "why?"}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if m.ID != "m-1" || m.Template != "summarise" {
		t.Errorf("mission = %s/%s", m.ID, m.Template)
	}
	rq, _ := m.State.Get("raw_question")
	if s, _ := rq.Value.AsString(); s != "why?" || !rq.Ready() {
		t.Errorf("raw_question = %v (%s)", rq.Value, rq.Status)
	}

	wf := m.Workflow
	if wf.CurrentStage != -1 || wf.StepCount() != 2 {
		t.Errorf("workflow cursor state = %d, steps = %d", wf.CurrentStage, wf.StepCount())
	}
	step, ok := m.Step("summarize")
	if !ok {
		t.Fatal("summarize step missing")
	}
	if _, ok := step.Parameters["text"]; !ok {
		t.Error("text parameter variable not declared")
	}
	out, ok := step.State.GetByID(step.Outputs["summary"])
	if !ok || out.IOType != variable.IOOutput || out.CreatedBy != "summarize" {
		t.Errorf("summary output = %v", out)
	}
	if len(step.InputMappings) != 1 || len(step.OutputMappings) != 1 {
		t.Errorf("step mappings = %d in / %d out", len(step.InputMappings), len(step.OutputMappings))
	}
	stageSummary, _ := wf.Stages[0].State.Get("summary")
	if stageSummary.CreatedBy != "stage-1" {
		t.Errorf("stage summary created_by = %q", stageSummary.CreatedBy)
	}
}

func TestBuild_SchemaMismatchAbortsInstantiation(t *testing.T) {
	tpl := summariseTemplate()
	tpl.Mission.Workflow.Stages[0].State[0] = decl("question", num, "input")

	m, err := Build(tpl)
	if m != nil {
		t.Error("no tree may be returned on validation failure")
	}
	if !errors.Is(err, fault.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want SchemaMismatch", err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Path == "" {
		t.Error("expected the error to carry a template path")
	}
}

func TestBuild_CollectsAllErrors(t *testing.T) {
	tpl := summariseTemplate()
	wf := &tpl.Mission.Workflow
	wf.State = append(wf.State, decl("final_summary", str, "wip"))
	wf.Stages[0].InputMappings = append(wf.Stages[0].InputMappings, schema.MappingDecl{Source: "ghost", Target: target("question")})

	_, err := Build(tpl)
	if !errors.Is(err, fault.ErrDuplicateName) {
		t.Errorf("err = %v, want DuplicateName", err)
	}
	if !errors.Is(err, fault.ErrUnknownTargetVariable) {
		t.Errorf("err = %v, want UnknownTargetVariable", err)
	}
}

func TestBuild_StaticErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*schema.Template)
		want   error
	}{
		{"unknown parameter source", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[0].ParameterMappings[0].Variable = "nope"
		}, fault.ErrUnknownTargetVariable},
		{"unknown contract parameter", func(tpl *schema.Template) {
			step := &tpl.Mission.Workflow.Stages[0].Steps[0]
			step.ParameterMappings = append(step.ParameterMappings, schema.ParameterBinding{Param: "extra", Variable: "question"})
		}, fault.ErrInvalidConfiguration},
		{"unknown output target", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[0].OutputMappings[0].Target = schema.OutputTarget{Variable: "nowhere"}
		}, fault.ErrUnknownTargetVariable},
		{"jump target out of range", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[1].Evaluation.Conditions[0].TargetStepIndex = intPtr(9)
		}, fault.ErrInvalidConfiguration},
		{"bad operator", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[1].Evaluation.Conditions[0].Operator = "like"
		}, fault.ErrInvalidConditionOperator},
		{"condition on undeclared variable", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[1].Evaluation.Conditions[0].Variable = "missing.field"
		}, fault.ErrUnknownTargetVariable},
		{"condition on stage variable", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[1].Evaluation.Conditions[0].Variable = "summary"
		}, fault.ErrUnknownTargetVariable},
		{"duplicate step id", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages[0].Steps[1].ID = "summarize"
		}, fault.ErrDuplicateName},
		{"empty stage", func(tpl *schema.Template) {
			tpl.Mission.Workflow.Stages = append(tpl.Mission.Workflow.Stages, schema.Stage{ID: "empty"})
		}, fault.ErrInvalidConfiguration},
		{"unknown target kind", func(tpl *schema.Template) {
			tpl.Mission.Workflow.InputMappings[0].Target.Type = "webhook"
		}, fault.ErrInvalidConfiguration},
		{"unknown mission input", func(tpl *schema.Template) {
			tpl.Mission.State = nil
		}, fault.ErrUnknownTargetVariable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := summariseTemplate()
			tt.mutate(tpl)
			_, err := Build(tpl)
			if !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestBuild_Materialize(t *testing.T) {
	tpl := summariseTemplate()
	st := &tpl.Mission.Workflow.Stages[0]
	st.Steps[0].OutputMappings = schema.OutputBindings{
		{Output: "summary", Target: schema.OutputTarget{Variable: "draft", Materialize: &schema.Materialize{Scope: "workflow"}}},
	}
	m, err := Build(tpl)
	if err != nil {
		t.Fatal(err)
	}
	draft, ok := m.Workflow.State.Get("draft")
	if !ok {
		t.Fatal("draft not materialized in the workflow")
	}
	if draft.IOType != variable.IOWIP || draft.CreatedBy != "summarize" || draft.Schema.Type != value.TypeString {
		t.Errorf("draft = %v created_by=%s", draft, draft.CreatedBy)
	}
}

func TestBuild_RequiredParameterWithoutBinding(t *testing.T) {
	tpl := summariseTemplate()
	tpl.Mission.Workflow.Stages[0].Steps[0].ParameterMappings = nil
	m, err := Build(tpl)
	if err != nil {
		t.Fatal(err)
	}
	step, _ := m.Step("summarize")
	missing := step.State.Missing()
	if len(missing) != 1 || missing[0].Name != "text" {
		t.Errorf("missing = %v", missing)
	}
}

func TestFactory_IndependentTrees(t *testing.T) {
	f := NewFactory(summariseTemplate())
	a, err := f()
	if err != nil {
		t.Fatal(err)
	}
	b, err := f()
	if err != nil {
		t.Fatal(err)
	}
	if a.ID == b.ID {
		t.Error("each run should get its own mission id")
	}
	av, _ := a.Workflow.State.Get("final_summary")
	a.Workflow.State.SetValue(av.ID, "a")
	bv, _ := b.Workflow.State.Get("final_summary")
	if bv.Ready() {
		t.Error("trees share state")
	}
}

func TestWorkflow_StepAt(t *testing.T) {
	m, err := Build(summariseTemplate())
	if err != nil {
		t.Fatal(err)
	}
	ref, ok := m.Workflow.StepAt(1)
	if !ok || ref.Step.ID != "check" || ref.StageIndex != 0 {
		t.Errorf("StepAt(1) = %+v", ref)
	}
	if _, ok := m.Workflow.StepAt(2); ok {
		t.Error("StepAt past the end should fail")
	}
	if _, ok := m.Workflow.StepAt(-1); ok {
		t.Error("StepAt(-1) should fail")
	}
}

func TestSnapshot_RoundTrip(t *testing.T) {
	m, err := Build(summariseTemplate(), WithInputs(map[string]string{"raw_question": "why?"}))
	if err != nil {
		t.Fatal(err)
	}
	m.Workflow.Cursor = 1
	m.Workflow.JumpCount = 2
	step, _ := m.Step("summarize")
	step.Status = StatusCompleted
	step.Runs = 3

	data, err := m.Snapshot().Marshal()
	if err != nil {
		t.Fatal(err)
	}
	snap, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	r, err := Restore(snap)
	if err != nil {
		t.Fatal(err)
	}

	if r.ID != m.ID || r.Workflow.Cursor != 1 || r.Workflow.JumpCount != 2 || r.Workflow.CurrentStage != -1 {
		t.Errorf("restored workflow = %+v", r.Workflow)
	}
	rs, ok := r.Step("summarize")
	if !ok || rs.Status != StatusCompleted || rs.Runs != 3 {
		t.Fatalf("restored step = %+v", rs)
	}
	if rs.Parameters["text"] != step.Parameters["text"] || rs.Outputs["summary"] != step.Outputs["summary"] {
		t.Error("variable ids changed across reload")
	}
	if len(rs.InputMappings) != 1 || rs.InputMappings[0] != step.InputMappings[0] {
		t.Errorf("mappings = %v, want %v", rs.InputMappings, step.InputMappings)
	}
	rq, _ := r.State.Get("raw_question")
	if s, _ := rq.Value.AsString(); s != "why?" {
		t.Errorf("raw_question = %v", rq.Value)
	}
	check, _ := r.Step("check")
	if check.Evaluation == nil || check.Evaluation.MaximumJumps != 2 {
		t.Errorf("evaluation = %+v", check.Evaluation)
	}
}

func TestUnmarshal_BadVersion(t *testing.T) {
	if _, err := Unmarshal([]byte(`{"version": 99}`)); err == nil {
		t.Error("expected version error")
	}
}
