package mapping

import (
	"errors"
	"testing"

	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

var (
	str = value.Schema{Type: value.TypeString}
	num = value.Schema{Type: value.TypeNumber}
)

func declare(t *testing.T, r *variable.Registry, v variable.Variable) *variable.Variable {
	t.Helper()
	out, err := r.Declare(v)
	if err != nil {
		t.Fatalf("declare %s: %v", v.Name, err)
	}
	return out
}

func TestApplyInputMappings_Idempotent(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("stage-1")
	src := declare(t, parent, variable.Variable{Name: "topic", Schema: str, Value: value.String("go")})
	dst := declare(t, child, variable.Variable{Name: "topic", Schema: str, IOType: variable.IOInput, Required: true})
	ms := []Mapping{ToVariable(src.ID, dst.ID)}

	var r Resolver
	rep, err := r.ApplyInputMappings(parent, child, ms)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Written) != 1 {
		t.Fatalf("first apply written = %v, want 1 write", rep.Written)
	}
	if s, _ := dst.Value.AsString(); s != "go" || !dst.Ready() {
		t.Errorf("dst = %v (%s)", dst.Value, dst.Status)
	}

	rep, err = r.ApplyInputMappings(parent, child, ms)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Written) != 0 || len(rep.Pending) != 0 {
		t.Errorf("second apply = %+v, want no change", rep)
	}
}

func TestApply_LastWriteWins(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("stage-1")
	normal := declare(t, parent, variable.Variable{Name: "normal", Schema: str, Value: value.String("x")})
	override := declare(t, parent, variable.Variable{Name: "override", Schema: str, Value: value.String("y")})
	dst := declare(t, child, variable.Variable{Name: "pick", Schema: str, IOType: variable.IOInput})

	rep, err := New(nil).ApplyInputMappings(parent, child, []Mapping{
		ToVariable(normal.ID, dst.ID),
		ToVariable(override.ID, dst.ID),
	})
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := dst.Value.AsString(); s != "y" {
		t.Errorf("pick = %q, want y", s)
	}
	if len(rep.Written) != 1 {
		t.Errorf("written = %v, want a single write", rep.Written)
	}
}

func TestApply_PendingSource(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("stage-1")
	src := declare(t, parent, variable.Variable{Name: "later", Schema: str})
	dst := declare(t, child, variable.Variable{Name: "later", Schema: str, IOType: variable.IOInput, Required: true})

	rep, err := New(nil).ApplyInputMappings(parent, child, []Mapping{ToVariable(src.ID, dst.ID)})
	if err != nil {
		t.Fatalf("pending source must not be an error: %v", err)
	}
	if len(rep.Pending) != 1 || rep.Pending[0] != dst.ID {
		t.Errorf("pending = %v", rep.Pending)
	}
	if dst.Status != variable.StatusPending {
		t.Errorf("status = %q, want pending", dst.Status)
	}

	parent.SetValue(src.ID, "now")
	if _, err := New(nil).ApplyInputMappings(parent, child, []Mapping{ToVariable(src.ID, dst.ID)}); err != nil {
		t.Fatal(err)
	}
	if !dst.Ready() {
		t.Error("re-applied mapping should make the target ready")
	}
}

func TestApply_PendingDoesNotOverrideEarlierValue(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("s")
	ready := declare(t, parent, variable.Variable{Name: "a", Schema: str, Value: value.String("a")})
	waiting := declare(t, parent, variable.Variable{Name: "b", Schema: str})
	dst := declare(t, child, variable.Variable{Name: "v", Schema: str, IOType: variable.IOInput})

	if _, err := New(nil).ApplyInputMappings(parent, child, []Mapping{
		ToVariable(ready.ID, dst.ID),
		ToVariable(waiting.ID, dst.ID),
	}); err != nil {
		t.Fatal(err)
	}
	if s, _ := dst.Value.AsString(); s != "a" {
		t.Errorf("v = %q, want a", s)
	}
}

func TestApplyOutputMappings_UnproducedOutputClearsDestination(t *testing.T) {
	wf := variable.NewRegistry("wf")
	step := variable.NewRegistry("mark")
	out := declare(t, step, variable.Variable{Name: "x", Schema: num, IOType: variable.IOOutput})
	x := declare(t, wf, variable.Variable{Name: "x", Schema: num, Value: value.Number(1)})
	ms := []Mapping{ToVariable(out.ID, x.ID)}

	rep, err := New(nil).ApplyOutputMappings(step, wf, ms)
	if err != nil {
		t.Fatal(err)
	}
	if x.Ready() {
		t.Errorf("x = %v, want the stale value dropped", x.Value)
	}
	if len(rep.Cleared) != 1 || len(rep.Pending) != 1 {
		t.Errorf("report = %+v", rep)
	}

	// Input mappings leave a ready destination alone.
	stage := variable.NewRegistry("s")
	keep := declare(t, stage, variable.Variable{Name: "x", Schema: num, IOType: variable.IOInput, Value: value.Number(2)})
	if _, err := New(nil).ApplyInputMappings(wf, stage, []Mapping{ToVariable(x.ID, keep.ID)}); err != nil {
		t.Fatal(err)
	}
	if !keep.Ready() {
		t.Error("input destination should keep its value")
	}
}

func TestApply_SchemaMismatchNeverPartial(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("stage-1")
	ok := declare(t, parent, variable.Variable{Name: "title", Schema: str, Value: value.String("t")})
	bad := declare(t, parent, variable.Variable{Name: "raw_question", Schema: str, Value: value.String("q")})
	okDst := declare(t, child, variable.Variable{Name: "title", Schema: str, IOType: variable.IOInput})
	badDst := declare(t, child, variable.Variable{Name: "question", Schema: num, IOType: variable.IOInput})

	_, err := New(nil).ApplyInputMappings(parent, child, []Mapping{
		ToVariable(ok.ID, okDst.ID),
		ToVariable(bad.ID, badDst.ID),
	})
	if !errors.Is(err, fault.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want SchemaMismatch", err)
	}
	if okDst.Ready() || badDst.Ready() {
		t.Error("no destination may be written when any mapping in the set is invalid")
	}
}

func TestApply_FormatRejectedBeforeAnyWrite(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("s")
	first := declare(t, parent, variable.Variable{Name: "name", Schema: str, Value: value.String("ana")})
	second := declare(t, parent, variable.Variable{Name: "contact", Schema: str, Value: value.String("not-an-email")})
	firstDst := declare(t, child, variable.Variable{Name: "name", Schema: str, IOType: variable.IOInput})
	secondDst := declare(t, child, variable.Variable{Name: "contact", Schema: value.Schema{Type: value.TypeString, Format: "email"}, IOType: variable.IOInput})

	_, err := New(nil).ApplyInputMappings(parent, child, []Mapping{
		ToVariable(first.ID, firstDst.ID),
		ToVariable(second.ID, secondDst.ID),
	})
	if !errors.Is(err, fault.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want SchemaMismatch", err)
	}
	if firstDst.Ready() {
		t.Error("first mapping was applied despite a later rejection")
	}
}

func TestApply_UnknownTarget(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("s")
	src := declare(t, parent, variable.Variable{Name: "a", Schema: str, Value: value.String("a")})

	_, err := New(nil).ApplyInputMappings(parent, child, []Mapping{ToVariable(src.ID, "ghost")})
	if !errors.Is(err, fault.ErrUnknownTargetVariable) {
		t.Errorf("err = %v, want UnknownTargetVariable", err)
	}
	var fe *fault.Error
	if errors.As(err, &fe) && fe.Path != "input_mappings[0]" {
		t.Errorf("path = %q", fe.Path)
	}
}

func TestApplyOutputMappings_SummaryToFinalSummary(t *testing.T) {
	wf := variable.NewRegistry("wf")
	stage := variable.NewRegistry("stage-1")
	final := declare(t, wf, variable.Variable{Name: "final_summary", Schema: str, IOType: variable.IOOutput})
	summary := declare(t, stage, variable.Variable{Name: "summary", Schema: str, IOType: variable.IOOutput, CreatedBy: "stage-1"})
	if err := stage.SetValue(summary.ID, "ok"); err != nil {
		t.Fatal(err)
	}

	if _, err := New(nil).ApplyOutputMappings(stage, wf, []Mapping{ToVariable(summary.ID, final.ID)}); err != nil {
		t.Fatal(err)
	}
	if s, _ := final.Value.AsString(); s != "ok" || final.Status != variable.StatusReady {
		t.Errorf("final_summary = %v (%s), want \"ok\" ready", final.Value, final.Status)
	}
}

func TestApply_ChainDestination(t *testing.T) {
	wf := variable.NewRegistry("wf")
	stage := variable.NewRegistry("stage")
	step := variable.NewRegistry("step")
	out := declare(t, step, variable.Variable{Name: "answer", Schema: str, IOType: variable.IOOutput})
	target := declare(t, wf, variable.Variable{Name: "answer", Schema: str})
	step.SetValue(out.ID, "42")

	if _, err := New(nil).ApplyOutputMappings(step, variable.Chain{stage, wf}, []Mapping{ToVariable(out.ID, target.ID)}); err != nil {
		t.Fatal(err)
	}
	if !target.Ready() {
		t.Error("workflow variable not written through the chain")
	}
}

func TestValidate(t *testing.T) {
	parent := variable.NewRegistry("wf")
	child := variable.NewRegistry("stage-1")
	rawQ := declare(t, parent, variable.Variable{Name: "raw_question", Schema: str})
	question := declare(t, child, variable.Variable{Name: "question", Schema: num, IOType: variable.IOInput})
	draft := declare(t, child, variable.Variable{Name: "draft", Schema: str, IOType: variable.IOWIP})
	childOut := declare(t, child, variable.Variable{Name: "result", Schema: str, IOType: variable.IOOutput})
	parentIn := declare(t, parent, variable.Variable{Name: "seed", Schema: str, IOType: variable.IOInput})

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"schema mismatch", Validate(parent, child, []Mapping{ToVariable(rawQ.ID, question.ID)}, Input), fault.ErrSchemaMismatch},
		{"unknown source", Validate(parent, child, []Mapping{ToVariable("nope", question.ID)}, Input), fault.ErrUnknownTargetVariable},
		{"input into output", Validate(parent, child, []Mapping{ToVariable(rawQ.ID, childOut.ID)}, Input), fault.ErrReadOnlyVariable},
		{"wip outward", Validate(child, parent, []Mapping{ToVariable(draft.ID, rawQ.ID)}, Output), fault.ErrInvalidConfiguration},
		{"output into parent input", Validate(child, parent, []Mapping{ToVariable(childOut.ID, parentIn.ID)}, Output), fault.ErrReadOnlyVariable},
		{"unknown target kind", Validate(parent, child, []Mapping{{SourceVariableID: rawQ.ID, Target: Target{Kind: "url"}}}, Input), fault.ErrInvalidConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.want) {
				t.Errorf("err = %v, want %v", tt.err, tt.want.(*fault.Error).Kind)
			}
		})
	}

	if err := Validate(child, parent, []Mapping{ToVariable(childOut.ID, rawQ.ID)}, Output); err != nil {
		t.Errorf("valid output mapping rejected: %v", err)
	}
}
