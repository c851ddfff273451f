package scope

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ormasoftchile/missionkit/pkg/kernel/contract"
	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/mapping"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// Option configures Build.
type Option func(*buildOptions)

type buildOptions struct {
	missionID string
	inputs    map[string]string
	values    map[string]any
	now       func() time.Time
}

// WithMissionID fixes the mission id instead of generating one.
func WithMissionID(id string) Option {
	return func(o *buildOptions) { o.missionID = id }
}

// WithInputs seeds mission variables from text, e.g. --var flags. Each
// value is parsed according to the variable's declared schema.
func WithInputs(vars map[string]string) Option {
	return func(o *buildOptions) { o.inputs = vars }
}

// WithValues seeds mission variables from already-typed values.
func WithValues(vals map[string]any) Option {
	return func(o *buildOptions) { o.values = vals }
}

// Factory builds a fresh scope tree on every call.
type Factory func() (*Mission, error)

// NewFactory returns a Factory over tpl. Each call yields an independent
// tree with its own registries.
func NewFactory(tpl *schema.Template, opts ...Option) Factory {
	return func() (*Mission, error) {
		return Build(tpl, opts...)
	}
}

// Build instantiates tpl. Every static problem in the template (duplicate
// names, unknown mapping targets, incompatible schemas, bad evaluation
// configs) is collected; if there are any, Build returns them joined and
// no tree.
func Build(tpl *schema.Template, opts ...Option) (*Mission, error) {
	o := buildOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if tpl == nil {
		return nil, fault.New(fault.InvalidConfiguration, "", "", "nil template")
	}
	b := &builder{tpl: tpl, ids: make(map[string]string)}
	m := b.mission(o)
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return m, nil
}

type builder struct {
	tpl      *schema.Template
	ids      map[string]string // scope id → path that declared it
	errs     []error
	deferred []func()
	steps    int // steps seen so far, for positional ids
}

// fail records err located under path.
func (b *builder) fail(path string, err error) {
	for _, fe := range fault.All(err) {
		p := path
		if fe.Path != "" {
			p = path + "." + fe.Path
		}
		b.errs = append(b.errs, fe.WithPath(p))
	}
}

func (b *builder) claim(id, path string) {
	if prev, ok := b.ids[id]; ok {
		b.fail(path, fault.New(fault.DuplicateName, "", id, "scope id already used at %s", prev))
		return
	}
	b.ids[id] = path
}

func newScope(id, name string, kind Kind) Scope {
	if name == "" {
		name = id
	}
	return Scope{
		ID:     id,
		Name:   name,
		Kind:   kind,
		State:  variable.NewRegistry(id),
		Status: StatusPending,
	}
}

func (b *builder) mission(o buildOptions) *Mission {
	t := &b.tpl.Mission
	id := o.missionID
	if id == "" {
		id = uuid.NewString()
	}
	name := t.Name
	if name == "" {
		name = b.tpl.Meta.Name
	}
	m := &Mission{
		Scope:     newScope(id, name, KindMission),
		Template:  b.tpl.Meta.Name,
		CreatedAt: o.now().UTC(),
	}
	b.claim(id, "mission")
	b.declareState(m.State, t.State, "mission")
	b.seed(m.State, o)
	m.Workflow = b.workflow(&t.Workflow, m)
	return m
}

func (b *builder) seed(reg *variable.Registry, o buildOptions) {
	for _, name := range sortedKeys(o.inputs) {
		v, ok := reg.Get(name)
		if !ok {
			b.fail("mission.state", fault.New(fault.UnknownTargetVariable, reg.ScopeID(), name, "no such mission variable"))
			continue
		}
		val, err := value.Parse(v.Schema, o.inputs[name])
		if err != nil {
			b.fail("mission.state", fault.Wrap(fault.SchemaMismatch, reg.ScopeID(), name, err))
			continue
		}
		if _, err := reg.Propagate(v.ID, val); err != nil {
			b.fail("mission.state", err)
		}
	}
	for _, name := range sortedKeys(o.values) {
		v, ok := reg.Get(name)
		if !ok {
			b.fail("mission.state", fault.New(fault.UnknownTargetVariable, reg.ScopeID(), name, "no such mission variable"))
			continue
		}
		val, err := value.New(v.Schema, o.values[name])
		if err != nil {
			b.fail("mission.state", fault.Wrap(fault.SchemaMismatch, reg.ScopeID(), name, err))
			continue
		}
		if _, err := reg.Propagate(v.ID, val); err != nil {
			b.fail("mission.state", err)
		}
	}
}

func (b *builder) workflow(t *schema.Workflow, m *Mission) *Workflow {
	const path = "mission.workflow"
	id := t.ID
	if id == "" {
		id = "workflow"
	}
	wf := &Workflow{Scope: newScope(id, t.Name, KindWorkflow), CurrentStage: -1}
	b.claim(wf.ID, path)
	b.declareState(wf.State, t.State, path)
	wf.InputMappings = b.resolveMappings(m.State, wf.State, t.InputMappings, mapping.Input, path)

	if len(t.Stages) == 0 {
		b.fail(path, fault.New(fault.InvalidConfiguration, wf.ID, "", "workflow must have at least one stage"))
	}
	total := 0
	for _, st := range t.Stages {
		total += len(st.Steps)
	}
	for si := range t.Stages {
		wf.Stages = append(wf.Stages, b.stage(&t.Stages[si], si, wf, total, fmt.Sprintf("%s.stages[%d]", path, si)))
	}
	for _, fn := range b.deferred {
		fn()
	}
	wf.OutputMappings = b.resolveMappings(wf.State, m.State, t.OutputMappings, mapping.Output, path)
	return wf
}

func (b *builder) stage(t *schema.Stage, index int, wf *Workflow, total int, path string) *Stage {
	id := t.ID
	if id == "" {
		id = fmt.Sprintf("stage-%d", index+1)
	}
	st := &Stage{Scope: newScope(id, t.Name, KindStage)}
	b.claim(st.ID, path)
	b.declareState(st.State, t.State, path)
	st.InputMappings = b.resolveMappings(wf.State, st.State, t.InputMappings, mapping.Input, path)

	if len(t.Steps) == 0 {
		b.fail(path, fault.New(fault.InvalidConfiguration, st.ID, "", "stage must have at least one step"))
	}
	for i := range t.Steps {
		st.Steps = append(st.Steps, b.step(&t.Steps[i], st, wf, total, fmt.Sprintf("%s.steps[%d]", path, i)))
	}
	st.OutputMappings = b.resolveMappings(st.State, wf.State, t.OutputMappings, mapping.Output, path)
	return st
}

func (b *builder) step(t *schema.Step, st *Stage, wf *Workflow, total int, path string) *Step {
	b.steps++
	id := t.ID
	if id == "" {
		id = fmt.Sprintf("step-%d", b.steps)
	}
	s := &Step{
		Scope:      newScope(id, t.Name, KindStep),
		Type:       t.Type,
		Tool:       t.Tool,
		With:       t.With,
		Parameters: make(map[string]string),
		Outputs:    make(map[string]string),
	}
	b.claim(s.ID, path)
	b.declareState(s.State, t.State, path)

	switch t.Type {
	case schema.StepEvaluation:
		b.evaluationStep(t, s, st, wf, total, path)
	case schema.StepTool:
		b.toolStep(t, s, st, wf, path)
	default:
		b.fail(path, fault.New(fault.InvalidConfiguration, s.ID, string(t.Type), "step type must be tool or evaluation"))
	}
	return s
}

func (b *builder) evaluationStep(t *schema.Step, s *Step, st *Stage, wf *Workflow, total int, path string) {
	if t.Evaluation == nil {
		b.fail(path, fault.New(fault.InvalidConfiguration, s.ID, "", "evaluation step needs an evaluation block"))
		return
	}
	if t.Tool != "" || len(t.ParameterMappings) > 0 || len(t.OutputMappings) > 0 {
		b.fail(path, fault.New(fault.InvalidConfiguration, s.ID, t.Tool, "evaluation steps do not call tools"))
	}
	cfg := *t.Evaluation
	cfg.Conditions = append([]eval.Condition(nil), t.Evaluation.Conditions...)
	if cfg.DefaultAction == "" {
		cfg.DefaultAction = eval.DefaultContinue
	}
	if err := cfg.Check(total); err != nil {
		b.fail(path+".evaluation", err)
	}
	s.Evaluation = &cfg

	// Conditions read the workflow's state only. They may read variables
	// materialized by later steps, so the names are checked once the whole
	// workflow is built.
	b.deferred = append(b.deferred, func() {
		for i, c := range cfg.Conditions {
			root := eval.Root(c.Variable)
			if _, ok := wf.State.Get(root); !ok {
				b.fail(fmt.Sprintf("%s.evaluation.conditions[%d]", path, i),
					fault.New(fault.UnknownTargetVariable, wf.ID, root, "condition variable is not declared in the workflow"))
			}
		}
	})
}

func (b *builder) toolStep(t *schema.Step, s *Step, st *Stage, wf *Workflow, path string) {
	if t.Tool == "" {
		b.fail(path, fault.New(fault.InvalidConfiguration, s.ID, "", "tool step needs a tool"))
		return
	}
	if t.Evaluation != nil {
		b.fail(path, fault.New(fault.InvalidConfiguration, s.ID, t.Tool, "tool steps cannot carry an evaluation"))
	}

	var base *contract.Contract
	if decl, ok := b.tpl.Tool(t.Tool); ok {
		base = &decl.Contract
	}
	s.Contract = contract.Merge(base, t.Contract)
	if err := s.Contract.Check(); err != nil {
		b.fail(path+".contract", fault.Wrap(fault.InvalidConfiguration, s.ID, t.Tool, err))
		return
	}
	strict := len(s.Contract.Inputs) > 0
	chain := wf.Chain(st)

	// Parameters: one input variable per bound parameter.
	var ins []mapping.Mapping
	for _, pm := range t.ParameterMappings {
		name, srcName := pm.Param, pm.Variable
		p := path + ".parameter_mappings." + name
		src, _, ok := chain.Get(srcName)
		if !ok {
			b.fail(p, fault.New(fault.UnknownTargetVariable, st.ID, srcName, "parameter source is not declared in the stage or workflow"))
			continue
		}
		def, declared := s.Contract.Input(name)
		if !declared && strict {
			b.fail(p, fault.New(fault.InvalidConfiguration, s.ID, name, "tool %s has no parameter %q", t.Tool, name))
			continue
		}
		sch, required := src.Schema, true
		if declared {
			sch, required = def.Schema, def.IsRequired()
		}
		param, err := s.State.Declare(variable.Variable{Name: name, Schema: sch, IOType: variable.IOInput, Required: required})
		if err != nil {
			b.fail(p, err)
			continue
		}
		s.Parameters[name] = param.ID
		ins = append(ins, mapping.ToVariable(src.ID, param.ID))
	}
	for _, name := range sortedKeys(t.With) {
		if _, declared := s.Contract.Input(name); !declared && strict {
			b.fail(path+".with."+name, fault.New(fault.InvalidConfiguration, s.ID, name, "tool %s has no parameter %q", t.Tool, name))
		}
	}
	// Required parameters with no binding still get a variable, so the
	// step reports them missing when it starts.
	for _, name := range s.Contract.InputNames() {
		def, _ := s.Contract.Input(name)
		if _, bound := t.ParameterMappings.Lookup(name); bound || !def.IsRequired() {
			continue
		}
		if _, literal := t.With[name]; literal {
			continue
		}
		param, err := s.State.Declare(variable.Variable{Name: name, Schema: def.Schema, IOType: variable.IOInput, Required: true})
		if err != nil {
			b.fail(path, err)
			continue
		}
		s.Parameters[name] = param.ID
	}
	if err := mapping.Validate(chain, s.State, ins, mapping.Input); err != nil {
		b.fail(path+".parameter_mappings", err)
	}
	s.InputMappings = ins

	// Outputs: one output variable per declared or mapped tool output.
	// Mapped outputs are bound in declaration order, so when two target
	// the same variable the later one wins.
	for _, name := range s.Contract.OutputNames() {
		if _, mapped := t.OutputMappings.Lookup(name); mapped {
			continue
		}
		if _, err := b.outputVariable(s, name, schema.OutputTarget{}, false, chain); err != nil {
			b.fail(path+".output_mappings."+name, err)
		}
	}
	var outs []mapping.Mapping
	for _, om := range t.OutputMappings {
		p := path + ".output_mappings." + om.Output
		out, err := b.outputVariable(s, om.Output, om.Target, true, chain)
		if err != nil {
			b.fail(p, err)
			continue
		}
		dst, err := b.outputTarget(om.Target, out.Schema, s, st, wf)
		if err != nil {
			b.fail(p, err)
			continue
		}
		outs = append(outs, mapping.ToVariable(out.ID, dst.ID))
	}
	if err := mapping.Validate(s.State, chain, outs, mapping.Output); err != nil {
		b.fail(path, err)
	}
	s.OutputMappings = outs
}

// outputVariable declares the step's own variable for a tool output.
func (b *builder) outputVariable(s *Step, name string, target schema.OutputTarget, mapped bool, chain variable.Chain) (*variable.Variable, error) {
	sch, ok := b.outputSchema(s.Contract, name, target, mapped, chain)
	if !ok {
		return nil, fault.New(fault.InvalidConfiguration, s.ID, name, "cannot infer a schema for output %q; declare it in the tool contract", name)
	}
	out, err := s.State.Declare(variable.Variable{Name: name, Schema: sch, IOType: variable.IOOutput})
	if err != nil {
		return nil, err
	}
	s.Outputs[name] = out.ID
	return out, nil
}

func (b *builder) outputSchema(c contract.Contract, name string, target schema.OutputTarget, mapped bool, chain variable.Chain) (value.Schema, bool) {
	if def, ok := c.Output(name); ok {
		return def.Schema, true
	}
	if !mapped {
		return value.Schema{}, false
	}
	if target.Materialize != nil {
		if target.Materialize.Type != "" {
			return target.Materialize.Schema, true
		}
		return value.Schema{}, false
	}
	if v, _, ok := chain.Get(target.Variable); ok {
		return v.Schema, true
	}
	return value.Schema{}, false
}

// outputTarget resolves, or materializes, the Stage/Workflow variable an
// output is written to.
func (b *builder) outputTarget(t schema.OutputTarget, outSchema value.Schema, s *Step, st *Stage, wf *Workflow) (*variable.Variable, error) {
	if t.Materialize == nil {
		v, _, ok := wf.Chain(st).Get(t.Variable)
		if !ok {
			return nil, fault.New(fault.UnknownTargetVariable, st.ID, t.Variable, "output target is not declared in the stage or workflow")
		}
		return v, nil
	}
	reg := st.State
	switch t.Materialize.Scope {
	case "", string(KindStage):
	case string(KindWorkflow):
		reg = wf.State
	default:
		return nil, fault.New(fault.InvalidConfiguration, s.ID, t.Variable, "materialize scope must be stage or workflow, got %q", t.Materialize.Scope)
	}
	sch := outSchema
	if t.Materialize.Type != "" {
		sch = t.Materialize.Schema
	}
	io := variable.IOType(t.Materialize.IOType)
	if io == "" {
		io = variable.IOWIP
	}
	return reg.Declare(variable.Variable{Name: t.Variable, Schema: sch, IOType: io, CreatedBy: s.ID})
}

func (b *builder) declareState(reg *variable.Registry, decls []schema.VariableDecl, path string) {
	for i, d := range decls {
		p := fmt.Sprintf("%s.state[%d]", path, i)
		v := variable.Variable{Name: d.Name, Schema: d.Schema, IOType: variable.IOType(d.IOType), Required: d.Required}
		if d.Value != nil {
			if err := d.Schema.Check(); err != nil {
				b.fail(p, fault.Wrap(fault.InvalidConfiguration, reg.ScopeID(), d.Name, err))
				continue
			}
			val, err := value.New(d.Schema, d.Value)
			if err != nil {
				b.fail(p, fault.Wrap(fault.SchemaMismatch, reg.ScopeID(), d.Name, err))
				continue
			}
			v.Value = val
		}
		if _, err := reg.Declare(v); err != nil {
			b.fail(p, err)
		}
	}
}

// resolveMappings turns name-based declarations into id-based mappings and
// validates them. from and to are the registries the source and target
// names are resolved in.
func (b *builder) resolveMappings(from, to variable.Scope, decls []schema.MappingDecl, dir mapping.Direction, path string) []mapping.Mapping {
	out := make([]mapping.Mapping, 0, len(decls))
	var errs []error
	for i, d := range decls {
		p := fmt.Sprintf("%s_mappings[%d]", dir, i)
		src, ok := lookupName(from, d.Source)
		if !ok {
			errs = append(errs, fault.New(fault.UnknownTargetVariable, from.ScopeID(), d.Source, "mapping source is not declared").WithPath(p))
			continue
		}
		kind := mapping.TargetKind(d.Target.Type)
		if kind == "" {
			kind = mapping.TargetVariable
		}
		if kind != mapping.TargetVariable {
			errs = append(errs, fault.New(fault.InvalidConfiguration, to.ScopeID(), string(kind), "unknown mapping target type").WithPath(p))
			continue
		}
		dst, ok := lookupName(to, d.Target.Variable)
		if !ok {
			errs = append(errs, fault.New(fault.UnknownTargetVariable, to.ScopeID(), d.Target.Variable, "mapping target is not declared").WithPath(p))
			continue
		}
		out = append(out, mapping.ToVariable(src.ID, dst.ID))
	}
	if len(errs) == 0 {
		if err := mapping.Validate(from, to, out, dir); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		b.fail(path, errors.Join(errs...))
	}
	return out
}

func lookupName(s variable.Scope, name string) (*variable.Variable, bool) {
	switch r := s.(type) {
	case *variable.Registry:
		return r.Get(name)
	case variable.Chain:
		v, _, ok := r.Get(name)
		return v, ok
	}
	return nil, false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
