// Package engine implements the sequential mission execution engine. It
// walks the workflow's steps in flattened order, pulls step inputs through
// the mapping resolver, calls tools through an executor.Invoker, pushes
// outputs back out and follows evaluation steps' jump decisions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"

	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/mapping"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/trace"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// Saver persists a mission snapshot. store.Store satisfies it.
type Saver interface {
	Save(ctx context.Context, snap *scope.Snapshot) error
}

// RunConfig configures a mission run.
type RunConfig struct {
	RunID   string
	Invoker executor.Invoker
	Events  trace.Sink   // progress channel; nil discards
	Logger  hclog.Logger // nil logs nowhere
	Saver   Saver        // checkpoint after every step boundary; nil disables
}

// RunResult is the outcome of a run.
type RunResult struct {
	Status     scope.Status
	Duration   time.Duration
	Error      error
	FailedStep string
	// JumpCount is the workflow's jump_count: every matched jump condition,
	// including one that exceeded maximum_jumps and was forced to continue.
	JumpCount int
	// Outputs holds the mission's ready variables after the run.
	Outputs map[string]any
}

// Engine runs one mission. It is not safe for concurrent Run calls; distinct
// missions may run on distinct engines concurrently.
type Engine struct {
	cfg       RunConfig
	m         *scope.Mission
	log       hclog.Logger
	events    trace.Sink
	resolver  *mapping.Resolver
	evaluator *eval.Evaluator
	cancelled atomic.Bool

	// VisitedSteps lists step ids in the order they ran.
	VisitedSteps []string
}

// New creates an engine for m.
func New(m *scope.Mission, cfg RunConfig) *Engine {
	log := cfg.Logger
	if log == nil {
		log = hclog.NewNullLogger()
	}
	if cfg.RunID == "" {
		cfg.RunID = m.ID
	}
	events := cfg.Events
	if events == nil {
		events = trace.Discard
	}
	log = log.With("mission", m.ID)
	return &Engine{
		cfg:       cfg,
		m:         m,
		log:       log,
		events:    events,
		resolver:  mapping.New(log.Named("mapping")),
		evaluator: &eval.Evaluator{Logger: log.Named("eval")},
	}
}

// Mission returns the tree the engine mutates.
func (e *Engine) Mission() *scope.Mission { return e.m }

// Cancel asks the run to stop at the next step boundary. A step already
// waiting on its tool is not interrupted; its result is discarded.
func (e *Engine) Cancel() { e.cancelled.Store(true) }

func (e *Engine) isCancelled(ctx context.Context) bool {
	return e.cancelled.Load() || ctx.Err() != nil
}

// Run executes the mission until it completes, fails, ends, or is
// cancelled. A mission restored from a snapshot resumes at its cursor.
func (e *Engine) Run(ctx context.Context) *RunResult {
	start := time.Now()
	m, wf := e.m, e.m.Workflow

	switch m.Status {
	case scope.StatusCompleted, scope.StatusFailed, scope.StatusEnded:
		return e.result(start, nil, "")
	}

	e.emit(trace.Event{Type: trace.EventRunStart, ScopeID: m.ID, Data: map[string]any{
		"template": m.Template,
		"inputs":   m.State.Snapshot(),
		"cursor":   wf.Cursor,
	}})
	e.setStatus(&m.Scope, scope.StatusRunning)

	err := e.enterWorkflow()
	var failedStep string
	if err == nil {
		failedStep, err = e.loop(ctx)
	}

	switch {
	case errors.Is(err, fault.ErrCancelled):
		e.cancelRun()
	case err != nil:
		e.failRun(err)
	default:
		if _, oerr := e.resolver.ApplyOutputMappings(wf.State, m.State, wf.OutputMappings); oerr != nil {
			err = oerr
			e.failRun(err)
		} else {
			final := scope.StatusCompleted
			if wf.Status == scope.StatusEnded {
				final = scope.StatusEnded
			}
			e.setStatus(&m.Scope, final)
		}
	}
	e.checkpoint(ctx)

	res := e.result(start, err, failedStep)
	e.emit(trace.Event{Type: trace.EventRunComplete, ScopeID: m.ID, Status: string(res.Status), Data: map[string]any{
		"duration":   res.Duration.String(),
		"jump_count": res.JumpCount,
	}})
	e.log.Info("run finished", "status", res.Status, "duration", res.Duration, "jump_count", res.JumpCount)
	return res
}

func (e *Engine) result(start time.Time, err error, failedStep string) *RunResult {
	return &RunResult{
		Status:     e.m.Status,
		Duration:   time.Since(start),
		Error:      err,
		FailedStep: failedStep,
		JumpCount:  e.m.Workflow.JumpCount,
		Outputs:    e.m.State.Snapshot(),
	}
}

func (e *Engine) enterWorkflow() error {
	wf := e.m.Workflow
	if wf.Status != scope.StatusPending {
		e.setStatus(&wf.Scope, scope.StatusRunning)
		return nil
	}
	if _, err := e.resolver.ApplyInputMappings(e.m.State, wf.State, wf.InputMappings); err != nil {
		return err
	}
	e.setStatus(&wf.Scope, scope.StatusRunning)
	return nil
}

// loop runs steps from the cursor until the workflow has no next step.
func (e *Engine) loop(ctx context.Context) (string, error) {
	wf := e.m.Workflow
	for {
		if e.isCancelled(ctx) {
			return "", fault.New(fault.Cancelled, wf.ID, "", "run cancelled before step %d", wf.Cursor)
		}
		ref, ok := wf.StepAt(wf.Cursor)
		if !ok {
			if err := e.leaveStage(scope.StatusCompleted); err != nil {
				return "", err
			}
			if wf.Status == scope.StatusRunning {
				e.setStatus(&wf.Scope, scope.StatusCompleted)
			}
			return "", nil
		}
		if err := e.enterStage(ref); err != nil {
			return "", err
		}

		next, err := e.runStep(ctx, ref)
		if err != nil {
			if errors.Is(err, fault.ErrCancelled) {
				return "", err
			}
			return ref.Step.ID, err
		}
		if next < 0 {
			// end action
			if err := e.leaveStage(scope.StatusCompleted); err != nil {
				return "", err
			}
			e.setStatus(&wf.Scope, scope.StatusEnded)
			return "", nil
		}
		wf.Cursor = next
		e.checkpoint(ctx)
	}
}

// enterStage leaves the current stage if the cursor moved out of it and
// enters the cursor's stage, re-applying its input mappings.
func (e *Engine) enterStage(ref scope.StepRef) error {
	wf := e.m.Workflow
	if ref.StageIndex == wf.CurrentStage && ref.Stage.Status == scope.StatusRunning {
		return nil
	}
	if ref.StageIndex != wf.CurrentStage {
		if err := e.leaveStage(scope.StatusCompleted); err != nil {
			return err
		}
	}
	if _, err := e.resolver.ApplyInputMappings(wf.State, ref.Stage.State, ref.Stage.InputMappings); err != nil {
		e.setStatus(&ref.Stage.Scope, scope.StatusFailed)
		return err
	}
	wf.CurrentStage = ref.StageIndex
	e.setStatus(&ref.Stage.Scope, scope.StatusRunning)
	return nil
}

// leaveStage applies the current stage's output mappings and marks it.
func (e *Engine) leaveStage(status scope.Status) error {
	wf := e.m.Workflow
	if wf.CurrentStage < 0 || wf.CurrentStage >= len(wf.Stages) {
		return nil
	}
	st := wf.Stages[wf.CurrentStage]
	if st.Status != scope.StatusRunning {
		return nil
	}
	rep, err := e.resolver.ApplyOutputMappings(st.State, wf.State, st.OutputMappings)
	if err != nil {
		e.setStatus(&st.Scope, scope.StatusFailed)
		return err
	}
	e.emitWrites("", wf.State, rep)
	e.setStatus(&st.Scope, status)
	return nil
}

// runStep executes one step and returns the next cursor, or -1 to end the
// workflow.
func (e *Engine) runStep(ctx context.Context, ref scope.StepRef) (int, error) {
	switch ref.Step.Type {
	case schema.StepEvaluation:
		return e.runEvaluation(ref)
	case schema.StepTool:
		return e.runTool(ctx, ref)
	}
	err := fault.New(fault.InvalidConfiguration, ref.Step.ID, string(ref.Step.Type), "unsupported step type")
	e.failStep(ref, err)
	return 0, err
}

func (e *Engine) runTool(ctx context.Context, ref scope.StepRef) (int, error) {
	wf, step := e.m.Workflow, ref.Step
	chain := wf.Chain(ref.Stage)
	log := e.log.With("step", step.ID, "tool", step.Tool)

	rep, err := e.resolver.ApplyInputMappings(chain, step.State, step.InputMappings)
	if err != nil {
		e.failStep(ref, err)
		return 0, err
	}
	e.emitWrites(step.ID, step.State, rep)

	if missing := step.State.Missing(); len(missing) > 0 {
		err := missingError(step, missing)
		log.Error("step blocked on required inputs", "missing", names(missing))
		e.failStep(ref, err)
		return 0, err
	}

	e.startStep(ref)
	params, err := resolveParameters(step, chain)
	if err != nil {
		err = fault.Wrap(fault.InvalidConfiguration, step.ID, step.Tool, err)
		e.failStep(ref, err)
		return 0, err
	}
	if e.cfg.Invoker == nil {
		err := fault.New(fault.ToolInvocationError, step.ID, step.Tool, "no tool invoker configured")
		e.failStep(ref, err)
		return 0, err
	}

	log.Debug("invoking tool", "run", step.Runs)
	res, err := e.cfg.Invoker.Invoke(ctx, executor.Call{Tool: step.Tool, StepID: step.ID, Parameters: params})
	if e.isCancelled(ctx) {
		log.Info("discarding tool result after cancellation")
		e.setStatus(&step.Scope, scope.StatusPending)
		return 0, fault.New(fault.Cancelled, step.ID, step.Tool, "run cancelled while tool was running")
	}
	if err != nil {
		err = fault.Wrap(fault.ToolInvocationError, step.ID, step.Tool, err)
		e.failStep(ref, err)
		return 0, err
	}
	if res == nil {
		err := fault.New(fault.ToolInvocationError, step.ID, step.Tool, "tool returned no result")
		e.failStep(ref, err)
		return 0, err
	}
	if res.Failed() {
		msg := res.Error
		if msg == "" {
			msg = "tool reported failure"
		}
		err := fault.New(fault.ToolInvocationError, step.ID, step.Tool, "%s", msg)
		e.failStep(ref, err)
		return 0, err
	}

	if err := e.writeOutputs(step, res.Outputs, log); err != nil {
		e.failStep(ref, err)
		return 0, err
	}
	rep, err = e.resolver.ApplyOutputMappings(step.State, chain, step.OutputMappings)
	if err != nil {
		e.failStep(ref, err)
		return 0, err
	}
	e.emitWrites(step.ID, chain, rep)

	e.setStatus(&step.Scope, scope.StatusCompleted)
	return wf.Cursor + 1, nil
}

// writeOutputs stores the tool's declared outputs in the step's own output
// variables. Undeclared outputs are ignored.
func (e *Engine) writeOutputs(step *scope.Step, outputs map[string]any, log hclog.Logger) error {
	var errs []error
	for name, id := range step.Outputs {
		raw, ok := outputs[name]
		if !ok || raw == nil {
			log.Debug("tool did not return output", "output", name)
			step.State.MarkPending(id)
			continue
		}
		if err := step.State.SetValue(id, raw); err != nil {
			step.State.MarkError(id, err.Error())
			errs = append(errs, err)
		}
	}
	for name := range outputs {
		if _, ok := step.Outputs[name]; !ok {
			log.Trace("ignoring undeclared output", "output", name)
		}
	}
	return errors.Join(errs...)
}

func (e *Engine) runEvaluation(ref scope.StepRef) (int, error) {
	wf, step := e.m.Workflow, ref.Step
	e.startStep(ref)

	res, err := e.evaluator.Evaluate(step.Evaluation, wf.State.Snapshot(), wf.JumpCount)
	if err != nil {
		err = classify(err, step.ID)
		e.failStep(ref, err)
		return 0, err
	}
	wf.JumpCount = res.JumpCount

	data := map[string]any{
		"condition_met":     res.ConditionMet,
		"next_action":       string(res.NextAction),
		"reason":            res.Reason,
		"jump_count":        res.JumpCount,
		"max_jumps_reached": res.MaxJumpsReached,
	}
	if res.TargetStepIndex != nil {
		data["target_step_index"] = *res.TargetStepIndex
	}
	e.emit(trace.Event{Type: trace.EventEvaluationDecided, ScopeID: ref.Stage.ID, StepID: step.ID, Data: data})
	if res.MaxJumpsReached {
		e.emit(trace.Event{Type: trace.EventMaxJumpsReached, ScopeID: wf.ID, StepID: step.ID, Data: map[string]any{
			"jump_count":    res.JumpCount,
			"maximum_jumps": step.Evaluation.MaximumJumps,
		}})
	}

	switch res.NextAction {
	case eval.ActionJump:
		e.setStatus(&step.Scope, scope.StatusJumped)
		return *res.TargetStepIndex, nil
	case eval.ActionEnd:
		e.setStatus(&step.Scope, scope.StatusCompleted)
		return -1, nil
	default:
		e.setStatus(&step.Scope, scope.StatusCompleted)
		return wf.Cursor + 1, nil
	}
}

// startStep drops the outputs of any earlier run, so a re-run only carries
// forward what its tool returns this time.
func (e *Engine) startStep(ref scope.StepRef) {
	ref.Step.Runs++
	ref.Step.Error = ""
	for _, id := range ref.Step.Outputs {
		ref.Step.State.Clear(id)
	}
	e.VisitedSteps = append(e.VisitedSteps, ref.Step.ID)
	e.setStatus(&ref.Step.Scope, scope.StatusRunning)
}

// failStep marks the step and its stage failed. The workflow and mission
// are marked by failRun.
func (e *Engine) failStep(ref scope.StepRef, err error) {
	ref.Step.Error = err.Error()
	e.setStatus(&ref.Step.Scope, scope.StatusFailed)
	ref.Stage.Error = err.Error()
	e.setStatus(&ref.Stage.Scope, scope.StatusFailed)
	e.log.Error("step failed", "step", ref.Step.ID, "kind", fault.KindOf(err), "error", err)
}

func (e *Engine) failRun(err error) {
	wf := e.m.Workflow
	if wf.CurrentStage >= 0 && wf.CurrentStage < len(wf.Stages) {
		if st := wf.Stages[wf.CurrentStage]; st.Status == scope.StatusRunning {
			st.Error = err.Error()
			e.setStatus(&st.Scope, scope.StatusFailed)
		}
	}
	wf.Error = err.Error()
	e.setStatus(&wf.Scope, scope.StatusFailed)
	e.m.Error = err.Error()
	e.setStatus(&e.m.Scope, scope.StatusFailed)
}

func (e *Engine) cancelRun() {
	wf := e.m.Workflow
	if wf.CurrentStage >= 0 && wf.CurrentStage < len(wf.Stages) {
		if st := wf.Stages[wf.CurrentStage]; st.Status == scope.StatusRunning {
			e.setStatus(&st.Scope, scope.StatusCancelled)
		}
	}
	e.setStatus(&wf.Scope, scope.StatusCancelled)
	e.setStatus(&e.m.Scope, scope.StatusCancelled)
}

func (e *Engine) setStatus(s *scope.Scope, status scope.Status) {
	if s.Status == status {
		return
	}
	s.Status = status
	evt := trace.Event{Type: trace.EventScopeStatus, ScopeID: s.ID, Status: string(status), Data: map[string]any{"kind": string(s.Kind)}}
	if s.Kind == scope.KindStep {
		evt.Type = trace.EventStepStatus
		evt.StepID = s.ID
	}
	if s.Error != "" && status == scope.StatusFailed {
		evt.Data["error"] = s.Error
	}
	e.emit(evt)
}

// emitWrites reports every variable a mapping application wrote into or
// cleared in in.
func (e *Engine) emitWrites(stepID string, in variable.Scope, rep *mapping.Report) {
	if rep == nil {
		return
	}
	report := func(id string, data map[string]any) {
		v, ok := in.GetByID(id)
		if !ok {
			return
		}
		owner := in.ScopeID()
		if chain, ok := in.(variable.Chain); ok {
			owner = chain.Owner(id).ScopeID()
		}
		data["variable_id"] = v.ID
		data["name"] = v.Name
		e.emit(trace.Event{Type: trace.EventVariableUpdated, ScopeID: owner, StepID: stepID, Status: string(v.Status), Data: data})
	}
	for _, id := range rep.Written {
		if v, ok := in.GetByID(id); ok {
			report(id, map[string]any{"value": v.Value.Raw()})
		}
	}
	for _, id := range rep.Cleared {
		report(id, map[string]any{"cleared": true})
	}
}

func (e *Engine) emit(evt trace.Event) {
	if evt.RunID == "" {
		evt.RunID = e.cfg.RunID
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now().UTC()
	}
	if err := e.events.Emit(evt); err != nil {
		e.log.Debug("event sink error", "type", evt.Type, "error", err)
	}
}

func (e *Engine) checkpoint(ctx context.Context) {
	if e.cfg.Saver == nil {
		return
	}
	snap := e.m.Snapshot()
	if err := e.cfg.Saver.Save(context.WithoutCancel(ctx), snap); err != nil {
		e.log.Warn("checkpoint failed", "error", err)
		return
	}
	e.emit(trace.Event{Type: trace.EventCheckpoint, ScopeID: e.m.ID, Data: map[string]any{"cursor": e.m.Workflow.Cursor}})
}

func missingError(step *scope.Step, missing []*variable.Variable) error {
	return fault.New(fault.MissingRequiredVariable, step.ID, missing[0].Name,
		"required input(s) %v never became ready", names(missing))
}

func names(vars []*variable.Variable) []string {
	out := make([]string, len(vars))
	for i, v := range vars {
		out[i] = v.Name
	}
	return out
}

// classify keeps taxonomy errors as they are and files anything else as a
// configuration error of the step.
func classify(err error, stepID string) error {
	if fault.KindOf(err) != "" {
		return err
	}
	return fault.Wrap(fault.InvalidConfiguration, stepID, "", fmt.Errorf("evaluate: %w", err))
}
