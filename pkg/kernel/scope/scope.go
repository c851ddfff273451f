// Package scope holds the runtime scope tree of one mission run: a strict
// Mission → Workflow → Stage → Step hierarchy where every scope owns its
// variable registry and the mappings that relate it to its parent.
//
// Trees are built fresh per run from a template (see Build and Factory) and
// carry no back-pointers; callers pass the enclosing scopes explicitly.
package scope

import (
	"time"

	"github.com/ormasoftchile/missionkit/pkg/kernel/contract"
	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/mapping"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// Kind is the level of a scope in the hierarchy.
type Kind string

const (
	KindMission  Kind = "mission"
	KindWorkflow Kind = "workflow"
	KindStage    Kind = "stage"
	KindStep     Kind = "step"
)

// Status is a scope's lifecycle status.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusJumped    Status = "jumped"
	StatusEnded     Status = "ended"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s ends a scope's lifecycle. A jumped step is
// terminal for the pass that produced it.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusJumped, StatusEnded, StatusCancelled:
		return true
	}
	return false
}

// Scope is the part every level shares.
type Scope struct {
	ID             string
	Name           string
	Kind           Kind
	State          *variable.Registry
	InputMappings  []mapping.Mapping // parent → this scope
	OutputMappings []mapping.Mapping // this scope → parent
	Status         Status
	Error          string
}

// Mission is the root of a run.
type Mission struct {
	Scope
	Template  string
	CreatedAt time.Time
	Workflow  *Workflow
}

// Workflow owns the ordered stages and the run's cursor.
type Workflow struct {
	Scope
	Stages []*Stage

	// Cursor is the flattened index of the next step to run.
	Cursor int
	// CurrentStage is the index of the stage the cursor is in, or -1
	// before the first stage is entered.
	CurrentStage int
	// JumpCount counts matched jump conditions during this run, including
	// one forced to continue by maximum_jumps.
	JumpCount int
}

// Stage owns ordered steps.
type Stage struct {
	Scope
	Steps []*Step
}

// Step is a leaf scope. Its registry holds one input variable per bound
// tool parameter and one output variable per tool output.
type Step struct {
	Scope
	Type       schema.StepType
	Tool       string
	Contract   contract.Contract
	With       map[string]any
	Evaluation *eval.Config

	// Parameters maps tool parameter name → input variable id in State.
	Parameters map[string]string
	// Outputs maps tool output name → output variable id in State.
	Outputs map[string]string
	// Runs counts how many times the step has started.
	Runs int
}

// StepRef locates a step in the flattened workflow order.
type StepRef struct {
	Index      int
	StageIndex int
	Stage      *Stage
	Step       *Step
}

// Steps returns the workflow's steps flattened across stages.
func (w *Workflow) Steps() []StepRef {
	var out []StepRef
	for si, st := range w.Stages {
		for _, s := range st.Steps {
			out = append(out, StepRef{Index: len(out), StageIndex: si, Stage: st, Step: s})
		}
	}
	return out
}

// StepAt returns the step at flattened index i.
func (w *Workflow) StepAt(i int) (StepRef, bool) {
	if i < 0 {
		return StepRef{}, false
	}
	n := i
	for si, st := range w.Stages {
		if n < len(st.Steps) {
			return StepRef{Index: i, StageIndex: si, Stage: st, Step: st.Steps[n]}, true
		}
		n -= len(st.Steps)
	}
	return StepRef{}, false
}

// StepCount returns the number of steps across all stages.
func (w *Workflow) StepCount() int {
	n := 0
	for _, st := range w.Stages {
		n += len(st.Steps)
	}
	return n
}

// Chain returns the registries a step of stage resolves names against,
// nearest first.
func (w *Workflow) Chain(stage *Stage) variable.Chain {
	if stage == nil {
		return variable.Chain{w.State}
	}
	return variable.Chain{stage.State, w.State}
}

// Find returns the scope with the given id anywhere in the tree.
func (m *Mission) Find(id string) (*Scope, bool) {
	if m.ID == id {
		return &m.Scope, true
	}
	wf := m.Workflow
	if wf.ID == id {
		return &wf.Scope, true
	}
	for _, st := range wf.Stages {
		if st.ID == id {
			return &st.Scope, true
		}
		for _, s := range st.Steps {
			if s.ID == id {
				return &s.Scope, true
			}
		}
	}
	return nil, false
}

// Step returns the step with the given id.
func (m *Mission) Step(id string) (*Step, bool) {
	for _, ref := range m.Workflow.Steps() {
		if ref.Step.ID == id {
			return ref.Step, true
		}
	}
	return nil, false
}
