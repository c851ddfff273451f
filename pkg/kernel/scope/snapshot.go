package scope

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ormasoftchile/missionkit/pkg/kernel/contract"
	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/mapping"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// SnapshotVersion is the current persisted tree format.
const SnapshotVersion = 1

// Snapshot is the persisted form of a mission tree. Reloading it yields the
// same variable ids, names, values and mapping declarations.
type Snapshot struct {
	Version   int       `json:"version"`
	Template  string    `json:"template"`
	CreatedAt time.Time `json:"created_at"`
	SavedAt   time.Time `json:"saved_at"`
	Mission   Record    `json:"mission"`
}

// Record is one persisted scope with its children.
type Record struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Kind           Kind              `json:"kind"`
	Status         Status            `json:"status"`
	Error          string            `json:"error,omitempty"`
	Variables      []variable.Record `json:"variables"`
	InputMappings  []mapping.Mapping `json:"input_mappings,omitempty"`
	OutputMappings []mapping.Mapping `json:"output_mappings,omitempty"`

	// Workflow
	Cursor       int `json:"cursor,omitempty"`
	CurrentStage int `json:"current_stage,omitempty"`
	JumpCount    int `json:"jump_count,omitempty"`

	// Step
	Type       schema.StepType    `json:"type,omitempty"`
	Tool       string             `json:"tool,omitempty"`
	Contract   *contract.Contract `json:"contract,omitempty"`
	With       map[string]any     `json:"with,omitempty"`
	Evaluation *eval.Config       `json:"evaluation,omitempty"`
	Parameters map[string]string  `json:"parameters,omitempty"`
	Outputs    map[string]string  `json:"outputs,omitempty"`
	Runs       int                `json:"runs,omitempty"`

	Children []Record `json:"children,omitempty"`
}

func (s *Scope) record() Record {
	return Record{
		ID:             s.ID,
		Name:           s.Name,
		Kind:           s.Kind,
		Status:         s.Status,
		Error:          s.Error,
		Variables:      s.State.Records(),
		InputMappings:  s.InputMappings,
		OutputMappings: s.OutputMappings,
	}
}

// Snapshot captures the tree's current state.
func (m *Mission) Snapshot() *Snapshot {
	wf := m.Workflow
	wr := wf.record()
	wr.Cursor = wf.Cursor
	wr.CurrentStage = wf.CurrentStage
	wr.JumpCount = wf.JumpCount
	for _, st := range wf.Stages {
		sr := st.record()
		for _, s := range st.Steps {
			r := s.record()
			r.Type = s.Type
			r.Tool = s.Tool
			if s.Type == schema.StepTool {
				c := s.Contract
				r.Contract = &c
			}
			r.With = s.With
			r.Evaluation = s.Evaluation
			r.Parameters = s.Parameters
			r.Outputs = s.Outputs
			r.Runs = s.Runs
			sr.Children = append(sr.Children, r)
		}
		wr.Children = append(wr.Children, sr)
	}
	mr := m.record()
	mr.Children = []Record{wr}
	return &Snapshot{
		Version:   SnapshotVersion,
		Template:  m.Template,
		CreatedAt: m.CreatedAt,
		SavedAt:   time.Now().UTC(),
		Mission:   mr,
	}
}

// Marshal encodes the snapshot as JSON.
func (s *Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// Unmarshal decodes a JSON snapshot.
func Unmarshal(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if s.Version != SnapshotVersion {
		return nil, fmt.Errorf("unsupported snapshot version %d", s.Version)
	}
	return &s, nil
}

// Restore rebuilds a mission tree from a snapshot.
func Restore(s *Snapshot) (*Mission, error) {
	mr := s.Mission
	if mr.Kind != KindMission || len(mr.Children) != 1 {
		return nil, fmt.Errorf("snapshot root is not a mission with one workflow")
	}
	ms, err := restoreScope(mr)
	if err != nil {
		return nil, err
	}
	m := &Mission{Scope: ms, Template: s.Template, CreatedAt: s.CreatedAt}

	wr := mr.Children[0]
	ws, err := restoreScope(wr)
	if err != nil {
		return nil, err
	}
	wf := &Workflow{Scope: ws, Cursor: wr.Cursor, CurrentStage: wr.CurrentStage, JumpCount: wr.JumpCount}
	for _, sr := range wr.Children {
		ss, err := restoreScope(sr)
		if err != nil {
			return nil, err
		}
		st := &Stage{Scope: ss}
		for _, r := range sr.Children {
			sc, err := restoreScope(r)
			if err != nil {
				return nil, err
			}
			step := &Step{
				Scope:      sc,
				Type:       r.Type,
				Tool:       r.Tool,
				With:       r.With,
				Evaluation: r.Evaluation,
				Parameters: r.Parameters,
				Outputs:    r.Outputs,
				Runs:       r.Runs,
			}
			if r.Contract != nil {
				step.Contract = *r.Contract
			}
			if step.Parameters == nil {
				step.Parameters = make(map[string]string)
			}
			if step.Outputs == nil {
				step.Outputs = make(map[string]string)
			}
			st.Steps = append(st.Steps, step)
		}
		wf.Stages = append(wf.Stages, st)
	}
	m.Workflow = wf
	return m, nil
}

func restoreScope(r Record) (Scope, error) {
	reg, err := variable.Restore(r.ID, r.Variables)
	if err != nil {
		return Scope{}, fmt.Errorf("restore %s %s: %w", r.Kind, r.ID, err)
	}
	return Scope{
		ID:             r.ID,
		Name:           r.Name,
		Kind:           r.Kind,
		State:          reg,
		InputMappings:  r.InputMappings,
		OutputMappings: r.OutputMappings,
		Status:         r.Status,
		Error:          r.Error,
	}, nil
}
