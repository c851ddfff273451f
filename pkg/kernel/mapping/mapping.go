// Package mapping propagates variable values across a parent/child scope
// boundary. Mappings are declared on the child: input mappings copy parent
// values in before the child runs, output mappings copy child values out
// after it completes. An output the child did not produce clears its parent
// destination.
package mapping

import (
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"

	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// TargetKind enumerates what a mapping can write to.
type TargetKind string

const (
	TargetVariable TargetKind = "variable"
)

// Target is the destination of a mapping.
type Target struct {
	Kind       TargetKind `json:"type"`
	VariableID string     `json:"variable_id"`
}

// Mapping copies the value of SourceVariableID into Target.
type Mapping struct {
	SourceVariableID string `json:"source_variable_id"`
	Target           Target `json:"target"`
}

// ToVariable builds a variable-target mapping.
func ToVariable(sourceID, targetID string) Mapping {
	return Mapping{SourceVariableID: sourceID, Target: Target{Kind: TargetVariable, VariableID: targetID}}
}

func (m Mapping) String() string {
	return fmt.Sprintf("%s -> %s:%s", m.SourceVariableID, m.Target.Kind, m.Target.VariableID)
}

// Direction says which side of the boundary a mapping set reads from.
type Direction string

const (
	Input  Direction = "input"  // parent → child
	Output Direction = "output" // child → parent
)

// Report lists what one application of a mapping set changed.
type Report struct {
	Written []string // destination ids that received a new value
	Pending []string // destination ids left waiting for their source
	Cleared []string // destination ids whose earlier value was dropped
}

// Resolver applies mapping sets. The zero value is ready to use.
type Resolver struct {
	Logger hclog.Logger
}

// New returns a Resolver logging to logger.
func New(logger hclog.Logger) *Resolver {
	return &Resolver{Logger: logger}
}

// ApplyInputMappings copies parent values into child variables.
func (r *Resolver) ApplyInputMappings(parent, child variable.Scope, mappings []Mapping) (*Report, error) {
	return r.apply(Input, parent, child, mappings)
}

// ApplyOutputMappings copies child values into parent variables.
func (r *Resolver) ApplyOutputMappings(child, parent variable.Scope, mappings []Mapping) (*Report, error) {
	return r.apply(Output, child, parent, mappings)
}

type planned struct {
	dst   *variable.Variable
	val   value.Value
	ready bool
}

// apply resolves and checks every mapping before writing anything. If any
// mapping is invalid, or any source value is rejected by its destination
// schema, the set fails and no destination changes.
func (r *Resolver) apply(dir Direction, from, to variable.Scope, mappings []Mapping) (*Report, error) {
	log := r.logger()

	type pair struct{ src, dst *variable.Variable }
	pairs := make([]pair, 0, len(mappings))
	var errs []error
	for i, m := range mappings {
		src, dst, err := resolve(from, to, m)
		if err != nil {
			errs = append(errs, err.WithPath(fmt.Sprintf("%s_mappings[%d]", dir, i)))
			continue
		}
		pairs = append(pairs, pair{src, dst})
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	var order []string
	plan := make(map[string]*planned)
	for _, p := range pairs {
		prev, seen := plan[p.dst.ID]
		if !seen {
			order = append(order, p.dst.ID)
		}
		if !p.src.Ready() {
			if !seen {
				plan[p.dst.ID] = &planned{dst: p.dst}
			}
			continue
		}
		admitted, err := value.New(p.dst.Schema, p.src.Value.Raw())
		if err != nil {
			return nil, fault.Wrap(fault.SchemaMismatch, to.ScopeID(), p.dst.Name, err)
		}
		if prev != nil && prev.ready {
			log.Trace("mapping overridden", "target", p.dst.Name, "source", p.src.Name)
		}
		plan[p.dst.ID] = &planned{dst: p.dst, val: admitted, ready: true}
	}

	report := &Report{}
	for _, id := range order {
		step := plan[id]
		if !step.ready {
			if dir == Output && to.Clear(id) {
				report.Cleared = append(report.Cleared, id)
				log.Debug("cleared variable", "scope", to.ScopeID(), "target", step.dst.Name)
			}
			to.MarkPending(id)
			if !step.dst.Ready() {
				report.Pending = append(report.Pending, id)
			}
			continue
		}
		changed, err := to.Propagate(id, step.val)
		if err != nil {
			return report, err
		}
		if changed {
			report.Written = append(report.Written, id)
			log.Debug("mapped variable", "direction", dir, "scope", to.ScopeID(), "target", step.dst.Name)
		}
	}
	return report, nil
}

// Validate checks a mapping set statically: every id resolves, target kinds
// are known, schemas are compatible and I/O roles allow the flow. All
// problems are returned joined.
func Validate(from, to variable.Scope, mappings []Mapping, dir Direction) error {
	var errs []error
	for i, m := range mappings {
		path := fmt.Sprintf("%s_mappings[%d]", dir, i)
		src, dst, err := resolve(from, to, m)
		if err != nil {
			errs = append(errs, err.WithPath(path))
			continue
		}
		switch dir {
		case Input:
			if dst.IOType == variable.IOOutput {
				errs = append(errs, fault.New(fault.ReadOnlyVariable, to.ScopeID(), dst.Name,
					"input mapping cannot target an output variable").WithPath(path))
			}
		case Output:
			if src.IOType == variable.IOWIP {
				errs = append(errs, fault.New(fault.InvalidConfiguration, from.ScopeID(), src.Name,
					"wip variables are scope-local and cannot be mapped outward").WithPath(path))
			}
			if dst.IOType == variable.IOInput {
				errs = append(errs, fault.New(fault.ReadOnlyVariable, to.ScopeID(), dst.Name,
					"output mapping cannot target an input variable").WithPath(path))
			}
		}
	}
	return errors.Join(errs...)
}

func resolve(from, to variable.Scope, m Mapping) (*variable.Variable, *variable.Variable, *fault.Error) {
	switch m.Target.Kind {
	case TargetVariable:
	default:
		return nil, nil, fault.New(fault.InvalidConfiguration, to.ScopeID(), string(m.Target.Kind), "unknown mapping target type")
	}
	src, ok := from.GetByID(m.SourceVariableID)
	if !ok {
		return nil, nil, fault.New(fault.UnknownTargetVariable, from.ScopeID(), m.SourceVariableID, "mapping source does not exist")
	}
	dst, ok := to.GetByID(m.Target.VariableID)
	if !ok {
		return nil, nil, fault.New(fault.UnknownTargetVariable, to.ScopeID(), m.Target.VariableID, "mapping target does not exist")
	}
	if err := value.Compare(src.Schema, dst.Schema); err != nil {
		return nil, nil, fault.Wrap(fault.SchemaMismatch, to.ScopeID(), dst.Name,
			fmt.Errorf("from %s: %w", src.Name, err))
	}
	return src, dst, nil
}

func (r *Resolver) logger() hclog.Logger {
	if r == nil || r.Logger == nil {
		return hclog.NewNullLogger()
	}
	return r.Logger
}
