package engine

import (
	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	"github.com/ormasoftchile/missionkit/pkg/kernel/variable"
)

// resolveParameters builds the parameter set handed to a tool.
//
// Resolution order:
//  1. parameter bindings (the step's ready input variables) always win
//  2. `with` literals, rendered as templates against the stage and workflow
//  3. contract defaults
//
// A rendered literal may only reference ready variables.
func resolveParameters(step *scope.Step, chain variable.Chain) (map[string]any, error) {
	params, err := eval.RenderMap(step.With, renderEnv(chain))
	if err != nil {
		return nil, err
	}
	if params == nil {
		params = make(map[string]any)
	}
	for name, id := range step.Parameters {
		v, ok := step.State.GetByID(id)
		if !ok || !v.Ready() {
			continue
		}
		params[name] = v.Value.Raw()
	}
	return step.Contract.WithDefaults(params), nil
}

// renderEnv flattens the chain's ready variables, nearer scopes shadowing
// farther ones.
func renderEnv(chain variable.Chain) map[string]any {
	env := make(map[string]any)
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i].Snapshot() {
			env[k] = v
		}
	}
	return env
}
