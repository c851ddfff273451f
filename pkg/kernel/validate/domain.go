package validate

import (
	"errors"
	"fmt"

	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

// dryRunID names the throwaway tree built during domain validation.
const dryRunID = "validate"

// ValidateDomain performs Phase 3 domain-level validation. The template is
// instantiated once so every rule the builder enforces (unique names,
// mapping targets and schemas, evaluation configs, contracts) is reported
// with its template path and fault kind. Rules that only warrant a warning
// are checked on the template itself.
func ValidateDomain(tpl *schema.Template) []*ValidationError {
	var errs []*ValidationError

	if tpl.APIVersion != schema.APIVersion {
		errs = append(errs, errorf(PhaseDomain, "apiVersion", "unsupported apiVersion %q, want %q", tpl.APIVersion, schema.APIVersion))
	}
	if tpl.Meta.Name == "" {
		errs = append(errs, errorf(PhaseDomain, "meta.name", "meta.name is required"))
	}
	errs = append(errs, validateTools(tpl)...)

	if _, err := scope.Build(tpl, scope.WithMissionID(dryRunID)); err != nil {
		errs = append(errs, fromFaults(err)...)
	}

	errs = append(errs, validateEvaluations(tpl)...)
	errs = append(errs, unusedTools(tpl)...)
	return errs
}

// fromFaults converts builder errors into validation entries.
func fromFaults(err error) []*ValidationError {
	var out []*ValidationError
	for _, fe := range fault.All(err) {
		msg := *fe
		msg.Path = ""
		out = append(out, &ValidationError{
			Phase:    PhaseDomain,
			Path:     fe.Path,
			Message:  msg.Error(),
			Severity: SeverityError,
			Kind:     fe.Kind,
		})
	}
	return out
}

func validateTools(tpl *schema.Template) []*ValidationError {
	var errs []*ValidationError
	seen := make(map[string]int)
	for i, tool := range tpl.Tools {
		path := fmt.Sprintf("tools[%d]", i)
		if tool.Name == "" {
			errs = append(errs, errorf(PhaseDomain, path+".name", "tool name is required"))
			continue
		}
		if prev, ok := seen[tool.Name]; ok {
			e := errorf(PhaseDomain, path+".name", "duplicate tool %q (first declared at tools[%d])", tool.Name, prev)
			e.Kind = fault.DuplicateName
			errs = append(errs, e)
			continue
		}
		seen[tool.Name] = i
		if err := tool.Contract.Check(); err != nil {
			e := errorf(PhaseDomain, path+".contract", "%s", err)
			e.Kind = fault.InvalidConfiguration
			errs = append(errs, e)
		}
	}
	return errs
}

// validateEvaluations warns about evaluation configs that are legal but
// cannot behave as written.
func validateEvaluations(tpl *schema.Template) []*ValidationError {
	var errs []*ValidationError
	index := 0
	for si, st := range tpl.Mission.Workflow.Stages {
		for i, s := range st.Steps {
			self := index
			index++
			if s.Type != schema.StepEvaluation || s.Evaluation == nil {
				continue
			}
			path := fmt.Sprintf("mission.workflow.stages[%d].steps[%d].evaluation", si, i)
			jumps := false
			for ci, c := range s.Evaluation.Conditions {
				if c.TargetStepIndex == nil {
					continue
				}
				jumps = true
				if *c.TargetStepIndex == self {
					errs = append(errs, warningf(PhaseDomain, fmt.Sprintf("%s.conditions[%d]", path, ci),
						"condition %q jumps to its own evaluation step and can only re-read unchanged state", c.ConditionID))
				}
			}
			if jumps && s.Evaluation.MaximumJumps == 0 {
				errs = append(errs, warningf(PhaseDomain, path+".maximum_jumps",
					"maximum_jumps is 0, so no jump will ever be taken"))
			}
		}
	}
	return errs
}

func unusedTools(tpl *schema.Template) []*ValidationError {
	used := make(map[string]bool)
	for _, ref := range tpl.Mission.Workflow.Steps() {
		if ref.Step.Tool != "" {
			used[ref.Step.Tool] = true
		}
	}
	var errs []*ValidationError
	for i, tool := range tpl.Tools {
		if tool.Name != "" && !used[tool.Name] {
			errs = append(errs, warningf(PhaseDomain, fmt.Sprintf("tools[%d]", i), "tool %q is declared but no step uses it", tool.Name))
		}
	}
	return errs
}

// Err joins the error-severity entries into a single error, or nil.
func Err(errs []*ValidationError) error {
	var out []error
	for _, e := range Errors(errs) {
		out = append(out, e)
	}
	return errors.Join(out...)
}
