package eval

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/hashicorp/go-hclog"

	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
)

// Operator compares a condition's variable against its value.
type Operator string

const (
	Equals      Operator = "equals"
	NotEquals   Operator = "not_equals"
	GreaterThan Operator = "greater_than"
	LessThan    Operator = "less_than"
	Contains    Operator = "contains"
	NotContains Operator = "not_contains"
)

// Valid reports whether op is a known operator.
func (op Operator) Valid() bool {
	switch op {
	case Equals, NotEquals, GreaterThan, LessThan, Contains, NotContains:
		return true
	}
	return false
}

// DefaultAction applies when no condition matches.
type DefaultAction string

const (
	DefaultContinue DefaultAction = "continue"
	DefaultEnd      DefaultAction = "end"
)

// Action is the decision an evaluation produces.
type Action string

const (
	ActionContinue Action = "continue"
	ActionJump     Action = "jump"
	ActionEnd      Action = "end"
)

// NoCondition is reported in Result.ConditionMet when nothing matched.
const NoCondition = "none"

// Condition is one test in an evaluation step.
type Condition struct {
	ConditionID     string   `yaml:"condition_id"                json:"condition_id"`
	Variable        string   `yaml:"variable"                    json:"variable"`
	Operator        Operator `yaml:"operator"                    json:"operator" jsonschema:"enum=equals,enum=not_equals,enum=greater_than,enum=less_than,enum=contains,enum=not_contains"`
	Value           any      `yaml:"value"                       json:"value"`
	TargetStepIndex *int     `yaml:"target_step_index,omitempty" json:"target_step_index,omitempty"`
}

// Config is the evaluation attached to an evaluation step.
type Config struct {
	Conditions    []Condition   `yaml:"conditions"               json:"conditions"`
	DefaultAction DefaultAction `yaml:"default_action,omitempty" json:"default_action,omitempty" jsonschema:"enum=continue,enum=end"`
	MaximumJumps  int           `yaml:"maximum_jumps"            json:"maximum_jumps"`
}

// Check validates cfg statically. stepCount bounds target_step_index.
func (c *Config) Check(stepCount int) error {
	switch c.DefaultAction {
	case "", DefaultContinue, DefaultEnd:
	default:
		return fault.New(fault.InvalidConfiguration, "", string(c.DefaultAction), "default_action must be continue or end")
	}
	if c.MaximumJumps < 0 {
		return fault.New(fault.InvalidConfiguration, "", "maximum_jumps", "must not be negative")
	}
	seen := make(map[string]bool, len(c.Conditions))
	for i, cond := range c.Conditions {
		path := fmt.Sprintf("conditions[%d]", i)
		if cond.ConditionID == "" {
			return fault.New(fault.InvalidConfiguration, "", "", "condition_id is required").WithPath(path)
		}
		if seen[cond.ConditionID] {
			return fault.New(fault.DuplicateName, "", cond.ConditionID, "duplicate condition_id").WithPath(path)
		}
		seen[cond.ConditionID] = true
		if cond.Variable == "" {
			return fault.New(fault.InvalidConfiguration, "", cond.ConditionID, "variable is required").WithPath(path)
		}
		if !cond.Operator.Valid() {
			return fault.New(fault.InvalidConditionOperator, "", cond.ConditionID, "unknown operator %q", cond.Operator).WithPath(path)
		}
		if cond.TargetStepIndex != nil && (*cond.TargetStepIndex < 0 || *cond.TargetStepIndex >= stepCount) {
			return fault.New(fault.InvalidConfiguration, "", cond.ConditionID,
				"target_step_index %d out of range [0,%d)", *cond.TargetStepIndex, stepCount).WithPath(path)
		}
	}
	return nil
}

// Result is the outcome of one evaluation.
type Result struct {
	ConditionMet    string `json:"condition_met"`
	NextAction      Action `json:"next_action"`
	TargetStepIndex *int   `json:"target_step_index,omitempty"`
	Reason          string `json:"reason,omitempty"`
	JumpCount       int    `json:"jump_count"`
	MaxJumpsReached bool   `json:"max_jumps_reached"`
}

// Evaluator runs evaluation configs. The zero value is ready to use.
type Evaluator struct {
	Logger hclog.Logger
}

// Evaluate applies cfg to env, the workflow's ready variables keyed by
// name. jumpCount is the workflow run's jump count so far; the returned
// Result carries the updated count.
func (e *Evaluator) Evaluate(cfg *Config, env map[string]any, jumpCount int) (*Result, error) {
	res := &Result{ConditionMet: NoCondition, JumpCount: jumpCount}

	var winner *Condition
	for i := range cfg.Conditions {
		cond := &cfg.Conditions[i]
		ok, err := test(cond, env)
		if err != nil {
			return nil, err
		}
		if ok {
			winner = cond
			break
		}
	}

	if winner == nil {
		if cfg.DefaultAction == DefaultEnd {
			res.NextAction = ActionEnd
			res.Reason = "no condition matched; default action end"
		} else {
			res.NextAction = ActionContinue
			res.Reason = "no condition matched; default action continue"
		}
		return res, nil
	}

	res.ConditionMet = winner.ConditionID
	if winner.TargetStepIndex == nil {
		return nil, fault.New(fault.InvalidConfiguration, "", winner.ConditionID,
			"matched condition has no target_step_index")
	}

	res.JumpCount++
	if res.JumpCount > cfg.MaximumJumps {
		res.NextAction = ActionContinue
		res.MaxJumpsReached = true
		res.Reason = fmt.Sprintf("condition %s matched but jump_count %d exceeds maximum_jumps %d; continuing",
			winner.ConditionID, res.JumpCount, cfg.MaximumJumps)
		e.logger().Warn("maximum jumps exceeded, forcing continue",
			"kind", fault.MaxJumpsExceeded, "condition", winner.ConditionID,
			"jump_count", res.JumpCount, "maximum_jumps", cfg.MaximumJumps)
		return res, nil
	}

	target := *winner.TargetStepIndex
	res.NextAction = ActionJump
	res.TargetStepIndex = &target
	res.Reason = fmt.Sprintf("condition %s matched; jumping to step %d", winner.ConditionID, target)
	return res, nil
}

func (e *Evaluator) logger() hclog.Logger {
	if e == nil || e.Logger == nil {
		return hclog.NewNullLogger()
	}
	return e.Logger
}

// test evaluates one condition. A condition over a variable that is not in
// env (not declared or not ready) does not match.
func test(c *Condition, env map[string]any) (bool, error) {
	if !c.Operator.Valid() {
		return false, fault.New(fault.InvalidConditionOperator, "", c.ConditionID, "unknown operator %q", c.Operator)
	}
	actual, ok, err := lookup(c.Variable, env)
	if err != nil {
		return false, fault.Wrap(fault.TypeError, "", c.ConditionID, err)
	}
	if !ok {
		return false, nil
	}

	switch c.Operator {
	case Equals:
		return equal(actual, c.Value), nil
	case NotEquals:
		return !equal(actual, c.Value), nil
	case GreaterThan, LessThan:
		a, aok := toNumber(actual)
		b, bok := toNumber(c.Value)
		if !aok || !bok {
			return false, fault.New(fault.TypeError, "", c.ConditionID,
				"%s needs numeric operands, got %T and %T", c.Operator, actual, c.Value)
		}
		if c.Operator == GreaterThan {
			return a > b, nil
		}
		return a < b, nil
	default: // Contains, NotContains
		found, err := contains(actual, c.Value)
		if err != nil {
			return false, fault.Wrap(fault.TypeError, "", c.ConditionID, err)
		}
		if c.Operator == NotContains {
			return !found, nil
		}
		return found, nil
	}
}

// lookup resolves a variable reference. A bare name is read from env
// directly; a path such as "answer.score" or "items[0]" is evaluated with
// expr against env once its root variable is known to be present.
func lookup(ref string, env map[string]any) (any, bool, error) {
	ref = strings.TrimSpace(ref)
	root := Root(ref)
	v, ok := env[root]
	if !ok {
		return nil, false, nil
	}
	if root == ref {
		return v, true, nil
	}
	out, err := expr.Eval(ref, env)
	if err != nil {
		return nil, false, fmt.Errorf("resolve %q: %w", ref, err)
	}
	if out == nil {
		return nil, false, nil
	}
	return out, true, nil
}

// Root returns the variable name a condition reference starts with:
// "answer" for "answer.items[0]".
func Root(ref string) string {
	ref = strings.TrimSpace(ref)
	if i := strings.IndexAny(ref, ".["); i >= 0 {
		return ref[:i]
	}
	return ref
}

func equal(a, b any) bool {
	if an, ok := asNumber(a); ok {
		bn, ok := asNumber(b)
		return ok && an == bn
	}
	return reflect.DeepEqual(normalize(a), normalize(b))
}

func contains(haystack, needle any) (bool, error) {
	switch h := haystack.(type) {
	case string:
		return strings.Contains(h, fmt.Sprint(needle)), nil
	case []any:
		for _, item := range h {
			if equal(item, needle) {
				return true, nil
			}
		}
		return false, nil
	default:
		return false, fmt.Errorf("contains needs a string or array variable, got %T", haystack)
	}
}

// asNumber converts Go numeric kinds only.
func asNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}

// toNumber also accepts numeric strings.
func toNumber(v any) (float64, bool) {
	if f, ok := asNumber(v); ok {
		return f, true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		return f, err == nil
	}
	return 0, false
}

// normalize maps YAML-decoded shapes onto the JSON shapes variable payloads use.
func normalize(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = normalize(val)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = normalize(val)
		}
		return out
	}
	if f, ok := asNumber(v); ok {
		return f
	}
	return v
}
