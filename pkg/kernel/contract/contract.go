// Package contract defines tool contracts: the named, typed inputs a tool
// accepts and the outputs it promises. Contracts drive how step parameter
// and output variables are declared when a template is instantiated.
package contract

import (
	"fmt"
	"sort"

	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
)

// Contract describes a tool's parameters and outputs.
type Contract struct {
	Inputs     map[string]ParamDef `yaml:"inputs,omitempty"     json:"inputs,omitempty"`
	Outputs    map[string]ParamDef `yaml:"outputs,omitempty"    json:"outputs,omitempty"`
	Idempotent *bool               `yaml:"idempotent,omitempty" json:"idempotent,omitempty"`
}

// ParamDef describes a single input or output parameter.
type ParamDef struct {
	value.Schema `yaml:",inline"`
	Required     *bool `yaml:"required,omitempty" json:"required,omitempty"`
	Default      any   `yaml:"default,omitempty"  json:"default,omitempty"`
}

// IsRequired reports whether the parameter must be supplied. Inputs are
// required unless they say otherwise or carry a default.
func (p ParamDef) IsRequired() bool {
	if p.Required != nil {
		return *p.Required
	}
	return p.Default == nil
}

// Check validates every parameter schema and default value.
func (c *Contract) Check() error {
	for _, name := range sortedKeys(c.Inputs) {
		p := c.Inputs[name]
		if err := p.Schema.Check(); err != nil {
			return fmt.Errorf("input %q: %w", name, err)
		}
		if p.Default != nil {
			if _, err := value.New(p.Schema, p.Default); err != nil {
				return fmt.Errorf("input %q default: %w", name, err)
			}
		}
	}
	for _, name := range sortedKeys(c.Outputs) {
		if err := c.Outputs[name].Schema.Check(); err != nil {
			return fmt.Errorf("output %q: %w", name, err)
		}
	}
	return nil
}

// Input returns the declared input named name.
func (c *Contract) Input(name string) (ParamDef, bool) {
	if c == nil {
		return ParamDef{}, false
	}
	p, ok := c.Inputs[name]
	return p, ok
}

// Output returns the declared output named name.
func (c *Contract) Output(name string) (ParamDef, bool) {
	if c == nil {
		return ParamDef{}, false
	}
	p, ok := c.Outputs[name]
	return p, ok
}

// InputNames returns the declared input names, sorted.
func (c *Contract) InputNames() []string { return sortedKeys(c.Inputs) }

// OutputNames returns the declared output names, sorted.
func (c *Contract) OutputNames() []string { return sortedKeys(c.Outputs) }

// WithDefaults returns params completed with the defaults of any declared
// input that is absent.
func (c *Contract) WithDefaults(params map[string]any) map[string]any {
	out := make(map[string]any, len(params)+len(c.Inputs))
	for k, v := range params {
		out[k] = v
	}
	for name, p := range c.Inputs {
		if _, ok := out[name]; !ok && p.Default != nil {
			out[name] = p.Default
		}
	}
	return out
}

// Merge returns base with override's parameters layered on top. A step may
// narrow or extend the contract its tool declares.
func Merge(base, override *Contract) Contract {
	if base == nil {
		base = &Contract{}
	}
	out := Contract{Idempotent: base.Idempotent}
	out.Inputs = mergeParams(base.Inputs, nil)
	out.Outputs = mergeParams(base.Outputs, nil)
	if override == nil {
		return out
	}
	out.Inputs = mergeParams(out.Inputs, override.Inputs)
	out.Outputs = mergeParams(out.Outputs, override.Outputs)
	if override.Idempotent != nil {
		out.Idempotent = override.Idempotent
	}
	return out
}

func mergeParams(a, b map[string]ParamDef) map[string]ParamDef {
	if a == nil && b == nil {
		return nil
	}
	out := make(map[string]ParamDef, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]ParamDef) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
