package schema

import (
	"bytes"
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// ParameterBinding binds a tool parameter to a Stage/Workflow variable.
type ParameterBinding struct {
	Param    string
	Variable string
}

// ParameterBindings keeps parameter_mappings in declaration order.
type ParameterBindings []ParameterBinding

// Lookup returns the variable bound to param.
func (b ParameterBindings) Lookup(param string) (string, bool) {
	for _, p := range b {
		if p.Param == param {
			return p.Variable, true
		}
	}
	return "", false
}

// UnmarshalYAML reads a mapping of parameter → variable name.
func (b *ParameterBindings) UnmarshalYAML(node *yaml.Node) error {
	out := ParameterBindings{}
	err := eachPair(node, "parameter_mappings", func(key string, val *yaml.Node) error {
		var name string
		if err := val.Decode(&name); err != nil {
			return fmt.Errorf("line %d: parameter %q: %w", val.Line, key, err)
		}
		out = append(out, ParameterBinding{Param: key, Variable: name})
		return nil
	})
	*b = out
	return err
}

// MarshalJSON writes the bindings as an object in declaration order.
func (b ParameterBindings) MarshalJSON() ([]byte, error) {
	return orderedObject(len(b), func(i int) (string, any) { return b[i].Param, b[i].Variable })
}

// OutputBinding routes a tool output to a Stage/Workflow variable.
type OutputBinding struct {
	Output string
	Target OutputTarget
}

// OutputBindings keeps output_mappings in declaration order. When two
// outputs target the same variable the later one wins.
type OutputBindings []OutputBinding

// Lookup returns the target of output.
func (b OutputBindings) Lookup(output string) (OutputTarget, bool) {
	for _, o := range b {
		if o.Output == output {
			return o.Target, true
		}
	}
	return OutputTarget{}, false
}

// UnmarshalYAML reads a mapping of output → target.
func (b *OutputBindings) UnmarshalYAML(node *yaml.Node) error {
	out := OutputBindings{}
	err := eachPair(node, "output_mappings", func(key string, val *yaml.Node) error {
		var t OutputTarget
		if err := val.Decode(&t); err != nil {
			return err
		}
		out = append(out, OutputBinding{Output: key, Target: t})
		return nil
	})
	*b = out
	return err
}

// MarshalJSON writes the bindings as an object in declaration order.
func (b OutputBindings) MarshalJSON() ([]byte, error) {
	return orderedObject(len(b), func(i int) (string, any) { return b[i].Output, b[i].Target })
}

// eachPair walks a mapping node's key/value pairs in document order.
// Repeated keys are rejected.
func eachPair(node *yaml.Node, field string, fn func(key string, val *yaml.Node) error) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: %s must be a mapping", node.Line, field)
	}
	seen := make(map[string]bool, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if seen[k.Value] {
			return fmt.Errorf("line %d: %s: %q declared twice", k.Line, field, k.Value)
		}
		seen[k.Value] = true
		if err := fn(k.Value, v); err != nil {
			return err
		}
	}
	return nil
}

func orderedObject(n int, pair func(i int) (string, any)) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i := 0; i < n; i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, v := pair(i)
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}
