// Package value implements the variable schema and value model: declared
// shapes, structural schema matching, and a tagged-union value whose tag is
// the declared (type, is_array) pair.
package value

import (
	"fmt"
	"sort"
	"strings"
)

// Type is a variable's declared base type.
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeObject  Type = "object"
)

// Valid reports whether t is one of the four base types.
func (t Type) Valid() bool {
	switch t {
	case TypeString, TypeNumber, TypeBoolean, TypeObject:
		return true
	}
	return false
}

// Schema is a variable's declared shape.
type Schema struct {
	Type        Type              `yaml:"type"                  json:"type" jsonschema:"enum=string,enum=number,enum=boolean,enum=object"`
	IsArray     bool              `yaml:"is_array,omitempty"    json:"is_array,omitempty"`
	Fields      map[string]Schema `yaml:"fields,omitempty"      json:"fields,omitempty"`
	Format      string            `yaml:"format,omitempty"      json:"format,omitempty"`
	Description string            `yaml:"description,omitempty" json:"description,omitempty"`
}

// String renders the schema tag, e.g. "string[]" or "object{a,b}".
func (s Schema) String() string {
	var b strings.Builder
	b.WriteString(string(s.Type))
	if s.Type == TypeObject && len(s.Fields) > 0 {
		b.WriteString("{")
		b.WriteString(strings.Join(s.fieldNames(), ","))
		b.WriteString("}")
	}
	if s.IsArray {
		b.WriteString("[]")
	}
	return b.String()
}

// Check reports a malformed schema declaration.
func (s Schema) Check() error {
	if !s.Type.Valid() {
		return fmt.Errorf("invalid type %q: must be string, number, boolean, or object", s.Type)
	}
	if len(s.Fields) > 0 && s.Type != TypeObject {
		return fmt.Errorf("fields are only allowed on object schemas, got %s", s.Type)
	}
	for _, name := range s.fieldNames() {
		if err := s.Fields[name].Check(); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// Compare checks that a value of schema src can be written into a variable of
// schema dst. Base type and array-ness must match exactly; for objects every
// field declared by dst must exist in src with a matching schema. src may carry
// extra fields. Nothing is ever coerced.
func Compare(src, dst Schema) error {
	if src.Type != dst.Type {
		return fmt.Errorf("type %s does not match %s", src.Type, dst.Type)
	}
	if src.IsArray != dst.IsArray {
		return fmt.Errorf("array-ness of %s does not match %s", src, dst)
	}
	if dst.Type != TypeObject {
		return nil
	}
	for _, name := range dst.fieldNames() {
		sf, ok := src.Fields[name]
		if !ok {
			return fmt.Errorf("field %q missing from source", name)
		}
		if err := Compare(sf, dst.Fields[name]); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
	}
	return nil
}

// Match reports whether Compare(src, dst) succeeds.
func Match(src, dst Schema) bool {
	return Compare(src, dst) == nil
}

func (s Schema) fieldNames() []string {
	names := make([]string, 0, len(s.Fields))
	for k := range s.Fields {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
