package schema

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// SchemaID is the $id of the exported template schema.
const SchemaID = "https://github.com/ormasoftchile/missionkit/schemas/mission-v0.json"

// GenerateTemplateJSONSchema produces a JSON Schema Draft 2020-12 document
// from the mission/v0 Template Go types.
func GenerateTemplateJSONSchema() ([]byte, error) {
	r := new(jsonschema.Reflector)
	s := r.Reflect(&Template{})
	s.ID = SchemaID
	s.Title = "Mission Template (mission/v0)"
	s.Description = "Schema for mission/v0 template documents (Draft 2020-12)"

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal template schema: %w", err)
	}
	return data, nil
}

// JSONSchema describes both accepted forms of a mapping target.
func (TargetDecl) JSONSchema() *jsonschema.Schema {
	long := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		Required:             []string{"variable"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
	long.Properties.Set("type", &jsonschema.Schema{Type: "string", Enum: []any{"variable"}})
	long.Properties.Set("variable", &jsonschema.Schema{Type: "string"})
	return &jsonschema.Schema{OneOf: []*jsonschema.Schema{{Type: "string"}, long}}
}

// JSONSchema describes both accepted forms of a step output mapping.
func (OutputTarget) JSONSchema() *jsonschema.Schema {
	long := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		Required:             []string{"variable"},
		AdditionalProperties: jsonschema.FalseSchema,
	}
	long.Properties.Set("variable", &jsonschema.Schema{Type: "string"})
	long.Properties.Set("materialize", &jsonschema.Schema{Type: "object"})
	return &jsonschema.Schema{OneOf: []*jsonschema.Schema{{Type: "string"}, long}}
}

// JSONSchema leaves every field optional: a materialized variable inherits
// its shape from the tool contract unless it declares one.
func (Materialize) JSONSchema() *jsonschema.Schema {
	s := &jsonschema.Schema{
		Type:                 "object",
		Properties:           jsonschema.NewProperties(),
		AdditionalProperties: jsonschema.FalseSchema,
	}
	s.Properties.Set("type", &jsonschema.Schema{Type: "string", Enum: []any{"string", "number", "boolean", "object"}})
	s.Properties.Set("is_array", &jsonschema.Schema{Type: "boolean"})
	s.Properties.Set("fields", &jsonschema.Schema{Type: "object"})
	s.Properties.Set("format", &jsonschema.Schema{Type: "string"})
	s.Properties.Set("description", &jsonschema.Schema{Type: "string"})
	s.Properties.Set("io_type", &jsonschema.Schema{Type: "string", Enum: []any{"input", "output", "wip"}})
	s.Properties.Set("scope", &jsonschema.Schema{Type: "string", Enum: []any{"stage", "workflow"}})
	return s
}

// JSONSchema describes parameter_mappings: parameter name → variable name.
func (ParameterBindings) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", AdditionalProperties: &jsonschema.Schema{Type: "string"}}
}

// JSONSchema describes output_mappings: output name → target.
func (OutputBindings) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{Type: "object", AdditionalProperties: OutputTarget{}.JSONSchema()}
}
