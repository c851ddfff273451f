package value

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Value is a tagged union. The tag is the (Type, IsArray) pair of the schema
// the value was admitted under; the payload is normalised to JSON shapes
// (string, float64, bool, map[string]any, []any).
type Value struct {
	typ   Type
	array bool
	data  any
}

// New admits raw under schema s. raw is normalised through JSON and checked
// against s; a non-conforming payload is rejected.
func New(s Schema, raw any) (Value, error) {
	if raw == nil {
		return Value{}, fmt.Errorf("null value for %s", s)
	}
	norm, err := normalize(raw)
	if err != nil {
		return Value{}, err
	}
	sch, err := compiled(s)
	if err != nil {
		return Value{}, fmt.Errorf("compile %s: %w", s, err)
	}
	if err := sch.Validate(norm); err != nil {
		return Value{}, fmt.Errorf("value does not conform to %s: %w", s, err)
	}
	return Value{typ: s.Type, array: s.IsArray, data: norm}, nil
}

// Parse admits a textual value (e.g. from a --var flag) under schema s.
// Strings are taken verbatim; numbers and booleans are parsed; objects and
// arrays are decoded as JSON.
func Parse(s Schema, text string) (Value, error) {
	if s.IsArray || s.Type == TypeObject {
		var raw any
		if err := json.Unmarshal([]byte(text), &raw); err != nil {
			return Value{}, fmt.Errorf("parse %s: %w", s, err)
		}
		return New(s, raw)
	}
	switch s.Type {
	case TypeNumber:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s: %w", s, err)
		}
		return New(s, f)
	case TypeBoolean:
		b, err := strconv.ParseBool(text)
		if err != nil {
			return Value{}, fmt.Errorf("parse %s: %w", s, err)
		}
		return New(s, b)
	default:
		return New(s, text)
	}
}

// String builds a scalar string value.
func String(s string) Value { return Value{typ: TypeString, data: s} }

// Number builds a scalar number value.
func Number(f float64) Value { return Value{typ: TypeNumber, data: f} }

// Bool builds a scalar boolean value.
func Bool(b bool) Value { return Value{typ: TypeBoolean, data: b} }

// Type returns the tag's base type ("" for the zero Value).
func (v Value) Type() Type { return v.typ }

// IsArray returns the tag's array-ness.
func (v Value) IsArray() bool { return v.array }

// IsZero reports whether v holds no value.
func (v Value) IsZero() bool { return v.typ == "" }

// Tag returns the schema tag the value carries.
func (v Value) Tag() Schema { return Schema{Type: v.typ, IsArray: v.array} }

// Raw returns the normalised payload. Callers must not mutate it.
func (v Value) Raw() any { return v.data }

// Equal reports whether two values carry the same tag and payload.
func (v Value) Equal(o Value) bool {
	return v.typ == o.typ && v.array == o.array && reflect.DeepEqual(v.data, o.data)
}

// AsString returns the payload of a scalar string value.
func (v Value) AsString() (string, bool) {
	s, ok := v.data.(string)
	return s, ok && !v.array
}

// AsNumber returns the payload of a scalar number value.
func (v Value) AsNumber() (float64, bool) {
	f, ok := v.data.(float64)
	return f, ok && !v.array
}

// MarshalJSON encodes the payload only; the tag lives in the variable schema.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.data)
}

func (v Value) String() string {
	if v.IsZero() {
		return "<none>"
	}
	data, err := json.Marshal(v.data)
	if err != nil {
		return fmt.Sprint(v.data)
	}
	return string(data)
}

func normalize(raw any) (any, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("normalize value: %w", err)
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// JSON Schema compilation
// ---------------------------------------------------------------------------

// knownFormats are the formats asserted during conformance checks. Other
// format strings are descriptive only.
var knownFormats = map[string]bool{
	"date-time": true,
	"date":      true,
	"time":      true,
	"email":     true,
	"uri":       true,
	"uuid":      true,
	"hostname":  true,
	"ipv4":      true,
	"ipv6":      true,
}

// JSONSchema renders s as a JSON Schema document (draft 2020-12 keywords).
// Declared object fields are required; additional fields are allowed.
func (s Schema) JSONSchema() map[string]any {
	base := map[string]any{"type": string(s.Type)}
	if s.Type == TypeObject && len(s.Fields) > 0 {
		props := make(map[string]any, len(s.Fields))
		required := make([]any, 0, len(s.Fields))
		for _, name := range s.fieldNames() {
			props[name] = s.Fields[name].JSONSchema()
			required = append(required, name)
		}
		base["properties"] = props
		base["required"] = required
	}
	if knownFormats[s.Format] {
		base["format"] = s.Format
	}
	if s.IsArray {
		return map[string]any{"type": "array", "items": base}
	}
	return base
}

var schemaCache sync.Map // canonical JSON → *jsonschema.Schema

func compiled(s Schema) (*jsonschema.Schema, error) {
	doc := s.JSONSchema()
	key, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if cached, ok := schemaCache.Load(string(key)); ok {
		return cached.(*jsonschema.Schema), nil
	}

	c := jsonschema.NewCompiler()
	c.AssertFormat()
	if err := c.AddResource("value.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	sch, err := c.Compile("value.json")
	if err != nil {
		return nil, err
	}
	schemaCache.Store(string(key), sch)
	return sch, nil
}
