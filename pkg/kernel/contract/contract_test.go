package contract

import (
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
)

func boolPtr(b bool) *bool { return &b }

func TestParamDef_IsRequired(t *testing.T) {
	tests := []struct {
		name string
		p    ParamDef
		want bool
	}{
		{"implicit", ParamDef{Schema: value.Schema{Type: value.TypeString}}, true},
		{"default makes optional", ParamDef{Schema: value.Schema{Type: value.TypeString}, Default: "x"}, false},
		{"explicit false", ParamDef{Required: boolPtr(false)}, false},
		{"explicit true with default", ParamDef{Required: boolPtr(true), Default: "x"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.IsRequired(); got != tt.want {
				t.Errorf("IsRequired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestContract_YAMLInline(t *testing.T) {
	src := `
inputs:
  query:
    type: string
    description: search text
  limit:
    type: number
    default: 10
outputs:
  articles:
    type: object
    is_array: true
    fields:
      title: {type: string}
`
	var c Contract
	if err := yaml.Unmarshal([]byte(src), &c); err != nil {
		t.Fatal(err)
	}
	q, ok := c.Input("query")
	if !ok || q.Type != value.TypeString || q.Description != "search text" {
		t.Errorf("query = %+v", q)
	}
	out, _ := c.Output("articles")
	if !out.IsArray || out.Fields["title"].Type != value.TypeString {
		t.Errorf("articles = %+v", out)
	}
	if err := c.Check(); err != nil {
		t.Errorf("Check() = %v", err)
	}
}

func TestContract_Check(t *testing.T) {
	c := Contract{Inputs: map[string]ParamDef{
		"n": {Schema: value.Schema{Type: value.TypeNumber}, Default: "ten"},
	}}
	if err := c.Check(); err == nil {
		t.Error("expected error for non-conforming default")
	}
	c = Contract{Outputs: map[string]ParamDef{"x": {Schema: value.Schema{Type: "date"}}}}
	if err := c.Check(); err == nil {
		t.Error("expected error for unknown output type")
	}
}

func TestWithDefaults(t *testing.T) {
	c := Contract{Inputs: map[string]ParamDef{
		"query": {Schema: value.Schema{Type: value.TypeString}},
		"limit": {Schema: value.Schema{Type: value.TypeNumber}, Default: 10},
	}}
	got := c.WithDefaults(map[string]any{"query": "go", "limit": 3})
	if got["limit"] != 3 {
		t.Errorf("limit = %v, explicit value must win", got["limit"])
	}
	got = c.WithDefaults(map[string]any{"query": "go"})
	if got["limit"] != 10 {
		t.Errorf("limit = %v, want default 10", got["limit"])
	}
}

func TestMerge(t *testing.T) {
	base := &Contract{
		Inputs:     map[string]ParamDef{"a": {Schema: value.Schema{Type: value.TypeString}}},
		Idempotent: boolPtr(false),
	}
	override := &Contract{
		Inputs:     map[string]ParamDef{"b": {Schema: value.Schema{Type: value.TypeNumber}}},
		Idempotent: boolPtr(true),
	}
	m := Merge(base, override)
	if len(m.Inputs) != 2 {
		t.Errorf("inputs = %v", m.InputNames())
	}
	if !*m.Idempotent {
		t.Error("override idempotent should win")
	}
	if len(base.Inputs) != 1 {
		t.Error("merge mutated base")
	}
	if got := Merge(nil, nil); got.Inputs != nil {
		t.Errorf("nil merge = %+v", got)
	}
}
