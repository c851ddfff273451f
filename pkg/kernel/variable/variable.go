// Package variable implements the per-scope variable registry: an ordered,
// name-unique collection of variables owned by one Mission, Workflow, Stage
// or Step, each tagged with an I/O role.
package variable

import (
	"fmt"

	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
)

// IOType is a variable's role within its scope.
type IOType string

const (
	IOInput  IOType = "input"  // read-only locally, populated by mappings
	IOOutput IOType = "output" // writable by the scope named in CreatedBy
	IOWIP    IOType = "wip"    // scope-local intermediate result
)

// Valid reports whether t is a known role.
func (t IOType) Valid() bool {
	switch t {
	case IOInput, IOOutput, IOWIP:
		return true
	}
	return false
}

// Status is a variable's readiness.
type Status string

const (
	StatusPending Status = "pending"
	StatusReady   Status = "ready"
	StatusError   Status = "error"
)

// Variable is one named, typed slot in a scope.
type Variable struct {
	ID           string
	Name         string
	Schema       value.Schema
	IOType       IOType
	Required     bool
	Status       Status
	Value        value.Value
	CreatedBy    string
	ErrorMessage string
}

// Ready reports whether the variable holds a usable value.
func (v *Variable) Ready() bool { return v.Status == StatusReady }

func (v *Variable) String() string {
	return fmt.Sprintf("%s(%s %s %s)", v.Name, v.IOType, v.Schema, v.Status)
}

// Record is the persisted form of a Variable.
type Record struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Schema       value.Schema `json:"schema"`
	IOType       IOType       `json:"io_type"`
	Required     bool         `json:"required,omitempty"`
	Status       Status       `json:"status"`
	Value        any          `json:"value,omitempty"`
	CreatedBy    string       `json:"created_by"`
	ErrorMessage string       `json:"error_message,omitempty"`
}

// Record returns the persisted form of v.
func (v *Variable) Record() Record {
	return Record{
		ID:           v.ID,
		Name:         v.Name,
		Schema:       v.Schema,
		IOType:       v.IOType,
		Required:     v.Required,
		Status:       v.Status,
		Value:        v.Value.Raw(),
		CreatedBy:    v.CreatedBy,
		ErrorMessage: v.ErrorMessage,
	}
}

// FromRecord rebuilds a Variable, re-admitting its value under its schema.
func FromRecord(r Record) (*Variable, error) {
	v := &Variable{
		ID:           r.ID,
		Name:         r.Name,
		Schema:       r.Schema,
		IOType:       r.IOType,
		Required:     r.Required,
		Status:       r.Status,
		CreatedBy:    r.CreatedBy,
		ErrorMessage: r.ErrorMessage,
	}
	if r.Value != nil {
		val, err := value.New(r.Schema, r.Value)
		if err != nil {
			return nil, fmt.Errorf("variable %q: %w", r.Name, err)
		}
		v.Value = val
	}
	if v.Status == "" {
		v.Status = StatusPending
	}
	return v, nil
}
