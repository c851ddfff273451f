package variable

import (
	"github.com/google/uuid"

	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/value"
)

// Scope is the view of a variable collection the mapping resolver works on.
// *Registry and Chain both implement it.
type Scope interface {
	ScopeID() string
	GetByID(id string) (*Variable, bool)
	Propagate(id string, v value.Value) (bool, error)
	MarkPending(id string)
	Clear(id string) bool
}

// Registry owns one scope's variables, in declaration order.
type Registry struct {
	scopeID string
	vars    []*Variable
	byName  map[string]*Variable
	byID    map[string]*Variable
}

// NewRegistry creates an empty registry owned by scopeID.
func NewRegistry(scopeID string) *Registry {
	return &Registry{
		scopeID: scopeID,
		byName:  make(map[string]*Variable),
		byID:    make(map[string]*Variable),
	}
}

// Restore rebuilds a registry from persisted records, preserving ids,
// statuses and values.
func Restore(scopeID string, records []Record) (*Registry, error) {
	r := NewRegistry(scopeID)
	for _, rec := range records {
		v, err := FromRecord(rec)
		if err != nil {
			return nil, fault.Wrap(fault.SchemaMismatch, scopeID, rec.Name, err)
		}
		if _, err := r.Declare(*v); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// ScopeID returns the owning scope's id.
func (r *Registry) ScopeID() string { return r.scopeID }

// Declare adds v to the registry and returns the stored variable. A missing
// ID is generated; CreatedBy defaults to the owning scope; a preset Value
// makes the variable ready.
func (r *Registry) Declare(v Variable) (*Variable, error) {
	if v.Name == "" {
		return nil, fault.New(fault.InvalidConfiguration, r.scopeID, "", "variable name is required")
	}
	if _, ok := r.byName[v.Name]; ok {
		return nil, fault.New(fault.DuplicateName, r.scopeID, v.Name, "variable already declared in this scope")
	}
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if _, ok := r.byID[v.ID]; ok {
		return nil, fault.New(fault.InvalidConfiguration, r.scopeID, v.Name, "variable id %q already in use", v.ID)
	}
	if v.IOType == "" {
		v.IOType = IOWIP
	}
	if !v.IOType.Valid() {
		return nil, fault.New(fault.InvalidConfiguration, r.scopeID, v.Name, "invalid io_type %q", v.IOType)
	}
	if err := v.Schema.Check(); err != nil {
		return nil, fault.Wrap(fault.InvalidConfiguration, r.scopeID, v.Name, err)
	}
	if v.CreatedBy == "" {
		v.CreatedBy = r.scopeID
	}
	if !v.Value.IsZero() {
		admitted, err := value.New(v.Schema, v.Value.Raw())
		if err != nil {
			return nil, fault.Wrap(fault.SchemaMismatch, r.scopeID, v.Name, err)
		}
		v.Value = admitted
		if v.Status == "" {
			v.Status = StatusReady
		}
	}
	if v.Status == "" {
		v.Status = StatusPending
	}

	stored := v
	r.vars = append(r.vars, &stored)
	r.byName[stored.Name] = &stored
	r.byID[stored.ID] = &stored
	return &stored, nil
}

// Get returns the variable with the given name.
func (r *Registry) Get(name string) (*Variable, bool) {
	v, ok := r.byName[name]
	return v, ok
}

// GetByID returns the variable with the given id.
func (r *Registry) GetByID(id string) (*Variable, bool) {
	v, ok := r.byID[id]
	return v, ok
}

// Lookup resolves ref as an id first, then as a name.
func (r *Registry) Lookup(ref string) (*Variable, bool) {
	if v, ok := r.byID[ref]; ok {
		return v, true
	}
	return r.Get(ref)
}

// Variables returns the variables in declaration order.
func (r *Registry) Variables() []*Variable {
	out := make([]*Variable, len(r.vars))
	copy(out, r.vars)
	return out
}

// Len returns the number of declared variables.
func (r *Registry) Len() int { return len(r.vars) }

// SetValue is the scope's own write path. Input variables are never locally
// writable and output variables are writable only by the scope that created
// them. A rejected write leaves the variable untouched.
func (r *Registry) SetValue(id string, raw any) error {
	v, ok := r.byID[id]
	if !ok {
		return fault.New(fault.UnknownTargetVariable, r.scopeID, id, "no such variable")
	}
	switch {
	case v.IOType == IOInput:
		return fault.New(fault.ReadOnlyVariable, r.scopeID, v.Name, "input variables are populated only by mappings")
	case v.IOType == IOOutput && v.CreatedBy != r.scopeID:
		return fault.New(fault.ReadOnlyVariable, r.scopeID, v.Name, "output variable is owned by %s", v.CreatedBy)
	}
	admitted, err := value.New(v.Schema, raw)
	if err != nil {
		return fault.Wrap(fault.SchemaMismatch, r.scopeID, v.Name, err)
	}
	v.Value = admitted
	v.Status = StatusReady
	v.ErrorMessage = ""
	return nil
}

// Propagate is the mapping write path. It skips the I/O role checks but still
// requires val's tag to match the variable's schema. Writing a value equal to
// the current ready value is a no-op and reports false.
func (r *Registry) Propagate(id string, val value.Value) (bool, error) {
	v, ok := r.byID[id]
	if !ok {
		return false, fault.New(fault.UnknownTargetVariable, r.scopeID, id, "no such variable")
	}
	if val.IsZero() {
		return false, fault.New(fault.SchemaMismatch, r.scopeID, v.Name, "cannot propagate an empty value")
	}
	if val.Type() != v.Schema.Type || val.IsArray() != v.Schema.IsArray {
		return false, fault.New(fault.SchemaMismatch, r.scopeID, v.Name, "value tagged %s cannot be written to %s", val.Tag(), v.Schema)
	}
	admitted, err := value.New(v.Schema, val.Raw())
	if err != nil {
		return false, fault.Wrap(fault.SchemaMismatch, r.scopeID, v.Name, err)
	}
	if v.Ready() && v.Value.Equal(admitted) {
		return false, nil
	}
	v.Value = admitted
	v.Status = StatusReady
	v.ErrorMessage = ""
	return true, nil
}

// MarkPending records that a variable is still waiting for a value. Ready
// variables keep their value.
func (r *Registry) MarkPending(id string) {
	if v, ok := r.byID[id]; ok && !v.Ready() {
		v.Status = StatusPending
	}
}

// Clear drops a variable's value and marks it pending. It reports whether
// the variable held a ready value.
func (r *Registry) Clear(id string) bool {
	v, ok := r.byID[id]
	if !ok {
		return false
	}
	was := v.Ready()
	v.Value = value.Value{}
	v.Status = StatusPending
	v.ErrorMessage = ""
	return was
}

// MarkError flags a variable as errored with a message.
func (r *Registry) MarkError(id, msg string) {
	if v, ok := r.byID[id]; ok {
		v.Status = StatusError
		v.ErrorMessage = msg
	}
}

// Missing returns required variables that are not ready, in order.
func (r *Registry) Missing() []*Variable {
	var out []*Variable
	for _, v := range r.vars {
		if v.Required && !v.Ready() {
			out = append(out, v)
		}
	}
	return out
}

// Snapshot returns name → payload for every ready variable.
func (r *Registry) Snapshot() map[string]any {
	out := make(map[string]any, len(r.vars))
	for _, v := range r.vars {
		if v.Ready() {
			out[v.Name] = v.Value.Raw()
		}
	}
	return out
}

// Records returns the persisted form of every variable, in order.
func (r *Registry) Records() []Record {
	out := make([]Record, 0, len(r.vars))
	for _, v := range r.vars {
		out = append(out, v.Record())
	}
	return out
}

// Chain presents several registries as one scope, nearest first. Writes go
// to the registry that owns the target id.
type Chain []*Registry

// ScopeID returns the nearest registry's scope id.
func (c Chain) ScopeID() string {
	if len(c) == 0 {
		return ""
	}
	return c[0].ScopeID()
}

// GetByID searches every registry in order.
func (c Chain) GetByID(id string) (*Variable, bool) {
	if r := c.Owner(id); r != nil {
		return r.GetByID(id)
	}
	return nil, false
}

// Get resolves a name against the nearest registry that declares it.
func (c Chain) Get(name string) (*Variable, *Registry, bool) {
	for _, r := range c {
		if v, ok := r.Get(name); ok {
			return v, r, true
		}
	}
	return nil, nil, false
}

// Owner returns the registry holding id, or nil.
func (c Chain) Owner(id string) *Registry {
	for _, r := range c {
		if _, ok := r.GetByID(id); ok {
			return r
		}
	}
	return nil
}

// Propagate writes into the registry that owns id.
func (c Chain) Propagate(id string, v value.Value) (bool, error) {
	r := c.Owner(id)
	if r == nil {
		return false, fault.New(fault.UnknownTargetVariable, c.ScopeID(), id, "no such variable in any enclosing scope")
	}
	return r.Propagate(id, v)
}

// MarkPending marks id pending in the registry that owns it.
func (c Chain) MarkPending(id string) {
	if r := c.Owner(id); r != nil {
		r.MarkPending(id)
	}
}

// Clear clears id in the registry that owns it.
func (c Chain) Clear(id string) bool {
	if r := c.Owner(id); r != nil {
		return r.Clear(id)
	}
	return false
}
