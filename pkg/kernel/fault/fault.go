// Package fault defines the kernel's error taxonomy. Every error raised by the
// variable registry, mapping resolver, evaluation engine and execution engine
// is a *Error carrying one of the Kind constants below, so hosts can branch on
// errors.Is(err, fault.ErrSchemaMismatch) without parsing messages.
package fault

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a kernel error.
type Kind string

const (
	DuplicateName            Kind = "duplicate_name"
	SchemaMismatch           Kind = "schema_mismatch"
	ReadOnlyVariable         Kind = "read_only_variable"
	MissingRequiredVariable  Kind = "missing_required_variable"
	UnknownTargetVariable    Kind = "unknown_target_variable"
	InvalidConditionOperator Kind = "invalid_condition_operator"
	TypeError                Kind = "type_error"
	ToolInvocationError      Kind = "tool_invocation_error"
	MaxJumpsExceeded         Kind = "max_jumps_exceeded"
	InvalidConfiguration     Kind = "invalid_configuration"
	Cancelled                Kind = "cancelled"
)

// Sentinels for errors.Is. They match any *Error of the same Kind.
var (
	ErrDuplicateName            = &Error{Kind: DuplicateName}
	ErrSchemaMismatch           = &Error{Kind: SchemaMismatch}
	ErrReadOnlyVariable         = &Error{Kind: ReadOnlyVariable}
	ErrMissingRequiredVariable  = &Error{Kind: MissingRequiredVariable}
	ErrUnknownTargetVariable    = &Error{Kind: UnknownTargetVariable}
	ErrInvalidConditionOperator = &Error{Kind: InvalidConditionOperator}
	ErrTypeError                = &Error{Kind: TypeError}
	ErrToolInvocation           = &Error{Kind: ToolInvocationError}
	ErrMaxJumpsExceeded         = &Error{Kind: MaxJumpsExceeded}
	ErrInvalidConfiguration     = &Error{Kind: InvalidConfiguration}
	ErrCancelled                = &Error{Kind: Cancelled}
)

// Error is a classified kernel error.
type Error struct {
	Kind    Kind
	Scope   string // owning scope id, if any
	Subject string // variable, condition or tool the error is about
	Path    string // template location (e.g. workflow.stages[0].input_mappings[1])
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Scope != "" {
		fmt.Fprintf(&b, " [scope %s]", e.Scope)
	}
	if e.Subject != "" {
		fmt.Fprintf(&b, " %q", e.Subject)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " at %s", e.Path)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error of the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// New builds a classified error.
func New(kind Kind, scope, subject, format string, args ...any) *Error {
	return &Error{
		Kind:    kind,
		Scope:   scope,
		Subject: subject,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap classifies an underlying error.
func Wrap(kind Kind, scope, subject string, err error) *Error {
	return &Error{Kind: kind, Scope: scope, Subject: subject, Err: err}
}

// WithPath returns a copy of e located at path.
func (e *Error) WithPath(path string) *Error {
	out := *e
	out.Path = path
	return &out
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}

// All flattens err (including errors.Join trees) into its *Error leaves.
// Non-classified errors are wrapped as InvalidConfiguration.
func All(err error) []*Error {
	if err == nil {
		return nil
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		var out []*Error
		for _, e := range joined.Unwrap() {
			out = append(out, All(e)...)
		}
		return out
	}
	var fe *Error
	if errors.As(err, &fe) {
		return []*Error{fe}
	}
	return []*Error{{Kind: InvalidConfiguration, Err: err}}
}
