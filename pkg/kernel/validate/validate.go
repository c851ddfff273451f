// Package validate implements the mission/v0 3-phase validation pipeline:
// structural → semantic → domain.
package validate

import (
	"bytes"
	"fmt"
	"os"

	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
)

// Phases of the pipeline.
const (
	PhaseStructural = "structural"
	PhaseSemantic   = "semantic"
	PhaseDomain     = "domain"
)

// Severities.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationError represents one error or warning from the validation pipeline.
type ValidationError struct {
	Phase    string     `json:"phase"` // structural, semantic, domain
	Path     string     `json:"path"`  // JSON-path-like location
	Message  string     `json:"message"`
	Severity string     `json:"severity"` // error, warning
	Kind     fault.Kind `json:"kind,omitempty"`
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("[%s] %s at %s", e.Phase, e.Message, e.Path)
	}
	return fmt.Sprintf("[%s] %s", e.Phase, e.Message)
}

func errorf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityError,
	}
}

func warningf(phase, path, msg string, args ...any) *ValidationError {
	return &ValidationError{
		Phase:    phase,
		Path:     path,
		Message:  fmt.Sprintf(msg, args...),
		Severity: SeverityWarning,
	}
}

// ValidateFile runs the full 3-phase pipeline on a template file.
func ValidateFile(path string) (*schema.Template, []*ValidationError) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to read: %s", err)}
	}
	return ValidateBytes(data)
}

// ValidateBytes runs the full pipeline on an in-memory template document.
// The template is returned whenever it decoded, even if later phases fail.
func ValidateBytes(data []byte) (*schema.Template, []*ValidationError) {
	// Phase 1: Structural (strict YAML decode)
	tpl, err := schema.Load(bytes.NewReader(data))
	if err != nil {
		return nil, []*ValidationError{errorf(PhaseStructural, "", "failed to load: %s", err)}
	}

	// Phase 2: Semantic (JSON Schema validation of the raw document)
	errs := validateSemantic(data)
	if HasErrors(errs) {
		return tpl, errs
	}

	// Phase 3: Domain (instantiation dry-run plus template rules)
	errs = append(errs, ValidateDomain(tpl)...)
	return tpl, errs
}

// HasErrors reports whether any entry has error severity.
func HasErrors(errs []*ValidationError) bool {
	for _, e := range errs {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity entries.
func Errors(errs []*ValidationError) []*ValidationError {
	return filter(errs, SeverityError)
}

// Warnings returns only the warning-severity entries.
func Warnings(errs []*ValidationError) []*ValidationError {
	return filter(errs, SeverityWarning)
}

func filter(errs []*ValidationError, severity string) []*ValidationError {
	var out []*ValidationError
	for _, e := range errs {
		if e.Severity == severity {
			out = append(out, e)
		}
	}
	return out
}
