package validate

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
)

var (
	compileOnce sync.Once
	compiled    *sjsonschema.Schema
	compileErr  error
)

// templateSchema compiles the exported template schema once per process.
func templateSchema() (*sjsonschema.Schema, error) {
	compileOnce.Do(func() {
		data, err := schema.GenerateTemplateJSONSchema()
		if err != nil {
			compileErr = err
			return
		}
		doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			compileErr = err
			return
		}
		c := sjsonschema.NewCompiler()
		if err := c.AddResource(schema.SchemaID, doc); err != nil {
			compileErr = err
			return
		}
		compiled, compileErr = c.Compile(schema.SchemaID)
	})
	return compiled, compileErr
}

// validateSemantic validates the raw template document against the JSON
// Schema. The raw form is used so omitted required fields are reported.
func validateSemantic(data []byte) []*ValidationError {
	sch, err := templateSchema()
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "compile schema: %v", err)}
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "decode document: %v", err)}
	}
	js, err := json.Marshal(raw)
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "convert document to JSON: %v", err)}
	}
	doc, err := sjsonschema.UnmarshalJSON(bytes.NewReader(js))
	if err != nil {
		return []*ValidationError{errorf(PhaseSemantic, "", "unmarshal document: %v", err)}
	}

	err = sch.Validate(doc)
	if err == nil {
		return nil
	}
	var ve *sjsonschema.ValidationError
	if !errors.As(err, &ve) {
		return []*ValidationError{errorf(PhaseSemantic, "", "%s", err)}
	}
	p := message.NewPrinter(language.English)
	var errs []*ValidationError
	for _, cause := range flattenValidationErrors(ve) {
		errs = append(errs, &ValidationError{
			Phase:    PhaseSemantic,
			Path:     strings.Join(cause.InstanceLocation, "/"),
			Message:  cause.ErrorKind.LocalizedString(p),
			Severity: SeverityError,
		})
	}
	return errs
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}
