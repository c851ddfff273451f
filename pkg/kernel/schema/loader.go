package schema

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadFile reads and structurally decodes a mission/v0 template. YAML and
// JSON are both accepted. Unknown fields are a structural error.
func LoadFile(path string) (*Template, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open template: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load reads a mission/v0 template from a reader.
func Load(r io.Reader) (*Template, error) {
	var tpl Template
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true) // strict: reject unknown fields
	if err := dec.Decode(&tpl); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("structural decode: empty document")
		}
		return nil, fmt.Errorf("structural decode: %w", err)
	}
	assignIDs(&tpl)
	return &tpl, nil
}

// assignIDs fills in positional ids for unnamed workflows, stages and steps.
func assignIDs(tpl *Template) {
	wf := &tpl.Mission.Workflow
	if wf.ID == "" {
		wf.ID = "workflow"
	}
	n := 0
	for si := range wf.Stages {
		st := &wf.Stages[si]
		if st.ID == "" {
			st.ID = fmt.Sprintf("stage-%d", si+1)
		}
		for i := range st.Steps {
			n++
			if st.Steps[i].ID == "" {
				st.Steps[i].ID = fmt.Sprintf("step-%d", n)
			}
		}
	}
}

func unmarshalStrict(data []byte, out any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	return dec.Decode(out)
}
