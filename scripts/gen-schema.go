//go:build ignore

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ormasoftchile/missionkit/pkg/kernel/schema"
)

func main() {
	data, err := schema.GenerateTemplateJSONSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		fmt.Fprintf(os.Stderr, "indent: %v\n", err)
		os.Exit(1)
	}
	if err := os.MkdirAll("schemas", 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "mkdir: %v\n", err)
		os.Exit(1)
	}
	if err := os.WriteFile("schemas/mission-v0.json", out.Bytes(), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "write: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("wrote schemas/mission-v0.json")
}
