// Package eval implements evaluation steps: ordered conditions over workflow
// variables that decide whether a workflow continues, jumps back to an
// earlier step, or ends. It also renders text/template parameter literals.
package eval

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Render evaluates a template string against the visible variables.
// Example: Render("topic: {{ .topic }}", {"topic": "go"}) → "topic: go"
func Render(tmpl string, vars map[string]any) (string, error) {
	if !strings.Contains(tmpl, "{{") {
		return tmpl, nil // fast path for literals
	}

	t, err := template.New("").Option("missingkey=error").Funcs(builtinFuncs()).Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("template parse: %w", err)
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, vars); err != nil {
		return "", fmt.Errorf("template eval: %w", err)
	}
	return buf.String(), nil
}

// RenderMap renders every string value in params. Other values pass through.
func RenderMap(params map[string]any, vars map[string]any) (map[string]any, error) {
	if params == nil {
		return nil, nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}
		rendered, err := Render(s, vars)
		if err != nil {
			return nil, fmt.Errorf("parameter %q: %w", k, err)
		}
		out[k] = rendered
	}
	return out, nil
}

func builtinFuncs() template.FuncMap {
	return template.FuncMap{
		"hasPrefix": func(s, prefix any) bool {
			return strings.HasPrefix(fmt.Sprint(s), fmt.Sprint(prefix))
		},
		"hasSuffix": func(s, suffix any) bool {
			return strings.HasSuffix(fmt.Sprint(s), fmt.Sprint(suffix))
		},
		"join": func(items []any, sep string) string {
			parts := make([]string, len(items))
			for i, it := range items {
				parts[i] = fmt.Sprint(it)
			}
			return strings.Join(parts, sep)
		},
		"default": func(def, val any) any {
			if val == nil || fmt.Sprint(val) == "" {
				return def
			}
			return val
		},
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
	}
}
