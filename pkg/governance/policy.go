// Package governance implements the tool process policy: command
// allowlist/denylist, environment variable blocking, and redaction of tool
// error output before it reaches logs and traces.
package governance

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// Policy is the governance section of the project manifest.
type Policy struct {
	AllowedCommands []string        `yaml:"allowed_commands,omitempty" json:"allowed_commands,omitempty"`
	DeniedCommands  []string        `yaml:"denied_commands,omitempty"  json:"denied_commands,omitempty"`
	DenyEnvVars     []string        `yaml:"deny_env_vars,omitempty"    json:"deny_env_vars,omitempty"`
	Redact          []RedactionRule `yaml:"redact,omitempty"           json:"redact,omitempty"`
}

// RedactionRule is a regex pattern-replacement pair for sanitizing output.
type RedactionRule struct {
	Pattern string `yaml:"pattern" json:"pattern"`
	Replace string `yaml:"replace" json:"replace"`
}

// Engine evaluates a Policy. A nil *Engine permits everything.
type Engine struct {
	policy    Policy
	redactors []*compiledRedaction
}

type compiledRedaction struct {
	pattern *regexp.Regexp
	replace string
}

// New compiles p. Invalid redaction patterns are an error.
func New(p Policy) (*Engine, error) {
	g := &Engine{policy: p}
	for i, r := range p.Redact {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("redact[%d]: %w", i, err)
		}
		g.redactors = append(g.redactors, &compiledRedaction{pattern: re, replace: r.Replace})
	}
	return g, nil
}

// CheckCommand validates a tool binary against the allowlist/denylist.
// Only the base name is compared. Deny takes precedence over allow.
func (g *Engine) CheckCommand(command string) error {
	if g == nil {
		return nil
	}
	name := filepath.Base(command)
	for _, denied := range g.policy.DeniedCommands {
		if name == denied {
			return fmt.Errorf("command %q is denied by governance policy", command)
		}
	}
	if len(g.policy.AllowedCommands) == 0 {
		return nil
	}
	for _, allowed := range g.policy.AllowedCommands {
		if name == allowed {
			return nil
		}
	}
	return fmt.Errorf("command %q is not in the governance allowlist", command)
}

// CheckEnvVar validates an environment variable name against deny_env_vars patterns.
func (g *Engine) CheckEnvVar(name string) error {
	if g == nil {
		return nil
	}
	for _, pattern := range g.policy.DenyEnvVars {
		matched, err := filepath.Match(pattern, name)
		if err != nil {
			// Invalid pattern blocks everything it could have meant.
			return fmt.Errorf("invalid env var deny pattern %q: %w", pattern, err)
		}
		if matched {
			return fmt.Errorf("environment variable %q matches denied pattern %q", name, pattern)
		}
	}
	return nil
}

// FilterEnvVars returns env ("NAME=value" entries) with denied names
// removed, plus the names that were removed.
func (g *Engine) FilterEnvVars(env []string) (kept []string, blocked []string) {
	if g == nil || len(g.policy.DenyEnvVars) == 0 {
		return env, nil
	}
	for _, e := range env {
		name, _, _ := strings.Cut(e, "=")
		if g.CheckEnvVar(name) != nil {
			blocked = append(blocked, name)
			continue
		}
		kept = append(kept, e)
	}
	return kept, blocked
}

// Redact applies every redaction rule to s.
func (g *Engine) Redact(s string) string {
	if g == nil {
		return s
	}
	for _, r := range g.redactors {
		s = r.pattern.ReplaceAllString(s, r.replace)
	}
	return s
}

// Restricted reports whether the policy filters the environment.
func (g *Engine) Restricted() bool {
	return g != nil && len(g.policy.DenyEnvVars) > 0
}
