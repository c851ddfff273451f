// Package project loads the missionkit.yaml manifest: the configuration
// surface for a directory of mission templates, its tools, storage and
// logging.
package project

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/missionkit/pkg/governance"
	"github.com/ormasoftchile/missionkit/pkg/store"
	"github.com/ormasoftchile/missionkit/pkg/tools"
)

// ManifestName is the file Discover looks for.
const ManifestName = "missionkit.yaml"

// Project represents a missionkit.yaml manifest.
type Project struct {
	Name       string                  `yaml:"name"                 json:"name"`
	Paths      Paths                   `yaml:"paths,omitempty"      json:"paths,omitempty"`
	Store      store.Config            `yaml:"store,omitempty"      json:"store,omitempty"`
	Log        LogConfig               `yaml:"log,omitempty"        json:"log,omitempty"`
	Tools      map[string]tools.Config `yaml:"tools,omitempty"      json:"tools,omitempty"`
	Governance governance.Policy       `yaml:"governance,omitempty" json:"governance,omitempty"`

	// Root is the absolute path to the directory containing the manifest.
	// Set after loading, not from YAML.
	Root string `yaml:"-" json:"-"`
}

// Paths overrides convention directories. Defaults: templates → "missions",
// scenarios → next to each template.
type Paths struct {
	Templates string `yaml:"templates,omitempty" json:"templates,omitempty"`
	Scenarios string `yaml:"scenarios,omitempty" json:"scenarios,omitempty"`
	Traces    string `yaml:"traces,omitempty"    json:"traces,omitempty"`
}

// LogConfig configures the hclog logger.
type LogConfig struct {
	Level string `yaml:"level,omitempty" json:"level,omitempty"`
	JSON  bool   `yaml:"json,omitempty"  json:"json,omitempty"`
}

// LoadFile reads and strictly parses a manifest.
func LoadFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project manifest: %w", err)
	}

	var proj Project
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&proj); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse project manifest: %w", err)
	}
	if proj.Name == "" {
		return nil, fmt.Errorf("project manifest %s: name is required", path)
	}
	if proj.Log.Level != "" && hclog.LevelFromString(proj.Log.Level) == hclog.NoLevel {
		return nil, fmt.Errorf("project manifest %s: unknown log level %q", path, proj.Log.Level)
	}

	abs, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, err
	}
	proj.Root = abs
	return &proj, nil
}

// Discover walks up from startPath to the nearest missionkit.yaml. It
// returns nil (no error) when none exists; callers use Fallback then.
func Discover(startPath string) (*Project, error) {
	abs, err := filepath.Abs(startPath)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	dir := abs
	if !info.IsDir() {
		dir = filepath.Dir(abs)
	}

	for {
		candidate := filepath.Join(dir, ManifestName)
		if _, err := os.Stat(candidate); err == nil {
			return LoadFile(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Fallback creates a project rooted at dir with default conventions.
func Fallback(dir string) *Project {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	return &Project{Name: filepath.Base(abs), Root: abs}
}

// TemplatesDir returns the absolute templates directory.
func (p *Project) TemplatesDir() string {
	return p.abs(p.Paths.Templates, "missions")
}

// ScenariosDir returns the scenarios root override, or "" to keep scenarios
// next to their templates.
func (p *Project) ScenariosDir() string {
	if p.Paths.Scenarios == "" {
		return ""
	}
	return p.abs(p.Paths.Scenarios, "")
}

// TracesDir returns the directory run traces are written to.
func (p *Project) TracesDir() string {
	return p.abs(p.Paths.Traces, filepath.Join(".missionkit", "traces"))
}

func (p *Project) abs(path, def string) string {
	if path == "" {
		path = def
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(p.Root, path)
}

// ResolveTemplate resolves a template reference to a file path.
//
// An existing file path is returned as is. Otherwise ref is looked up in the
// templates directory as <ref>.yaml, <ref>.mission.yaml or <ref>.json.
func (p *Project) ResolveTemplate(ref string) (string, error) {
	if info, err := os.Stat(ref); err == nil && !info.IsDir() {
		return ref, nil
	}
	name := strings.TrimSuffix(ref, filepath.Ext(ref))
	for _, ext := range []string{".yaml", ".mission.yaml", ".json"} {
		candidate := filepath.Join(p.TemplatesDir(), name+ext)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("template %q not found in %s", ref, p.TemplatesDir())
}

// StoreConfig returns the store configuration with a relative sqlite path
// resolved against Root. Without configuration runs persist to
// .missionkit/missions.db.
func (p *Project) StoreConfig() *store.Config {
	cfg := p.Store
	if cfg.Backend == "" {
		cfg.Backend = store.BackendSQLite
	}
	if cfg.Backend == store.BackendSQLite {
		cfg.Path = p.abs(cfg.Path, filepath.Join(".missionkit", "missions.db"))
	}
	return &cfg
}

// OpenStore opens the configured store.
func (p *Project) OpenStore() (store.Store, error) {
	return store.Open(p.StoreConfig())
}

// Logger builds the project logger writing to w.
func (p *Project) Logger(w io.Writer) hclog.Logger {
	level := hclog.Info
	if p.Log.Level != "" {
		level = hclog.LevelFromString(p.Log.Level)
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:       "missionkit",
		Output:     w,
		Level:      level,
		JSONFormat: p.Log.JSON,
	})
}

// ToolManager builds the tool router for the manifest's tools under its
// governance policy.
func (p *Project) ToolManager(log hclog.Logger) (*tools.Manager, error) {
	gov, err := governance.New(p.Governance)
	if err != nil {
		return nil, fmt.Errorf("governance: %w", err)
	}
	cfgs := make(map[string]tools.Config, len(p.Tools))
	for name, cfg := range p.Tools {
		if cfg.Dir != "" && !filepath.IsAbs(cfg.Dir) {
			cfg.Dir = filepath.Join(p.Root, cfg.Dir)
		}
		// Bare names are left for PATH lookup.
		if strings.ContainsRune(cfg.Binary, filepath.Separator) && !filepath.IsAbs(cfg.Binary) {
			cfg.Binary = filepath.Join(p.Root, cfg.Binary)
		}
		cfgs[name] = cfg
	}
	return tools.NewManager(cfgs, gov, log)
}
