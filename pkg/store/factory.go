package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
)

// Config selects a store backend.
type Config struct {
	Backend string `yaml:"backend,omitempty" json:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"    json:"path,omitempty"`
}

// Open creates a store from cfg. A nil config or empty backend yields a
// memory store.
func Open(cfg *Config) (Store, error) {
	if cfg == nil || cfg.Backend == "" {
		return NewMemoryStore(), nil
	}

	switch cfg.Backend {
	case BackendSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite store requires a path")
		}
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage directory %s: %w", dir, err)
		}
		return NewSQLiteStore(cfg.Path)

	case BackendMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown storage backend: %s (expected 'memory' or 'sqlite')", cfg.Backend)
	}
}
