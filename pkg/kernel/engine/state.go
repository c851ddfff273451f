package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

// FileSaver checkpoints runs to <Dir>/<mission-id>/state.json.
type FileSaver struct {
	Dir string
}

// Save writes snap, replacing any earlier checkpoint of the same mission.
func (f *FileSaver) Save(_ context.Context, snap *scope.Snapshot) error {
	return SaveState(f.Dir, snap)
}

// SaveState persists a snapshot to a JSON file for later resume.
func SaveState(dir string, snap *scope.Snapshot) error {
	runDir := filepath.Join(dir, snap.Mission.ID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	path := filepath.Join(runDir, "state.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// LoadState reads a persisted snapshot from disk.
func LoadState(dir, missionID string) (*scope.Snapshot, error) {
	path := filepath.Join(dir, missionID, "state.json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read state: %w", err)
	}
	return scope.Unmarshal(data)
}
