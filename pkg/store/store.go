// Package store persists mission snapshots so runs can be inspected and
// resumed after the process exits.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

// ErrNotFound is returned when no snapshot exists for a mission id.
var ErrNotFound = errors.New("mission not found")

// Store saves and loads mission snapshots keyed by mission id. Saving a
// snapshot for an id that already exists replaces it.
type Store interface {
	Save(ctx context.Context, snap *scope.Snapshot) error
	Load(ctx context.Context, missionID string) (*scope.Snapshot, error)
	List(ctx context.Context) ([]Summary, error)
	Delete(ctx context.Context, missionID string) error
	Close() error
}

// Summary describes a persisted mission without decoding its tree.
type Summary struct {
	ID        string       `json:"id"`
	Template  string       `json:"template"`
	Status    scope.Status `json:"status"`
	CreatedAt time.Time    `json:"created_at"`
	SavedAt   time.Time    `json:"saved_at"`
}

func summarize(snap *scope.Snapshot) Summary {
	return Summary{
		ID:        snap.Mission.ID,
		Template:  snap.Template,
		Status:    snap.Mission.Status,
		CreatedAt: snap.CreatedAt,
		SavedAt:   snap.SavedAt,
	}
}
