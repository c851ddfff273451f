package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
)

// MemoryStore keeps snapshots in process memory. Snapshots are held encoded
// so callers never share a tree with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	summary Summary
	data    []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]memoryItem)}
}

func (m *MemoryStore) Save(_ context.Context, snap *scope.Snapshot) error {
	if snap == nil || snap.Mission.ID == "" {
		return errors.New("save: snapshot has no mission id")
	}
	data, err := snap.Marshal()
	if err != nil {
		return fmt.Errorf("save %s: %w", snap.Mission.ID, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[snap.Mission.ID] = memoryItem{summary: summarize(snap), data: data}
	return nil
}

func (m *MemoryStore) Load(_ context.Context, missionID string) (*scope.Snapshot, error) {
	m.mu.RLock()
	item, ok := m.items[missionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("load %s: %w", missionID, ErrNotFound)
	}
	return scope.Unmarshal(item.data)
}

// List returns summaries, most recently saved first.
func (m *MemoryStore) List(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	out := make([]Summary, 0, len(m.items))
	for _, item := range m.items {
		out = append(out, item.summary)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].SavedAt.Equal(out[j].SavedAt) {
			return out[i].SavedAt.After(out[j].SavedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, missionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[missionID]; !ok {
		return fmt.Errorf("delete %s: %w", missionID, ErrNotFound)
	}
	delete(m.items, missionID)
	return nil
}

func (m *MemoryStore) Close() error { return nil }
