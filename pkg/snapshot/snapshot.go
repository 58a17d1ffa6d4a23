// Package snapshot maintains the write-through file snapshot for one
// session: an in-memory path-to-content map in front of the durable store.
//
// A path present in the map reflects the last value durably persisted; a
// path absent means "unknown, fetch from sandbox". The map is not safe for
// concurrent mutation; the orchestrator serializes mutations per session.
package snapshot

import (
	"context"
	"fmt"
	"sort"

	"github.com/weldcode/weld/pkg/stores"
)

// Map is the write-through snapshot for a single session.
type Map struct {
	sessionID string
	store     stores.Store
	files     map[string]string
}

// New creates an empty snapshot map for the session.
func New(sessionID string, store stores.Store) *Map {
	return &Map{
		sessionID: sessionID,
		store:     store,
		files:     make(map[string]string),
	}
}

// Load populates the map from the durable store.
func Load(ctx context.Context, sessionID string, store stores.Store) (*Map, error) {
	m := New(sessionID, store)
	files, err := store.ListFiles(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load snapshot: %w", err)
	}
	for _, f := range files {
		m.files[f.Path] = f.Content
	}
	return m, nil
}

// Write persists content for path and then updates the in-memory map.
// Persistence happens first so the in-memory invariant (present means
// durable) holds even when the process dies between the two steps.
func (m *Map) Write(ctx context.Context, path, content string) error {
	err := m.store.UpsertFile(ctx, &stores.SnapshotFile{
		SessionID: m.sessionID,
		Path:      path,
		Content:   content,
	})
	if err != nil {
		return fmt.Errorf("failed to persist %s: %w", path, err)
	}
	m.files[path] = content
	return nil
}

// Get returns the snapshotted content for path.
func (m *Map) Get(path string) (string, bool) {
	content, ok := m.files[path]
	return content, ok
}

// Delete removes path from the store and the map. Removing an unknown path
// is not an error: the caller's intent is already satisfied.
func (m *Map) Delete(ctx context.Context, path string) error {
	if _, ok := m.files[path]; !ok {
		return nil
	}
	if err := m.store.RemoveFile(ctx, m.sessionID, path); err != nil && !stores.IsNotFound(err) {
		return fmt.Errorf("failed to remove %s: %w", path, err)
	}
	delete(m.files, path)
	return nil
}

// Paths returns all snapshotted paths in sorted order.
func (m *Map) Paths() []string {
	paths := make([]string, 0, len(m.files))
	for p := range m.files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

// Len returns the number of snapshotted files.
func (m *Map) Len() int {
	return len(m.files)
}

// SessionID returns the owning session.
func (m *Map) SessionID() string {
	return m.sessionID
}
