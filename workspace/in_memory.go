package workspace

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryWorkspace is a process-local core.Workspace implementation. All
// reads return defensive copies so callers cannot mutate internal state.
// Safe for concurrent access; every map is keyed by task identifier.
type InMemoryWorkspace struct {
	mu        sync.RWMutex
	events    map[string][]core.Event
	artifacts map[string]map[string][]core.ArtifactVersion // taskID -> name -> versions
	snapshots map[string]core.Snapshot
}

// NewInMemoryWorkspace constructs an empty in-memory workspace.
func NewInMemoryWorkspace() *InMemoryWorkspace {
	return &InMemoryWorkspace{
		events:    map[string][]core.Event{},
		artifacts: map[string]map[string][]core.ArtifactVersion{},
		snapshots: map[string]core.Snapshot{},
	}
}

// AppendEvent implements core.Workspace.
func (w *InMemoryWorkspace) AppendEvent(_ context.Context, ev core.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events[ev.TaskID] = append(w.events[ev.TaskID], ev)
	return nil
}

// Events implements core.Workspace.
func (w *InMemoryWorkspace) Events(_ context.Context, taskID string) ([]core.Event, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	log := w.events[taskID]
	out := make([]core.Event, len(log))
	copy(out, log)
	return out, nil
}

// PutArtifact implements core.Workspace. Each call creates a new immutable
// version with a sha256 content id.
func (w *InMemoryWorkspace) PutArtifact(_ context.Context, taskID, name string, data []byte) (core.ArtifactVersion, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.artifacts[taskID]; !ok {
		w.artifacts[taskID] = map[string][]core.ArtifactVersion{}
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	ver := core.ArtifactVersion{
		Name:      name,
		Version:   len(w.artifacts[taskID][name]) + 1,
		ContentID: contentID(cp),
		Data:      cp,
		CreatedAt: time.Now().UTC(),
	}
	w.artifacts[taskID][name] = append(w.artifacts[taskID][name], ver)
	return ver, nil
}

// GetArtifact implements core.Workspace; version <= 0 selects the latest.
func (w *InMemoryWorkspace) GetArtifact(_ context.Context, taskID, name string, version int) (core.ArtifactVersion, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	versions := w.artifacts[taskID][name]
	if len(versions) == 0 {
		return core.ArtifactVersion{}, ErrArtifactNotFound
	}
	if version <= 0 {
		version = len(versions)
	}
	if version > len(versions) {
		return core.ArtifactVersion{}, ErrArtifactNotFound
	}
	ver := versions[version-1]
	cp := make([]byte, len(ver.Data))
	copy(cp, ver.Data)
	ver.Data = cp
	return ver, nil
}

// ListArtifacts implements core.Workspace.
func (w *InMemoryWorkspace) ListArtifacts(_ context.Context, taskID string) (map[string]int, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := map[string]int{}
	for name, versions := range w.artifacts[taskID] {
		out[name] = len(versions)
	}
	return out, nil
}

// DiffArtifact implements core.Workspace.
func (w *InMemoryWorkspace) DiffArtifact(ctx context.Context, taskID, name string, from, to int) (string, error) {
	a, err := w.GetArtifact(ctx, taskID, name, from)
	if err != nil {
		return "", err
	}
	b, err := w.GetArtifact(ctx, taskID, name, to)
	if err != nil {
		return "", err
	}
	return unifiedDiff(name, a, b)
}

// SaveSnapshot implements core.Workspace.
func (w *InMemoryWorkspace) SaveSnapshot(_ context.Context, snap core.Snapshot) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.snapshots[snap.TaskID] = snap
	return nil
}

// LoadSnapshot implements core.Workspace.
func (w *InMemoryWorkspace) LoadSnapshot(_ context.Context, taskID string) (core.Snapshot, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	snap, ok := w.snapshots[taskID]
	if !ok {
		return core.Snapshot{}, ErrNoSnapshot
	}
	return snap, nil
}

func contentID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
