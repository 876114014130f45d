package workspace

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/taskmesh/core"
)

// FileWorkspace persists task state under a root directory:
//
//	<root>/<taskID>/events.log          one JSON event per line, append-only
//	<root>/<taskID>/artifacts/<name>/v<N>   raw bytes of version N
//	<root>/<taskID>/snapshot.yaml       last resumable snapshot
//
// The event log is opened with O_APPEND so records are never rewritten; an
// optional fsync per append trades throughput for durability. Artifact
// version files are written once and never touched again.
type FileWorkspace struct {
	root  string
	fsync bool
	mu    sync.Mutex // serializes appends and version allocation per process
}

// FileOptions configures a FileWorkspace.
type FileOptions struct {
	// Fsync forces an fsync after every log append. Default off.
	Fsync bool
}

// NewFileWorkspace creates (if needed) the root directory and returns a
// workspace rooted there.
func NewFileWorkspace(root string, optFns ...func(o *FileOptions)) (*FileWorkspace, error) {
	opts := FileOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace root: %w", err)
	}
	return &FileWorkspace{root: abs, fsync: opts.Fsync}, nil
}

func (w *FileWorkspace) taskDir(taskID string) string {
	return filepath.Join(w.root, filepath.Clean(taskID))
}

func (w *FileWorkspace) logPath(taskID string) string {
	return filepath.Join(w.taskDir(taskID), "events.log")
}

func (w *FileWorkspace) artifactDir(taskID, name string) string {
	return filepath.Join(w.taskDir(taskID), "artifacts", filepath.Clean(name))
}

func (w *FileWorkspace) snapshotPath(taskID string) string {
	return filepath.Join(w.taskDir(taskID), "snapshot.yaml")
}

// AppendEvent implements core.Workspace. The record is JSON-encoded onto a
// single line; a failed append leaves the log untouched.
func (w *FileWorkspace) AppendEvent(_ context.Context, ev core.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.ID, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.taskDir(ev.TaskID), 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	f, err := os.OpenFile(w.logPath(ev.TaskID), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append event %s: %w", ev.ID, err)
	}
	if w.fsync {
		if err := f.Sync(); err != nil {
			return fmt.Errorf("sync event log: %w", err)
		}
	}
	return nil
}

// Events implements core.Workspace, reading the full log in append order.
func (w *FileWorkspace) Events(_ context.Context, taskID string) ([]core.Event, error) {
	f, err := os.Open(w.logPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event log: %w", err)
	}
	defer f.Close()

	var events []core.Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var ev core.Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("decode event log line: %w", err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read event log: %w", err)
	}
	return events, nil
}

// PutArtifact implements core.Workspace. The new version is written to a
// temp file and renamed into place so partially written versions are never
// observable.
func (w *FileWorkspace) PutArtifact(_ context.Context, taskID, name string, data []byte) (core.ArtifactVersion, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	dir := w.artifactDir(taskID, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return core.ArtifactVersion{}, fmt.Errorf("create artifact dir: %w", err)
	}
	latest, err := latestVersion(dir)
	if err != nil {
		return core.ArtifactVersion{}, err
	}
	ver := core.ArtifactVersion{
		Name:      name,
		Version:   latest + 1,
		ContentID: contentID(data),
		Data:      append([]byte(nil), data...),
		CreatedAt: time.Now().UTC(),
	}

	final := filepath.Join(dir, versionFile(ver.Version))
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return core.ArtifactVersion{}, fmt.Errorf("write artifact %s v%d: %w", name, ver.Version, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return core.ArtifactVersion{}, fmt.Errorf("publish artifact %s v%d: %w", name, ver.Version, err)
	}
	return ver, nil
}

// GetArtifact implements core.Workspace; version <= 0 selects the latest.
func (w *FileWorkspace) GetArtifact(_ context.Context, taskID, name string, version int) (core.ArtifactVersion, error) {
	dir := w.artifactDir(taskID, name)
	latest, err := latestVersion(dir)
	if err != nil {
		return core.ArtifactVersion{}, err
	}
	if latest == 0 {
		return core.ArtifactVersion{}, ErrArtifactNotFound
	}
	if version <= 0 {
		version = latest
	}
	path := filepath.Join(dir, versionFile(version))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return core.ArtifactVersion{}, ErrArtifactNotFound
		}
		return core.ArtifactVersion{}, fmt.Errorf("read artifact %s v%d: %w", name, version, err)
	}
	info, _ := os.Stat(path)
	created := time.Time{}
	if info != nil {
		created = info.ModTime().UTC()
	}
	return core.ArtifactVersion{
		Name:      name,
		Version:   version,
		ContentID: contentID(data),
		Data:      data,
		CreatedAt: created,
	}, nil
}

// ListArtifacts implements core.Workspace.
func (w *FileWorkspace) ListArtifacts(_ context.Context, taskID string) (map[string]int, error) {
	base := filepath.Join(w.taskDir(taskID), "artifacts")
	entries, err := os.ReadDir(base)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]int{}, nil
		}
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	out := map[string]int{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		latest, err := latestVersion(filepath.Join(base, entry.Name()))
		if err != nil {
			return nil, err
		}
		if latest > 0 {
			out[entry.Name()] = latest
		}
	}
	return out, nil
}

// DiffArtifact implements core.Workspace.
func (w *FileWorkspace) DiffArtifact(ctx context.Context, taskID, name string, from, to int) (string, error) {
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

// SaveSnapshot implements core.Workspace using an atomic write-then-rename.
func (w *FileWorkspace) SaveSnapshot(_ context.Context, snap core.Snapshot) error {
	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := os.MkdirAll(w.taskDir(snap.TaskID), 0o755); err != nil {
		return fmt.Errorf("create task dir: %w", err)
	}
	final := w.snapshotPath(snap.TaskID)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("publish snapshot: %w", err)
	}
	return nil
}

// LoadSnapshot implements core.Workspace.
func (w *FileWorkspace) LoadSnapshot(_ context.Context, taskID string) (core.Snapshot, error) {
	data, err := os.ReadFile(w.snapshotPath(taskID))
	if err != nil {
		if os.IsNotExist(err) {
			return core.Snapshot{}, ErrNoSnapshot
		}
		return core.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}
	var snap core.Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return core.Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, nil
}

func versionFile(version int) string { return fmt.Sprintf("v%06d", version) }

// latestVersion scans a per-artifact directory for the highest version file.
// Returns 0 when the directory does not exist or holds no versions.
func latestVersion(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("scan artifact dir: %w", err)
	}
	var versions []int
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, "v") || strings.HasSuffix(name, ".tmp") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(name, "v"))
		if err != nil {
			continue
		}
		versions = append(versions, n)
	}
	if len(versions) == 0 {
		return 0, nil
	}
	sort.Ints(versions)
	return versions[len(versions)-1], nil
}
