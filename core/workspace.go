package core

import (
	"context"
	"sort"
	"time"
)

// ArtifactVersion is one immutable version of a named workspace artifact.
// ContentID is the sha256 of Data, so identical content in different versions
// is detectable and prior versions remain diffable.
type ArtifactVersion struct {
	Name      string    `json:"name"`
	Version   int       `json:"version"`
	ContentID string    `json:"content_id"`
	Data      []byte    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

// Snapshot captures the minimal resumable state of a task so resume does not
// require a full log replay. Replaying the log must always reproduce the same
// snapshot; see ReplaySnapshot.
type Snapshot struct {
	TaskID       string     `yaml:"task_id" json:"task_id"`
	Status       TaskStatus `yaml:"status" json:"status"`
	StepSeq      uint64     `yaml:"step_seq" json:"step_seq"`
	CurrentAgent string     `yaml:"current_agent" json:"current_agent"`
	PendingCalls []string   `yaml:"pending_calls,omitempty" json:"pending_calls,omitempty"`
	EventCount   int        `yaml:"event_count" json:"event_count"`
	TakenAt      time.Time  `yaml:"taken_at" json:"taken_at"`
}

// Workspace is the single durable source of truth for one task: an
// append-only ordered event log, a versioned artifact store and a periodic
// resumable snapshot. No operation rewrites history; corrections are new
// entries. Implementations must tolerate concurrent access from unrelated
// tasks, with every read and write scoped by task identifier.
type Workspace interface {
	// AppendEvent durably appends ev to the task's log. The returned error is
	// fatal to the current step; callers transition the task to paused rather
	// than dropping data.
	AppendEvent(ctx context.Context, ev Event) error
	// Events returns the full ordered log for a task.
	Events(ctx context.Context, taskID string) ([]Event, error)

	// PutArtifact writes a new immutable version of the named artifact and
	// returns it. Every successful write corresponds to exactly one
	// EventArtifactWrite in the log (emitted by the caller).
	PutArtifact(ctx context.Context, taskID, name string, data []byte) (ArtifactVersion, error)
	// GetArtifact returns a specific version, or the latest when version <= 0.
	GetArtifact(ctx context.Context, taskID, name string, version int) (ArtifactVersion, error)
	// ListArtifacts returns artifact names with their latest version numbers.
	ListArtifacts(ctx context.Context, taskID string) (map[string]int, error)
	// DiffArtifact renders a unified diff between two versions of an artifact.
	DiffArtifact(ctx context.Context, taskID, name string, from, to int) (string, error)

	// SaveSnapshot persists the resumable state for a task.
	SaveSnapshot(ctx context.Context, snap Snapshot) error
	// LoadSnapshot returns the last persisted snapshot or ErrNoSnapshot.
	LoadSnapshot(ctx context.Context, taskID string) (Snapshot, error)
}

// ReplaySnapshot folds an ordered event log into the snapshot an executor
// would have persisted at that point. Live snapshots and replayed ones must
// agree; the resume-equivalence tests pin this down.
func ReplaySnapshot(taskID string, events []Event) (Snapshot, error) {
	snap := Snapshot{TaskID: taskID, Status: TaskPending}
	pending := map[string]bool{}
	for _, ev := range events {
		switch ev.Type {
		case EventRoutingDecision:
			var p RoutingPayload
			if err := ev.Decode(&p); err != nil {
				return Snapshot{}, err
			}
			if !p.Decision.IsComplete() {
				snap.CurrentAgent = p.Decision.Agent
			}
		case EventStepAppended:
			var p StepAppendedPayload
			if err := ev.Decode(&p); err != nil {
				return Snapshot{}, err
			}
			if p.Step.Seq > snap.StepSeq {
				snap.StepSeq = p.Step.Seq
			}
		case EventToolDispatch:
			var p ToolDispatchPayload
			if err := ev.Decode(&p); err != nil {
				return Snapshot{}, err
			}
			pending[p.Call.ID] = true
		case EventToolResult:
			var p ToolResultPayload
			if err := ev.Decode(&p); err != nil {
				return Snapshot{}, err
			}
			delete(pending, p.Result.CallID)
		case EventTaskStatus:
			var p TaskStatusPayload
			if err := ev.Decode(&p); err != nil {
				return Snapshot{}, err
			}
			snap.Status = p.Status
		}
		snap.EventCount++
	}
	for id := range pending {
		snap.PendingCalls = append(snap.PendingCalls, id)
	}
	sort.Strings(snap.PendingCalls)
	return snap, nil
}
