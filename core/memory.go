package core

import (
	"context"
	"time"
)

// MemoryKind discriminates the memory item variants maintained by the
// synthesis engine.
type MemoryKind string

const (
	// MemoryConstraint is a standing rule inferred from a user instruction.
	// Constraints never expire on their own.
	MemoryConstraint MemoryKind = "constraint"
	// MemoryHotIssue is a transient blocking problem created on a failure
	// event and deactivated by a correlated success event.
	MemoryHotIssue MemoryKind = "hot_issue"
	// MemoryChunk is an indexed fragment of workspace content.
	MemoryChunk MemoryKind = "chunk"
)

// MemoryItem is one unit of synthesized knowledge about a task. Source
// correlates hot issues to their origin (the failing tool name); Artifact and
// ChunkIndex locate document chunks in the workspace.
type MemoryItem struct {
	ID         string     `json:"id"`
	TaskID     string     `json:"task_id"`
	Kind       MemoryKind `json:"kind"`
	Content    string     `json:"content"`
	IsActive   bool       `json:"is_active"`
	Source     string     `json:"source,omitempty"`
	Artifact   string     `json:"artifact,omitempty"`
	ChunkIndex int        `json:"chunk_index,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// RelevantContext is the bounded payload handed to a brain before a
// reasoning step. Rules (constraints and active hot issues) are always
// complete; Chunks are the top-K matches that fit the remaining budget.
type RelevantContext struct {
	Rules  []MemoryItem `json:"rules"`
	Chunks []MemoryItem `json:"chunks"`
}

// Empty reports whether the context carries nothing.
func (c RelevantContext) Empty() bool { return len(c.Rules) == 0 && len(c.Chunks) == 0 }

// MemoryBackend persists and retrieves memory items. Implementations must be
// safe for concurrent use across unrelated tasks; every operation is scoped
// by task identifier so tasks cannot observe each other's items.
type MemoryBackend interface {
	// Save upserts items (matched by ID).
	Save(ctx context.Context, items ...MemoryItem) error
	// ActiveRules returns all active constraints and hot issues for a task.
	ActiveRules(ctx context.Context, taskID string) ([]MemoryItem, error)
	// Search returns up to topK chunks ranked by relevance to query.
	Search(ctx context.Context, taskID, query string, topK int) ([]MemoryItem, error)
	// Deactivate flips IsActive to false for the given item.
	Deactivate(ctx context.Context, taskID, itemID string) error
}

// MemoryService is the read-side contract exposed to agents. Budget is an
// approximate token allowance for the assembled payload; active rules take
// priority over search results when the budget is tight.
type MemoryService interface {
	RelevantContext(ctx context.Context, taskID, query string, budget int) (RelevantContext, error)
}
