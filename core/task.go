package core

import (
	"encoding/json"
	"time"
)

// TaskStatus enumerates the lifecycle states of a task.
type TaskStatus string

const (
	// TaskPending means the task has been created but not yet driven.
	TaskPending TaskStatus = "pending"
	// TaskRunning means a task executor is actively driving the task.
	TaskRunning TaskStatus = "running"
	// TaskPaused means the task was suspended (cancellation or persistence
	// failure) and can be resumed from its workspace.
	TaskPaused TaskStatus = "paused"
	// TaskCompleted is a terminal success state.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed is a terminal failure state. The last error is persisted in
	// the workspace log.
	TaskFailed TaskStatus = "failed"
)

// Terminal reports whether the status admits no further execution.
func (s TaskStatus) Terminal() bool { return s == TaskCompleted || s == TaskFailed }

// Task is the root aggregate: one long-running goal worked by a team of
// agents. Steps are append-only and ordered by Seq; the full history lives in
// the task's workspace log, of which Steps is the in-memory projection.
type Task struct {
	ID        string     `json:"id"`
	Goal      string     `json:"goal"`
	Status    TaskStatus `json:"status"`
	Steps     []TaskStep `json:"steps"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewTask creates a pending task for the given goal.
func NewTask(goal string) *Task {
	now := time.Now().UTC()
	return &Task{
		ID:        NewID(),
		Goal:      goal,
		Status:    TaskPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TaskStep is one produced unit of work: a tagged union of parts authored by
// an agent (or the user), ordered by a monotonic sequence number. Once
// appended a step is never mutated; corrections are new steps.
type TaskStep struct {
	ID        string    `json:"id"`
	Seq       uint64    `json:"seq"`
	Author    string    `json:"author"`
	Parts     []Part    `json:"-"`
	Timestamp time.Time `json:"timestamp"`
}

// NewTaskStep constructs a step authored by the given agent (or "user").
func NewTaskStep(author string, seq uint64, parts ...Part) TaskStep {
	return TaskStep{
		ID:        NewOrderedID(),
		Seq:       seq,
		Author:    author,
		Parts:     parts,
		Timestamp: time.Now().UTC(),
	}
}

// ToolCalls returns the tool call parts of the step in original order.
func (s TaskStep) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range s.Parts {
		if tc, ok := p.(ToolCallPart); ok {
			calls = append(calls, tc.Call)
		}
	}
	return calls
}

// ToolResults returns the tool result parts of the step in original order.
func (s TaskStep) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range s.Parts {
		if tr, ok := p.(ToolResultPart); ok {
			results = append(results, tr.Result)
		}
	}
	return results
}

// Text concatenates the text parts of the step.
func (s TaskStep) Text() string {
	var out string
	for _, p := range s.Parts {
		if tp, ok := p.(TextPart); ok {
			out += tp.Text
		}
	}
	return out
}

// stepWire is the serialized form of TaskStep; Parts go through the envelope
// encoding from part.go.
type stepWire struct {
	ID        string          `json:"id"`
	Seq       uint64          `json:"seq"`
	Author    string          `json:"author"`
	Parts     json.RawMessage `json:"parts"`
	Timestamp time.Time       `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (s TaskStep) MarshalJSON() ([]byte, error) {
	parts, err := MarshalParts(s.Parts)
	if err != nil {
		return nil, err
	}
	return json.Marshal(stepWire{ID: s.ID, Seq: s.Seq, Author: s.Author, Parts: parts, Timestamp: s.Timestamp})
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *TaskStep) UnmarshalJSON(data []byte) error {
	var w stepWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parts, err := UnmarshalParts(w.Parts)
	if err != nil {
		return err
	}
	s.ID = w.ID
	s.Seq = w.Seq
	s.Author = w.Author
	s.Parts = parts
	s.Timestamp = w.Timestamp
	return nil
}
