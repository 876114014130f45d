package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType tags the lifecycle event kinds flowing over the bus and into the
// workspace log.
type EventType string

const (
	// EventTaskCreated is the first record in a task's log and carries the
	// goal, so rebuilding from the log alone loses nothing.
	EventTaskCreated EventType = "task_created"
	// EventUserMessage is emitted when the user submits input for a task.
	EventUserMessage EventType = "user_message"
	// EventAgentDraft is emitted for every streamed increment an agent
	// produces, including intermediate drafts.
	EventAgentDraft EventType = "agent_draft"
	// EventRoutingDecision is emitted each time the orchestrator decides the
	// next step; it always precedes the corresponding agent invocation.
	EventRoutingDecision EventType = "routing_decision"
	// EventToolDispatch is emitted when a validated call is handed to the
	// tool executor. Calls failing validation never produce this event.
	EventToolDispatch EventType = "tool_dispatch"
	// EventToolValidationFailed is emitted instead of a dispatch when a call
	// does not satisfy its schema; the agent receives a correction request.
	EventToolValidationFailed EventType = "tool_validation_failed"
	// EventToolResult carries the structured outcome of a dispatched call.
	EventToolResult EventType = "tool_result"
	// EventArtifactWrite records a new immutable artifact version.
	EventArtifactWrite EventType = "artifact_write"
	// EventStepAppended records a completed task step.
	EventStepAppended EventType = "step_appended"
	// EventTaskStatus records a task lifecycle transition.
	EventTaskStatus EventType = "task_status"
)

// Event is an immutable, typed lifecycle record. Every user message, agent
// draft, routing decision, tool exchange and artifact write produces exactly
// one event; the workspace log is the ordered ground truth of these records.
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	TaskID    string          `json:"task_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewEvent constructs an event with a fresh ordered ID and UTC timestamp.
// The payload must be JSON-serializable.
func NewEvent(taskID string, typ EventType, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", typ, err)
	}
	return Event{
		ID:        NewOrderedID(),
		Type:      typ,
		TaskID:    taskID,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
	}, nil
}

// MustEvent is NewEvent for payload types known to marshal; it panics on
// marshal failure and exists to keep emit sites terse.
func MustEvent(taskID string, typ EventType, payload any) Event {
	ev, err := NewEvent(taskID, typ, payload)
	if err != nil {
		panic(err)
	}
	return ev
}

// Decode unmarshals the payload into out.
func (e Event) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s has no payload", e.ID)
	}
	return json.Unmarshal(e.Payload, out)
}

// TaskCreatedPayload records the goal a task was created with.
type TaskCreatedPayload struct {
	Goal string `json:"goal"`
}

// UserMessagePayload carries a user-authored message.
type UserMessagePayload struct {
	Text string `json:"text"`
}

// AgentDraftPayload carries one streamed increment from an agent's brain.
// Final marks the increment completing a full draft.
type AgentDraftPayload struct {
	Agent     string `json:"agent"`
	TextDelta string `json:"text_delta,omitempty"`
	Final     bool   `json:"final,omitempty"`
}

// RoutingPayload carries an orchestrator decision.
type RoutingPayload struct {
	Decision RoutingDecision `json:"decision"`
}

// ToolDispatchPayload carries a validated call on its way to the executor.
type ToolDispatchPayload struct {
	Agent string   `json:"agent"`
	Call  ToolCall `json:"call"`
}

// ToolValidationPayload carries a schema violation and the offending call.
type ToolValidationPayload struct {
	Agent string   `json:"agent"`
	Call  ToolCall `json:"call"`
	Error string   `json:"error"`
}

// ToolResultPayload carries a tool outcome.
type ToolResultPayload struct {
	Agent  string     `json:"agent"`
	Result ToolResult `json:"result"`
}

// ArtifactWritePayload records one new artifact version. Content is carried
// inline so downstream consumers (indexing) need not re-read the store.
type ArtifactWritePayload struct {
	Name      string `json:"name"`
	Version   int    `json:"version"`
	ContentID string `json:"content_id"`
	Content   string `json:"content"`
}

// StepAppendedPayload records a completed step.
type StepAppendedPayload struct {
	Step TaskStep `json:"step"`
}

// TaskStatusPayload records a lifecycle transition with optional detail.
type TaskStatusPayload struct {
	Status TaskStatus `json:"status"`
	Agent  string     `json:"agent,omitempty"`
	Reason string     `json:"reason,omitempty"`
}
