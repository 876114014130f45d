package testutil

import (
	"encoding/json"

	"github.com/hupe1980/taskmesh/core"
)

// StepBuilder provides a fluent helper for constructing task steps in tests.
// Example:
//
//	step := NewStepBuilder("researcher").Seq(3).Text("done").Build()
//
// Chain only the parts you need; sensible defaults are applied.
type StepBuilder struct {
	author string
	seq    uint64
	parts  []core.Part
}

// NewStepBuilder creates a builder with the given author and seq 1.
func NewStepBuilder(author string) *StepBuilder {
	return &StepBuilder{author: author, seq: 1}
}

// Seq sets the sequence number (chainable).
func (b *StepBuilder) Seq(seq uint64) *StepBuilder { b.seq = seq; return b }

// Text appends a text part (chainable).
func (b *StepBuilder) Text(t string) *StepBuilder {
	b.parts = append(b.parts, core.TextPart{Text: t})
	return b
}

// ToolCall appends a tool call part with JSON argument string (chainable).
func (b *StepBuilder) ToolCall(id, name, args string) *StepBuilder {
	b.parts = append(b.parts, core.ToolCallPart{Call: core.ToolCall{
		ID:        id,
		Name:      name,
		Arguments: json.RawMessage(args),
	}})
	return b
}

// ToolSuccess appends a successful tool result part (chainable).
func (b *StepBuilder) ToolSuccess(callID, name string, output any) *StepBuilder {
	b.parts = append(b.parts, core.ToolResultPart{Result: core.ToolResult{
		CallID: callID,
		Name:   name,
		Status: core.ToolResultSuccess,
		Output: output,
	}})
	return b
}

// ToolFailure appends a failed tool result part (chainable).
func (b *StepBuilder) ToolFailure(callID, name, errMsg string) *StepBuilder {
	b.parts = append(b.parts, core.ToolResultPart{Result: core.ToolResult{
		CallID: callID,
		Name:   name,
		Status: core.ToolResultFailure,
		Error:  errMsg,
	}})
	return b
}

// Part appends a custom part (chainable).
func (b *StepBuilder) Part(p core.Part) *StepBuilder { b.parts = append(b.parts, p); return b }

// Build constructs the core.TaskStep value.
func (b *StepBuilder) Build() core.TaskStep {
	return core.NewTaskStep(b.author, b.seq, b.parts...)
}

// Event constructs a typed event for a task, panicking on marshal failure so
// tests stay terse.
func Event(taskID string, typ core.EventType, payload any) core.Event {
	return core.MustEvent(taskID, typ, payload)
}

// UserMessage builds a user-message event.
func UserMessage(taskID, text string) core.Event {
	return Event(taskID, core.EventUserMessage, core.UserMessagePayload{Text: text})
}

// ToolResultEvent builds a tool-result event for the given tool outcome.
func ToolResultEvent(taskID, agent, callID, name string, failed bool, detail string) core.Event {
	result := core.ToolResult{CallID: callID, Name: name, Status: core.ToolResultSuccess}
	if failed {
		result.Status = core.ToolResultFailure
		result.Error = detail
	} else {
		result.Output = detail
	}
	return Event(taskID, core.EventToolResult, core.ToolResultPayload{Agent: agent, Result: result})
}

// ArtifactWrite builds an artifact-write event carrying content inline.
func ArtifactWrite(taskID, name string, version int, content string) core.Event {
	return Event(taskID, core.EventArtifactWrite, core.ArtifactWritePayload{
		Name:    name,
		Version: version,
		Content: content,
	})
}
