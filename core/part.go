package core

import (
	"encoding/json"
	"fmt"
)

// Part is one polymorphic segment of a task step. Concrete part types
// implement the unexported isPart marker so the set stays closed.
type Part interface{ isPart() }

// TextPart is a plain text segment produced by an agent or a user.
type TextPart struct {
	Text string `json:"text"`
}

func (TextPart) isPart() {}

// ToolCallPart wraps a requested capability call.
type ToolCallPart struct {
	Call ToolCall `json:"call"`
}

func (ToolCallPart) isPart() {}

// ToolResultPart wraps the outcome of a previously requested call.
type ToolResultPart struct {
	Result ToolResult `json:"result"`
}

func (ToolResultPart) isPart() {}

// ArtifactRefPart references a workspace artifact version produced by a step.
type ArtifactRefPart struct {
	Name    string `json:"name"`
	Version int    `json:"version"`
}

func (ArtifactRefPart) isPart() {}

// ToolCall is a structured capability request. Arguments carry the raw JSON
// payload exactly as produced by the brain so validation errors can quote it.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// ToolResultStatus reports whether a tool ran to completion.
type ToolResultStatus string

const (
	// ToolResultSuccess signals the tool ran and produced Output.
	ToolResultSuccess ToolResultStatus = "success"
	// ToolResultFailure signals validation or execution failure; Error holds detail.
	ToolResultFailure ToolResultStatus = "failure"
)

// ToolResult is the structured outcome of a ToolCall. CallID back-references
// the originating call so failures can be correlated later; Code categorizes
// failures (validation, execution, timeout) for the self-correction loop.
type ToolResult struct {
	CallID string           `json:"call_id"`
	Name   string           `json:"name"`
	Status ToolResultStatus `json:"status"`
	Output any              `json:"output,omitempty"`
	Error  string           `json:"error,omitempty"`
	Code   string           `json:"code,omitempty"`
}

// Failed reports whether the result carries a failure status.
func (r ToolResult) Failed() bool { return r.Status == ToolResultFailure }

// partEnvelope is the wire form of a Part in the append-only log. The type
// discriminator keeps the union decodable without reflection.
type partEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

const (
	partTypeText       = "text"
	partTypeToolCall   = "tool_call"
	partTypeToolResult = "tool_result"
	partTypeArtifact   = "artifact_ref"
)

// MarshalParts encodes a part slice into its envelope wire form.
func MarshalParts(parts []Part) ([]byte, error) {
	envs := make([]partEnvelope, 0, len(parts))
	for _, p := range parts {
		var typ string
		switch p.(type) {
		case TextPart:
			typ = partTypeText
		case ToolCallPart:
			typ = partTypeToolCall
		case ToolResultPart:
			typ = partTypeToolResult
		case ArtifactRefPart:
			typ = partTypeArtifact
		default:
			return nil, fmt.Errorf("unknown part type %T", p)
		}
		payload, err := json.Marshal(p)
		if err != nil {
			return nil, err
		}
		envs = append(envs, partEnvelope{Type: typ, Payload: payload})
	}
	return json.Marshal(envs)
}

// UnmarshalParts decodes the envelope wire form back into concrete parts.
func UnmarshalParts(data []byte) ([]Part, error) {
	var envs []partEnvelope
	if err := json.Unmarshal(data, &envs); err != nil {
		return nil, err
	}
	parts := make([]Part, 0, len(envs))
	for _, env := range envs {
		switch env.Type {
		case partTypeText:
			var p TextPart
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case partTypeToolCall:
			var p ToolCallPart
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case partTypeToolResult:
			var p ToolResultPart
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		case partTypeArtifact:
			var p ArtifactRefPart
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				return nil, err
			}
			parts = append(parts, p)
		default:
			return nil, fmt.Errorf("unknown part envelope type %q", env.Type)
		}
	}
	return parts, nil
}
