package brain

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Request captures the normalized input an agent hands to its brain: the
// standing instructions, the step history so far, whatever memory was judged
// relevant, and the tools the agent may call.
type Request struct {
	Instructions string                `json:"instructions"`
	Steps        []core.TaskStep       `json:"steps"`
	Memory       core.RelevantContext  `json:"memory"`
	Tools        []core.ToolDefinition `json:"tools,omitempty"`
	Stream       bool                  `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a brain. Partial
// responses carry incremental parts (text deltas, growing tool calls); the
// final response carries the complete draft.
type Response struct {
	Partial      bool        `json:"partial"`
	Parts        []core.Part `json:"parts"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a brain implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	SupportsTools bool   `json:"supports_tools"`
}

// Brain is the minimal interface agents use to drive generation.
type Brain interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the brain implementation.
	Info() Info
}

// RenderMemory formats a relevant context block for inclusion in a system
// prompt. Rules come first; an empty context renders to the empty string.
func RenderMemory(mem core.RelevantContext) string {
	if mem.Empty() {
		return ""
	}
	var b strings.Builder
	if len(mem.Rules) > 0 {
		b.WriteString("Standing rules for this task:\n")
		for _, rule := range mem.Rules {
			b.WriteString("- ")
			b.WriteString(rule.Content)
			b.WriteString("\n")
		}
	}
	if len(mem.Chunks) > 0 {
		b.WriteString("Relevant workspace content:\n")
		for _, chunk := range mem.Chunks {
			fmt.Fprintf(&b, "[%s#%d] %s\n", chunk.Artifact, chunk.ChunkIndex, chunk.Content)
		}
	}
	return b.String()
}

// MockBrain is a scripted in-memory Brain for tests and examples. Each call
// to Generate consumes the next scripted turn in FIFO order; when the script
// is exhausted it produces a canned text response.
type MockBrain struct {
	mu    sync.Mutex
	info  Info
	turns [][]core.Part
}

// NewMockBrain constructs a MockBrain with tool support enabled.
func NewMockBrain(name string) *MockBrain {
	return &MockBrain{
		info: Info{Name: name, Provider: "mock", SupportsTools: true},
	}
}

// Script appends one turn to the script; the parts become the final response
// of the corresponding Generate call.
func (m *MockBrain) Script(parts ...core.Part) *MockBrain {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, parts)
	return m
}

// Remaining reports how many scripted turns are still unconsumed.
func (m *MockBrain) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

// Generate implements Brain; emits optional character-level text deltas then
// the final scripted parts.
func (m *MockBrain) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	out := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	var parts []core.Part
	if len(m.turns) > 0 {
		parts = m.turns[0]
		m.turns = m.turns[1:]
	} else {
		parts = []core.Part{core.TextPart{Text: "Mock draft for: " + lastText(req.Steps)}}
	}
	m.mu.Unlock()

	go func() {
		defer close(out)
		defer close(errCh)
		if req.Stream {
			for _, p := range parts {
				tp, ok := p.(core.TextPart)
				if !ok {
					continue
				}
				for _, r := range tp.Text {
					select {
					case <-ctx.Done():
						errCh <- ctx.Err()
						return
					case out <- Response{Partial: true, Parts: []core.Part{core.TextPart{Text: string(r)}}}:
					}
				}
			}
		}
		finish := "stop"
		for _, p := range parts {
			if _, ok := p.(core.ToolCallPart); ok {
				finish = "tool_calls"
				break
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case out <- Response{Partial: false, Parts: parts, FinishReason: finish}:
		}
	}()
	return out, errCh
}

// Info implements Brain.
func (m *MockBrain) Info() Info { return m.info }

func lastText(steps []core.TaskStep) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if text := steps[i].Text(); text != "" {
			return text
		}
	}
	return ""
}
