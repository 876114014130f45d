package tool

import (
	"encoding/json"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// HandoffToolName is the reserved tool name agents use to request an explicit
// transfer of control. The orchestrator interprets calls to this tool when
// deciding the next step; an explicit handoff beats any default transition.
const HandoffToolName = "handoff_to_agent"

// handoffTool requests orchestration transfer to a named agent.
type handoffTool struct{}

// NewHandoffTool constructs the handoff tool instance.
func NewHandoffTool() Tool { return &handoffTool{} }

func (t *handoffTool) Name() string { return HandoffToolName }

func (t *handoffTool) Description() string {
	return "Request transfer of control to another agent by name. Use when another agent is better suited for the next step."
}

func (t *handoffTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"agent": map[string]any{"type": "string", "description": "Target agent name"},
		},
		"required": []string{"agent"},
	}
}

func (t *handoffTool) Call(_ *core.RunContext, args map[string]any) (any, error) {
	raw, ok := args["agent"]
	if !ok {
		return nil, fmt.Errorf("missing required field 'agent'")
	}
	agent, ok := raw.(string)
	if !ok || agent == "" {
		return nil, fmt.Errorf("field 'agent' must be non-empty string")
	}
	return map[string]any{"handoff": true, "agent": agent}, nil
}

// HandoffTarget extracts the target agent from a handoff call. The second
// return is false when the call is not a handoff or names no target.
func HandoffTarget(call core.ToolCall) (string, bool) {
	if call.Name != HandoffToolName {
		return "", false
	}
	var args struct {
		Agent string `json:"agent"`
	}
	if err := json.Unmarshal(call.Arguments, &args); err != nil {
		return "", false
	}
	if args.Agent == "" {
		return "", false
	}
	return args.Agent, true
}
