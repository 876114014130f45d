package tool

import (
	"fmt"

	"github.com/hupe1980/taskmesh/core"
)

// NewWriteArtifactTool exposes workspace writes as a capability. Every call
// produces a new immutable version and the matching artifact-write event.
func NewWriteArtifactTool() Tool {
	return NewFunctionTool(
		"write_artifact",
		"Write content to a named workspace artifact, creating a new immutable version.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string", "description": "Artifact name"},
				"content": map[string]any{"type": "string", "description": "Full artifact content"},
			},
			"required": []string{"name", "content"},
		},
		func(rc *core.RunContext, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			content, _ := args["content"].(string)
			ver, err := rc.SaveArtifact(name, []byte(content))
			if err != nil {
				return nil, fmt.Errorf("save artifact %q: %w", name, err)
			}
			return map[string]any{
				"name":       ver.Name,
				"version":    ver.Version,
				"content_id": ver.ContentID,
			}, nil
		},
	)
}

// NewReadArtifactTool exposes workspace reads as a capability; version 0
// reads the latest.
func NewReadArtifactTool() Tool {
	return NewFunctionTool(
		"read_artifact",
		"Read a workspace artifact. Omit version (or pass 0) for the latest.",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"name":    map[string]any{"type": "string", "description": "Artifact name"},
				"version": map[string]any{"type": "integer", "description": "Version to read; 0 for latest"},
			},
			"required": []string{"name"},
		},
		func(rc *core.RunContext, args map[string]any) (any, error) {
			name, _ := args["name"].(string)
			version := 0
			if v, ok := args["version"].(float64); ok {
				version = int(v)
			}
			if rc.Workspace == nil {
				return nil, fmt.Errorf("workspace not configured")
			}
			ver, err := rc.Workspace.GetArtifact(rc.Context, rc.TaskID, name, version)
			if err != nil {
				return nil, fmt.Errorf("read artifact %q: %w", name, err)
			}
			return map[string]any{
				"name":    ver.Name,
				"version": ver.Version,
				"content": string(ver.Data),
			}, nil
		},
	)
}
