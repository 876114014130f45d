package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func testRunContext() *core.RunContext {
	return core.NewRunContext(context.Background(), "task-1", "test goal", "tester", nil, nil, nil, nil)
}

func sumTool() Tool {
	return NewFunctionTool(
		"calculate_sum",
		"Calculate the sum of two numbers",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		func(_ *core.RunContext, args map[string]any) (any, error) {
			return args["a"].(float64) + args["b"].(float64), nil
		},
	)
}

func TestFunctionToolCall(t *testing.T) {
	out, err := sumTool().Call(testRunContext(), map[string]any{"a": float64(2), "b": float64(3)})
	require.NoError(t, err)
	assert.Equal(t, float64(5), out)
}

func TestFunctionToolValidation(t *testing.T) {
	_, err := sumTool().Call(testRunContext(), map[string]any{"a": float64(2)})
	require.Error(t, err)

	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeValidation, toolErr.Code)
	assert.Equal(t, "calculate_sum", toolErr.Tool)
}

func TestFunctionToolWrapsPlainErrors(t *testing.T) {
	failing := NewFunctionTool("boom", "always fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *core.RunContext, _ map[string]any) (any, error) {
			return nil, fmt.Errorf("backend unavailable")
		},
	)

	_, err := failing.Call(testRunContext(), map[string]any{})
	var toolErr *ToolError
	require.ErrorAs(t, err, &toolErr)
	assert.Equal(t, CodeExecution, toolErr.Code)
	assert.Contains(t, toolErr.Message, "backend unavailable")
}

func TestRegistryDefinitionsSorted(t *testing.T) {
	r := NewRegistry(sumTool(), NewHandoffTool())
	defs := r.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, "calculate_sum", defs[0].Name)
	assert.Equal(t, HandoffToolName, defs[1].Name)
}

func TestExecutorSuccess(t *testing.T) {
	e := NewExecutor(NewRegistry(sumTool()))
	result := e.Execute(testRunContext(), core.ToolCall{
		ID:        "call-1",
		Name:      "calculate_sum",
		Arguments: json.RawMessage(`{"a": 2, "b": 3}`),
	})

	assert.False(t, result.Failed())
	assert.Equal(t, "call-1", result.CallID)
	assert.Equal(t, float64(5), result.Output)
}

func TestExecutorUnknownTool(t *testing.T) {
	e := NewExecutor(NewRegistry())
	result := e.Execute(testRunContext(), core.ToolCall{ID: "call-1", Name: "missing"})

	assert.True(t, result.Failed())
	assert.Equal(t, CodeNotFound, result.Code)
}

func TestExecutorInvalidArgumentJSON(t *testing.T) {
	e := NewExecutor(NewRegistry(sumTool()))
	result := e.Execute(testRunContext(), core.ToolCall{
		ID:        "call-1",
		Name:      "calculate_sum",
		Arguments: json.RawMessage(`{not json`),
	})

	assert.True(t, result.Failed())
	assert.Equal(t, CodeValidation, result.Code)
}

func TestExecutorValidationFailurePropagatesCode(t *testing.T) {
	e := NewExecutor(NewRegistry(sumTool()))
	result := e.Execute(testRunContext(), core.ToolCall{
		ID:        "call-1",
		Name:      "calculate_sum",
		Arguments: json.RawMessage(`{"a": 2}`),
	})

	assert.True(t, result.Failed())
	assert.Equal(t, CodeValidation, result.Code)
}

func TestExecutorTimeout(t *testing.T) {
	slow := NewFunctionTool("sleep", "sleeps",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(rc *core.RunContext, _ map[string]any) (any, error) {
			select {
			case <-rc.Context.Done():
				return nil, rc.Context.Err()
			case <-time.After(5 * time.Second):
				return "done", nil
			}
		},
	)
	e := NewExecutor(NewRegistry(slow), func(o *ExecutorOptions) {
		o.CallTimeout = 20 * time.Millisecond
	})

	result := e.Execute(testRunContext(), core.ToolCall{ID: "call-1", Name: "sleep"})
	assert.True(t, result.Failed())
	assert.Equal(t, CodeTimeout, result.Code)
}

func TestExecutorRecoversPanic(t *testing.T) {
	panicky := NewFunctionTool("panic", "panics",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ *core.RunContext, _ map[string]any) (any, error) {
			panic("boom")
		},
	)
	e := NewExecutor(NewRegistry(panicky))

	result := e.Execute(testRunContext(), core.ToolCall{ID: "call-1", Name: "panic"})
	assert.True(t, result.Failed())
	assert.Equal(t, CodeExecution, result.Code)
	assert.Contains(t, result.Error, "panic")
}

func TestHandoffTarget(t *testing.T) {
	target, ok := HandoffTarget(core.ToolCall{
		Name:      HandoffToolName,
		Arguments: json.RawMessage(`{"agent": "reviewer"}`),
	})
	require.True(t, ok)
	assert.Equal(t, "reviewer", target)

	_, ok = HandoffTarget(core.ToolCall{Name: "write_artifact", Arguments: json.RawMessage(`{"agent": "x"}`)})
	assert.False(t, ok)

	_, ok = HandoffTarget(core.ToolCall{Name: HandoffToolName, Arguments: json.RawMessage(`{}`)})
	assert.False(t, ok)
}

func TestToolErrorFormat(t *testing.T) {
	err := NewToolError("calculate_sum", "bad args", CodeValidation)
	assert.Equal(t, "tool error [VALIDATION_ERROR] in calculate_sum: bad args", err.Error())

	uncoded := &ToolError{Tool: "calculate_sum", Message: "bad args"}
	assert.Equal(t, "tool error in calculate_sum: bad args", uncoded.Error())
}
