package agent

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/brain"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/testutil"
	"github.com/hupe1980/taskmesh/tool"
)

// fakeDispatcher answers tool calls from a canned result table; unknown tools
// succeed with a nil output.
type fakeDispatcher struct {
	results map[string]core.ToolResult
	err     error
	calls   []core.ToolCall
}

func (d *fakeDispatcher) RequestToolExecution(_ *core.RunContext, call core.ToolCall) (core.ToolResult, error) {
	d.calls = append(d.calls, call)
	if d.err != nil {
		return core.ToolResult{}, d.err
	}
	if result, ok := d.results[call.Name]; ok {
		result.CallID = call.ID
		return result, nil
	}
	return core.ToolResult{CallID: call.ID, Name: call.Name, Status: core.ToolResultSuccess}, nil
}

func (d *fakeDispatcher) Definitions() []core.ToolDefinition { return nil }

func newRunContext(sink core.EventSink) *core.RunContext {
	return core.NewRunContext(context.Background(), "task-1", "write the report", "writer", sink, nil, nil, nil)
}

func userHistory(text string) []core.TaskStep {
	return []core.TaskStep{testutil.NewStepBuilder("user").Text(text).Build()}
}

func TestExecuteTextOnly(t *testing.T) {
	b := brain.NewMockBrain("mock").Script(core.TextPart{Text: "Here is the report."})
	a := New("writer", b, &fakeDispatcher{})

	step, err := a.Execute(newRunContext(&testutil.Sink{}), userHistory("write it"), 2)
	require.NoError(t, err)

	assert.Equal(t, "writer", step.Author)
	assert.Equal(t, uint64(2), step.Seq)
	assert.Equal(t, "Here is the report.", step.Text())
	assert.Empty(t, step.ToolCalls())
}

func TestExecuteToolCallThenFinal(t *testing.T) {
	b := brain.NewMockBrain("mock").
		Script(
			core.TextPart{Text: "Saving the draft."},
			core.ToolCallPart{Call: core.ToolCall{ID: "call-1", Name: "write_artifact", Arguments: []byte(`{"name":"report.md","content":"x"}`)}},
		).
		Script(core.TextPart{Text: "Draft saved."})
	d := &fakeDispatcher{}
	a := New("writer", b, d)

	step, err := a.Execute(newRunContext(&testutil.Sink{}), userHistory("write it"), 2)
	require.NoError(t, err)

	require.Len(t, d.calls, 1)
	assert.Equal(t, "write_artifact", d.calls[0].Name)
	assert.Equal(t, 0, b.Remaining())

	// The step carries the whole invocation: draft, call, result, wrap-up.
	assert.Len(t, step.ToolCalls(), 1)
	assert.Len(t, step.ToolResults(), 1)
	assert.Contains(t, step.Text(), "Saving the draft.")
	assert.Contains(t, step.Text(), "Draft saved.")
}

func TestExecuteBoundedSelfCorrection(t *testing.T) {
	call := core.ToolCallPart{Call: core.ToolCall{ID: "call-1", Name: "write_artifact", Arguments: []byte(`{}`)}}
	b := brain.NewMockBrain("mock").Script(call).Script(call)
	d := &fakeDispatcher{results: map[string]core.ToolResult{
		"write_artifact": {
			Name:   "write_artifact",
			Status: core.ToolResultFailure,
			Error:  "validation error for field 'name': required field is missing",
			Code:   tool.CodeValidation,
		},
	}}
	a := New("writer", b, d, func(o *Options) { o.MaxCorrections = 1 })

	step, err := a.Execute(newRunContext(&testutil.Sink{}), userHistory("write it"), 2)
	assert.ErrorIs(t, err, ErrCorrectionsExhausted)
	assert.Len(t, d.calls, 2, "one original attempt plus one correction")
	assert.Len(t, step.ToolResults(), 2, "the partial step keeps the failed attempts")
}

func TestExecuteHandoffEndsInvocation(t *testing.T) {
	b := brain.NewMockBrain("mock").
		Script(
			core.TextPart{Text: "Over to the reviewer."},
			core.ToolCallPart{Call: core.ToolCall{ID: "call-1", Name: tool.HandoffToolName, Arguments: []byte(`{"agent":"reviewer"}`)}},
		).
		Script(core.TextPart{Text: "should never be drafted"})
	a := New("writer", b, &fakeDispatcher{})

	step, err := a.Execute(newRunContext(&testutil.Sink{}), userHistory("write it"), 2)
	require.NoError(t, err)

	assert.Equal(t, 1, b.Remaining(), "the invocation ends with the handoff")
	require.Len(t, step.ToolCalls(), 1)
	target, ok := tool.HandoffTarget(step.ToolCalls()[0])
	require.True(t, ok)
	assert.Equal(t, "reviewer", target)
}

func TestExecuteToolRoundsBounded(t *testing.T) {
	call := core.ToolCallPart{Call: core.ToolCall{ID: "call-1", Name: "search", Arguments: []byte(`{}`)}}
	b := brain.NewMockBrain("mock").Script(call).Script(call)
	a := New("writer", b, &fakeDispatcher{}, func(o *Options) { o.MaxToolRounds = 2 })

	_, err := a.Execute(newRunContext(&testutil.Sink{}), userHistory("loop"), 2)
	assert.ErrorIs(t, err, ErrToolRoundsExceeded)
}

func TestExecuteStreamsDraftDeltas(t *testing.T) {
	b := brain.NewMockBrain("mock").Script(core.TextPart{Text: "Hi"})
	a := New("writer", b, &fakeDispatcher{})
	sink := &testutil.Sink{}

	_, err := a.Execute(newRunContext(sink), userHistory("greet"), 2)
	require.NoError(t, err)

	drafts := sink.ByType(core.EventAgentDraft)
	require.Len(t, drafts, 3, "one delta per rune plus the final marker")

	var first core.AgentDraftPayload
	require.NoError(t, drafts[0].Decode(&first))
	assert.Equal(t, "H", first.TextDelta)
	assert.False(t, first.Final)

	var last core.AgentDraftPayload
	require.NoError(t, drafts[len(drafts)-1].Decode(&last))
	assert.True(t, last.Final)
}

func TestExecuteWithoutStreamingEmitsOnlyFinalMarker(t *testing.T) {
	b := brain.NewMockBrain("mock").Script(core.TextPart{Text: "Hi"})
	a := New("writer", b, &fakeDispatcher{}, func(o *Options) { o.Stream = false })
	sink := &testutil.Sink{}

	_, err := a.Execute(newRunContext(sink), userHistory("greet"), 2)
	require.NoError(t, err)
	assert.Len(t, sink.ByType(core.EventAgentDraft), 1)
}

func TestExecuteDegradesWhenMemoryUnavailable(t *testing.T) {
	b := brain.NewMockBrain("mock").Script(core.TextPart{Text: "done"})
	a := New("writer", b, &fakeDispatcher{})

	rc := newRunContext(&testutil.Sink{})
	rc.Memory = failingMemory{}

	step, err := a.Execute(rc, userHistory("write it"), 2)
	require.NoError(t, err, "an unavailable memory service never stops the task")
	assert.Equal(t, "done", step.Text())
}

func TestExecuteCancelledContext(t *testing.T) {
	b := brain.NewMockBrain("mock").Script(core.TextPart{Text: "never"})
	a := New("writer", b, &fakeDispatcher{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rc := core.NewRunContext(ctx, "task-1", "goal", "writer", &testutil.Sink{}, nil, nil, nil)

	_, err := a.Execute(rc, userHistory("write it"), 2)
	assert.ErrorIs(t, err, context.Canceled)
}

type failingMemory struct{}

func (failingMemory) RelevantContext(context.Context, string, string, int) (core.RelevantContext, error) {
	return core.RelevantContext{}, assert.AnError
}
