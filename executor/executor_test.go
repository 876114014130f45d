package executor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/workspace"
)

// scriptedWorker runs an arbitrary function as its Execute body.
type scriptedWorker struct {
	name string
	fn   func(rc *core.RunContext, history []core.TaskStep, seq uint64) (core.TaskStep, error)
}

func (w *scriptedWorker) Name() string { return w.name }

func (w *scriptedWorker) Execute(rc *core.RunContext, history []core.TaskStep, seq uint64) (core.TaskStep, error) {
	return w.fn(rc, history, seq)
}

func textWorker(name, text string) *scriptedWorker {
	return &scriptedWorker{name: name, fn: func(_ *core.RunContext, _ []core.TaskStep, seq uint64) (core.TaskStep, error) {
		return core.NewTaskStep(name, seq, core.TextPart{Text: text}), nil
	}}
}

// onePassRouter emits a routing-decision event like the orchestrator does,
// then routes to agent until that agent has produced a step.
type onePassRouter struct {
	agent string
	err   error
}

func (r *onePassRouter) DecideNextStep(rc *core.RunContext, last *core.TaskStep) (core.RoutingDecision, error) {
	if r.err != nil {
		return core.RoutingDecision{}, r.err
	}
	decision := core.Continue(r.agent)
	if last != nil && last.Author == r.agent {
		decision = core.Complete()
	}
	ev, err := core.NewEvent(rc.TaskID, core.EventRoutingDecision, core.RoutingPayload{Decision: decision})
	if err != nil {
		return core.RoutingDecision{}, err
	}
	if err := rc.EmitEvent(ev); err != nil {
		return core.RoutingDecision{}, err
	}
	return decision, nil
}

func fastRetries(o *Options) {
	o.MaxRetries = 1
	o.RetryInitial = time.Millisecond
	o.RetryMax = time.Millisecond
}

func TestRunToCompletion(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("write the report")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "report done")})
	require.NoError(t, err)
	require.NoError(t, e.SubmitMessage(context.Background(), "please write it"))

	require.NoError(t, e.Run(context.Background()))

	got := e.Task()
	assert.Equal(t, core.TaskCompleted, got.Status)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "user", got.Steps[0].Author)
	assert.Equal(t, "writer", got.Steps[1].Author)
	assert.Equal(t, uint64(2), got.Steps[1].Seq)

	snap, err := ws.LoadSnapshot(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskCompleted, snap.Status)
	assert.Equal(t, uint64(2), snap.StepSeq)
}

func TestRoutingDecisionPrecedesStep(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	events, err := ws.Events(context.Background(), task.ID)
	require.NoError(t, err)

	// Every step-appended event is preceded by the routing decision that
	// selected its author.
	lastRouting := -1
	for i, ev := range events {
		switch ev.Type {
		case core.EventRoutingDecision:
			lastRouting = i
		case core.EventStepAppended:
			assert.Greater(t, i, lastRouting)
			assert.GreaterOrEqual(t, lastRouting, 0, "step appended without a routing consult")
		}
	}
}

func TestCancellationPausesTask(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	ctx, cancel := context.WithCancel(context.Background())
	blocking := &scriptedWorker{name: "writer", fn: func(rc *core.RunContext, _ []core.TaskStep, _ uint64) (core.TaskStep, error) {
		cancel()
		<-rc.Done()
		return core.TaskStep{}, rc.Err()
	}}

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"}, []Worker{blocking})
	require.NoError(t, err)
	require.NoError(t, e.Run(ctx), "cancellation pauses, it does not fail")

	assert.Equal(t, core.TaskPaused, e.Task().Status)

	snap, err := ws.LoadSnapshot(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, core.TaskPaused, snap.Status)
}

func TestStepTimeoutRetriesAttempt(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	// The first attempt hangs past the step timeout; the retry succeeds.
	attempts := 0
	slowOnce := &scriptedWorker{name: "writer", fn: func(rc *core.RunContext, _ []core.TaskStep, seq uint64) (core.TaskStep, error) {
		attempts++
		if attempts == 1 {
			<-rc.Done()
			return core.TaskStep{}, rc.Err()
		}
		return core.NewTaskStep("writer", seq, core.TextPart{Text: "done"}), nil
	}}

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"}, []Worker{slowOnce},
		fastRetries, func(o *Options) { o.StepTimeout = 20 * time.Millisecond })
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()), "an attempt timeout is transient")

	assert.Equal(t, 2, attempts)
	assert.Equal(t, core.TaskCompleted, e.Task().Status)
}

func TestStepTimeoutExhaustedFailsTask(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	attempts := 0
	hanging := &scriptedWorker{name: "writer", fn: func(rc *core.RunContext, _ []core.TaskStep, _ uint64) (core.TaskStep, error) {
		attempts++
		<-rc.Done()
		return core.TaskStep{}, rc.Err()
	}}

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"}, []Worker{hanging},
		fastRetries, func(o *Options) { o.StepTimeout = 10 * time.Millisecond })
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, 2, attempts, "one attempt plus one retry")
	assert.Equal(t, core.TaskFailed, e.Task().Status)
}

// flakyWorkspace fails AppendEvent for a window of calls, then recovers.
type flakyWorkspace struct {
	core.Workspace
	calls    int
	failFrom int
	failTo   int
}

func (w *flakyWorkspace) AppendEvent(ctx context.Context, ev core.Event) error {
	w.calls++
	if w.calls >= w.failFrom && w.calls <= w.failTo {
		return fmt.Errorf("disk full")
	}
	return w.Workspace.AppendEvent(ctx, ev)
}

func TestPersistenceFailurePausesTask(t *testing.T) {
	// Call 1 records the task creation, call 2 the running status; call 3
	// (the routing decision) fails; the pause transition afterwards persists
	// fine.
	ws := &flakyWorkspace{Workspace: workspace.NewInMemoryWorkspace(), failFrom: 3, failTo: 3}
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.ErrorIs(t, err, ErrPersistence)
	assert.Equal(t, core.TaskPaused, e.Task().Status)
}

func TestRoutingErrorFailsTask(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer", err: errors.New("no route")},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "routing")
	assert.Equal(t, core.TaskFailed, e.Task().Status)
}

func TestMissingWorkerFailsTask(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "ghost"}, nil)
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), `agent "ghost" has no registered worker`)
	assert.Equal(t, core.TaskFailed, e.Task().Status)
}

func TestRetriesTransientFailures(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	attempts := 0
	flaky := &scriptedWorker{name: "writer", fn: func(_ *core.RunContext, _ []core.TaskStep, seq uint64) (core.TaskStep, error) {
		attempts++
		if attempts == 1 {
			return core.TaskStep{}, errors.New("transient upstream error")
		}
		return core.NewTaskStep("writer", seq, core.TextPart{Text: "done"}), nil
	}}

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"}, []Worker{flaky}, fastRetries)
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	assert.Equal(t, 2, attempts)
	assert.Equal(t, core.TaskCompleted, e.Task().Status)
}

func TestRetriesExhaustedFailsTask(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	attempts := 0
	broken := &scriptedWorker{name: "writer", fn: func(_ *core.RunContext, _ []core.TaskStep, _ uint64) (core.TaskStep, error) {
		attempts++
		return core.TaskStep{}, errors.New("permanent upstream error")
	}}

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"}, []Worker{broken}, fastRetries)
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, 2, attempts, "one attempt plus one retry")
	assert.Equal(t, core.TaskFailed, e.Task().Status)
}

func TestCorrectionsExhaustedNotRetried(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	attempts := 0
	stuck := &scriptedWorker{name: "writer", fn: func(_ *core.RunContext, _ []core.TaskStep, _ uint64) (core.TaskStep, error) {
		attempts++
		return core.TaskStep{}, fmt.Errorf("agent writer: %w", agent.ErrCorrectionsExhausted)
	}}

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"}, []Worker{stuck}, fastRetries)
	require.NoError(t, err)

	err = e.Run(context.Background())
	require.ErrorIs(t, err, agent.ErrCorrectionsExhausted)
	assert.Equal(t, 1, attempts, "exhausted corrections are not retryable")
	assert.Equal(t, core.TaskFailed, e.Task().Status)
}

func TestFailureReasonPersisted(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer", err: errors.New("no route")}, nil)
	require.NoError(t, err)
	require.Error(t, e.Run(context.Background()))

	events, err := ws.Events(context.Background(), task.ID)
	require.NoError(t, err)

	var last core.TaskStatusPayload
	for _, ev := range events {
		if ev.Type == core.EventTaskStatus {
			require.NoError(t, ev.Decode(&last))
		}
	}
	assert.Equal(t, core.TaskFailed, last.Status)
	assert.Contains(t, last.Reason, "no route")
}

func TestStepDrivesOneCycle(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)

	require.NoError(t, e.Step(context.Background()))
	assert.Equal(t, core.TaskRunning, e.Task().Status)
	require.Len(t, e.Task().Steps, 1)

	// The second cycle hits the Complete decision.
	require.NoError(t, e.Step(context.Background()))
	assert.Equal(t, core.TaskCompleted, e.Task().Status)
}

func TestTerminalTaskRejected(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	assert.ErrorIs(t, e.Run(context.Background()), ErrTaskTerminal)
}

func TestRestoreFromSnapshot(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)
	require.NoError(t, e.SubmitMessage(context.Background(), "start"))
	require.NoError(t, e.Run(context.Background()))

	// A fresh executor over the same workspace sees the finished task.
	resumed := &core.Task{ID: task.ID, Goal: task.Goal, Status: core.TaskPending}
	e2, err := New(context.Background(), resumed, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)

	got := e2.Task()
	assert.Equal(t, core.TaskCompleted, got.Status)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "start", got.Steps[0].Text())
}

func TestRestoreFromLogWithoutSnapshot(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	taskID := core.NewID()

	// A log written by some earlier run that never snapshotted.
	step := core.NewTaskStep("user", 1, core.TextPart{Text: "start"})
	for _, ev := range []core.Event{
		core.MustEvent(taskID, core.EventTaskStatus, core.TaskStatusPayload{Status: core.TaskRunning}),
		core.MustEvent(taskID, core.EventUserMessage, core.UserMessagePayload{Text: "start"}),
		core.MustEvent(taskID, core.EventStepAppended, core.StepAppendedPayload{Step: step}),
	} {
		require.NoError(t, ws.AppendEvent(context.Background(), ev))
	}

	task := &core.Task{ID: taskID, Goal: "goal", Status: core.TaskPending}
	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)

	got := e.Task()
	assert.Equal(t, core.TaskRunning, got.Status)
	require.Len(t, got.Steps, 1)
	assert.Equal(t, uint64(1), got.Steps[0].Seq)

	// Resuming continues the sequence where the log left off.
	require.NoError(t, e.Run(context.Background()))
	final := e.Task()
	assert.Equal(t, core.TaskCompleted, final.Status)
	require.Len(t, final.Steps, 2)
	assert.Equal(t, uint64(2), final.Steps[1].Seq)
}

func TestGoalSurvivesRestore(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("summarize the quarter")

	e, err := New(context.Background(), task, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)
	require.NoError(t, e.Run(context.Background()))

	// A fresh process knows only the task ID; the goal comes out of the log.
	resumed := &core.Task{ID: task.ID, Status: core.TaskPending}
	e2, err := New(context.Background(), resumed, ws, nil, &onePassRouter{agent: "writer"},
		[]Worker{textWorker("writer", "done")})
	require.NoError(t, err)
	assert.Equal(t, "summarize the quarter", e2.Task().Goal)
}

func TestSnapshotTracksPendingCalls(t *testing.T) {
	ws := workspace.NewInMemoryWorkspace()
	task := core.NewTask("goal")
	ctx := context.Background()

	e, err := New(ctx, task, ws, nil, &onePassRouter{agent: "writer"}, nil)
	require.NoError(t, err)

	call := core.ToolCall{ID: "call-1", Name: "write_artifact", Arguments: []byte(`{}`)}
	require.NoError(t, e.Emit(ctx, core.MustEvent(task.ID, core.EventToolDispatch,
		core.ToolDispatchPayload{Agent: "writer", Call: call})))
	require.NoError(t, e.Snapshot(ctx))

	snap, err := ws.LoadSnapshot(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"call-1"}, snap.PendingCalls)

	// The live snapshot and a full log replay agree on in-flight calls.
	events, err := ws.Events(ctx, task.ID)
	require.NoError(t, err)
	replayed, err := core.ReplaySnapshot(task.ID, events)
	require.NoError(t, err)
	assert.Equal(t, replayed.PendingCalls, snap.PendingCalls)

	// A restored executor carries the in-flight call forward.
	resumed := &core.Task{ID: task.ID, Status: core.TaskPending}
	e2, err := New(ctx, resumed, ws, nil, &onePassRouter{agent: "writer"}, nil)
	require.NoError(t, err)
	require.NoError(t, e2.Snapshot(ctx))
	snap, err = ws.LoadSnapshot(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"call-1"}, snap.PendingCalls)

	// The result settles the call.
	require.NoError(t, e2.Emit(ctx, core.MustEvent(task.ID, core.EventToolResult,
		core.ToolResultPayload{Agent: "writer", Result: core.ToolResult{CallID: "call-1", Name: "write_artifact", Status: core.ToolResultSuccess}})))
	require.NoError(t, e2.Snapshot(ctx))
	snap, err = ws.LoadSnapshot(ctx, task.ID)
	require.NoError(t, err)
	assert.Empty(t, snap.PendingCalls)
}
