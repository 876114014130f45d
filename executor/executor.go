// Package executor drives one task to completion: consult routing before
// every agent invocation, invoke the chosen agent, persist every produced
// event before publishing it, and snapshot at step boundaries so a paused or
// crashed task resumes exactly where the log says it stopped.
package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

var (
	// ErrAlreadyRunning signals a second concurrent driver for the same task.
	ErrAlreadyRunning = errors.New("task executor already running")
	// ErrTaskTerminal signals driving a completed or failed task.
	ErrTaskTerminal = errors.New("task is terminal")
	// ErrPersistence marks workspace write failures; they pause the task
	// instead of failing it, since no data was lost from the log's view.
	ErrPersistence = errors.New("workspace persistence failed")
)

// Worker is one invocable agent. agent.Agent satisfies it; tests substitute
// scripted fakes.
type Worker interface {
	Name() string
	Execute(rc *core.RunContext, history []core.TaskStep, seq uint64) (core.TaskStep, error)
}

// Router decides the next step. The orchestrator satisfies it.
type Router interface {
	DecideNextStep(rc *core.RunContext, last *core.TaskStep) (core.RoutingDecision, error)
}

// Options configures a TaskExecutor.
type Options struct {
	// Logger receives lifecycle diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// Memory provides relevant context to agents; nil degrades to empty.
	Memory core.MemoryService
	// MaxRetries bounds retries of a failed agent invocation.
	MaxRetries int
	// RetryInitial is the first retry delay; RetryFactor grows it up to RetryMax.
	RetryInitial time.Duration
	RetryFactor  float64
	RetryMax     time.Duration
	// SnapshotEvery snapshots after every N appended steps.
	SnapshotEvery int
	// StepTimeout bounds a single agent invocation attempt; zero disables the
	// bound. A timed-out attempt counts as a transient failure and is retried;
	// only retry exhaustion fails the task.
	StepTimeout time.Duration
}

// TaskExecutor owns the lifecycle of exactly one task. It implements
// core.EventSink by persisting to the workspace before publishing on the bus,
// so a nil Emit error doubles as the durability acknowledgment every
// downstream component relies on.
type TaskExecutor struct {
	task    *core.Task
	ws      core.Workspace
	bus     core.EventBus
	router  Router
	workers map[string]Worker
	opts    Options

	mu             sync.Mutex
	running        bool
	currentAgent   string
	eventCount     int
	stepsSinceSnap int
	pending        map[string]struct{}
}

var _ core.EventSink = (*TaskExecutor)(nil)

// New constructs an executor for task. If the workspace already holds a
// snapshot or events for the task, the executor resumes from them: the
// snapshot when present, otherwise a full log replay (both must agree, which
// the resume-equivalence tests pin down).
func New(
	ctx context.Context,
	task *core.Task,
	ws core.Workspace,
	bus core.EventBus,
	router Router,
	workers []Worker,
	optFns ...func(o *Options),
) (*TaskExecutor, error) {
	opts := Options{
		Logger:        logging.NoOpLogger{},
		MaxRetries:    3,
		RetryInitial:  500 * time.Millisecond,
		RetryFactor:   2.0,
		RetryMax:      30 * time.Second,
		SnapshotEvery: 1,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	byName := make(map[string]Worker, len(workers))
	for _, w := range workers {
		byName[w.Name()] = w
	}

	e := &TaskExecutor{
		task:    task,
		ws:      ws,
		bus:     bus,
		router:  router,
		workers: byName,
		opts:    opts,
		pending: map[string]struct{}{},
	}
	if err := e.restore(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// restore brings the in-memory projection in line with the workspace.
func (e *TaskExecutor) restore(ctx context.Context) error {
	snap, err := e.ws.LoadSnapshot(ctx, e.task.ID)
	if err != nil {
		if !errors.Is(err, core.ErrNoSnapshot) {
			return fmt.Errorf("load snapshot: %w", err)
		}
		events, err := e.ws.Events(ctx, e.task.ID)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		if len(events) == 0 {
			return e.recordCreation(ctx)
		}
		snap, err = core.ReplaySnapshot(e.task.ID, events)
		if err != nil {
			return fmt.Errorf("replay log: %w", err)
		}
	}

	e.task.Status = snap.Status
	e.currentAgent = snap.CurrentAgent
	e.eventCount = snap.EventCount
	for _, id := range snap.PendingCalls {
		e.pending[id] = struct{}{}
	}
	if err := e.restoreSteps(ctx); err != nil {
		return err
	}
	e.opts.Logger.Info("executor.restored",
		"task_id", e.task.ID, "status", snap.Status, "step_seq", snap.StepSeq, "events", snap.EventCount)
	return nil
}

// recordCreation writes the task's first log entry. The goal lives in the
// log from then on, so a fresh process rebuilds it along with everything else.
func (e *TaskExecutor) recordCreation(ctx context.Context) error {
	if e.task.Goal == "" {
		return nil
	}
	ev, err := core.NewEvent(e.task.ID, core.EventTaskCreated, core.TaskCreatedPayload{Goal: e.task.Goal})
	if err != nil {
		return err
	}
	return e.Emit(ctx, ev)
}

// restoreSteps rebuilds the step history, and the goal, from the log.
func (e *TaskExecutor) restoreSteps(ctx context.Context) error {
	events, err := e.ws.Events(ctx, e.task.ID)
	if err != nil {
		return fmt.Errorf("read log: %w", err)
	}
	e.task.Steps = nil
	for _, ev := range events {
		switch ev.Type {
		case core.EventTaskCreated:
			var p core.TaskCreatedPayload
			if err := ev.Decode(&p); err != nil {
				return fmt.Errorf("decode creation event %s: %w", ev.ID, err)
			}
			if e.task.Goal == "" {
				e.task.Goal = p.Goal
			}
		case core.EventStepAppended:
			var p core.StepAppendedPayload
			if err := ev.Decode(&p); err != nil {
				return fmt.Errorf("decode step event %s: %w", ev.ID, err)
			}
			e.task.Steps = append(e.task.Steps, p.Step)
		}
	}
	return nil
}

// Emit implements core.EventSink: persist first, publish second. An error
// means the event is not durably recorded and the step must not proceed.
func (e *TaskExecutor) Emit(ctx context.Context, ev core.Event) error {
	if err := e.ws.AppendEvent(ctx, ev); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrPersistence, ev.Type, err)
	}
	e.mu.Lock()
	e.eventCount++
	switch ev.Type {
	case core.EventToolDispatch:
		var p core.ToolDispatchPayload
		if ev.Decode(&p) == nil {
			e.pending[p.Call.ID] = struct{}{}
		}
	case core.EventToolResult:
		var p core.ToolResultPayload
		if ev.Decode(&p) == nil {
			delete(e.pending, p.Result.CallID)
		}
	}
	e.mu.Unlock()
	if e.bus != nil {
		e.bus.Publish(ev)
	}
	return nil
}

// Task returns a copy of the task projection.
func (e *TaskExecutor) Task() core.Task {
	e.mu.Lock()
	defer e.mu.Unlock()
	t := *e.task
	t.Steps = append([]core.TaskStep(nil), e.task.Steps...)
	return t
}

// Events returns the task's full ordered log.
func (e *TaskExecutor) Events(ctx context.Context) ([]core.Event, error) {
	return e.ws.Events(ctx, e.task.ID)
}

// SubmitMessage appends a user message as a new step and records both the
// message and step events.
func (e *TaskExecutor) SubmitMessage(ctx context.Context, text string) error {
	ev, err := core.NewEvent(e.task.ID, core.EventUserMessage, core.UserMessagePayload{Text: text})
	if err != nil {
		return err
	}
	if err := e.Emit(ctx, ev); err != nil {
		return err
	}
	step := core.NewTaskStep("user", e.nextSeq(), core.TextPart{Text: text})
	return e.appendStep(ctx, step)
}

// Run drives the task until it completes, fails, or pauses. Cancellation of
// ctx pauses the task; it never fails it.
func (e *TaskExecutor) Run(ctx context.Context) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if err := e.setStatus(ctx, core.TaskRunning, "", ""); err != nil {
		return err
	}
	for {
		done, err := e.step(ctx)
		if err != nil {
			return e.settle(ctx, err)
		}
		if done {
			return e.setStatus(ctx, core.TaskCompleted, "", "")
		}
		if err := ctx.Err(); err != nil {
			return e.settle(ctx, err)
		}
	}
}

// Step drives exactly one routing+agent cycle. A completed task transitions
// to its terminal status; otherwise it stays running for the next Step call.
func (e *TaskExecutor) Step(ctx context.Context) error {
	if err := e.acquire(); err != nil {
		return err
	}
	defer e.release()

	if e.task.Status != core.TaskRunning {
		if err := e.setStatus(ctx, core.TaskRunning, "", ""); err != nil {
			return err
		}
	}
	done, err := e.step(ctx)
	if err != nil {
		return e.settle(ctx, err)
	}
	if done {
		return e.setStatus(ctx, core.TaskCompleted, "", "")
	}
	return nil
}

// Pause suspends the task explicitly.
func (e *TaskExecutor) Pause(ctx context.Context) error {
	return e.setStatus(ctx, core.TaskPaused, e.currentAgent, "paused by caller")
}

// Snapshot persists the current resumable state.
func (e *TaskExecutor) Snapshot(ctx context.Context) error {
	e.mu.Lock()
	var calls []string
	for id := range e.pending {
		calls = append(calls, id)
	}
	sort.Strings(calls)
	snap := core.Snapshot{
		TaskID:       e.task.ID,
		Status:       e.task.Status,
		StepSeq:      e.lastSeqLocked(),
		CurrentAgent: e.currentAgent,
		PendingCalls: calls,
		EventCount:   e.eventCount,
		TakenAt:      time.Now().UTC(),
	}
	e.mu.Unlock()
	if err := e.ws.SaveSnapshot(ctx, snap); err != nil {
		return fmt.Errorf("%w: snapshot: %v", ErrPersistence, err)
	}
	return nil
}

// step runs one routing consult plus, unless the task completed, one agent
// invocation with retry. Returns done=true on a Complete decision.
func (e *TaskExecutor) step(ctx context.Context) (bool, error) {
	rc := core.NewRunContext(ctx, e.task.ID, e.task.Goal, "", e, e.ws, e.opts.Memory, e.opts.Logger)

	decision, err := e.router.DecideNextStep(rc, e.lastStep())
	if err != nil {
		if errors.Is(err, ErrPersistence) {
			return false, err
		}
		return false, fmt.Errorf("routing: %w", err)
	}
	if decision.IsComplete() {
		return true, nil
	}

	worker, ok := e.workers[decision.Agent]
	if !ok {
		return false, fmt.Errorf("routing: agent %q has no registered worker", decision.Agent)
	}

	e.opts.Logger.Info("executor.step.start",
		"task_id", e.task.ID, "agent", decision.Agent, "decision", decision.String())

	step, err := e.invokeWithRetry(ctx, worker, decision.Agent)
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	e.currentAgent = decision.Agent
	e.mu.Unlock()

	if err := e.appendStep(ctx, step); err != nil {
		return false, err
	}
	e.opts.Logger.Info("executor.step.done",
		"task_id", e.task.ID, "agent", decision.Agent, "seq", step.Seq)
	return false, nil
}

// invokeWithRetry runs the worker, retrying transient failures with
// exponential backoff. Non-retryable failures (cancellation, persistence,
// exhausted corrections) surface immediately.
func (e *TaskExecutor) invokeWithRetry(ctx context.Context, worker Worker, name string) (core.TaskStep, error) {
	seq := e.nextSeq()

	backoff := e.opts.RetryInitial
	var lastErr error
	for attempt := 0; attempt <= e.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			e.opts.Logger.Warn("executor.invoke.retry",
				"task_id", e.task.ID, "agent", name, "attempt", attempt, "backoff", backoff, "error", lastErr)
			select {
			case <-ctx.Done():
				return core.TaskStep{}, ctx.Err()
			case <-time.After(backoff):
			}
			backoff = time.Duration(float64(backoff) * e.opts.RetryFactor)
			if backoff > e.opts.RetryMax {
				backoff = e.opts.RetryMax
			}
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.opts.StepTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.opts.StepTimeout)
		}
		rc := core.NewRunContext(attemptCtx, e.task.ID, e.task.Goal, name, e, e.ws, e.opts.Memory, e.opts.Logger)
		step, err := worker.Execute(rc, e.history(), seq)
		timedOut := attemptCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil
		cancel()
		if err == nil {
			return step, nil
		}
		// A deadline hit by the attempt bound is transient; only the parent
		// context's cancellation or deadline is final.
		if !timedOut && !retryable(err) {
			return core.TaskStep{}, err
		}
		lastErr = err
	}
	return core.TaskStep{}, fmt.Errorf("agent %s: retries exhausted: %w", name, lastErr)
}

func retryable(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, ErrPersistence),
		errors.Is(err, agent.ErrCorrectionsExhausted),
		errors.Is(err, agent.ErrToolRoundsExceeded):
		return false
	}
	return true
}

// appendStep records the step event and maintains the projection plus the
// periodic snapshot.
func (e *TaskExecutor) appendStep(ctx context.Context, step core.TaskStep) error {
	ev, err := core.NewEvent(e.task.ID, core.EventStepAppended, core.StepAppendedPayload{Step: step})
	if err != nil {
		return err
	}
	if err := e.Emit(ctx, ev); err != nil {
		return err
	}

	e.mu.Lock()
	e.task.Steps = append(e.task.Steps, step)
	e.task.UpdatedAt = time.Now().UTC()
	e.stepsSinceSnap++
	due := e.opts.SnapshotEvery > 0 && e.stepsSinceSnap >= e.opts.SnapshotEvery
	if due {
		e.stepsSinceSnap = 0
	}
	e.mu.Unlock()

	if due {
		return e.Snapshot(ctx)
	}
	return nil
}

// settle maps a step error to the task's final status: cancellation and
// persistence failures pause, everything else fails with the error persisted.
func (e *TaskExecutor) settle(ctx context.Context, cause error) error {
	// The cancelled context must not stop the status from being recorded.
	ctx = context.WithoutCancel(ctx)

	if errors.Is(cause, context.Canceled) || errors.Is(cause, context.DeadlineExceeded) {
		e.opts.Logger.Info("executor.paused", "task_id", e.task.ID, "reason", "cancelled")
		return e.setStatus(ctx, core.TaskPaused, e.currentAgent, "cancelled")
	}
	if errors.Is(cause, ErrPersistence) {
		e.opts.Logger.Error("executor.paused", "task_id", e.task.ID, "error", cause)
		if err := e.setStatus(ctx, core.TaskPaused, e.currentAgent, cause.Error()); err != nil {
			e.opts.Logger.Error("executor.pause_record_failed", "task_id", e.task.ID, "error", err)
		}
		return cause
	}

	e.opts.Logger.Error("executor.failed", "task_id", e.task.ID, "error", cause)
	if err := e.setStatus(ctx, core.TaskFailed, e.currentAgent, cause.Error()); err != nil {
		e.opts.Logger.Error("executor.fail_record_failed", "task_id", e.task.ID, "error", err)
	}
	return cause
}

// setStatus transitions the task and records the transition event plus a
// fresh snapshot.
func (e *TaskExecutor) setStatus(ctx context.Context, status core.TaskStatus, agentName, reason string) error {
	ev, err := core.NewEvent(e.task.ID, core.EventTaskStatus, core.TaskStatusPayload{
		Status: status,
		Agent:  agentName,
		Reason: reason,
	})
	if err != nil {
		return err
	}
	if err := e.Emit(ctx, ev); err != nil {
		return err
	}
	e.mu.Lock()
	e.task.Status = status
	e.task.UpdatedAt = time.Now().UTC()
	e.mu.Unlock()
	return e.Snapshot(ctx)
}

func (e *TaskExecutor) acquire() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrAlreadyRunning
	}
	if e.task.Status.Terminal() {
		return fmt.Errorf("%w: %s", ErrTaskTerminal, e.task.Status)
	}
	e.running = true
	return nil
}

func (e *TaskExecutor) release() {
	e.mu.Lock()
	e.running = false
	e.mu.Unlock()
}

func (e *TaskExecutor) lastStep() *core.TaskStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.task.Steps) == 0 {
		return nil
	}
	last := e.task.Steps[len(e.task.Steps)-1]
	return &last
}

func (e *TaskExecutor) history() []core.TaskStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]core.TaskStep(nil), e.task.Steps...)
}

func (e *TaskExecutor) lastSeqLocked() uint64 {
	if len(e.task.Steps) == 0 {
		return 0
	}
	return e.task.Steps[len(e.task.Steps)-1].Seq
}

func (e *TaskExecutor) nextSeq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeqLocked() + 1
}
