// Package taskmesh provides a high-level façade over the task executor,
// orchestrator, workspace and synthesis engine, enabling rapid construction
// of multi-agent task systems. Most applications interact with this package
// by:
//  1. Creating a TaskMesh via New() (optionally overriding default in-memory services)
//  2. Registering tools and agents, then wiring the team (entry + transitions)
//  3. Creating a task and driving it (Run for autonomous, Step for interactive)
//
// All defaults are safe for local development and testing; production
// deployments supply a file-backed workspace, a durable memory backend and a
// structured logger.
package taskmesh

import (
	"context"
	"sync"

	"github.com/hupe1980/taskmesh/agent"
	"github.com/hupe1980/taskmesh/brain"
	"github.com/hupe1980/taskmesh/bus"
	"github.com/hupe1980/taskmesh/config"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/executor"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/memory"
	"github.com/hupe1980/taskmesh/orchestrator"
	"github.com/hupe1980/taskmesh/tool"
	"github.com/hupe1980/taskmesh/workspace"
)

// Options configures the TaskMesh instance.
type Options struct {
	// Workspace is the durable task store; defaults to in-memory.
	Workspace core.Workspace
	// Bus carries lifecycle events; defaults to the in-process bus.
	Bus core.EventBus
	// MemoryBackend persists synthesized memory; defaults to in-memory.
	MemoryBackend core.MemoryBackend
	// Logger is shared across all components. Defaults to NoOpLogger.
	Logger logging.Logger
	// Env tunes retries, budgets and timeouts; nil loads TASKMESH_* from the
	// environment (struct-tag defaults apply for unset variables).
	Env *config.Env
}

// TaskMesh aggregates the coordination core: one orchestrator and tool
// registry shared by all tasks, one synthesis engine watching every created
// task, and a task executor per task.
type TaskMesh struct {
	opts      Options
	registry  *tool.Registry
	toolExec  *tool.Executor
	orch      *orchestrator.Orchestrator
	synthesis *memory.SynthesisEngine
	memSvc    *memory.Service

	mu        sync.Mutex
	agents    map[string]*agent.Agent
	tasks     map[string]*core.Task
	executors map[string]*executor.TaskExecutor
}

// New creates a TaskMesh with optional overrides. Any unset service is
// initialized with an in-memory implementation; the built-in handoff and
// artifact tools are always registered.
func New(optFns ...func(o *Options)) *TaskMesh {
	opts := Options{
		Logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Env == nil {
		opts.Env = config.MustLoadEnv()
	}
	if opts.Workspace == nil {
		opts.Workspace = workspace.NewInMemoryWorkspace()
	}
	if opts.Bus == nil {
		opts.Bus = bus.New(func(o *bus.Options) { o.Logger = opts.Logger })
	}
	if opts.MemoryBackend == nil {
		opts.MemoryBackend = memory.NewInMemoryBackend()
	}

	registry := tool.NewRegistry(
		tool.NewHandoffTool(),
		tool.NewWriteArtifactTool(),
		tool.NewReadArtifactTool(),
	)
	toolExec := tool.NewExecutor(registry, func(o *tool.ExecutorOptions) {
		o.Logger = opts.Logger
		o.CallTimeout = opts.Env.ToolTimeout
	})
	orch := orchestrator.New(toolExec, func(o *orchestrator.Options) {
		o.Logger = opts.Logger
	})
	synthesis := memory.NewSynthesisEngine(opts.MemoryBackend, opts.Bus, func(o *memory.SynthesisOptions) {
		o.Logger = opts.Logger
		o.ChunkSize = opts.Env.ChunkSize
		o.ChunkOverlap = opts.Env.ChunkOverlap
		o.BufferSize = opts.Env.EventBufferLen
	})
	memSvc := memory.NewService(opts.MemoryBackend, func(o *memory.ServiceOptions) {
		o.Logger = opts.Logger
		o.SearchTopK = opts.Env.SearchTopK
	})

	return &TaskMesh{
		opts:      opts,
		registry:  registry,
		toolExec:  toolExec,
		orch:      orch,
		synthesis: synthesis,
		memSvc:    memSvc,
		agents:    make(map[string]*agent.Agent),
		tasks:     make(map[string]*core.Task),
		executors: make(map[string]*executor.TaskExecutor),
	}
}

// RegisterTool adds a capability callable by every agent.
func (m *TaskMesh) RegisterTool(t tool.Tool) { m.registry.Register(t) }

// RegisterAgent creates an agent around b, wires it into the orchestrator and
// returns it. The first registered agent becomes the entry agent.
func (m *TaskMesh) RegisterAgent(name string, b brain.Brain, optFns ...func(o *agent.Options)) *agent.Agent {
	fns := append([]func(o *agent.Options){func(o *agent.Options) {
		o.Logger = m.opts.Logger
		o.MaxCorrections = m.opts.Env.MaxCorrections
		o.MaxToolRounds = m.opts.Env.MaxToolRounds
		o.MemoryBudget = m.opts.Env.ContextBudget
	}}, optFns...)
	a := agent.New(name, b, m.orch, fns...)

	m.mu.Lock()
	m.agents[name] = a
	m.mu.Unlock()
	m.orch.RegisterAgent(name)
	return a
}

// SetEntryAgent designates the agent handling the first step of every task.
func (m *TaskMesh) SetEntryAgent(name string) { m.orch.SetEntry(name) }

// SetTransition installs a default-transition rule between two agents.
func (m *TaskMesh) SetTransition(from, to string) { m.orch.SetTransition(from, to) }

// CreateTask creates a pending task and starts synthesizing its memory.
func (m *TaskMesh) CreateTask(goal string) *core.Task {
	task := core.NewTask(goal)
	m.mu.Lock()
	m.tasks[task.ID] = task
	m.mu.Unlock()
	m.synthesis.Watch(task.ID)
	return task
}

// SubmitMessage records a user message on the task.
func (m *TaskMesh) SubmitMessage(ctx context.Context, taskID, text string) error {
	exec, err := m.executorFor(ctx, taskID)
	if err != nil {
		return err
	}
	return exec.SubmitMessage(ctx, text)
}

// Run drives the task autonomously until it completes, fails, or pauses.
func (m *TaskMesh) Run(ctx context.Context, taskID string) error {
	exec, err := m.executorFor(ctx, taskID)
	if err != nil {
		return err
	}
	return exec.Run(ctx)
}

// Step drives exactly one routing+agent cycle of the task.
func (m *TaskMesh) Step(ctx context.Context, taskID string) error {
	exec, err := m.executorFor(ctx, taskID)
	if err != nil {
		return err
	}
	return exec.Step(ctx)
}

// Pause suspends a task explicitly.
func (m *TaskMesh) Pause(ctx context.Context, taskID string) error {
	exec, err := m.executorFor(ctx, taskID)
	if err != nil {
		return err
	}
	return exec.Pause(ctx)
}

// Resume discards the cached executor and rebuilds one from the workspace,
// then drives the task. Snapshot restore and log replay must agree, so a
// resumed task continues from exactly where the log says it stopped.
func (m *TaskMesh) Resume(ctx context.Context, taskID string) error {
	m.mu.Lock()
	delete(m.executors, taskID)
	m.mu.Unlock()
	m.synthesis.Watch(taskID)
	return m.Run(ctx, taskID)
}

// Task returns the current projection of a task.
func (m *TaskMesh) Task(ctx context.Context, taskID string) (core.Task, error) {
	exec, err := m.executorFor(ctx, taskID)
	if err != nil {
		return core.Task{}, err
	}
	return exec.Task(), nil
}

// Events returns a task's full ordered event log.
func (m *TaskMesh) Events(ctx context.Context, taskID string) ([]core.Event, error) {
	return m.opts.Workspace.Events(ctx, taskID)
}

// Subscribe streams a task's events as they are published. Callers must
// Unsubscribe with the returned id when done.
func (m *TaskMesh) Subscribe(taskID string) (string, <-chan core.Event) {
	return m.opts.Bus.Subscribe(taskID, m.opts.Env.EventBufferLen)
}

// Unsubscribe removes a bus subscription.
func (m *TaskMesh) Unsubscribe(id string) { m.opts.Bus.Unsubscribe(id) }

// DrainMemory blocks until the synthesis engine has processed every event
// published so far. Useful between a write and a read that must see it.
func (m *TaskMesh) DrainMemory(ctx context.Context) error {
	return m.synthesis.Drain(ctx)
}

// RelevantContext exposes memory retrieval for inspection and tooling.
func (m *TaskMesh) RelevantContext(ctx context.Context, taskID, query string) (core.RelevantContext, error) {
	return m.memSvc.RelevantContext(ctx, taskID, query, m.opts.Env.ContextBudget)
}

// Close tears down the synthesis engine and the bus.
func (m *TaskMesh) Close() {
	m.synthesis.Close()
	m.opts.Bus.Close()
}

func (m *TaskMesh) executorFor(ctx context.Context, taskID string) (*executor.TaskExecutor, error) {
	m.mu.Lock()
	if exec, ok := m.executors[taskID]; ok {
		m.mu.Unlock()
		return exec, nil
	}
	task, ok := m.tasks[taskID]
	if !ok {
		// Unknown in this process: rebuild the projection from the workspace.
		task = &core.Task{ID: taskID, Status: core.TaskPending}
		m.tasks[taskID] = task
	}
	workers := make([]executor.Worker, 0, len(m.agents))
	for _, a := range m.agents {
		workers = append(workers, a)
	}
	m.mu.Unlock()

	exec, err := executor.New(ctx, task, m.opts.Workspace, m.opts.Bus, m.orch, workers,
		func(o *executor.Options) {
			o.Logger = m.opts.Logger
			o.Memory = m.memSvc
			o.MaxRetries = m.opts.Env.MaxRetries
			o.RetryInitial = m.opts.Env.RetryInitial
			o.RetryFactor = m.opts.Env.RetryFactor
			o.RetryMax = m.opts.Env.RetryMax
			o.SnapshotEvery = m.opts.Env.SnapshotEvery
			o.StepTimeout = m.opts.Env.StepTimeout
		})
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.executors[taskID] = exec
	m.mu.Unlock()
	return exec, nil
}
