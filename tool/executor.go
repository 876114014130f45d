package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// Registry holds the tools available to a team, keyed by name. Safe for
// concurrent use.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool under its name.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Get returns the named tool, or false when unknown.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists all registered tools sorted by name.
func (r *Registry) Definitions() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]core.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		defs = append(defs, Definition(t))
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// Logger receives execution diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// CallTimeout bounds a single tool call; zero disables the bound.
	CallTimeout time.Duration
}

// Executor runs registered tools against a run context, implementing
// core.ToolExecutor. Failures of every flavor (unknown tool, bad argument
// JSON, execution error, timeout, panic) surface as structured failure
// results so the calling agent always has something to reason about.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
}

var _ core.ToolExecutor = (*Executor)(nil)

// NewExecutor creates an Executor over the registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{registry: registry, opts: opts}
}

// Definition implements core.ToolExecutor.
func (e *Executor) Definition(name string) (core.ToolDefinition, bool) {
	t, ok := e.registry.Get(name)
	if !ok {
		return core.ToolDefinition{}, false
	}
	return Definition(t), true
}

// Definitions implements core.ToolExecutor.
func (e *Executor) Definitions() []core.ToolDefinition { return e.registry.Definitions() }

// Execute implements core.ToolExecutor. The call's arguments are decoded,
// the tool invoked under the configured timeout, and the outcome normalized
// into a core.ToolResult.
func (e *Executor) Execute(rc *core.RunContext, call core.ToolCall) core.ToolResult {
	t, ok := e.registry.Get(call.Name)
	if !ok {
		return failure(call, NewToolError(call.Name, "tool not registered", CodeNotFound))
	}

	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return failure(call, NewToolError(call.Name, fmt.Sprintf("invalid argument JSON: %v", err), CodeValidation))
		}
	}

	ctx := rc.Context
	if e.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
	}
	scoped := *rc
	scoped.Context = ctx

	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: NewToolError(call.Name, fmt.Sprintf("panic: %v", r), CodeExecution)}
			}
		}()
		result, err := t.Call(&scoped, args)
		done <- outcome{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		e.opts.Logger.Warn("tool.execute.timeout", "tool", call.Name, "task_id", rc.TaskID)
		return failure(call, NewToolError(call.Name, ctx.Err().Error(), CodeTimeout))
	case out := <-done:
		if out.err != nil {
			return failure(call, out.err)
		}
		return core.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Status: core.ToolResultSuccess,
			Output: out.result,
		}
	}
}

func failure(call core.ToolCall, err error) core.ToolResult {
	result := core.ToolResult{
		CallID: call.ID,
		Name:   call.Name,
		Status: core.ToolResultFailure,
		Error:  err.Error(),
	}
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		result.Code = toolErr.Code
	}
	return result
}
