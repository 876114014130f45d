// Package orchestrator decides which agent acts next and mediates every tool
// call between agents and the tool executor. It owns no workspace state; all
// its observable behavior flows through routing-decision and tool events on
// the run context's sink.
package orchestrator

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/tool"
)

var (
	// ErrUnknownAgent signals a handoff or transition naming an unregistered agent.
	ErrUnknownAgent = errors.New("unknown agent")
	// ErrNoEntryAgent signals routing before any entry agent was configured.
	ErrNoEntryAgent = errors.New("no entry agent configured")
)

// Options configures an Orchestrator.
type Options struct {
	// Logger receives routing and dispatch diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Orchestrator holds the team shape (registered agents, entry agent, default
// transitions) and applies the routing rules: an explicit handoff tool call
// always beats the default-transition table, and a finished agent with no
// applicable rule completes the task.
type Orchestrator struct {
	executor core.ToolExecutor
	opts     Options

	mu          sync.RWMutex
	entry       string
	agents      map[string]struct{}
	transitions map[string]string
}

// New creates an Orchestrator dispatching through executor.
func New(executor core.ToolExecutor, optFns ...func(o *Options)) *Orchestrator {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Orchestrator{
		executor:    executor,
		opts:        opts,
		agents:      make(map[string]struct{}),
		transitions: make(map[string]string),
	}
}

// RegisterAgent makes an agent name routable. The first registered agent
// becomes the entry agent unless SetEntry overrides it.
func (o *Orchestrator) RegisterAgent(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.agents[name] = struct{}{}
	if o.entry == "" {
		o.entry = name
	}
}

// SetEntry designates the agent that handles the first step.
func (o *Orchestrator) SetEntry(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entry = name
}

// EntryAgent returns the configured entry agent name.
func (o *Orchestrator) EntryAgent() string {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.entry
}

// SetTransition installs a default-transition rule: when from finishes
// without an explicit handoff, control moves to to.
func (o *Orchestrator) SetTransition(from, to string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions[from] = to
}

func (o *Orchestrator) registered(name string) bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	_, ok := o.agents[name]
	return ok
}

// Definitions lists the tools agents may call, for exposure to brains.
func (o *Orchestrator) Definitions() []core.ToolDefinition { return o.executor.Definitions() }

// DecideNextStep applies the routing rules to the last completed step and
// emits the routing-decision event before returning. A nil last step routes
// to the entry agent. Explicit handoffs beat default transitions; a handoff
// to an unregistered agent is a routing error; no applicable rule completes
// the task.
func (o *Orchestrator) DecideNextStep(rc *core.RunContext, last *core.TaskStep) (core.RoutingDecision, error) {
	decision, err := o.decide(last)
	if err != nil {
		return core.RoutingDecision{}, err
	}

	o.opts.Logger.Debug("orchestrator.routing.decided",
		"task_id", rc.TaskID, "decision", decision.String())

	ev, err := core.NewEvent(rc.TaskID, core.EventRoutingDecision, core.RoutingPayload{Decision: decision})
	if err != nil {
		return core.RoutingDecision{}, err
	}
	if err := rc.EmitEvent(ev); err != nil {
		return core.RoutingDecision{}, fmt.Errorf("emit routing decision: %w", err)
	}
	return decision, nil
}

func (o *Orchestrator) decide(last *core.TaskStep) (core.RoutingDecision, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if last == nil || last.Author == "user" {
		if o.entry == "" {
			return core.RoutingDecision{}, ErrNoEntryAgent
		}
		return core.Continue(o.entry), nil
	}

	for _, call := range last.ToolCalls() {
		target, ok := tool.HandoffTarget(call)
		if !ok {
			continue
		}
		if _, registered := o.agents[target]; !registered {
			return core.RoutingDecision{}, fmt.Errorf("handoff to %q: %w", target, ErrUnknownAgent)
		}
		return core.Handoff(target), nil
	}

	// Table routing is the orchestrator's own choice, not an in-band handoff,
	// and the log keeps the two apart.
	if next, ok := o.transitions[last.Author]; ok {
		if _, registered := o.agents[next]; !registered {
			return core.RoutingDecision{}, fmt.Errorf("transition to %q: %w", next, ErrUnknownAgent)
		}
		return core.Continue(next), nil
	}

	return core.Complete(), nil
}

// RequestToolExecution validates a call against its schema and, only when
// valid, dispatches it. A schema violation is an outcome, not an error: the
// caller receives a structured failure result and a validation-failed event
// replaces the dispatch event. Errors are reserved for event persistence
// failures.
func (o *Orchestrator) RequestToolExecution(rc *core.RunContext, call core.ToolCall) (core.ToolResult, error) {
	if violation := o.validate(call); violation != "" {
		o.opts.Logger.Warn("orchestrator.dispatch.rejected",
			"task_id", rc.TaskID, "tool", call.Name, "error", violation)

		ev, err := core.NewEvent(rc.TaskID, core.EventToolValidationFailed, core.ToolValidationPayload{
			Agent: rc.Agent,
			Call:  call,
			Error: violation,
		})
		if err != nil {
			return core.ToolResult{}, err
		}
		if err := rc.EmitEvent(ev); err != nil {
			return core.ToolResult{}, fmt.Errorf("emit validation failure: %w", err)
		}
		return core.ToolResult{
			CallID: call.ID,
			Name:   call.Name,
			Status: core.ToolResultFailure,
			Error:  violation,
			Code:   tool.CodeValidation,
		}, nil
	}

	ev, err := core.NewEvent(rc.TaskID, core.EventToolDispatch, core.ToolDispatchPayload{
		Agent: rc.Agent,
		Call:  call,
	})
	if err != nil {
		return core.ToolResult{}, err
	}
	if err := rc.EmitEvent(ev); err != nil {
		return core.ToolResult{}, fmt.Errorf("emit tool dispatch: %w", err)
	}

	result := o.executor.Execute(rc, call)

	resultEv, err := core.NewEvent(rc.TaskID, core.EventToolResult, core.ToolResultPayload{
		Agent:  rc.Agent,
		Result: result,
	})
	if err != nil {
		return core.ToolResult{}, err
	}
	if err := rc.EmitEvent(resultEv); err != nil {
		return core.ToolResult{}, fmt.Errorf("emit tool result: %w", err)
	}
	return result, nil
}

// validate checks the call against the registered schema; the empty string
// means the call may be dispatched.
func (o *Orchestrator) validate(call core.ToolCall) string {
	def, ok := o.executor.Definition(call.Name)
	if !ok {
		return fmt.Sprintf("tool %q is not registered", call.Name)
	}
	args := map[string]any{}
	if len(call.Arguments) > 0 {
		if err := json.Unmarshal(call.Arguments, &args); err != nil {
			return fmt.Sprintf("invalid argument JSON: %v", err)
		}
	}
	if err := util.ValidateArguments(args, def.Parameters); err != nil {
		return err.Error()
	}
	return ""
}
