package agent

import (
	"errors"
	"fmt"

	"github.com/hupe1980/taskmesh/brain"
	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
	"github.com/hupe1980/taskmesh/tool"
)

var (
	// ErrCorrectionsExhausted signals the bounded self-correction loop gave up
	// after the configured number of invalid tool calls. Not retryable.
	ErrCorrectionsExhausted = errors.New("tool call corrections exhausted")
	// ErrToolRoundsExceeded signals a runaway call-result loop. Not retryable.
	ErrToolRoundsExceeded = errors.New("tool rounds exceeded")
)

// Dispatcher mediates tool calls on behalf of an agent. The orchestrator
// implements it; tests substitute fakes.
type Dispatcher interface {
	// RequestToolExecution validates and (when valid) executes one call.
	RequestToolExecution(rc *core.RunContext, call core.ToolCall) (core.ToolResult, error)
	// Definitions lists the callable tools for exposure to the brain.
	Definitions() []core.ToolDefinition
}

// Options configures an Agent.
type Options struct {
	// Description documents the agent's purpose for team introspection.
	Description string
	// Instructions is the standing system prompt handed to the brain.
	Instructions string
	// MaxCorrections bounds consecutive re-asks after invalid tool calls.
	MaxCorrections int
	// MaxToolRounds bounds call-result cycles within one invocation.
	MaxToolRounds int
	// MemoryBudget is the approximate token allowance for relevant context.
	MemoryBudget int
	// Stream requests incremental drafts from the brain.
	Stream bool
	// Logger receives loop diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
}

// Agent wraps a brain with the capability-call loop. One Execute call
// produces exactly one task step containing everything the agent did: text,
// tool calls, and their results. Agents hold no per-task state; everything
// flows through the RunContext and the step history.
type Agent struct {
	name       string
	brain      brain.Brain
	dispatcher Dispatcher
	opts       Options
}

// New constructs an Agent named name around b, dispatching through d.
func New(name string, b brain.Brain, d Dispatcher, optFns ...func(o *Options)) *Agent {
	opts := Options{
		Description:    fmt.Sprintf("Agent %s", name),
		MaxCorrections: 3,
		MaxToolRounds:  8,
		MemoryBudget:   2048,
		Stream:         true,
		Logger:         logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Agent{name: name, brain: b, dispatcher: d, opts: opts}
}

// Name returns the agent's routing name.
func (a *Agent) Name() string { return a.name }

// Description returns the agent's purpose description.
func (a *Agent) Description() string { return a.opts.Description }

// Execute runs one reasoning invocation over the step history and returns the
// resulting step with the given sequence number. Validation failures are fed
// back to the brain up to MaxCorrections times; exhaustion returns
// ErrCorrectionsExhausted alongside the partial step.
func (a *Agent) Execute(rc *core.RunContext, history []core.TaskStep, seq uint64) (core.TaskStep, error) {
	logger := a.opts.Logger
	logger.Debug("agent.execute.start", "agent", a.name, "task_id", rc.TaskID, "seq", seq)

	conversation := append([]core.TaskStep(nil), history...)
	var stepParts []core.Part
	corrections := 0

	for round := 0; ; round++ {
		if round >= a.opts.MaxToolRounds {
			return a.finish(rc, seq, stepParts), fmt.Errorf("agent %s: %w", a.name, ErrToolRoundsExceeded)
		}
		if err := rc.Err(); err != nil {
			return core.TaskStep{}, err
		}

		mem := a.relevantContext(rc)
		draft, err := a.draft(rc, conversation, mem)
		if err != nil {
			return core.TaskStep{}, err
		}
		stepParts = append(stepParts, draft...)

		calls := callsIn(draft)
		if len(calls) == 0 {
			return a.finish(rc, seq, stepParts), nil
		}

		conversation = append(conversation, core.NewTaskStep(a.name, seq, draft...))

		var results []core.Part
		invalid := false
		for _, call := range calls {
			result, err := a.dispatcher.RequestToolExecution(rc, call)
			if err != nil {
				return core.TaskStep{}, fmt.Errorf("dispatch %s: %w", call.Name, err)
			}
			if result.Failed() && result.Code == tool.CodeValidation {
				invalid = true
			}
			results = append(results, core.ToolResultPart{Result: result})
		}
		stepParts = append(stepParts, results...)
		conversation = append(conversation, core.NewTaskStep(a.name, seq, results...))

		if invalid {
			corrections++
			logger.Warn("agent.correction.requested",
				"agent", a.name, "task_id", rc.TaskID, "attempt", corrections)
			if corrections > a.opts.MaxCorrections {
				logger.Error("agent.correction.exhausted", "agent", a.name, "task_id", rc.TaskID)
				return a.finish(rc, seq, stepParts), fmt.Errorf("agent %s: %w", a.name, ErrCorrectionsExhausted)
			}
			continue
		}

		// A successful handoff ends the invocation; the orchestrator reads the
		// call from the finished step to transfer control.
		for _, call := range calls {
			if _, ok := tool.HandoffTarget(call); ok {
				return a.finish(rc, seq, stepParts), nil
			}
		}
	}
}

// relevantContext queries memory, degrading to an empty context with a
// warning so an unavailable backend never stops the task.
func (a *Agent) relevantContext(rc *core.RunContext) core.RelevantContext {
	mem, err := rc.RelevantContext(rc.Goal, a.opts.MemoryBudget)
	if err != nil {
		a.opts.Logger.Warn("agent.memory.unavailable",
			"agent", a.name, "task_id", rc.TaskID, "error", err)
		return core.RelevantContext{}
	}
	return mem
}

// draft runs one brain generation, forwarding streamed increments as draft
// events, and returns the final parts.
func (a *Agent) draft(rc *core.RunContext, conversation []core.TaskStep, mem core.RelevantContext) ([]core.Part, error) {
	req := brain.Request{
		Instructions: a.opts.Instructions,
		Steps:        conversation,
		Memory:       mem,
		Tools:        a.dispatcher.Definitions(),
		Stream:       a.opts.Stream,
	}

	respCh, errCh := a.brain.Generate(rc.Context, req)
	var final []core.Part
	for resp := range respCh {
		if resp.Partial {
			if err := a.emitDelta(rc, resp); err != nil {
				return nil, err
			}
			continue
		}
		final = resp.Parts
	}
	if err := <-errCh; err != nil {
		return nil, fmt.Errorf("brain %s: %w", a.brain.Info().Name, err)
	}

	ev, err := core.NewEvent(rc.TaskID, core.EventAgentDraft, core.AgentDraftPayload{
		Agent: a.name,
		Final: true,
	})
	if err != nil {
		return nil, err
	}
	if err := rc.EmitEvent(ev); err != nil {
		return nil, fmt.Errorf("emit final draft: %w", err)
	}
	return final, nil
}

func (a *Agent) emitDelta(rc *core.RunContext, resp brain.Response) error {
	var delta string
	for _, p := range resp.Parts {
		if tp, ok := p.(core.TextPart); ok {
			delta += tp.Text
		}
	}
	if delta == "" {
		return nil
	}
	ev, err := core.NewEvent(rc.TaskID, core.EventAgentDraft, core.AgentDraftPayload{
		Agent:     a.name,
		TextDelta: delta,
	})
	if err != nil {
		return err
	}
	return rc.EmitEvent(ev)
}

func (a *Agent) finish(rc *core.RunContext, seq uint64, parts []core.Part) core.TaskStep {
	a.opts.Logger.Debug("agent.execute.done",
		"agent", a.name, "task_id", rc.TaskID, "seq", seq, "parts", len(parts))
	return core.NewTaskStep(a.name, seq, parts...)
}

func callsIn(parts []core.Part) []core.ToolCall {
	var calls []core.ToolCall
	for _, p := range parts {
		if tc, ok := p.(core.ToolCallPart); ok {
			calls = append(calls, tc.Call)
		}
	}
	return calls
}
