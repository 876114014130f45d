package core

import "fmt"

// RoutingKind discriminates the closed set of routing outcomes.
type RoutingKind string

const (
	// RouteContinue keeps control with the named agent.
	RouteContinue RoutingKind = "continue"
	// RouteHandoff transfers control to the named agent in response to an
	// explicit in-band handoff signal.
	RouteHandoff RoutingKind = "handoff"
	// RouteComplete finalizes the task; no agent receives control.
	RouteComplete RoutingKind = "complete"
)

// RoutingDecision is the orchestrator's answer to "what next?". Handoff and
// Continue name a target agent; Complete does not. Modeled as a closed tagged
// value rather than free text so downstream code never string-matches prose.
type RoutingDecision struct {
	Kind  RoutingKind `json:"kind"`
	Agent string      `json:"agent,omitempty"`
}

// Continue routes the next step to agent without a handoff signal.
func Continue(agent string) RoutingDecision {
	return RoutingDecision{Kind: RouteContinue, Agent: agent}
}

// Handoff routes the next step to agent because of an explicit handoff call.
func Handoff(agent string) RoutingDecision {
	return RoutingDecision{Kind: RouteHandoff, Agent: agent}
}

// Complete finalizes the task.
func Complete() RoutingDecision { return RoutingDecision{Kind: RouteComplete} }

// IsComplete reports whether the decision terminates the task.
func (d RoutingDecision) IsComplete() bool { return d.Kind == RouteComplete }

// String renders the decision for logs and errors.
func (d RoutingDecision) String() string {
	if d.IsComplete() {
		return "complete"
	}
	return fmt.Sprintf("%s(%s)", d.Kind, d.Agent)
}
