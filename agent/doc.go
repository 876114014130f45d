// Package agent implements the reasoning loop that turns a brain into a task
// participant: assemble relevant memory, draft (streaming increments as
// events), submit tool calls through the orchestrator, feed validation
// failures back for bounded self-correction, fold results, and finish with
// one immutable task step per invocation.
package agent
