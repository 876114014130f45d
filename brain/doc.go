// Package brain defines the provider-agnostic reasoning abstractions used by
// agents to draft their next step.
//
// Core goals:
//   - Unify streaming + non-streaming generation behind a single interface
//   - Normalize tool call representation across vendors
//   - Carry synthesized memory (rules, chunks) into every request
//   - Facilitate deterministic scripting for tests (MockBrain)
//
// Providers (e.g. OpenAI, Anthropic) implement the Brain interface from this
// package so agents remain decoupled from vendor SDKs.
package brain
