// Package core defines the shared data model and service contracts of
// taskmesh: tasks and their append-only steps, lifecycle events, routing
// decisions, memory items and the Workspace / EventBus / MemoryService /
// ToolExecutor interfaces implemented by sibling packages.
//
// The package has no dependencies on concrete implementations so that any
// component (orchestrator, executor, synthesis engine) can be exercised
// against in-memory fakes in tests.
package core
