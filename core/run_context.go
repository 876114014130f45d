package core

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/logging"
)

// EventSink accepts events produced during an agent invocation. The executor
// implements it by persisting to the workspace before publishing on the bus,
// so EmitEvent returning nil doubles as the persistence acknowledgment.
type EventSink interface {
	Emit(ctx context.Context, ev Event) error
}

// RunContext carries the per-invocation execution scope handed to an agent:
// the ambient cancellation context, identifiers, the workspace and memory
// services, and the event sink for streamed increments. A fresh RunContext is
// built for every agent invocation; agents are stateless across steps except
// for what they read back through these services.
type RunContext struct {
	Context   context.Context
	TaskID    string
	Goal      string
	Agent     string
	Sink      EventSink
	Workspace Workspace
	Memory    MemoryService
	Logger    logging.Logger
}

// NewRunContext constructs a RunContext; a nil logger is replaced by the
// no-op logger so call sites never nil-check.
func NewRunContext(
	ctx context.Context,
	taskID, goal, agent string,
	sink EventSink,
	ws Workspace,
	mem MemoryService,
	logger logging.Logger,
) *RunContext {
	if logger == nil {
		logger = logging.NoOpLogger{}
	}
	return &RunContext{
		Context:   ctx,
		TaskID:    taskID,
		Goal:      goal,
		Agent:     agent,
		Sink:      sink,
		Workspace: ws,
		Memory:    mem,
		Logger:    logger,
	}
}

// Done mirrors context.Context's Done.
func (rc *RunContext) Done() <-chan struct{} { return rc.Context.Done() }

// Err returns the cancellation error (if any) from the underlying context.
func (rc *RunContext) Err() error { return rc.Context.Err() }

// EmitEvent persists and publishes ev through the sink. Returning nil means
// the event is durably recorded.
func (rc *RunContext) EmitEvent(ev Event) error {
	if rc.Sink == nil {
		return fmt.Errorf("event sink not configured")
	}
	return rc.Sink.Emit(rc.Context, ev)
}

// RelevantContext queries the memory service under the given budget. A nil
// memory service degrades to an empty context so tasks keep running when the
// backend is unavailable.
func (rc *RunContext) RelevantContext(query string, budget int) (RelevantContext, error) {
	if rc.Memory == nil {
		return RelevantContext{}, nil
	}
	return rc.Memory.RelevantContext(rc.Context, rc.TaskID, query, budget)
}

// SaveArtifact writes a new artifact version and emits the corresponding
// artifact-write event, preserving the one-write-one-event invariant.
func (rc *RunContext) SaveArtifact(name string, data []byte) (ArtifactVersion, error) {
	if rc.Workspace == nil {
		return ArtifactVersion{}, fmt.Errorf("workspace not configured")
	}
	ver, err := rc.Workspace.PutArtifact(rc.Context, rc.TaskID, name, data)
	if err != nil {
		return ArtifactVersion{}, err
	}
	ev, err := NewEvent(rc.TaskID, EventArtifactWrite, ArtifactWritePayload{
		Name:      ver.Name,
		Version:   ver.Version,
		ContentID: ver.ContentID,
		Content:   string(ver.Data),
	})
	if err != nil {
		return ArtifactVersion{}, err
	}
	if err := rc.EmitEvent(ev); err != nil {
		return ArtifactVersion{}, err
	}
	return ver, nil
}
