package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sourcegraph/conc"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// SynthesisOptions configures a SynthesisEngine.
type SynthesisOptions struct {
	// Logger receives processing diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// ChunkSize is the word-window size for artifact indexing.
	ChunkSize int
	// ChunkOverlap is the inter-chunk word overlap.
	ChunkOverlap int
	// BufferSize is the bus subscription buffer per watched task.
	BufferSize int
}

// SynthesisEngine consumes a task's event stream and maintains memory items
// in the backend: constraints from user messages, hot issues from failing
// tool results (cleared by later successes from the same tool), and document
// chunks from artifact writes. One goroutine per watched task processes
// events in publish order, so indexing lags the log but never reorders it.
type SynthesisEngine struct {
	backend core.MemoryBackend
	bus     core.EventBus
	opts    SynthesisOptions

	mu       sync.Mutex
	watchers map[string]*watcher
	closed   bool
	wg       conc.WaitGroup

	// chunkIDs remembers the chunk item IDs of the last indexed version per
	// artifact, so a rewrite can supersede them. Only the engine writes
	// chunks, which makes this bookkeeping authoritative.
	chunkIDs map[string]map[string][]string // taskID -> artifact -> item IDs
}

type watcher struct {
	taskID string
	subID  string
	ch     <-chan core.Event
	drainc chan chan struct{}
}

// NewSynthesisEngine creates an engine over backend and bus. Call Watch for
// each task whose events should be synthesized, and Close when done.
func NewSynthesisEngine(backend core.MemoryBackend, bus core.EventBus, optFns ...func(o *SynthesisOptions)) *SynthesisEngine {
	opts := SynthesisOptions{
		Logger:       logging.NoOpLogger{},
		ChunkSize:    200,
		ChunkOverlap: 20,
		BufferSize:   64,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &SynthesisEngine{
		backend:  backend,
		bus:      bus,
		opts:     opts,
		watchers: make(map[string]*watcher),
		chunkIDs: make(map[string]map[string][]string),
	}
}

// Watch starts synthesizing memory for a task. Watching an already watched
// task is a no-op.
func (e *SynthesisEngine) Watch(taskID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	if _, ok := e.watchers[taskID]; ok {
		return
	}
	subID, ch := e.bus.Subscribe(taskID, e.opts.BufferSize)
	w := &watcher{
		taskID: taskID,
		subID:  subID,
		ch:     ch,
		drainc: make(chan chan struct{}),
	}
	e.watchers[taskID] = w
	e.wg.Go(func() { e.run(w) })
}

// Unwatch stops synthesizing memory for a task. Items already saved remain
// in the backend.
func (e *SynthesisEngine) Unwatch(taskID string) {
	e.mu.Lock()
	w, ok := e.watchers[taskID]
	if ok {
		delete(e.watchers, taskID)
	}
	e.mu.Unlock()
	if ok {
		e.bus.Unsubscribe(w.subID) // closes w.ch, ending the run loop
	}
}

// Drain blocks until every event published before the call has been
// processed, or ctx expires. The bus buffers an event before Publish returns,
// so flushing each watcher's pending buffer is sufficient.
func (e *SynthesisEngine) Drain(ctx context.Context) error {
	e.mu.Lock()
	watchers := make([]*watcher, 0, len(e.watchers))
	for _, w := range e.watchers {
		watchers = append(watchers, w)
	}
	e.mu.Unlock()

	for _, w := range watchers {
		done := make(chan struct{})
		select {
		case w.drainc <- done:
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %w", w.taskID, ctx.Err())
		}
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("drain %s: %w", w.taskID, ctx.Err())
		}
	}
	return nil
}

// Close stops all watchers and waits for their processors to exit.
func (e *SynthesisEngine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	watchers := e.watchers
	e.watchers = make(map[string]*watcher)
	e.mu.Unlock()

	for _, w := range watchers {
		e.bus.Unsubscribe(w.subID)
	}
	e.wg.Wait()
}

func (e *SynthesisEngine) run(w *watcher) {
	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				return
			}
			e.process(ev)
		case done := <-w.drainc:
			open := e.flush(w)
			close(done)
			if !open {
				return
			}
		}
	}
}

// flush processes everything already buffered; false means the subscription
// channel closed underneath it.
func (e *SynthesisEngine) flush(w *watcher) bool {
	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				return false
			}
			e.process(ev)
		default:
			return true
		}
	}
}

func (e *SynthesisEngine) process(ev core.Event) {
	ctx := context.Background()
	var err error
	switch ev.Type {
	case core.EventUserMessage:
		err = e.onUserMessage(ctx, ev)
	case core.EventToolResult:
		err = e.onToolResult(ctx, ev)
	case core.EventArtifactWrite:
		err = e.onArtifactWrite(ctx, ev)
	}
	if err != nil {
		e.opts.Logger.Warn("memory.synthesis.failed", "task_id", ev.TaskID, "event_type", ev.Type, "error", err)
	}
}

func (e *SynthesisEngine) onUserMessage(ctx context.Context, ev core.Event) error {
	var payload core.UserMessagePayload
	if err := ev.Decode(&payload); err != nil {
		return err
	}
	items := extractConstraints(ev.TaskID, payload.Text)
	if len(items) == 0 {
		return nil
	}
	e.opts.Logger.Debug("memory.constraints.extracted", "task_id", ev.TaskID, "count", len(items))
	return e.backend.Save(ctx, items...)
}

func (e *SynthesisEngine) onToolResult(ctx context.Context, ev core.Event) error {
	var payload core.ToolResultPayload
	if err := ev.Decode(&payload); err != nil {
		return err
	}
	if payload.Result.Failed() {
		e.opts.Logger.Debug("memory.hot_issue.raised", "task_id", ev.TaskID, "tool", payload.Result.Name)
		return e.backend.Save(ctx, hotIssueFromResult(ev.TaskID, payload.Result))
	}

	// A success clears every active hot issue raised by the same tool.
	rules, err := e.backend.ActiveRules(ctx, ev.TaskID)
	if err != nil {
		return err
	}
	for _, rule := range rules {
		if rule.Kind == core.MemoryHotIssue && rule.Source == payload.Result.Name {
			if err := e.backend.Deactivate(ctx, ev.TaskID, rule.ID); err != nil {
				return err
			}
			e.opts.Logger.Debug("memory.hot_issue.cleared", "task_id", ev.TaskID, "tool", payload.Result.Name)
		}
	}
	return nil
}

func (e *SynthesisEngine) onArtifactWrite(ctx context.Context, ev core.Event) error {
	var payload core.ArtifactWritePayload
	if err := ev.Decode(&payload); err != nil {
		return err
	}

	items := chunksFromArtifact(ev.TaskID, payload.Name, payload.Content, e.opts.ChunkSize, e.opts.ChunkOverlap)
	if err := e.backend.Save(ctx, items...); err != nil {
		return err
	}

	// Supersede the chunks of the previous version.
	e.mu.Lock()
	byArtifact := e.chunkIDs[ev.TaskID]
	if byArtifact == nil {
		byArtifact = make(map[string][]string)
		e.chunkIDs[ev.TaskID] = byArtifact
	}
	previous := byArtifact[payload.Name]
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	byArtifact[payload.Name] = ids
	e.mu.Unlock()

	for _, id := range previous {
		if err := e.backend.Deactivate(ctx, ev.TaskID, id); err != nil {
			return err
		}
	}
	e.opts.Logger.Debug("memory.artifact.indexed", "task_id", ev.TaskID, "artifact", payload.Name, "chunks", len(items))
	return nil
}
