// Package bus provides the in-process event bus carrying task lifecycle
// events between the executor, the workspace and the synthesis engine.
package bus

import (
	"sync"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/logging"
)

// subscription is one task-scoped delivery channel.
type subscription struct {
	id     string
	taskID string
	ch     chan core.Event
}

// InProcessBus implements core.EventBus with per-task-scoped subscriptions.
// Publish fans an event out to every subscriber of its task in call order, so
// a subscriber draining its channel from a single goroutine observes the
// task's causal order. Delivery blocks when a subscriber's buffer is full
// rather than dropping, preserving at-least-once semantics; size buffers for
// the expected event volume.
type InProcessBus struct {
	mu     sync.RWMutex
	subs   map[string]*subscription
	closed bool
	logger logging.Logger
}

// Options configures an InProcessBus.
type Options struct {
	Logger logging.Logger
}

// New creates an empty bus.
func New(optFns ...func(o *Options)) *InProcessBus {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InProcessBus{subs: map[string]*subscription{}, logger: opts.Logger}
}

// Subscribe implements core.EventBus.
func (b *InProcessBus) Subscribe(taskID string, bufSize int) (string, <-chan core.Event) {
	if bufSize <= 0 {
		bufSize = 64
	}
	sub := &subscription{
		id:     core.NewOrderedID(),
		taskID: taskID,
		ch:     make(chan core.Event, bufSize),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub.id, sub.ch
	}
	b.subs[sub.id] = sub
	b.logger.Debug("bus.subscribe", "subscription_id", sub.id, "task_id", taskID)
	return sub.id, sub.ch
}

// Unsubscribe implements core.EventBus.
func (b *InProcessBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish implements core.EventBus. Events are delivered only to
// subscriptions scoped to ev.TaskID.
func (b *InProcessBus) Publish(ev core.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, sub := range b.subs {
		if sub.taskID != ev.TaskID {
			continue
		}
		sub.ch <- ev
	}
}

// Close tears down all subscriptions; subsequent publishes are no-ops.
func (b *InProcessBus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}
