package core

// EventBus carries lifecycle events between the executor, the workspace and
// the synthesis engine. Subscriptions are scoped to one task so concurrent
// tasks never observe each other's events; within a task, delivery preserves
// publish (causal) order and is at-least-once per subscriber.
type EventBus interface {
	// Publish delivers ev to every subscriber of ev.TaskID.
	Publish(ev Event)
	// Subscribe registers a buffered subscription for a task's events and
	// returns the subscription id plus the delivery channel. The channel is
	// closed by Unsubscribe or Close.
	Subscribe(taskID string, bufSize int) (string, <-chan Event)
	// Unsubscribe removes the subscription and closes its channel.
	Unsubscribe(id string)
	// Close tears down all subscriptions.
	Close()
}
