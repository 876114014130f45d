package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// Sink is an in-memory core.EventSink collecting everything emitted.
type Sink struct {
	mu     sync.Mutex
	events []core.Event
	// Err, when set, is returned by Emit to simulate persistence failure.
	Err error
}

// Emit implements core.EventSink.
func (s *Sink) Emit(_ context.Context, ev core.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return s.Err
	}
	s.events = append(s.events, ev)
	return nil
}

// Events returns a copy of everything emitted so far.
func (s *Sink) Events() []core.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Event(nil), s.events...)
}

// ByType filters emitted events by type.
func (s *Sink) ByType(typ core.EventType) []core.Event {
	var out []core.Event
	for _, ev := range s.Events() {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

// Types returns the event types in emit order.
func (s *Sink) Types() []core.EventType {
	events := s.Events()
	out := make([]core.EventType, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.Type)
	}
	return out
}
