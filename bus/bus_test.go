package bus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func TestSubscriptionsAreTaskScoped(t *testing.T) {
	b := New()
	defer b.Close()

	_, chA := b.Subscribe("task-a", 8)
	_, chB := b.Subscribe("task-b", 8)

	b.Publish(core.MustEvent("task-a", core.EventUserMessage, core.UserMessagePayload{Text: "for a"}))

	select {
	case ev := <-chA:
		assert.Equal(t, "task-a", ev.TaskID)
	case <-time.After(time.Second):
		t.Fatal("subscriber for task-a received nothing")
	}

	select {
	case ev := <-chB:
		t.Fatalf("task-b subscriber observed foreign event %s", ev.ID)
	default:
	}
}

func TestPublishPreservesOrder(t *testing.T) {
	b := New()
	defer b.Close()

	_, ch := b.Subscribe("task-1", 16)

	var ids []string
	for i := 0; i < 10; i++ {
		ev := core.MustEvent("task-1", core.EventAgentDraft, core.AgentDraftPayload{Agent: "a"})
		ids = append(ids, ev.ID)
		b.Publish(ev)
	}

	for i := 0; i < 10; i++ {
		select {
		case ev := <-ch:
			assert.Equal(t, ids[i], ev.ID, "delivery must preserve publish order")
		case <-time.After(time.Second):
			t.Fatalf("missing event %d", i)
		}
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	b := New()
	defer b.Close()

	id, ch := b.Subscribe("task-1", 1)
	b.Unsubscribe(id)

	_, ok := <-ch
	assert.False(t, ok, "channel must be closed after unsubscribe")

	// Publishing after unsubscribe must not panic.
	b.Publish(core.MustEvent("task-1", core.EventUserMessage, core.UserMessagePayload{Text: "late"}))
}

func TestCloseTearsDownAllSubscriptions(t *testing.T) {
	b := New()
	_, ch1 := b.Subscribe("task-1", 1)
	_, ch2 := b.Subscribe("task-2", 1)
	b.Close()

	_, ok1 := <-ch1
	_, ok2 := <-ch2
	require.False(t, ok1)
	require.False(t, ok2)

	// Subscribing after close yields a closed channel.
	_, ch3 := b.Subscribe("task-3", 1)
	_, ok3 := <-ch3
	assert.False(t, ok3)
}
