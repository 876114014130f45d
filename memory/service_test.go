package memory

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/taskmesh/core"
)

func seedItem(kind core.MemoryKind, taskID, content string) core.MemoryItem {
	return core.MemoryItem{
		ID:        core.NewID(),
		TaskID:    taskID,
		Kind:      kind,
		Content:   content,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}
}

func TestRelevantContextRulesAlwaysIncluded(t *testing.T) {
	backend := NewInMemoryBackend()
	taskID := "task-1"

	// A rule set that alone exceeds the budget must still come back whole.
	rule := seedItem(core.MemoryConstraint, taskID, strings.Repeat("always review the diff ", 20))
	chunk := seedItem(core.MemoryChunk, taskID, "supporting detail about the diff")
	require.NoError(t, backend.Save(context.Background(), rule, chunk))

	svc := NewService(backend)
	mem, err := svc.RelevantContext(context.Background(), taskID, "diff", 10)
	require.NoError(t, err)

	require.Len(t, mem.Rules, 1)
	assert.Equal(t, rule.Content, mem.Rules[0].Content)
	assert.Empty(t, mem.Chunks, "chunks give way when rules exhaust the budget")
}

func TestRelevantContextChunksFillRemainingBudget(t *testing.T) {
	backend := NewInMemoryBackend()
	taskID := "task-2"

	rule := seedItem(core.MemoryConstraint, taskID, "Never force-push.")
	small := seedItem(core.MemoryChunk, taskID, "release checklist intro")
	big := seedItem(core.MemoryChunk, taskID, strings.Repeat("release checklist entry ", 100))
	require.NoError(t, backend.Save(context.Background(), rule, small, big))

	svc := NewService(backend)
	mem, err := svc.RelevantContext(context.Background(), taskID, "release checklist", 100)
	require.NoError(t, err)

	require.Len(t, mem.Rules, 1)
	require.Len(t, mem.Chunks, 1, "the oversized chunk is dropped, not the rule")
	assert.Equal(t, small.Content, mem.Chunks[0].Content)
}

func TestRelevantContextUnlimitedBudget(t *testing.T) {
	backend := NewInMemoryBackend()
	taskID := "task-3"

	require.NoError(t, backend.Save(context.Background(),
		seedItem(core.MemoryConstraint, taskID, "Always use tabs."),
		seedItem(core.MemoryChunk, taskID, strings.Repeat("long chunk ", 500)),
	))

	svc := NewService(backend)
	mem, err := svc.RelevantContext(context.Background(), taskID, "chunk", 0)
	require.NoError(t, err)
	assert.Len(t, mem.Rules, 1)
	assert.Len(t, mem.Chunks, 1, "budget 0 means no limit")
}

func TestRelevantContextDeactivatedItemsExcluded(t *testing.T) {
	backend := NewInMemoryBackend()
	taskID := "task-4"

	stale := seedItem(core.MemoryHotIssue, taskID, "tool run_tests is failing: flake")
	require.NoError(t, backend.Save(context.Background(), stale))
	require.NoError(t, backend.Deactivate(context.Background(), taskID, stale.ID))

	svc := NewService(backend)
	mem, err := svc.RelevantContext(context.Background(), taskID, "flake", 0)
	require.NoError(t, err)
	assert.Empty(t, mem.Rules)
	assert.Empty(t, mem.Chunks)
}
