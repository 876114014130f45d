package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/hupe1980/taskmesh/core"
)

// InMemoryBackend is a thread-safe in-process core.MemoryBackend. Search uses
// term-overlap ranking, which is deliberately simple but deterministic; swap
// in a vector-backed implementation for semantic retrieval.
type InMemoryBackend struct {
	mu    sync.RWMutex
	items map[string][]core.MemoryItem // taskID -> items in save order
}

// NewInMemoryBackend creates an empty backend.
func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{items: make(map[string][]core.MemoryItem)}
}

// Save implements core.MemoryBackend, upserting by item ID.
func (b *InMemoryBackend) Save(_ context.Context, items ...core.MemoryItem) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, item := range items {
		existing := b.items[item.TaskID]
		replaced := false
		for i := range existing {
			if existing[i].ID == item.ID {
				existing[i] = item
				replaced = true
				break
			}
		}
		if !replaced {
			b.items[item.TaskID] = append(existing, item)
		}
	}
	return nil
}

// ActiveRules implements core.MemoryBackend.
func (b *InMemoryBackend) ActiveRules(_ context.Context, taskID string) ([]core.MemoryItem, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var rules []core.MemoryItem
	for _, item := range b.items[taskID] {
		if !item.IsActive {
			continue
		}
		if item.Kind == core.MemoryConstraint || item.Kind == core.MemoryHotIssue {
			rules = append(rules, item)
		}
	}
	return rules, nil
}

// Search implements core.MemoryBackend, ranking active chunks by the number
// of query terms they contain. Ties break on save order so results are stable.
func (b *InMemoryBackend) Search(_ context.Context, taskID, query string, topK int) ([]core.MemoryItem, error) {
	if topK <= 0 {
		return nil, nil
	}
	terms := strings.Fields(strings.ToLower(query))

	b.mu.RLock()
	defer b.mu.RUnlock()

	type scored struct {
		item  core.MemoryItem
		score int
		order int
	}
	var candidates []scored
	for i, item := range b.items[taskID] {
		if !item.IsActive || item.Kind != core.MemoryChunk {
			continue
		}
		content := strings.ToLower(item.Content)
		score := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				score++
			}
		}
		candidates = append(candidates, scored{item: item, score: score, order: i})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].order < candidates[j].order
	})

	if len(candidates) > topK {
		candidates = candidates[:topK]
	}
	out := make([]core.MemoryItem, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.item)
	}
	return out, nil
}

// Deactivate implements core.MemoryBackend. Unknown IDs are a no-op.
func (b *InMemoryBackend) Deactivate(_ context.Context, taskID, itemID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	items := b.items[taskID]
	for i := range items {
		if items[i].ID == itemID {
			items[i].IsActive = false
			break
		}
	}
	return nil
}
