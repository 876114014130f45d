package memory

import (
	"strings"
	"time"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
)

// constraintMarkers are the sentence openers treated as standing instructions.
// A user message is split into sentences; each sentence starting with one of
// these becomes a constraint item.
var constraintMarkers = []string{
	"always",
	"never",
	"don't",
	"do not",
	"must",
	"ensure",
	"avoid",
	"only use",
	"use only",
	"prefer",
	"remember",
}

// extractConstraints pulls standing instructions out of a user message.
func extractConstraints(taskID, text string) []core.MemoryItem {
	var items []core.MemoryItem
	for _, sentence := range splitSentences(text) {
		lowered := strings.ToLower(sentence)
		for _, marker := range constraintMarkers {
			if strings.HasPrefix(lowered, marker) {
				items = append(items, core.MemoryItem{
					ID:        core.NewID(),
					TaskID:    taskID,
					Kind:      core.MemoryConstraint,
					Content:   sentence,
					IsActive:  true,
					CreatedAt: time.Now().UTC(),
				})
				break
			}
		}
	}
	return items
}

func splitSentences(text string) []string {
	var sentences []string
	var b strings.Builder
	flush := func() {
		s := strings.TrimSpace(b.String())
		if s != "" {
			sentences = append(sentences, s)
		}
		b.Reset()
	}
	for _, r := range text {
		b.WriteRune(r)
		switch r {
		case '.', '!', '?', '\n':
			flush()
		}
	}
	flush()
	return sentences
}

// hotIssueFromResult builds a hot issue keyed by the failing tool's name so a
// later success from the same tool can clear it.
func hotIssueFromResult(taskID string, result core.ToolResult) core.MemoryItem {
	return core.MemoryItem{
		ID:        core.NewID(),
		TaskID:    taskID,
		Kind:      core.MemoryHotIssue,
		Content:   "tool " + result.Name + " is failing: " + result.Error,
		IsActive:  true,
		Source:    result.Name,
		CreatedAt: time.Now().UTC(),
	}
}

// chunksFromArtifact indexes one artifact version as document chunks. Earlier
// chunks of the same artifact are superseded by the caller deactivating them.
func chunksFromArtifact(taskID, name, content string, size, overlap int) []core.MemoryItem {
	pieces := util.ChunkText(content, size, overlap)
	items := make([]core.MemoryItem, 0, len(pieces))
	for i, piece := range pieces {
		items = append(items, core.MemoryItem{
			ID:         core.NewID(),
			TaskID:     taskID,
			Kind:       core.MemoryChunk,
			Content:    piece,
			IsActive:   true,
			Artifact:   name,
			ChunkIndex: i,
			CreatedAt:  time.Now().UTC(),
		})
	}
	return items
}
