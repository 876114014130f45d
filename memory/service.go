package memory

import (
	"context"
	"fmt"

	"github.com/hupe1980/taskmesh/core"
	"github.com/hupe1980/taskmesh/internal/util"
	"github.com/hupe1980/taskmesh/logging"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Logger receives retrieval diagnostics. Defaults to NoOpLogger.
	Logger logging.Logger
	// SearchTopK caps the chunk candidates fetched per query.
	SearchTopK int
}

// Service is the read side of memory, implementing core.MemoryService over a
// backend. Active rules are always included in full; chunks fill whatever
// budget remains, dropped from the tail when it runs out.
type Service struct {
	backend core.MemoryBackend
	opts    ServiceOptions
}

var _ core.MemoryService = (*Service)(nil)

// NewService creates a Service over backend.
func NewService(backend core.MemoryBackend, optFns ...func(o *ServiceOptions)) *Service {
	opts := ServiceOptions{
		Logger:     logging.NoOpLogger{},
		SearchTopK: 16,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Service{backend: backend, opts: opts}
}

// RelevantContext implements core.MemoryService. Budget is an approximate
// token allowance; rules are never dropped to make room for chunks.
func (s *Service) RelevantContext(ctx context.Context, taskID, query string, budget int) (core.RelevantContext, error) {
	rules, err := s.backend.ActiveRules(ctx, taskID)
	if err != nil {
		return core.RelevantContext{}, fmt.Errorf("load active rules: %w", err)
	}

	used := 0
	for _, rule := range rules {
		used += util.EstimateTokens(rule.Content)
	}

	out := core.RelevantContext{Rules: rules}
	if budget > 0 && used >= budget {
		s.opts.Logger.Debug("memory.context.rules_only", "task_id", taskID, "rules", len(rules), "tokens", used)
		return out, nil
	}

	chunks, err := s.backend.Search(ctx, taskID, query, s.opts.SearchTopK)
	if err != nil {
		return core.RelevantContext{}, fmt.Errorf("search chunks: %w", err)
	}
	for _, chunk := range chunks {
		cost := util.EstimateTokens(chunk.Content)
		if budget > 0 && used+cost > budget {
			break
		}
		out.Chunks = append(out.Chunks, chunk)
		used += cost
	}

	s.opts.Logger.Debug("memory.context.assembled",
		"task_id", taskID, "rules", len(out.Rules), "chunks", len(out.Chunks), "tokens", used)
	return out, nil
}
