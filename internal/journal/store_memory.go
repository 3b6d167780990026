package journal

import (
	"context"
	"sync"

	"lp_sentinel/internal/core"
)

const defaultMemoryCapacity = 1024

// MemoryStore implements Store in bounded in-process buffers. It backs tests
// and dry runs where the journal does not need to survive a restart.
type MemoryStore struct {
	mu        sync.RWMutex
	capacity  int
	cycles    []core.CycleSummary
	decisions []core.DecisionEvent
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an in-memory journal retaining at most capacity
// entries per record type. A non-positive capacity uses the default.
func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = defaultMemoryCapacity
	}
	return &MemoryStore{capacity: capacity}
}

func (s *MemoryStore) SaveCycle(ctx context.Context, summary core.CycleSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.cycles {
		if s.cycles[i].CycleID == summary.CycleID {
			s.cycles[i] = summary
			return nil
		}
	}
	s.cycles = append(s.cycles, summary)
	if len(s.cycles) > s.capacity {
		s.cycles = s.cycles[len(s.cycles)-s.capacity:]
	}
	return nil
}

func (s *MemoryStore) SaveDecision(ctx context.Context, event core.DecisionEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions = append(s.decisions, event)
	if len(s.decisions) > s.capacity {
		s.decisions = s.decisions[len(s.decisions)-s.capacity:]
	}
	return nil
}

func (s *MemoryStore) RecentDecisions(ctx context.Context, limit int) ([]core.DecisionEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 || limit > len(s.decisions) {
		limit = len(s.decisions)
	}
	out := make([]core.DecisionEvent, 0, limit)
	for i := len(s.decisions) - 1; i >= len(s.decisions)-limit; i-- {
		out = append(out, s.decisions[i])
	}
	return out, nil
}

func (s *MemoryStore) LatestCycle(ctx context.Context) (*core.CycleSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *core.CycleSummary
	for i := range s.cycles {
		if latest == nil || s.cycles[i].StartedAt.After(latest.StartedAt) {
			latest = &s.cycles[i]
		}
	}
	if latest == nil {
		return nil, nil
	}
	out := *latest
	return &out, nil
}

func (s *MemoryStore) Close() error {
	return nil
}
