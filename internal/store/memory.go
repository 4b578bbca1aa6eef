package store

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps records in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	results  map[string]*Record
	rankings []*Ranking
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{results: make(map[string]*Record)}
}

func (s *MemoryStore) SaveResult(ctx context.Context, r *Record) error {
	if r == nil {
		return nil
	}
	c := *r
	s.mu.Lock()
	s.results[r.TaskID] = &c
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) GetResult(ctx context.Context, taskID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.results[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	c := *r
	return &c, nil
}

func (s *MemoryStore) ListResults(ctx context.Context, opts ListOptions) ([]*Record, error) {
	s.mu.RLock()
	out := make([]*Record, 0, len(s.results))
	for _, r := range s.results {
		if opts.matches(r) {
			c := *r
			out = append(out, &c)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].ExperimentID != out[j].ExperimentID {
			return out[i].ExperimentID < out[j].ExperimentID
		}
		return out[i].Position < out[j].Position
	})
	return page(out, opts.Offset, opts.Limit), nil
}

func (s *MemoryStore) SaveRanking(ctx context.Context, r *Ranking) error {
	if r == nil {
		return nil
	}
	c := *r
	c.ResultIDs = append([]string(nil), r.ResultIDs...)
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.rankings {
		if existing.ID == r.ID {
			s.rankings[i] = &c
			return nil
		}
	}
	s.rankings = append(s.rankings, &c)
	return nil
}

func (s *MemoryStore) ListRankings(ctx context.Context, experimentID string) ([]*Ranking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Ranking
	for _, r := range s.rankings {
		if experimentID != "" && r.ExperimentID != experimentID {
			continue
		}
		c := *r
		c.ResultIDs = append([]string(nil), r.ResultIDs...)
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) DeleteExperiment(ctx context.Context, experimentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.results {
		if r.ExperimentID == experimentID {
			delete(s.results, id)
		}
	}
	kept := s.rankings[:0]
	for _, r := range s.rankings {
		if r.ExperimentID != experimentID {
			kept = append(kept, r)
		}
	}
	s.rankings = kept
	return nil
}

func (s *MemoryStore) Close() error { return nil }

func page(records []*Record, offset, limit int) []*Record {
	if offset > 0 {
		if offset >= len(records) {
			return []*Record{}
		}
		records = records[offset:]
	}
	if limit > 0 && limit < len(records) {
		records = records[:limit]
	}
	return records
}
