package history

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is the brute-force in-memory backend. Similarity queries scan
// every record; fine for tests and single-node deployments with modest
// retention.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]*Record)}
}

func (s *MemStore) Upsert(_ context.Context, r *Record) error {
	clone, err := cloneRecord(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = clone
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Record, error) {
	s.mu.RLock()
	r, ok := s.records[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(r)
}

func (s *MemStore) FindSimilar(_ context.Context, q SimilarQuery) ([]SimilarResult, error) {
	if q.K <= 0 {
		q.K = 5
	}
	s.mu.RLock()
	var results []SimilarResult
	for _, r := range s.records {
		if len(r.InputEmbedding) == 0 {
			continue
		}
		if q.Outcome != "" && r.Outcome != q.Outcome {
			continue
		}
		if q.Persona != "" && r.Persona != q.Persona {
			continue
		}
		if !q.Since.IsZero() && r.StartedAt.Before(q.Since) {
			continue
		}
		if !q.Until.IsZero() && r.StartedAt.After(q.Until) {
			continue
		}
		score := CosineSimilarity(q.Embedding, r.InputEmbedding)
		if score < q.MinScore {
			continue
		}
		clone, err := cloneRecord(r)
		if err != nil {
			s.mu.RUnlock()
			return nil, err
		}
		results = append(results, SimilarResult{Record: clone, Score: score})
	}
	s.mu.RUnlock()
	sortSimilar(results)
	if len(results) > q.K {
		results = results[:q.K]
	}
	return results, nil
}

func (s *MemStore) Query(_ context.Context, f Filter) ([]*Record, error) {
	s.mu.RLock()
	var matched []*Record
	for _, r := range s.records {
		if f.matches(r) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].StartedAt.After(matched[j].StartedAt) })
	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	out := make([]*Record, 0, len(matched))
	for _, r := range matched {
		clone, err := cloneRecord(r)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemStore) Delete(_ context.Context, ids []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for _, id := range ids {
		if _, ok := s.records[id]; ok {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// sortSimilar orders best score first, breaking ties by recency.
func sortSimilar(results []SimilarResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Record.StartedAt.After(results[j].Record.StartedAt)
	})
}

// cloneRecord deep-copies through JSON; records carry nested maps and the
// stores must never share mutable state with callers.
func cloneRecord(r *Record) (*Record, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	var clone Record
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
