package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is the in-memory Store for tests and the memory backend.
type MemStore struct {
	mu          sync.Mutex
	definitions map[string]*Definition
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{definitions: make(map[string]*Definition)}
}

func (s *MemStore) Create(_ context.Context, d *Definition) error {
	clone, err := cloneDefinition(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.definitions[d.ID] = clone
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Definition, error) {
	s.mu.Lock()
	d, ok := s.definitions[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDefinition(d)
}

func (s *MemStore) Update(_ context.Context, d *Definition) error {
	clone, err := cloneDefinition(d)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[d.ID]; !ok {
		return ErrNotFound
	}
	s.definitions[d.ID] = clone
	return nil
}

func (s *MemStore) ListByTeam(_ context.Context, team string) ([]*Definition, error) {
	s.mu.Lock()
	var matched []*Definition
	for _, d := range s.definitions {
		if d.Team == team {
			matched = append(matched, d)
		}
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	out := make([]*Definition, 0, len(matched))
	for _, d := range matched {
		clone, err := cloneDefinition(d)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemStore) DeleteByTeam(_ context.Context, team string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, d := range s.definitions {
		if d.Team == team {
			delete(s.definitions, id)
			deleted++
		}
	}
	return deleted, nil
}

// cloneDefinition deep-copies through JSON; the graph's adjacency lists must
// never be shared with callers.
func cloneDefinition(d *Definition) (*Definition, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, err
	}
	var clone Definition
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
