package member

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
)

// MemStore is the in-memory Store for tests and the memory backend.
type MemStore struct {
	mu          sync.Mutex
	memberships map[string]*Membership    // team + "/" + worker
	roles       map[string]*RoleAssignment // team + "/" + role
	handoffs    map[string]*Handoff
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		memberships: make(map[string]*Membership),
		roles:       make(map[string]*RoleAssignment),
		handoffs:    make(map[string]*Handoff),
	}
}

func memberKey(team, worker string) string { return team + "/" + worker }

func (s *MemStore) UpsertMembership(_ context.Context, m *Membership) error {
	clone, err := deepCopy(m)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memberships[memberKey(m.Team, m.Worker)] = clone
	return nil
}

func (s *MemStore) GetMembership(_ context.Context, team, worker string) (*Membership, error) {
	s.mu.Lock()
	m, ok := s.memberships[memberKey(team, worker)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(m)
}

func (s *MemStore) ListMemberships(_ context.Context, team string, state State) ([]*Membership, error) {
	s.mu.Lock()
	var matched []*Membership
	for _, m := range s.memberships {
		if m.Team != team {
			continue
		}
		if state != "" && m.State != state {
			continue
		}
		matched = append(matched, m)
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].Worker < matched[j].Worker })
	out := make([]*Membership, 0, len(matched))
	for _, m := range matched {
		clone, err := deepCopy(m)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemStore) UpsertRole(_ context.Context, r *RoleAssignment) error {
	clone, err := deepCopy(r)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roles[memberKey(r.Team, r.Role)] = clone
	return nil
}

func (s *MemStore) GetRole(_ context.Context, team, role string) (*RoleAssignment, error) {
	s.mu.Lock()
	r, ok := s.roles[memberKey(team, role)]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return deepCopy(r)
}

func (s *MemStore) ListRoles(_ context.Context, team string) ([]*RoleAssignment, error) {
	s.mu.Lock()
	var matched []*RoleAssignment
	for _, r := range s.roles {
		if r.Team == team {
			matched = append(matched, r)
		}
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].Priority != matched[j].Priority {
			return matched[i].Priority > matched[j].Priority
		}
		return matched[i].Role < matched[j].Role
	})
	out := make([]*RoleAssignment, 0, len(matched))
	for _, r := range matched {
		clone, err := deepCopy(r)
		if err != nil {
			return nil, err
		}
		out = append(out, clone)
	}
	return out, nil
}

func (s *MemStore) UpsertHandoff(_ context.Context, h *Handoff) error {
	clone, err := deepCopy(h)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handoffs[h.ID] = clone
	return nil
}

func (s *MemStore) LatestHandoff(_ context.Context, team, worker string) (*Handoff, error) {
	s.mu.Lock()
	var latest *Handoff
	for _, h := range s.handoffs {
		if h.Team != team || h.Worker != worker {
			continue
		}
		if latest == nil || h.InitiatedAt.After(latest.InitiatedAt) {
			latest = h
		}
	}
	s.mu.Unlock()
	if latest == nil {
		return nil, ErrNotFound
	}
	return deepCopy(latest)
}

func (s *MemStore) DeleteByTeam(_ context.Context, team string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for key, m := range s.memberships {
		if m.Team == team {
			delete(s.memberships, key)
			deleted++
		}
	}
	for key, r := range s.roles {
		if r.Team == team {
			delete(s.roles, key)
			deleted++
		}
	}
	for id, h := range s.handoffs {
		if h.Team == team {
			delete(s.handoffs, id)
			deleted++
		}
	}
	return deleted, nil
}

func deepCopy[T any](v *T) (*T, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var clone T
	if err := json.Unmarshal(data, &clone); err != nil {
		return nil, err
	}
	return &clone, nil
}
