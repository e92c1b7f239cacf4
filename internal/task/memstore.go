package task

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is the in-memory Store used by tests and the memory backend. All
// guarantees of the port hold under a single mutex.
type MemStore struct {
	mu    sync.Mutex
	tasks map[string]*Task
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{tasks: make(map[string]*Task)}
}

func (s *MemStore) Create(_ context.Context, t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Idempotent under retry: re-creating the same id overwrites nothing.
	if _, exists := s.tasks[t.ID]; exists {
		return nil
	}
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *MemStore) CreateAll(_ context.Context, tasks []*Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		if _, exists := s.tasks[t.ID]; exists {
			continue
		}
		s.tasks[t.ID] = t.Clone()
	}
	return nil
}

func (s *MemStore) Get(_ context.Context, id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	return t.Clone(), nil
}

func (s *MemStore) TryClaim(_ context.Context, id, worker string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != StatusReady || t.Assignee != "" {
		return nil, nil
	}
	for _, dep := range t.DependsOn {
		depTask, ok := s.tasks[dep]
		if !ok || depTask.Status != StatusSuccess {
			return nil, nil
		}
	}
	t.Assignee = worker
	claimedAt := now
	t.ClaimedAt = &claimedAt
	t.Status = StatusRunning
	return t.Clone(), nil
}

func (s *MemStore) Complete(_ context.Context, id string, result map[string]any, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != StatusRunning && t.Status != StatusAwaitingReview {
		return nil, ErrInvalidTransition
	}
	t.Status = StatusSuccess
	completedAt := now
	t.CompletedAt = &completedAt
	t.Result = result
	return t.Clone(), nil
}

func (s *MemStore) Fail(_ context.Context, id string, errText string, now time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if t.Status != StatusRunning && t.Status != StatusAwaitingReview {
		return nil, ErrInvalidTransition
	}
	t.Status = StatusFailed
	completedAt := now
	t.CompletedAt = &completedAt
	t.Error = errText
	return t.Clone(), nil
}

func (s *MemStore) SetStatus(_ context.Context, id string, status Status) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, ErrNotFound
	}
	if !CanTransition(t.Status, status) {
		return nil, ErrInvalidTransition
	}
	t.Status = status
	return t.Clone(), nil
}

func (s *MemStore) ListReady(_ context.Context, filter ReadyFilter) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var ready []*Task
	for _, t := range s.tasks {
		if t.Team != filter.Team || t.Status != StatusReady || t.Assignee != "" {
			continue
		}
		if t.RequiredRole != "" && filter.Role != "" && t.RequiredRole != filter.Role {
			continue
		}
		if t.RequiredRole != "" && filter.Role == "" {
			continue
		}
		ready = append(ready, t.Clone())
	}
	sort.SliceStable(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		return ready[i].CreatedAt.Before(ready[j].CreatedAt)
	})
	if filter.Limit > 0 && len(ready) > filter.Limit {
		ready = ready[:filter.Limit]
	}
	return ready, nil
}

func (s *MemStore) Dependents(_ context.Context, id string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dependents []*Task
	for _, t := range s.tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				dependents = append(dependents, t.Clone())
				break
			}
		}
	}
	sort.Slice(dependents, func(i, j int) bool { return dependents[i].ID < dependents[j].ID })
	return dependents, nil
}

func (s *MemStore) ListByWorkflow(_ context.Context, workflowID string) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var tasks []*Task
	for _, t := range s.tasks {
		if t.Workflow == workflowID {
			tasks = append(tasks, t.Clone())
		}
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, nil
}

func (s *MemStore) CancelPending(_ context.Context, workflowID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cancelled []string
	for _, t := range s.tasks {
		if t.Workflow != workflowID {
			continue
		}
		switch t.Status {
		case StatusPending, StatusReady, StatusBlocked:
			t.Status = StatusCancelled
			cancelled = append(cancelled, t.ID)
		}
	}
	sort.Strings(cancelled)
	return cancelled, nil
}

func (s *MemStore) CountByAssignee(_ context.Context, team, worker string) (map[Status]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	counts := make(map[Status]int)
	for _, t := range s.tasks {
		if t.Team == team && t.Assignee == worker {
			counts[t.Status]++
		}
	}
	return counts, nil
}

func (s *MemStore) DeleteByTeam(_ context.Context, team string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for id, t := range s.tasks {
		if t.Team == team {
			delete(s.tasks, id)
			deleted++
		}
	}
	return deleted, nil
}
