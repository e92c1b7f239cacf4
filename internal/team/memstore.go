package team

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore is the in-memory Store for tests and the memory backend.
type MemStore struct {
	mu        sync.Mutex
	messages  []*Message
	workers   map[string]*Worker // team + "/" + worker_id
	knowledge map[string]*KnowledgeItem
	artifacts []*Artifact
	decisions map[string]*Decision
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		workers:   make(map[string]*Worker),
		knowledge: make(map[string]*KnowledgeItem),
		decisions: make(map[string]*Decision),
	}
}

func workerKey(team, workerID string) string { return team + "/" + workerID }

func (s *MemStore) InsertMessage(_ context.Context, m *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *m
	s.messages = append(s.messages, &clone)
	return nil
}

func (s *MemStore) RecentMessages(_ context.Context, team string, limit int) ([]*Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var recent []*Message
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].Team != team {
			continue
		}
		clone := *s.messages[i]
		recent = append(recent, &clone)
		if limit > 0 && len(recent) >= limit {
			break
		}
	}
	return recent, nil
}

func (s *MemStore) UpsertWorker(_ context.Context, w *Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *w
	if existing, ok := s.workers[workerKey(w.Team, w.WorkerID)]; ok {
		clone.Completed = existing.Completed
		clone.Failed = existing.Failed
	}
	s.workers[workerKey(w.Team, w.WorkerID)] = &clone
	return nil
}

func (s *MemStore) GetWorker(_ context.Context, team, workerID string) (*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerKey(team, workerID)]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *w
	return &clone, nil
}

func (s *MemStore) ListWorkers(_ context.Context, team string) ([]*Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var workers []*Worker
	for _, w := range s.workers {
		if w.Team == team {
			clone := *w
			workers = append(workers, &clone)
		}
	}
	sort.Slice(workers, func(i, j int) bool { return workers[i].WorkerID < workers[j].WorkerID })
	return workers, nil
}

func (s *MemStore) IncrementWorkerCounter(_ context.Context, team, workerID string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[workerKey(team, workerID)]
	if !ok {
		return ErrNotFound
	}
	if failed {
		w.Failed++
	} else {
		w.Completed++
	}
	w.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemStore) UpsertKnowledge(_ context.Context, item *KnowledgeItem) (*KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := item.Team + "/" + item.Key
	clone := *item
	if existing, ok := s.knowledge[key]; ok {
		clone.ID = existing.ID
		clone.Version = existing.Version + 1
	} else {
		clone.Version = 1
	}
	s.knowledge[key] = &clone
	result := clone
	return &result, nil
}

func (s *MemStore) GetKnowledge(_ context.Context, team, key string) (*KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.knowledge[team+"/"+key]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *item
	return &clone, nil
}

func (s *MemStore) ListKnowledge(_ context.Context, team, category string) ([]*KnowledgeItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var items []*KnowledgeItem
	for _, item := range s.knowledge {
		if item.Team != team {
			continue
		}
		if category != "" && item.Category != category {
			continue
		}
		clone := *item
		items = append(items, &clone)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key < items[j].Key })
	return items, nil
}

func (s *MemStore) InsertArtifact(_ context.Context, a *Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *a
	s.artifacts = append(s.artifacts, &clone)
	return nil
}

func (s *MemStore) ListArtifacts(_ context.Context, team, taskID string) ([]*Artifact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var artifacts []*Artifact
	for _, a := range s.artifacts {
		if a.Team != team {
			continue
		}
		if taskID != "" && a.Task != taskID {
			continue
		}
		clone := *a
		artifacts = append(artifacts, &clone)
	}
	return artifacts, nil
}

func (s *MemStore) InsertDecision(_ context.Context, d *Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *d
	if clone.Votes == nil {
		clone.Votes = make(map[string]Vote)
	}
	s.decisions[d.ID] = &clone
	return nil
}

func (s *MemStore) GetDecision(_ context.Context, id string) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cloneDecision(id)
}

func (s *MemStore) cloneDecision(id string) (*Decision, error) {
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	clone := *d
	clone.Votes = make(map[string]Vote, len(d.Votes))
	for k, v := range d.Votes {
		clone.Votes[k] = v
	}
	return &clone, nil
}

func (s *MemStore) RecordVote(_ context.Context, id, worker string, vote Vote) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.Votes[worker] = vote
	return s.cloneDecision(id)
}

func (s *MemStore) SetDecisionStatus(_ context.Context, id string, status DecisionStatus) (*Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.decisions[id]
	if !ok {
		return nil, ErrNotFound
	}
	d.Status = status
	return s.cloneDecision(id)
}

func (s *MemStore) DeleteTeam(_ context.Context, team string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	var messages []*Message
	for _, m := range s.messages {
		if m.Team == team {
			deleted++
			continue
		}
		messages = append(messages, m)
	}
	s.messages = messages
	for key, w := range s.workers {
		if w.Team == team {
			delete(s.workers, key)
			deleted++
		}
	}
	for key, item := range s.knowledge {
		if item.Team == team {
			delete(s.knowledge, key)
			deleted++
		}
	}
	var artifacts []*Artifact
	for _, a := range s.artifacts {
		if a.Team == team {
			deleted++
			continue
		}
		artifacts = append(artifacts, a)
	}
	s.artifacts = artifacts
	for id, d := range s.decisions {
		if d.Team == team {
			delete(s.decisions, id)
			deleted++
		}
	}
	return deleted, nil
}
