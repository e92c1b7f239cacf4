package team

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"squad/internal/bus"
	"squad/internal/shared/logging"
)

const workerSnapshotTTL = 30 * time.Second

// Service coordinates team records: messaging, worker snapshots, knowledge,
// artifacts, and proposal voting. It also implements the task service's
// WorkerStats port.
type Service struct {
	store     Store
	bus       bus.Bus
	cache     bus.Cache
	snapshots *bus.SnapshotCache[*Worker]
	logger    logging.Logger
	now       func() time.Time
}

// NewService builds the team service.
func NewService(store Store, eventBus bus.Bus, cache bus.Cache, logger logging.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("team service requires store")
	}
	if eventBus == nil {
		return nil, errors.New("team service requires bus")
	}
	return &Service{
		store:     store,
		bus:       eventBus,
		cache:     cache,
		snapshots: bus.NewSnapshotCache[*Worker](512, workerSnapshotTTL),
		logger:    logging.OrNop(logger),
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// PostMessage appends an immutable message and publishes message.posted.
func (s *Service) PostMessage(ctx context.Context, m Message) (*Message, error) {
	if strings.TrimSpace(m.Team) == "" || strings.TrimSpace(m.From) == "" {
		return nil, errors.New("post message: team and from required")
	}
	if m.Kind == "" {
		m.Kind = MessageInfo
	}
	m.ID = uuid.NewString()
	m.Timestamp = s.now()
	if err := s.store.InsertMessage(ctx, &m); err != nil {
		return nil, fmt.Errorf("post message: %w", err)
	}
	s.publish(ctx, m.Team, bus.KindMessagePosted, map[string]any{
		"message_id": m.ID, "from": m.From, "to": m.To, "kind": string(m.Kind),
	})
	return &m, nil
}

// RecentMessages serves the hot aggregate through the shared cache before
// falling through to the store.
func (s *Service) RecentMessages(ctx context.Context, team string, limit int) ([]*Message, error) {
	if limit <= 0 {
		limit = 50
	}
	cacheKey := fmt.Sprintf("team:%s:recent_messages:%d", team, limit)
	if s.cache != nil {
		if data, ok, err := s.cache.Get(ctx, cacheKey); err == nil && ok {
			var cached []*Message
			if err := json.Unmarshal(data, &cached); err == nil {
				return cached, nil
			}
		}
	}
	messages, err := s.store.RecentMessages(ctx, team, limit)
	if err != nil {
		return nil, fmt.Errorf("recent messages: %w", err)
	}
	if s.cache != nil {
		if data, err := json.Marshal(messages); err == nil {
			if err := s.cache.Set(ctx, cacheKey, data, 5*time.Second); err != nil {
				s.logger.Debug("cache recent messages: %v", err)
			}
		}
	}
	return messages, nil
}

// UpdateWorker refreshes a worker snapshot and publishes agent.status.
func (s *Service) UpdateWorker(ctx context.Context, w Worker) (*Worker, error) {
	if w.Team == "" || w.WorkerID == "" {
		return nil, errors.New("update worker: team and worker_id required")
	}
	if w.Status == "" {
		w.Status = WorkerIdle
	}
	w.UpdatedAt = s.now()
	if err := s.store.UpsertWorker(ctx, &w); err != nil {
		return nil, fmt.Errorf("update worker: %w", err)
	}
	s.snapshots.Invalidate(workerKey(w.Team, w.WorkerID))
	s.publish(ctx, w.Team, bus.KindAgentStatus, map[string]any{
		"worker_id": w.WorkerID, "status": string(w.Status), "current_task": w.CurrentTask,
	})
	return &w, nil
}

// GetWorker reads a worker, preferring the process-local snapshot.
func (s *Service) GetWorker(ctx context.Context, team, workerID string) (*Worker, error) {
	if cached, ok := s.snapshots.Get(workerKey(team, workerID)); ok {
		return cached, nil
	}
	w, err := s.store.GetWorker(ctx, team, workerID)
	if err != nil {
		return nil, err
	}
	s.snapshots.Put(workerKey(team, workerID), w)
	return w, nil
}

// ListWorkers returns the live fleet for a team.
func (s *Service) ListWorkers(ctx context.Context, team string) ([]*Worker, error) {
	return s.store.ListWorkers(ctx, team)
}

// RecordTaskCompleted implements task.WorkerStats.
func (s *Service) RecordTaskCompleted(ctx context.Context, teamID, worker string) error {
	s.snapshots.Invalidate(workerKey(teamID, worker))
	return s.store.IncrementWorkerCounter(ctx, teamID, worker, false)
}

// RecordTaskFailed implements task.WorkerStats.
func (s *Service) RecordTaskFailed(ctx context.Context, teamID, worker string) error {
	s.snapshots.Invalidate(workerKey(teamID, worker))
	return s.store.IncrementWorkerCounter(ctx, teamID, worker, true)
}

// ShareKnowledge upserts a (team, key) fact and publishes knowledge.shared.
func (s *Service) ShareKnowledge(ctx context.Context, item KnowledgeItem) (*KnowledgeItem, error) {
	if item.Team == "" || item.Key == "" {
		return nil, errors.New("share knowledge: team and key required")
	}
	item.ID = uuid.NewString()
	item.UpdatedAt = s.now()
	stored, err := s.store.UpsertKnowledge(ctx, &item)
	if err != nil {
		return nil, fmt.Errorf("share knowledge: %w", err)
	}
	s.publish(ctx, item.Team, bus.KindKnowledgeShared, map[string]any{
		"key": stored.Key, "version": stored.Version, "source": stored.Source,
	})
	return stored, nil
}

// GetKnowledge reads a fact by natural key.
func (s *Service) GetKnowledge(ctx context.Context, team, key string) (*KnowledgeItem, error) {
	return s.store.GetKnowledge(ctx, team, key)
}

// RegisterArtifact records artifact metadata.
func (s *Service) RegisterArtifact(ctx context.Context, a Artifact) (*Artifact, error) {
	if a.Team == "" || a.Name == "" || a.StoragePath == "" {
		return nil, errors.New("register artifact: team, name, and storage_path required")
	}
	a.ID = uuid.NewString()
	a.CreatedAt = s.now()
	if err := s.store.InsertArtifact(ctx, &a); err != nil {
		return nil, fmt.Errorf("register artifact: %w", err)
	}
	return &a, nil
}

// ProposeDecision opens a proposal for voting and publishes decision.proposed.
func (s *Service) ProposeDecision(ctx context.Context, d Decision) (*Decision, error) {
	if d.Team == "" || strings.TrimSpace(d.Statement) == "" {
		return nil, errors.New("propose decision: team and statement required")
	}
	d.ID = uuid.NewString()
	d.Status = DecisionPending
	d.Votes = make(map[string]Vote)
	d.CreatedAt = s.now()
	if err := s.store.InsertDecision(ctx, &d); err != nil {
		return nil, fmt.Errorf("propose decision: %w", err)
	}
	s.publish(ctx, d.Team, bus.KindDecisionProposed, map[string]any{
		"decision_id": d.ID, "statement": d.Statement, "proposer": d.Proposer,
	})
	return &d, nil
}

// CastVote records a vote and resolves the proposal once a strict majority of
// the team's workers have voted one way.
func (s *Service) CastVote(ctx context.Context, decisionID, worker string, vote Vote) (*Decision, error) {
	switch vote {
	case VoteApprove, VoteReject, VoteAbstain:
	default:
		return nil, fmt.Errorf("cast vote: unknown vote %q", vote)
	}
	d, err := s.store.RecordVote(ctx, decisionID, worker, vote)
	if err != nil {
		return nil, fmt.Errorf("cast vote: %w", err)
	}
	if d.Status != DecisionPending {
		return d, nil
	}
	workers, err := s.store.ListWorkers(ctx, d.Team)
	if err != nil {
		return d, nil
	}
	approvals, rejections := 0, 0
	for _, v := range d.Votes {
		switch v {
		case VoteApprove:
			approvals++
		case VoteReject:
			rejections++
		}
	}
	majority := len(workers)/2 + 1
	switch {
	case len(workers) > 0 && approvals >= majority:
		return s.store.SetDecisionStatus(ctx, decisionID, DecisionApproved)
	case len(workers) > 0 && rejections >= majority:
		return s.store.SetDecisionStatus(ctx, decisionID, DecisionRejected)
	default:
		return d, nil
	}
}

func (s *Service) publish(ctx context.Context, teamID, kind string, data map[string]any) {
	event := bus.Event{Kind: kind, Data: data, Timestamp: s.now()}
	if err := s.bus.Publish(ctx, bus.TeamChannel(teamID, kind), event); err != nil {
		s.logger.Warn("publish %s: %v", kind, err)
	}
}
