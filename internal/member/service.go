package member

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"squad/internal/bus"
	"squad/internal/shared/logging"
	"squad/internal/task"
)

// TaskCounts exposes the per-status task counters a performance report joins.
type TaskCounts interface {
	CountByAssignee(ctx context.Context, team, worker string) (map[task.Status]int, error)
}

// Service manages memberships, roles, and handoffs.
type Service struct {
	store  Store
	tasks  TaskCounts
	bus    bus.Bus
	logger logging.Logger
	now    func() time.Time
}

// Option mutates the service during construction.
type Option func(*Service)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds the membership service.
func NewService(store Store, tasks TaskCounts, eventBus bus.Bus, logger logging.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("member service requires store")
	}
	if tasks == nil {
		return nil, errors.New("member service requires task counts")
	}
	if eventBus == nil {
		return nil, errors.New("member service requires bus")
	}
	s := &Service{
		store:  store,
		tasks:  tasks,
		bus:    eventBus,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// AddMemberRequest carries the fields for a new membership.
type AddMemberRequest struct {
	Team         string
	Worker       string
	Persona      string
	Role         string
	AddedBy      string
	Reason       string
	InitialState State
}

// AddMember inserts a membership and publishes member.added. The initial
// state defaults to initializing.
func (s *Service) AddMember(ctx context.Context, req AddMemberRequest) (*Membership, error) {
	if req.Team == "" || req.Worker == "" {
		return nil, errors.New("add member: team and worker required")
	}
	if req.InitialState == "" {
		req.InitialState = StateInitializing
	}
	if !knownStates[req.InitialState] {
		return nil, fmt.Errorf("add member: unknown state %q", req.InitialState)
	}
	if _, err := s.store.GetMembership(ctx, req.Team, req.Worker); err == nil {
		return nil, fmt.Errorf("add member: %s already in team %s", req.Worker, req.Team)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("add member: %w", err)
	}
	now := s.now()
	m := &Membership{
		Team:        req.Team,
		Worker:      req.Worker,
		Persona:     req.Persona,
		Role:        req.Role,
		State:       req.InitialState,
		JoinedAt:    now,
		AddedBy:     req.AddedBy,
		AddedReason: req.Reason,
	}
	if req.InitialState == StateActive {
		m.ActivatedAt = &now
	}
	if err := s.store.UpsertMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("add member: %w", err)
	}
	s.publish(ctx, m.Team, bus.KindMemberAdded, map[string]any{
		"worker": m.Worker, "persona": m.Persona, "role": m.Role, "state": string(m.State),
	})
	return m, nil
}

// GetMember fetches one membership.
func (s *Service) GetMember(ctx context.Context, team, worker string) (*Membership, error) {
	return s.store.GetMembership(ctx, team, worker)
}

// ListMembers returns a team's memberships, optionally filtered by state.
func (s *Service) ListMembers(ctx context.Context, team string, state State) ([]*Membership, error) {
	return s.store.ListMemberships(ctx, team, state)
}

// UpdateMemberState moves a membership to a new state, appending the step to
// state_history and stamping activation or retirement times. Retirement is
// only legal after the worker's latest handoff has completed; publishes
// member.state_changed.
func (s *Service) UpdateMemberState(ctx context.Context, team, worker string, newState State, reason string) (*Membership, error) {
	if !knownStates[newState] {
		return nil, fmt.Errorf("update member state: unknown state %q", newState)
	}
	m, err := s.store.GetMembership(ctx, team, worker)
	if err != nil {
		return nil, err
	}
	if m.State == newState {
		return m, nil
	}
	now := s.now()
	if newState == StateRetired {
		handoff, err := s.store.LatestHandoff(ctx, team, worker)
		if errors.Is(err, ErrNotFound) || (err == nil && handoff.Status != HandoffCompleted) {
			return nil, ErrHandoffIncomplete
		}
		if err != nil {
			return nil, fmt.Errorf("update member state: %w", err)
		}
		m.RetiredAt = &now
		m.RetirementReason = reason
	}
	if newState == StateActive && m.ActivatedAt == nil {
		m.ActivatedAt = &now
	}
	m.StateHistory = append(m.StateHistory, StateChange{From: m.State, To: newState, At: now, Reason: reason})
	m.State = newState
	if err := s.store.UpsertMembership(ctx, m); err != nil {
		return nil, fmt.Errorf("update member state: %w", err)
	}
	s.publish(ctx, team, bus.KindMemberStateChanged, map[string]any{
		"worker": worker, "state": string(newState), "reason": reason,
	})
	return m, nil
}

// AssignRole points a team role at a worker, appending the handover to the
// role's history. Role-based dispatch resolves required_role through these
// assignments.
func (s *Service) AssignRole(ctx context.Context, team, role, worker, assignedBy, reason string) (*RoleAssignment, error) {
	if team == "" || role == "" || worker == "" {
		return nil, errors.New("assign role: team, role, and worker required")
	}
	assignment, err := s.store.GetRole(ctx, team, role)
	if errors.Is(err, ErrNotFound) {
		assignment = &RoleAssignment{Team: team, Role: role, Active: true}
	} else if err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	now := s.now()
	assignment.CurrentWorker = worker
	assignment.AssignedAt = &now
	assignment.AssignedBy = assignedBy
	assignment.History = append(assignment.History, RoleChange{
		Worker: worker, AssignedAt: now, AssignedBy: assignedBy, Reason: reason,
	})
	if err := s.store.UpsertRole(ctx, assignment); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	return assignment, nil
}

// ResolveRole returns the worker currently holding a role; empty when the
// role is unassigned or inactive.
func (s *Service) ResolveRole(ctx context.Context, team, role string) (string, error) {
	assignment, err := s.store.GetRole(ctx, team, role)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	if !assignment.Active {
		return "", nil
	}
	return assignment.CurrentWorker, nil
}

// InitiateHandoff opens a handoff for a departing worker.
func (s *Service) InitiateHandoff(ctx context.Context, team, worker, initiatedBy string) (*Handoff, error) {
	if _, err := s.store.GetMembership(ctx, team, worker); err != nil {
		return nil, err
	}
	h := &Handoff{
		ID:          uuid.NewString(),
		Team:        team,
		Worker:      worker,
		Status:      HandoffInitiated,
		InitiatedBy: initiatedBy,
		InitiatedAt: s.now(),
	}
	if err := s.store.UpsertHandoff(ctx, h); err != nil {
		return nil, fmt.Errorf("initiate handoff: %w", err)
	}
	return h, nil
}

// CompleteHandoff records the captured knowledge and closes the handoff,
// unblocking retirement.
func (s *Service) CompleteHandoff(ctx context.Context, team, worker, completedBy string, update Handoff) (*Handoff, error) {
	h, err := s.store.LatestHandoff(ctx, team, worker)
	if err != nil {
		return nil, err
	}
	if h.Status == HandoffCompleted || h.Status == HandoffSkipped {
		return nil, fmt.Errorf("complete handoff: already %s", h.Status)
	}
	now := s.now()
	h.Status = HandoffCompleted
	h.CompletedBy = completedBy
	h.CompletedAt = &now
	h.Checklist = update.Checklist
	h.Lessons = update.Lessons
	h.OpenQuestions = update.OpenQuestions
	h.Recommendations = update.Recommendations
	h.Decisions = update.Decisions
	h.ArtifactsList = update.ArtifactsList
	if err := s.store.UpsertHandoff(ctx, h); err != nil {
		return nil, fmt.Errorf("complete handoff: %w", err)
	}
	return h, nil
}

// PerformanceReport is the live metric join for one member.
type PerformanceReport struct {
	Membership     *Membership         `json:"membership"`
	TaskCounts     map[task.Status]int `json:"task_counts"`
	CompletionRate float64             `json:"completion_rate"` // 0..100
}

// Performance joins membership and task counters without caching;
// completion_rate = completed / (completed+failed+running+ready).
func (s *Service) Performance(ctx context.Context, team, worker string) (*PerformanceReport, error) {
	m, err := s.store.GetMembership(ctx, team, worker)
	if err != nil {
		return nil, err
	}
	counts, err := s.tasks.CountByAssignee(ctx, team, worker)
	if err != nil {
		return nil, fmt.Errorf("member performance: %w", err)
	}
	completed := counts[task.StatusSuccess]
	denominator := completed + counts[task.StatusFailed] + counts[task.StatusRunning] + counts[task.StatusReady]
	report := &PerformanceReport{Membership: m, TaskCounts: counts}
	if denominator > 0 {
		report.CompletionRate = float64(completed) / float64(denominator) * 100
	}
	m.Performance.CompletionRate = report.CompletionRate
	return report, nil
}

func (s *Service) publish(ctx context.Context, team, kind string, data map[string]any) {
	event := bus.Event{Kind: kind, Data: data, Timestamp: s.now()}
	if err := s.bus.Publish(ctx, bus.TeamChannel(team, kind), event); err != nil {
		s.logger.Warn("publish %s: %v", kind, err)
	}
}
