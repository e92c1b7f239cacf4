package task

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"squad/internal/bus"
	"squad/internal/shared/logging"
	"squad/internal/shared/retry"
)

// claimLockTTL bounds how long a crashed claimer can hold a task lock.
const claimLockTTL = 30 * time.Second

// WorkerStats receives task outcome counters for the assignee.
type WorkerStats interface {
	RecordTaskCompleted(ctx context.Context, team, worker string) error
	RecordTaskFailed(ctx context.Context, team, worker string) error
}

// Fairness observes assignments and vetoes dispatch during cooling-off.
type Fairness interface {
	RecordAssignment(team, worker string, at time.Time)
	InCoolingOff(team, worker string, at time.Time) bool
}

// WorkflowStates answers whether a task's owning workflow is paused. The
// completion cascade consults it before promoting dependents.
type WorkflowStates interface {
	Paused(ctx context.Context, workflowID string) (bool, error)
}

// Service is the task lifecycle engine. Claim correctness relies on the
// store's in-transaction re-check; the named lock is a fast path that spares
// losers a transaction.
type Service struct {
	store     Store
	bus       bus.Bus
	locker    bus.Locker
	stats     WorkerStats
	fairness  Fairness
	workflows WorkflowStates
	logger    logging.Logger
	retry     retry.Policy
	now       func() time.Time
}

// ServiceOption mutates the service during construction.
type ServiceOption func(*Service)

// WithWorkerStats wires assignee outcome counters.
func WithWorkerStats(stats WorkerStats) ServiceOption {
	return func(s *Service) { s.stats = stats }
}

// WithFairness wires the fairness engine into claim and dispatch.
func WithFairness(fairness Fairness) ServiceOption {
	return func(s *Service) { s.fairness = fairness }
}

// WithWorkflowStates wires the pause lookup: dependents of a paused workflow
// are held in blocked instead of becoming ready, and Resume releases them.
func WithWorkflowStates(states WorkflowStates) ServiceOption {
	return func(s *Service) { s.workflows = states }
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) ServiceOption {
	return func(s *Service) { s.now = now }
}

// NewService builds the lifecycle service.
func NewService(store Store, eventBus bus.Bus, locker bus.Locker, logger logging.Logger, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("task service requires store")
	}
	if eventBus == nil {
		return nil, errors.New("task service requires bus")
	}
	if locker == nil {
		return nil, errors.New("task service requires locker")
	}
	service := &Service{
		store:  store,
		bus:    eventBus,
		locker: locker,
		logger: logging.OrNop(logger),
		retry:  retry.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// CreateRequest carries the fields for a new task. ID is optional; workflow
// instantiation pre-assigns ids so in-batch dependencies can reference each
// other before anything is persisted.
type CreateRequest struct {
	ID           string
	Team         string
	Title        string
	Body         string
	RequiredRole string
	Priority     int
	Creator      string
	Parent       string
	Workflow     string
	DependsOn    []string
	Metadata     map[string]string
	Tags         []string
}

// Create persists a new task. The task starts pending and is promoted to
// ready immediately when it has no unmet dependencies; otherwise it rests in
// pending until a completion cascade reaches it. Publishes task.created.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Task, error) {
	t, err := s.buildTask(ctx, req, nil)
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.publish(ctx, t.Team, bus.KindTaskCreated, t)
	return t, nil
}

// CreateBatch persists several tasks in one store transaction: either every
// task commits or none do. Dependencies may point at other tasks in the batch
// through pre-assigned ids; those always start pending. Events are published
// per task after the batch commits.
func (s *Service) CreateBatch(ctx context.Context, reqs []CreateRequest) ([]*Task, error) {
	if len(reqs) == 0 {
		return nil, nil
	}
	inBatch := make(map[string]bool, len(reqs))
	for _, req := range reqs {
		if req.ID != "" {
			inBatch[req.ID] = true
		}
	}
	tasks := make([]*Task, 0, len(reqs))
	for _, req := range reqs {
		t, err := s.buildTask(ctx, req, inBatch)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := s.store.CreateAll(ctx, tasks); err != nil {
		return nil, fmt.Errorf("create task batch: %w", err)
	}
	for _, t := range tasks {
		s.publish(ctx, t.Team, bus.KindTaskCreated, t)
	}
	return tasks, nil
}

// buildTask validates the request and resolves the initial status. A task
// depending on anything not yet successful rests in pending; in-batch
// dependencies are by definition not successful.
func (s *Service) buildTask(ctx context.Context, req CreateRequest, inBatch map[string]bool) (*Task, error) {
	if strings.TrimSpace(req.Team) == "" {
		return nil, errors.New("create task: team required")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, errors.New("create task: title required")
	}

	status := StatusReady
	for _, dep := range req.DependsOn {
		if inBatch[dep] {
			status = StatusPending
			continue
		}
		depTask, err := s.getWithRetry(ctx, dep)
		if err != nil {
			return nil, fmt.Errorf("create task: dependency %s: %w", dep, err)
		}
		if depTask.Status != StatusSuccess {
			status = StatusPending
		}
	}

	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	return &Task{
		ID:           id,
		Team:         req.Team,
		Title:        req.Title,
		Body:         req.Body,
		Status:       status,
		Priority:     req.Priority,
		RequiredRole: req.RequiredRole,
		Creator:      req.Creator,
		CreatedAt:    s.now(),
		Parent:       req.Parent,
		Workflow:     req.Workflow,
		DependsOn:    append([]string(nil), req.DependsOn...),
		Metadata:     req.Metadata,
		Tags:         append([]string(nil), req.Tags...),
	}, nil
}

// Get returns the task by id.
func (s *Service) Get(ctx context.Context, id string) (*Task, error) {
	return s.getWithRetry(ctx, id)
}

// Claim attempts to hand the task to worker. A nil, nil return means the
// claim was lost to a competitor; the caller picks another task. At most one
// concurrent claimer wins.
func (s *Service) Claim(ctx context.Context, taskID, worker string) (*Task, error) {
	if taskID == "" || worker == "" {
		return nil, errors.New("claim: task id and worker required")
	}
	now := s.now()
	lock, err := s.locker.Acquire(ctx, "task_lock:"+taskID, claimLockTTL)
	if err != nil {
		s.logger.Warn("claim %s: lock acquisition failed, relying on store re-check: %v", taskID, err)
	}
	if lock != nil {
		defer func() {
			if err := lock.Release(ctx); err != nil {
				s.logger.Warn("claim %s: release lock: %v", taskID, err)
			}
		}()
	} else if err == nil {
		// Lock held elsewhere: another claimer is in flight.
		return nil, nil
	}

	claimed, err := s.store.TryClaim(ctx, taskID, worker, now)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", taskID, err)
	}
	if claimed == nil {
		return nil, nil
	}
	if s.fairness != nil {
		s.fairness.RecordAssignment(claimed.Team, worker, now)
	}
	s.publish(ctx, claimed.Team, bus.KindTaskClaimed, claimed)
	return claimed, nil
}

// Complete moves a running task to success, credits the assignee, cascades
// readiness to the immediate dependents, and publishes task.completed.
func (s *Service) Complete(ctx context.Context, taskID string, result map[string]any) (*Task, error) {
	completed, err := s.store.Complete(ctx, taskID, result, s.now())
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", taskID, err)
	}
	if s.stats != nil && completed.Assignee != "" {
		if err := s.stats.RecordTaskCompleted(ctx, completed.Team, completed.Assignee); err != nil {
			s.logger.Warn("complete %s: record stats: %v", taskID, err)
		}
	}
	if err := s.cascade(ctx, taskID); err != nil {
		s.logger.Error("complete %s: cascade: %v", taskID, err)
	}
	s.publish(ctx, completed.Team, bus.KindTaskCompleted, completed)
	return completed, nil
}

// Fail moves a running task to failed and blocks its direct dependents;
// publishes task.failed.
func (s *Service) Fail(ctx context.Context, taskID, errText string) (*Task, error) {
	failed, err := s.store.Fail(ctx, taskID, errText, s.now())
	if err != nil {
		return nil, fmt.Errorf("fail %s: %w", taskID, err)
	}
	if s.stats != nil && failed.Assignee != "" {
		if err := s.stats.RecordTaskFailed(ctx, failed.Team, failed.Assignee); err != nil {
			s.logger.Warn("fail %s: record stats: %v", taskID, err)
		}
	}
	dependents, err := s.store.Dependents(ctx, taskID)
	if err != nil {
		s.logger.Error("fail %s: load dependents: %v", taskID, err)
	}
	for _, dependent := range dependents {
		if dependent.Status != StatusPending && dependent.Status != StatusReady {
			continue
		}
		if _, err := s.store.SetStatus(ctx, dependent.ID, StatusBlocked); err != nil {
			s.logger.Error("fail %s: block dependent %s: %v", taskID, dependent.ID, err)
		}
	}
	s.publish(ctx, failed.Team, bus.KindTaskFailed, failed)
	return failed, nil
}

// cascade promotes every direct dependent whose dependencies are now all
// success. The scan is bounded by the immediate dependents of the completed
// task, never the whole team. Dependents of a paused workflow are held in
// blocked instead; Resume releases them once their dependencies hold.
func (s *Service) cascade(ctx context.Context, completedID string) error {
	dependents, err := s.store.Dependents(ctx, completedID)
	if err != nil {
		return err
	}
	for _, dependent := range dependents {
		if dependent.Status != StatusPending && dependent.Status != StatusBlocked {
			continue
		}
		satisfied := true
		for _, dep := range dependent.DependsOn {
			depTask, err := s.store.Get(ctx, dep)
			if err != nil || depTask.Status != StatusSuccess {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		target := StatusReady
		if dependent.Workflow != "" && s.workflows != nil {
			paused, err := s.workflows.Paused(ctx, dependent.Workflow)
			if err != nil {
				s.logger.Warn("cascade %s: workflow %s state: %v", completedID, dependent.Workflow, err)
			} else if paused {
				target = StatusBlocked
			}
		}
		if dependent.Status == target {
			continue
		}
		if _, err := s.store.SetStatus(ctx, dependent.ID, target); err != nil {
			return fmt.Errorf("promote %s: %w", dependent.ID, err)
		}
	}
	return nil
}

// Ready returns up to limit dispatchable tasks for the role, priority
// descending then oldest first. A worker in cooling-off receives nothing.
func (s *Service) Ready(ctx context.Context, team, role, worker string, limit int) ([]*Task, error) {
	if s.fairness != nil && worker != "" && s.fairness.InCoolingOff(team, worker, s.now()) {
		return nil, nil
	}
	var tasks []*Task
	err := s.retry.Do(ctx, func() error {
		var listErr error
		tasks, listErr = s.store.ListReady(ctx, ReadyFilter{Team: team, Role: role, Limit: limit})
		return listErr
	})
	if err != nil {
		return nil, fmt.Errorf("ready tasks: %w", err)
	}
	return tasks, nil
}

// SetStatus applies a bare lifecycle transition, used by the workflow engine
// for pause (ready to blocked) and resume (blocked to ready).
func (s *Service) SetStatus(ctx context.Context, id string, status Status) (*Task, error) {
	return s.store.SetStatus(ctx, id, status)
}

// ListByWorkflow returns every task created for a workflow.
func (s *Service) ListByWorkflow(ctx context.Context, workflowID string) ([]*Task, error) {
	return s.store.ListByWorkflow(ctx, workflowID)
}

// CancelPending cancels a workflow's not-yet-running tasks and returns the
// cancelled ids. Running tasks finish on their own.
func (s *Service) CancelPending(ctx context.Context, workflowID string) ([]string, error) {
	return s.store.CancelPending(ctx, workflowID)
}

func (s *Service) getWithRetry(ctx context.Context, id string) (*Task, error) {
	var t *Task
	err := s.retry.Do(ctx, func() error {
		var getErr error
		t, getErr = s.store.Get(ctx, id)
		if errors.Is(getErr, ErrNotFound) {
			return nil // not transient; surface below
		}
		return getErr
	})
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, ErrNotFound
	}
	return t, nil
}

// publish emits a task event after the store write has committed. A publish
// failure is logged and swallowed: the store is authoritative and observers
// reconcile on their next poll.
func (s *Service) publish(ctx context.Context, team, kind string, t *Task) {
	event := bus.Event{
		Kind: kind,
		Data: map[string]any{
			"task_id":  t.ID,
			"team":     t.Team,
			"title":    t.Title,
			"status":   string(t.Status),
			"priority": t.Priority,
			"assignee": t.Assignee,
			"workflow": t.Workflow,
		},
		Timestamp: s.now(),
	}
	if err := s.bus.Publish(ctx, bus.TeamChannel(team, kind), event); err != nil {
		s.logger.Warn("publish %s for task %s: %v", kind, t.ID, err)
	}
}
