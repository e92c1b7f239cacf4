package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"squad/internal/bus"
	"squad/internal/dag"
	"squad/internal/shared/logging"
	"squad/internal/task"
)

// Tasks is the slice of the task lifecycle the engine drives.
type Tasks interface {
	CreateBatch(ctx context.Context, reqs []task.CreateRequest) ([]*task.Task, error)
	SetStatus(ctx context.Context, id string, status task.Status) (*task.Task, error)
	ListByWorkflow(ctx context.Context, workflowID string) ([]*task.Task, error)
	CancelPending(ctx context.Context, workflowID string) ([]string, error)
}

// Callback observes workflows reaching a terminal status.
type Callback func(d Definition)

// Engine owns workflow runs: instantiating tasks from the graph, pausing and
// resuming dispatch, and reconciling run status from task outcomes.
type Engine struct {
	store  Store
	tasks  Tasks
	bus    bus.Bus
	logger logging.Logger
	now    func() time.Time

	mu        sync.Mutex
	callbacks []Callback
}

// EngineOption mutates the engine during construction.
type EngineOption func(*Engine)

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine builds the workflow engine.
func NewEngine(store Store, tasks Tasks, eventBus bus.Bus, logger logging.Logger, opts ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, errors.New("workflow engine requires store")
	}
	if tasks == nil {
		return nil, errors.New("workflow engine requires task service")
	}
	if eventBus == nil {
		return nil, errors.New("workflow engine requires bus")
	}
	engine := &Engine{
		store:  store,
		tasks:  tasks,
		bus:    eventBus,
		logger: logging.OrNop(logger),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(engine)
		}
	}
	return engine, nil
}

// OnTerminal registers a callback invoked whenever a workflow reaches a
// terminal status. Callbacks run synchronously inside Reconcile.
func (e *Engine) OnTerminal(cb Callback) {
	if cb == nil {
		return
	}
	e.mu.Lock()
	e.callbacks = append(e.callbacks, cb)
	e.mu.Unlock()
}

// Create validates the graph, persists the run, and instantiates one task per
// node in a single batch write: entry tasks come out ready, downstream tasks
// pending. Start only opens dispatch; the tasks already exist.
func (e *Engine) Create(ctx context.Context, team string, g *dag.Graph) (*Definition, error) {
	if team == "" {
		return nil, errors.New("create workflow: team required")
	}
	if g == nil || len(g.Nodes) == 0 {
		return nil, errors.New("create workflow: graph requires at least one node")
	}
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	d := &Definition{
		ID:          uuid.NewString(),
		Team:        team,
		Name:        g.Name,
		Description: g.Description,
		Graph:       g,
		Status:      StatusPending,
		TaskIDs:     make(map[string]string, len(order)),
		CreatedAt:   e.now(),
	}
	// Task ids are assigned up front so in-batch dependencies can reference
	// each other before anything is persisted.
	reqs := make([]task.CreateRequest, 0, len(order))
	for _, node := range order {
		dependsOn := make([]string, 0, len(node.DependsOn))
		for _, dep := range node.DependsOn {
			dependsOn = append(dependsOn, d.TaskIDs[dep])
		}
		taskID := uuid.NewString()
		d.TaskIDs[node.ID] = taskID
		reqs = append(reqs, task.CreateRequest{
			ID:           taskID,
			Team:         d.Team,
			Title:        node.Title,
			Body:         node.Description,
			RequiredRole: node.RequiredRole,
			Priority:     node.Priority,
			Workflow:     d.ID,
			DependsOn:    dependsOn,
			Metadata:     node.Metadata,
			Tags:         node.Tags,
		})
	}
	if err := e.store.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("create workflow: %w", err)
	}
	if _, err := e.tasks.CreateBatch(ctx, reqs); err != nil {
		e.finish(d, StatusFailed, fmt.Sprintf("instantiate tasks: %v", err))
		if uerr := e.store.Update(ctx, d); uerr != nil {
			e.logger.Warn("mark workflow %s failed: %v", d.ID, uerr)
		}
		return nil, fmt.Errorf("create workflow %s: instantiate tasks: %w", d.ID, err)
	}
	return d, nil
}

// Get fetches a run.
func (e *Engine) Get(ctx context.Context, id string) (*Definition, error) {
	return e.store.Get(ctx, id)
}

// List returns a team's runs, newest first.
func (e *Engine) List(ctx context.Context, team string) ([]*Definition, error) {
	return e.store.ListByTeam(ctx, team)
}

// Start moves a pending run to running. The node tasks already exist from
// Create; starting only records the timestamp and opens reconciliation.
func (e *Engine) Start(ctx context.Context, id string) (*Definition, error) {
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPending {
		return nil, fmt.Errorf("start workflow %s: status is %s, want pending", id, d.Status)
	}
	started := e.now()
	d.StartedAt = &started
	d.Status = StatusRunning
	if err := e.store.Update(ctx, d); err != nil {
		return nil, fmt.Errorf("start workflow %s: %w", id, err)
	}
	e.publish(ctx, d, bus.KindWorkflowStarted)
	return d, nil
}

// Pause stops further dispatch: the run's ready tasks move to blocked.
// Running tasks finish on their own.
func (e *Engine) Pause(ctx context.Context, id string) (*Definition, error) {
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusRunning {
		return nil, fmt.Errorf("pause workflow %s: status is %s, want running", id, d.Status)
	}
	tasks, err := e.tasks.ListByWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("pause workflow %s: %w", id, err)
	}
	for _, t := range tasks {
		if t.Status != task.StatusReady {
			continue
		}
		if _, err := e.tasks.SetStatus(ctx, t.ID, task.StatusBlocked); err != nil {
			return nil, fmt.Errorf("pause workflow %s: block task %s: %w", id, t.ID, err)
		}
	}
	d.Status = StatusPaused
	if err := e.store.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Resume reopens dispatch: blocked tasks whose dependencies are all complete
// return to ready. Tasks blocked by a failed dependency stay blocked.
func (e *Engine) Resume(ctx context.Context, id string) (*Definition, error) {
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusPaused {
		return nil, fmt.Errorf("resume workflow %s: status is %s, want paused", id, d.Status)
	}
	tasks, err := e.tasks.ListByWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("resume workflow %s: %w", id, err)
	}
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}
	for _, t := range tasks {
		if t.Status != task.StatusBlocked {
			continue
		}
		satisfied := true
		for _, dep := range t.DependsOn {
			if depTask, ok := byID[dep]; !ok || depTask.Status != task.StatusSuccess {
				satisfied = false
				break
			}
		}
		if !satisfied {
			continue
		}
		if _, err := e.tasks.SetStatus(ctx, t.ID, task.StatusReady); err != nil {
			return nil, fmt.Errorf("resume workflow %s: unblock task %s: %w", id, t.ID, err)
		}
	}
	d.Status = StatusRunning
	if err := e.store.Update(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Cancel moves a non-terminal run to cancelled and cancels its not-yet-running
// tasks. Running tasks finish on their own; their results are kept.
func (e *Engine) Cancel(ctx context.Context, id string) (*Definition, error) {
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status.IsTerminal() {
		return nil, fmt.Errorf("cancel workflow %s: already %s", id, d.Status)
	}
	if _, err := e.tasks.CancelPending(ctx, id); err != nil {
		return nil, fmt.Errorf("cancel workflow %s: %w", id, err)
	}
	e.finish(d, StatusCancelled, "")
	if err := e.store.Update(ctx, d); err != nil {
		return nil, err
	}
	e.publish(ctx, d, bus.KindWorkflowCancelled)
	e.notify(*d)
	return d, nil
}

// Reconcile recomputes a run's progress and terminal status from its tasks.
// Invoked by the executor on every task event; safe to call repeatedly.
func (e *Engine) Reconcile(ctx context.Context, id string) (*Definition, error) {
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Status != StatusRunning {
		return d, nil
	}
	tasks, err := e.tasks.ListByWorkflow(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reconcile workflow %s: %w", id, err)
	}
	if len(tasks) == 0 {
		return d, nil
	}
	var completed, failed, active int
	for _, t := range tasks {
		switch t.Status {
		case task.StatusSuccess:
			completed++
		case task.StatusFailed:
			failed++
		case task.StatusRunning, task.StatusReady, task.StatusAwaitingReview:
			active++
		}
	}
	d.Progress = float64(completed) / float64(len(tasks)) * 100

	switch {
	case completed == len(tasks):
		e.finish(d, StatusCompleted, "")
		if err := e.store.Update(ctx, d); err != nil {
			return nil, err
		}
		e.publish(ctx, d, bus.KindWorkflowCompleted)
		e.notify(*d)
	case failed > 0 && active == 0:
		// Every remaining task is pending or blocked behind the failure and
		// can never run.
		e.finish(d, StatusFailed, fmt.Sprintf("%d of %d tasks failed", failed, len(tasks)))
		if err := e.store.Update(ctx, d); err != nil {
			return nil, err
		}
		e.publish(ctx, d, bus.KindWorkflowFailed)
		e.notify(*d)
	default:
		if err := e.store.Update(ctx, d); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// CriticalPath returns the run's longest dependency chain for bottleneck
// diagnostics.
func (e *Engine) CriticalPath(ctx context.Context, id string) ([]*dag.Node, error) {
	d, err := e.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.Graph.CriticalPath(), nil
}

func (e *Engine) finish(d *Definition, status Status, errText string) {
	done := e.now()
	d.Status = status
	d.Error = errText
	d.CompletedAt = &done
	if status == StatusCompleted {
		d.Progress = 100
	}
}

func (e *Engine) notify(d Definition) {
	e.mu.Lock()
	callbacks := append([]Callback(nil), e.callbacks...)
	e.mu.Unlock()
	for _, cb := range callbacks {
		cb(d)
	}
}

func (e *Engine) publish(ctx context.Context, d *Definition, kind string) {
	event := bus.Event{
		Kind: kind,
		Data: map[string]any{
			"workflow_id": d.ID,
			"team":        d.Team,
			"name":        d.Name,
			"status":      string(d.Status),
			"progress":    d.Progress,
		},
		Timestamp: e.now(),
	}
	if err := e.bus.Publish(ctx, bus.TeamChannel(d.Team, kind), event); err != nil {
		e.logger.Warn("publish %s for workflow %s: %v", kind, d.ID, err)
	}
}
