// Package worker is the reference pull-model consumer: it subscribes to a
// team's task events, claims ready tasks matching its role, runs a handler,
// and reports the outcome. Deployments embed their own work bodies behind the
// Handler; the orchestrator core never executes worker logic itself.
package worker

import (
	"context"
	"errors"
	"time"

	"squad/internal/bus"
	"squad/internal/shared/logging"
	"squad/internal/task"
	"squad/internal/tracker"
)

// Tasks is the slice of the task service a worker needs.
type Tasks interface {
	Ready(ctx context.Context, team, role, worker string, limit int) ([]*task.Task, error)
	Claim(ctx context.Context, taskID, worker string) (*task.Task, error)
	Complete(ctx context.Context, taskID string, result map[string]any) (*task.Task, error)
	Fail(ctx context.Context, taskID, errText string) (*task.Task, error)
}

// Handler performs the work of one claimed task and returns its result.
type Handler func(ctx context.Context, t *task.Task) (map[string]any, error)

// Worker is a single pull-model consumer bound to a team and role.
type Worker struct {
	team    string
	id      string
	role    string
	tasks   Tasks
	bus     bus.Bus
	handler Handler
	tracker *tracker.Tracker
	logger  logging.Logger
	limit   int
}

// Option adjusts worker construction.
type Option func(*Worker)

// WithTracker wraps every handled task in a tracked execution.
func WithTracker(tr *tracker.Tracker) Option {
	return func(w *Worker) { w.tracker = tr }
}

// WithPollLimit bounds how many ready tasks one poll fetches.
func WithPollLimit(n int) Option {
	return func(w *Worker) {
		if n > 0 {
			w.limit = n
		}
	}
}

// New builds a worker. The handler is required; everything it returns flows
// into complete_task verbatim.
func New(team, id, role string, tasks Tasks, eventBus bus.Bus, handler Handler, logger logging.Logger, opts ...Option) (*Worker, error) {
	if team == "" || id == "" {
		return nil, errors.New("worker requires team and id")
	}
	if tasks == nil {
		return nil, errors.New("worker requires a task service")
	}
	if eventBus == nil {
		return nil, errors.New("worker requires a bus")
	}
	if handler == nil {
		return nil, errors.New("worker requires a handler")
	}
	w := &Worker{
		team:    team,
		id:      id,
		role:    role,
		tasks:   tasks,
		bus:     eventBus,
		handler: handler,
		logger:  logging.OrNop(logger),
		limit:   10,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	return w, nil
}

// Run polls once at startup, then again on every task event, until ctx is
// cancelled. Claim races are expected and skipped silently.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.PSubscribe(ctx, bus.TeamPattern(w.team, "task"))
	if err != nil {
		return err
	}
	defer sub.Close() //nolint:errcheck // best-effort on defer

	w.drain(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			// Completion events matter too: a cascade may have promoted a
			// dependent this worker can claim.
			if event.Kind == bus.KindTaskCreated || event.Kind == bus.KindTaskCompleted {
				w.drain(ctx)
			}
		}
	}
}

// drain claims and executes ready tasks until a poll comes back empty.
func (w *Worker) drain(ctx context.Context) {
	for {
		ready, err := w.tasks.Ready(ctx, w.team, w.role, w.id, w.limit)
		if err != nil {
			w.logger.Warn("worker %s: poll ready: %v", w.id, err)
			return
		}
		claimedAny := false
		for _, t := range ready {
			claimed, err := w.tasks.Claim(ctx, t.ID, w.id)
			if err != nil {
				w.logger.Warn("worker %s: claim %s: %v", w.id, t.ID, err)
				continue
			}
			if claimed == nil {
				continue // lost the race
			}
			claimedAny = true
			w.execute(ctx, claimed)
		}
		if !claimedAny {
			return
		}
	}
}

func (w *Worker) execute(ctx context.Context, t *task.Task) {
	run := func(ctx context.Context, ex *tracker.Execution) error {
		started := time.Now()
		result, err := w.handler(ctx, t)
		if ex != nil {
			ex.LogToolCompletion(t.Title, time.Since(started), err)
		}
		if err != nil {
			if _, failErr := w.tasks.Fail(ctx, t.ID, err.Error()); failErr != nil {
				w.logger.Error("worker %s: fail %s: %v", w.id, t.ID, failErr)
			}
			return err
		}
		if _, err := w.tasks.Complete(ctx, t.ID, result); err != nil {
			w.logger.Error("worker %s: complete %s: %v", w.id, t.ID, err)
			return err
		}
		return nil
	}

	if w.tracker != nil {
		persona := w.role
		if persona == "" {
			persona = w.id
		}
		// Track owns the outcome record; the task report happens inside.
		_ = w.tracker.Track(ctx, persona, run, tracker.WithInput(t.Title, nil))
		return
	}
	_ = run(ctx, nil)
}
