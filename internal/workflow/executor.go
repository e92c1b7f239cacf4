package workflow

import (
	"context"
	"errors"

	"squad/internal/bus"
	"squad/internal/shared/async"
	"squad/internal/shared/logging"
)

// Executor drives workflow reconciliation from the event stream: it watches a
// team's task.* events and reconciles the owning run on every terminal task.
// The bus is advisory, so a missed event only delays reconciliation until the
// run's next task event.
type Executor struct {
	team   string
	engine *Engine
	bus    bus.Bus
	logger logging.Logger
}

// NewExecutor builds an executor for one team.
func NewExecutor(team string, engine *Engine, eventBus bus.Bus, logger logging.Logger) (*Executor, error) {
	if team == "" {
		return nil, errors.New("executor requires team")
	}
	if engine == nil {
		return nil, errors.New("executor requires engine")
	}
	if eventBus == nil {
		return nil, errors.New("executor requires bus")
	}
	return &Executor{
		team:   team,
		engine: engine,
		bus:    eventBus,
		logger: logging.OrNop(logger),
	}, nil
}

// Run subscribes and processes events until the context ends or the
// subscription closes. Blocks; callers run it in a goroutine.
func (x *Executor) Run(ctx context.Context) error {
	sub, err := x.bus.PSubscribe(ctx, bus.TeamPattern(x.team, "task"))
	if err != nil {
		return err
	}
	defer func() {
		if err := sub.Close(); err != nil {
			x.logger.Warn("executor %s: close subscription: %v", x.team, err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			x.handle(ctx, event)
		}
	}
}

// Start launches Run on a supervised goroutine and returns a stop function.
func (x *Executor) Start(ctx context.Context) func() {
	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	async.Go(x.logger, "workflow-executor-"+x.team, func() {
		defer close(done)
		if err := x.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			x.logger.Error("executor %s: %v", x.team, err)
		}
	})
	return func() {
		cancel()
		<-done
	}
}

func (x *Executor) handle(ctx context.Context, event bus.Event) {
	switch event.Kind {
	case bus.KindTaskCompleted, bus.KindTaskFailed:
	default:
		return
	}
	workflowID, _ := event.Data["workflow"].(string)
	if workflowID == "" {
		return
	}
	if _, err := x.engine.Reconcile(ctx, workflowID); err != nil && !errors.Is(err, ErrNotFound) {
		x.logger.Error("executor %s: reconcile %s: %v", x.team, workflowID, err)
	}
}
