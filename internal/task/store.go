package task

import (
	"context"
	"time"
)

// ReadyFilter narrows a ListReady query.
type ReadyFilter struct {
	Team  string
	Role  string // matches tasks whose required_role is empty or equal
	Limit int
}

// Store is the task persistence port. Implementations must make TryClaim,
// Complete, and Fail atomic: concurrent claims admit at most one winner, and
// status writes re-check the current row inside the same transaction.
type Store interface {
	// Create persists the task and its dependency edges in one transaction.
	Create(ctx context.Context, t *Task) error

	// CreateAll persists the batch and its dependency edges in one
	// transaction: every task commits or none do. Existing ids are skipped,
	// keeping the batch idempotent under retry.
	CreateAll(ctx context.Context, tasks []*Task) error

	// Get retrieves a task by id; ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Task, error)

	// TryClaim assigns the task to worker when it is still ready, unassigned,
	// and its dependencies are all success. Returns (nil, nil) when the claim
	// is lost, mirroring the conflict taxonomy.
	TryClaim(ctx context.Context, id, worker string, now time.Time) (*Task, error)

	// Complete moves a running task to success and stores the result.
	// ErrInvalidTransition when the task is not running.
	Complete(ctx context.Context, id string, result map[string]any, now time.Time) (*Task, error)

	// Fail moves a running task to failed and stores the error text.
	Fail(ctx context.Context, id string, errText string, now time.Time) (*Task, error)

	// SetStatus performs a bare lifecycle transition (ready<->blocked,
	// cancellation); ErrInvalidTransition when the step is illegal.
	SetStatus(ctx context.Context, id string, status Status) (*Task, error)

	// ListReady returns unassigned ready tasks matching the filter, priority
	// descending then created_at ascending.
	ListReady(ctx context.Context, filter ReadyFilter) ([]*Task, error)

	// Dependents returns the tasks that directly depend on id. Cascade
	// re-evaluation is bounded by this set.
	Dependents(ctx context.Context, id string) ([]*Task, error)

	// ListByWorkflow returns every task created for a workflow.
	ListByWorkflow(ctx context.Context, workflowID string) ([]*Task, error)

	// CancelPending cancels pending/ready/blocked tasks of a workflow and
	// returns the cancelled ids. Running tasks are not interrupted.
	CancelPending(ctx context.Context, workflowID string) ([]string, error)

	// CountByAssignee returns the per-status task counts for a worker,
	// feeding membership performance metrics.
	CountByAssignee(ctx context.Context, team, worker string) (map[Status]int, error)

	// DeleteByTeam removes a team's tasks (ownership cascade).
	DeleteByTeam(ctx context.Context, team string) (int, error)
}
