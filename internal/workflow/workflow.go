// Package workflow turns a task graph into a tracked run: tasks are
// instantiated from graph nodes in dependency order and the run's status
// follows the tasks' terminal states.
package workflow

import (
	"context"
	"errors"
	"time"

	"squad/internal/dag"
	"squad/internal/task"
)

// ErrNotFound is returned when a workflow id is absent.
var ErrNotFound = errors.New("workflow not found")

// Status is the run state of a workflow.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether the run can no longer change.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Definition is one workflow run: the immutable graph plus mutable run state.
type Definition struct {
	ID          string            `json:"id"`
	Team        string            `json:"team"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Graph       *dag.Graph        `json:"graph"`
	Status      Status            `json:"status"`
	TaskIDs     map[string]string `json:"task_ids,omitempty"` // node id -> task id
	Progress    float64           `json:"progress"`           // 0..100, completed tasks over total
	Error       string            `json:"error,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	StartedAt   *time.Time        `json:"started_at,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
}

// TaskForNode returns the task instantiated for a graph node, if any.
func (d *Definition) TaskForNode(nodeID string) (string, bool) {
	id, ok := d.TaskIDs[nodeID]
	return id, ok
}

// Store is the workflow persistence port.
type Store interface {
	// Create persists a new definition.
	Create(ctx context.Context, d *Definition) error
	// Get fetches a definition; ErrNotFound when absent.
	Get(ctx context.Context, id string) (*Definition, error)
	// Update replaces the mutable run state of a definition.
	Update(ctx context.Context, d *Definition) error
	// ListByTeam returns a team's workflows, newest first.
	ListByTeam(ctx context.Context, team string) ([]*Definition, error)
	// DeleteByTeam removes a team's workflows (ownership cascade).
	DeleteByTeam(ctx context.Context, team string) (int, error)
}

// States adapts a Store into the pause lookup the task completion cascade
// consults. Unknown workflow ids count as not paused so orphaned tasks keep
// flowing.
func States(store Store) task.WorkflowStates {
	return storeStates{store: store}
}

type storeStates struct {
	store Store
}

func (s storeStates) Paused(ctx context.Context, workflowID string) (bool, error) {
	d, err := s.store.Get(ctx, workflowID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return d.Status == StatusPaused, nil
}
