// Package task defines the task domain model, the store port, and the
// lifecycle service that creates, claims, completes, and cascades tasks.
package task

import (
	"errors"
	"time"
)

// Status represents the lifecycle state of a task.
type Status string

const (
	StatusPending        Status = "pending"
	StatusReady          Status = "ready"
	StatusRunning        Status = "running"
	StatusSuccess        Status = "success"
	StatusFailed         Status = "failed"
	StatusBlocked        Status = "blocked"
	StatusAwaitingReview Status = "awaiting_review"
	StatusCancelled      Status = "cancelled"
)

// IsTerminal reports whether the status is final.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusSuccess, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransition reports whether from -> to is a legal lifecycle step. The
// machine is monotonic except for the ready<->blocked pair, which may repeat
// until the task starts running.
func CanTransition(from, to Status) bool {
	if from == to {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusReady || to == StatusBlocked || to == StatusCancelled
	case StatusReady:
		return to == StatusRunning || to == StatusBlocked || to == StatusCancelled
	case StatusBlocked:
		return to == StatusReady || to == StatusCancelled
	case StatusRunning:
		return to == StatusSuccess || to == StatusFailed || to == StatusAwaitingReview || to == StatusCancelled
	case StatusAwaitingReview:
		return to == StatusSuccess || to == StatusFailed || to == StatusCancelled
	default:
		return false
	}
}

// Sentinel errors shared by every store implementation.
var (
	ErrNotFound          = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task transition")
)

// Task is a single unit of work inside a team, optionally part of a workflow.
type Task struct {
	ID           string            `json:"id"`
	Team         string            `json:"team"`
	Title        string            `json:"title"`
	Body         string            `json:"body,omitempty"`
	Status       Status            `json:"status"`
	Priority     int               `json:"priority"`
	RequiredRole string            `json:"required_role,omitempty"`
	Assignee     string            `json:"assignee,omitempty"`
	AssigneeRole string            `json:"assignee_role,omitempty"`
	Creator      string            `json:"creator"`
	CreatedAt    time.Time         `json:"created_at"`
	ClaimedAt    *time.Time        `json:"claimed_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Parent       string            `json:"parent,omitempty"`
	Workflow     string            `json:"workflow,omitempty"`
	DependsOn    []string          `json:"depends_on,omitempty"`
	Result       map[string]any    `json:"result,omitempty"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Tags         []string          `json:"tags,omitempty"`
}

// Clone returns a deep copy so callers can mutate without aliasing store state.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	clone := *t
	if t.ClaimedAt != nil {
		at := *t.ClaimedAt
		clone.ClaimedAt = &at
	}
	if t.CompletedAt != nil {
		at := *t.CompletedAt
		clone.CompletedAt = &at
	}
	clone.DependsOn = append([]string(nil), t.DependsOn...)
	clone.Tags = append([]string(nil), t.Tags...)
	if t.Metadata != nil {
		clone.Metadata = make(map[string]string, len(t.Metadata))
		for k, v := range t.Metadata {
			clone.Metadata[k] = v
		}
	}
	if t.Result != nil {
		clone.Result = make(map[string]any, len(t.Result))
		for k, v := range t.Result {
			clone.Result[k] = v
		}
	}
	return &clone
}
