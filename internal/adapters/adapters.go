// Package adapters defines the outbound contracts to external systems (issue
// trackers, wikis) and the registry that resolves them by name. The core
// consumes these interfaces; deployments plug in concrete clients.
package adapters

import "context"

// Result is the uniform outcome of an adapter call. Error is the remote
// system's failure description; transport problems surface there too, so a
// caller only branches on Success.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// OK builds a successful result.
func OK(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Fail builds a failed result.
func Fail(err string) Result {
	return Result{Error: err}
}

// TaskSpec carries the fields for a remote task or issue.
type TaskSpec struct {
	Project     string            `json:"project,omitempty"`
	Title       string            `json:"title"`
	Description string            `json:"description,omitempty"`
	Kind        string            `json:"kind,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	Assignee    string            `json:"assignee,omitempty"`
	Parent      string            `json:"parent,omitempty"`
	Labels      []string          `json:"labels,omitempty"`
	Fields      map[string]string `json:"fields,omitempty"`
}

// TaskAdapter is the outbound contract to an external issue tracker.
type TaskAdapter interface {
	CreateTask(ctx context.Context, spec TaskSpec) Result
	UpdateTask(ctx context.Context, id string, fields map[string]any) Result
	TransitionTask(ctx context.Context, id, status string) Result
	GetTask(ctx context.Context, id string) Result
	SearchTasks(ctx context.Context, query string, limit int) Result
	DeleteTask(ctx context.Context, id string) Result
	AddComment(ctx context.Context, id, body string) Result
	EpicChildren(ctx context.Context, epicID string) Result
}

// DocumentAdapter is the outbound contract to an external wiki.
type DocumentAdapter interface {
	CreatePage(ctx context.Context, space, title, body string) Result
	UpdatePage(ctx context.Context, id string, fields map[string]any) Result
	GetPage(ctx context.Context, id string) Result
	DeletePage(ctx context.Context, id string) Result
	SearchPages(ctx context.Context, query string, limit int) Result
	PageChildren(ctx context.Context, id string) Result
}
