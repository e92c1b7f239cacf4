package adapters

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// MemoryTaskAdapter is an in-process TaskAdapter for development and tests.
type MemoryTaskAdapter struct {
	mu     sync.Mutex
	nextID int
	tasks  map[string]map[string]any
}

// NewMemoryTaskAdapter returns an empty adapter.
func NewMemoryTaskAdapter() *MemoryTaskAdapter {
	return &MemoryTaskAdapter{tasks: make(map[string]map[string]any)}
}

func (a *MemoryTaskAdapter) CreateTask(_ context.Context, spec TaskSpec) Result {
	if spec.Title == "" {
		return Fail("title required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := fmt.Sprintf("TASK-%d", a.nextID)
	a.tasks[id] = map[string]any{
		"id":     id,
		"title":  spec.Title,
		"status": "open",
		"parent": spec.Parent,
	}
	return OK(map[string]any{"id": id})
}

func (a *MemoryTaskAdapter) UpdateTask(_ context.Context, id string, fields map[string]any) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.tasks[id]
	if !ok {
		return Fail("task not found: " + id)
	}
	for k, v := range fields {
		stored[k] = v
	}
	return OK(stored)
}

func (a *MemoryTaskAdapter) TransitionTask(ctx context.Context, id, status string) Result {
	return a.UpdateTask(ctx, id, map[string]any{"status": status})
}

func (a *MemoryTaskAdapter) GetTask(_ context.Context, id string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.tasks[id]
	if !ok {
		return Fail("task not found: " + id)
	}
	return OK(stored)
}

func (a *MemoryTaskAdapter) SearchTasks(_ context.Context, query string, limit int) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var hits []any
	for _, stored := range a.tasks {
		title, _ := stored["title"].(string)
		if query == "" || strings.Contains(strings.ToLower(title), strings.ToLower(query)) {
			hits = append(hits, stored)
			if limit > 0 && len(hits) >= limit {
				break
			}
		}
	}
	return OK(map[string]any{"results": hits})
}

func (a *MemoryTaskAdapter) DeleteTask(_ context.Context, id string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.tasks[id]; !ok {
		return Fail("task not found: " + id)
	}
	delete(a.tasks, id)
	return OK(nil)
}

func (a *MemoryTaskAdapter) AddComment(_ context.Context, id, body string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.tasks[id]
	if !ok {
		return Fail("task not found: " + id)
	}
	comments, _ := stored["comments"].([]any)
	stored["comments"] = append(comments, body)
	return OK(nil)
}

func (a *MemoryTaskAdapter) EpicChildren(_ context.Context, epicID string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var children []any
	for _, stored := range a.tasks {
		if parent, _ := stored["parent"].(string); parent == epicID {
			children = append(children, stored)
		}
	}
	return OK(map[string]any{"children": children})
}

// MemoryDocumentAdapter is an in-process DocumentAdapter for development and
// tests.
type MemoryDocumentAdapter struct {
	mu     sync.Mutex
	nextID int
	pages  map[string]map[string]any
}

// NewMemoryDocumentAdapter returns an empty adapter.
func NewMemoryDocumentAdapter() *MemoryDocumentAdapter {
	return &MemoryDocumentAdapter{pages: make(map[string]map[string]any)}
}

func (a *MemoryDocumentAdapter) CreatePage(_ context.Context, space, title, body string) Result {
	if title == "" {
		return Fail("title required")
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextID++
	id := fmt.Sprintf("PAGE-%d", a.nextID)
	a.pages[id] = map[string]any{"id": id, "space": space, "title": title, "body": body}
	return OK(map[string]any{"id": id})
}

func (a *MemoryDocumentAdapter) UpdatePage(_ context.Context, id string, fields map[string]any) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.pages[id]
	if !ok {
		return Fail("page not found: " + id)
	}
	for k, v := range fields {
		stored[k] = v
	}
	return OK(stored)
}

func (a *MemoryDocumentAdapter) GetPage(_ context.Context, id string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	stored, ok := a.pages[id]
	if !ok {
		return Fail("page not found: " + id)
	}
	return OK(stored)
}

func (a *MemoryDocumentAdapter) DeletePage(_ context.Context, id string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.pages[id]; !ok {
		return Fail("page not found: " + id)
	}
	delete(a.pages, id)
	return OK(nil)
}

func (a *MemoryDocumentAdapter) SearchPages(_ context.Context, query string, limit int) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var hits []any
	for _, stored := range a.pages {
		title, _ := stored["title"].(string)
		if query == "" || strings.Contains(strings.ToLower(title), strings.ToLower(query)) {
			hits = append(hits, stored)
			if limit > 0 && len(hits) >= limit {
				break
			}
		}
	}
	return OK(map[string]any{"results": hits})
}

func (a *MemoryDocumentAdapter) PageChildren(_ context.Context, id string) Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	var children []any
	for _, stored := range a.pages {
		if parent, _ := stored["parent"].(string); parent == id {
			children = append(children, stored)
		}
	}
	return OK(map[string]any{"children": children})
}
