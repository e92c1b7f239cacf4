package adapters

import (
	"fmt"
	"sync"
)

// Registry resolves adapters by name ("jira", "confluence", ...). The first
// registration of each type becomes the default until overridden.
type Registry struct {
	mu          sync.RWMutex
	tasks       map[string]TaskAdapter
	documents   map[string]DocumentAdapter
	defaultTask string
	defaultDoc  string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		tasks:     make(map[string]TaskAdapter),
		documents: make(map[string]DocumentAdapter),
	}
}

// RegisterTask binds a task adapter to a name. Duplicate names fail.
func (r *Registry) RegisterTask(name string, adapter TaskAdapter) error {
	if name == "" || adapter == nil {
		return fmt.Errorf("register task adapter: name and adapter required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[name]; exists {
		return fmt.Errorf("register task adapter: %q already registered", name)
	}
	r.tasks[name] = adapter
	if r.defaultTask == "" {
		r.defaultTask = name
	}
	return nil
}

// RegisterDocument binds a document adapter to a name. Duplicate names fail.
func (r *Registry) RegisterDocument(name string, adapter DocumentAdapter) error {
	if name == "" || adapter == nil {
		return fmt.Errorf("register document adapter: name and adapter required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.documents[name]; exists {
		return fmt.Errorf("register document adapter: %q already registered", name)
	}
	r.documents[name] = adapter
	if r.defaultDoc == "" {
		r.defaultDoc = name
	}
	return nil
}

// Task resolves a task adapter; an empty name resolves the default.
func (r *Registry) Task(name string) (TaskAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultTask
	}
	adapter, ok := r.tasks[name]
	if !ok {
		return nil, fmt.Errorf("task adapter %q not registered", name)
	}
	return adapter, nil
}

// Document resolves a document adapter; an empty name resolves the default.
func (r *Registry) Document(name string) (DocumentAdapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultDoc
	}
	adapter, ok := r.documents[name]
	if !ok {
		return nil, fmt.Errorf("document adapter %q not registered", name)
	}
	return adapter, nil
}

// SetDefaultTask overrides which task adapter an empty name resolves to.
func (r *Registry) SetDefaultTask(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[name]; !ok {
		return fmt.Errorf("task adapter %q not registered", name)
	}
	r.defaultTask = name
	return nil
}

// SetDefaultDocument overrides which document adapter an empty name resolves
// to.
func (r *Registry) SetDefaultDocument(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.documents[name]; !ok {
		return fmt.Errorf("document adapter %q not registered", name)
	}
	r.defaultDoc = name
	return nil
}

// Names lists the registered adapter names by type.
func (r *Registry) Names() (tasks, documents []string) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name := range r.tasks {
		tasks = append(tasks, name)
	}
	for name := range r.documents {
		documents = append(documents, name)
	}
	return tasks, documents
}
