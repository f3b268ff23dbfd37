package flow

import (
	"context"
	"sort"
	"sync"
)

// Executor implements the behaviour of one node type. Execute must not
// panic and has no error return: faults are reported as failed Results.
type Executor interface {
	Execute(ctx context.Context, ec *ExecContext) Result
}

// ExecutorFunc adapts a plain function to the Executor interface.
type ExecutorFunc func(ctx context.Context, ec *ExecContext) Result

func (f ExecutorFunc) Execute(ctx context.Context, ec *ExecContext) Result {
	return f(ctx, ec)
}

// Registry maps node type strings to their executor implementation.
// Registration normally happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register stores exec for nodeType, replacing any previous registration.
func (r *Registry) Register(nodeType string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = exec
}

// Lookup returns the executor for nodeType.
func (r *Registry) Lookup(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[nodeType]
	return exec, ok
}

func (r *Registry) Has(nodeType string) bool {
	_, ok := r.Lookup(nodeType)
	return ok
}

// Types lists the registered node types in sorted order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
