package gate

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Executor performs the real side effect of an action. The returned string
// is a short human-readable result note ("refund #881 issued").
type Executor interface {
	Execute(ctx context.Context, action string, args map[string]any) (string, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, action string, args map[string]any) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, action string, args map[string]any) (string, error) {
	return f(ctx, action, args)
}

// Registry maps action names to their executors. The host application
// registers one executor per catalog action at startup.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to an action name. Re-registering a name is an
// error to keep wiring mistakes loud.
func (r *Registry) Register(action string, e Executor) error {
	if action == "" {
		return fmt.Errorf("gate: executor action name must not be empty")
	}
	if e == nil {
		return fmt.Errorf("gate: executor for %q must not be nil", action)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.executors[action]; exists {
		return fmt.Errorf("gate: executor for %q already registered", action)
	}
	r.executors[action] = e
	return nil
}

// Executor returns the executor bound to action.
func (r *Registry) Executor(action string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[action]
	return e, ok
}

// Actions returns registered action names, sorted.
func (r *Registry) Actions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
