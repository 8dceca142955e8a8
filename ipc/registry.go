package ipc

import (
	"context"
	"sort"
	"sync/atomic"
)

// HandlerFunc implements a named operation.
// in is the request data and out starts as an empty object which the handler populates.
// A returned error becomes an "error" response carrying err.Error().
type HandlerFunc func(ctx context.Context, in Object, out Object) error

// Registry maps operation names to handlers.
// Handlers are registered during startup, before any Worker using the registry runs.
// Once a Worker starts the registry is frozen and is only read afterwards, which is why lookups need no locking.
type Registry struct {
	handlers map[string]HandlerFunc
	frozen   atomic.Bool
}

func NewRegistry() *Registry {
	return &Registry{handlers: map[string]HandlerFunc{}}
}

// Register adds or replaces the handler for name.
// It panics if name is empty, if fn is nil, or if the registry has been frozen.
func (r *Registry) Register(name string, fn HandlerFunc) {
	if name == "" {
		panic("ipc: empty handler name")
	}
	if fn == nil {
		panic("ipc: nil handler for " + name)
	}
	if r.frozen.Load() {
		panic("ipc: register " + name + " after the registry was frozen")
	}
	r.handlers[name] = fn
}

// RegisterFunc registers a handler that builds its own output object.
func (r *Registry) RegisterFunc(name string, fn func(ctx context.Context, in Object) (Object, error)) {
	r.Register(name, func(ctx context.Context, in Object, out Object) error {
		res, err := fn(ctx, in)
		if err != nil {
			return err
		}
		for k, v := range res {
			out[k] = v
		}
		return nil
	})
}

func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered operation names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Freeze makes any further Register call panic. It is safe to call more than once.
func (r *Registry) Freeze() {
	r.frozen.Store(true)
}
