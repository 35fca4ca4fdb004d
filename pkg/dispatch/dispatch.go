// Package dispatch selects business logic by the runtime type of a command.
// The registry of (command type, aggregate type) pairs is built once at
// startup, so resolution after warm-up is a single map lookup.
package dispatch

import (
	"fmt"
	"reflect"
	"sync"

	"github.com/alekseev-bro/sourcing/pkg/domain"
)

// HandlerFunc decides how one command type transitions one aggregate type.
// It returns the unit of work to commit, or nil when the command yields no
// state change.
type HandlerFunc[T any] func(cmd domain.Command[T], snap domain.Snapshot[T]) (*domain.UnitOfWork[T], error)

type Resolver[T any] struct {
	mu       sync.RWMutex
	inject   func(*T)
	handlers map[reflect.Type]HandlerFunc[T]
}

func NewResolver[T any](opts ...Option[T]) *Resolver[T] {
	r := &Resolver[T]{
		handlers: make(map[reflect.Type]HandlerFunc[T]),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

type Option[T any] func(*Resolver[T])

// WithInjector wires collaborators into the aggregate state before any
// handler sees it.
func WithInjector[T any](fn func(*T)) Option[T] {
	return func(r *Resolver[T]) {
		r.inject = fn
	}
}

// On registers fn for the concrete command type C. One handler per command
// type; duplicate registration panics.
func On[C domain.Command[T], T any](r *Resolver[T], fn func(cmd C, snap domain.Snapshot[T]) (*domain.UnitOfWork[T], error)) {
	t := reflect.TypeFor[C]()
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[t]; ok {
		panic(fmt.Sprintf("dispatch: handler for %v is already registered", t))
	}
	r.handlers[t] = func(cmd domain.Command[T], snap domain.Snapshot[T]) (*domain.UnitOfWork[T], error) {
		return fn(cmd.(C), snap)
	}
}

// Resolve invokes the handler registered for the command's runtime type.
// Three outcomes: a unit of work; (nil, nil) when no handler matches or the
// matched handler produced no state change; a non-nil error when the handler
// failed. A panicking handler is reported as a failure, never as a crash.
func (r *Resolver[T]) Resolve(cmd domain.Command[T], snap domain.Snapshot[T]) (uow *domain.UnitOfWork[T], err error) {
	r.mu.RLock()
	h, ok := r.handlers[reflect.TypeOf(cmd)]
	r.mu.RUnlock()
	if !ok {
		return nil, nil
	}

	if r.inject != nil {
		r.inject(snap.State)
	}

	defer func() {
		if rec := recover(); rec != nil {
			uow, err = nil, fmt.Errorf("dispatch: handler panic: %v", rec)
		}
	}()
	return h(cmd, snap)
}
