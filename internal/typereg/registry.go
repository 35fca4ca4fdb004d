package typereg

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"sync"
)

// registry maps stable type names to constructors and back. Stores use it to
// round-trip event payloads; the dispatch resolver uses concrete types as
// lookup keys. The set of registered types is fixed at startup.
type registry struct {
	mu    sync.RWMutex
	ctors map[string]ctor
	types map[reflect.Type]string
}

func New() *registry {
	return &registry{
		ctors: make(map[string]ctor),
		types: make(map[reflect.Type]string),
	}
}

type ctor = func() any

func (r *registry) Register(tname string, c ctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[reflect.TypeOf(c())]; ok {
		panic(fmt.Sprintf("type %v is already registered", reflect.TypeOf(c())))
	}
	if _, ok := r.ctors[tname]; ok {
		panic(fmt.Sprintf("type %q is already registered", tname))
	}
	r.types[reflect.TypeOf(c())] = tname
	r.ctors[tname] = c
	slog.Info("type registered", "type", tname)
}

func (r *registry) Create(name string) (any, error) {
	r.mu.RLock()
	ct, ok := r.ctors[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("registry: unknown type name %q", name)
	}
	return ct(), nil
}

func (r *registry) NameFor(in any) (string, error) {
	if in == nil {
		return "", errors.New("registry: cannot get name for nil")
	}

	t := reflect.TypeOf(in)

	r.mu.RLock()
	name, ok := r.types[t]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("registry: type %v is not registered", t)
	}
	return name, nil
}

func TypeNameFor[T any]() string {
	var zero T
	return TypeNameFrom(zero)
}

// TypeNameFrom derives a default name from a value's concrete type: the bare
// struct name, pointers dereferenced.
func TypeNameFrom(e any) string {
	if strev, ok := e.(fmt.Stringer); ok {
		return strev.String()
	}
	t := reflect.TypeOf(e)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		panic("unsupported type")
	}
	return t.Name()
}
