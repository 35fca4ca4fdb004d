package domain

// Snapshot pairs an aggregate state with the version at which that state was
// last known. Snapshots are superseded, never mutated in place: Advance
// returns the post-commit snapshot and leaves the receiver untouched.
type Snapshot[T any] struct {
	State   *T
	Version Version
}

// EmptySnapshot is the state of an aggregate that was never persisted.
func EmptySnapshot[T any]() Snapshot[T] {
	return Snapshot[T]{State: new(T), Version: 0}
}

// Advance applies the events of one committed unit of work and bumps the
// version by one.
func (s Snapshot[T]) Advance(events Events[T]) Snapshot[T] {
	next := *s.State
	events.Apply(&next)
	return Snapshot[T]{State: &next, Version: s.Version.Next()}
}

type Provenance uint8

const (
	FromStore Provenance = iota
	FromCache
)

func (p Provenance) String() string {
	if p == FromCache {
		return "cache"
	}
	return "store"
}

// SnapshotMessage wraps a snapshot with where it was loaded from. Provenance
// is observability data; it never changes the outcome of handling.
type SnapshotMessage[T any] struct {
	Snapshot   Snapshot[T]
	LoadedFrom Provenance
}
