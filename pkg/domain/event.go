package domain

// Event is a fact produced by applying a command to an aggregate of type T.
type Event[T any] interface {
	Apply(*T)
}

func NewEvents[T any](events ...Event[T]) Events[T] {
	return events
}

// Events is an ordered list of events; order is significant and preserved.
type Events[T any] []Event[T]

func (e Events[T]) Apply(state *T) {
	for _, ev := range e {
		ev.Apply(state)
	}
}
