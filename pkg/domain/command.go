package domain

import "github.com/google/uuid"

// Command is an immutable request targeting one aggregate instance of type T.
// CommandID is unique per logical request; downstream consumers use it for
// idempotency.
type Command[T any] interface {
	CommandID() uuid.UUID
	AggregateID() AggregateID
}
