package domain

import "github.com/google/uuid"

// AggregateID identifies one aggregate instance. It is opaque to the engine
// and compared by value; all state and commands for an instance are scoped
// by it.
type AggregateID string

func (id AggregateID) String() string {
	return string(id)
}

// NewAggregateID returns a time-ordered random id.
func NewAggregateID() AggregateID {
	a, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return AggregateID(a.String())
}
