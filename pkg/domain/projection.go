package domain

import "github.com/google/uuid"

// ProjectionData is the shape handed to read-model projectors: one committed
// unit of work plus the sequence number the store assigned at append time.
// Sequence numbers are monotonic and give projectors a total order for
// detecting gaps or duplicates under redelivery.
type ProjectionData[T any] struct {
	UnitOfWorkID uuid.UUID
	Sequence     uint64
	AggregateID  AggregateID
	Events       Events[T]
}

func NewProjectionData[T any](uow *UnitOfWork[T], sequence uint64) ProjectionData[T] {
	return ProjectionData[T]{
		UnitOfWorkID: uow.ID,
		Sequence:     sequence,
		AggregateID:  uow.TargetID(),
		Events:       uow.Events,
	}
}
