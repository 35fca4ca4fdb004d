package domain

import (
	"errors"

	"github.com/google/uuid"
)

var ErrNoEvents = errors.New("unit of work must carry at least one event")

// UnitOfWork is the atomic record of one successful state transition: the
// source command, the ordered events it produced and the resulting version.
type UnitOfWork[T any] struct {
	ID      uuid.UUID
	Command Command[T]
	Version Version
	Events  Events[T]
}

// NewUnitOfWork builds a unit of work advancing the given snapshot by one
// version. An empty event list is rejected; "no events" is expressed by not
// building a unit of work at all.
func NewUnitOfWork[T any](cmd Command[T], snap Snapshot[T], events ...Event[T]) (*UnitOfWork[T], error) {
	if len(events) == 0 {
		return nil, ErrNoEvents
	}
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}
	return &UnitOfWork[T]{
		ID:      id,
		Command: cmd,
		Version: snap.Version.Next(),
		Events:  events,
	}, nil
}

func (u *UnitOfWork[T]) TargetID() AggregateID {
	return u.Command.AggregateID()
}
