package store

import "errors"

var (
	ErrNoAggregate = errors.New("no aggregate messages")
	ErrNoSnapshot  = errors.New("no snapshot")

	// ErrVersionConflict is returned by Append when the stored version for
	// the aggregate does not equal the unit of work's version minus one.
	ErrVersionConflict = errors.New("version conflict")
)
