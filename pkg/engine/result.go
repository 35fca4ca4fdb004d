package engine

import "github.com/alekseev-bro/sourcing/pkg/domain"

// Result classifies the outcome of one Handle call. Every call resolves to
// exactly one of these; a command is never silently dropped.
type Result uint8

const (
	Success Result = iota
	ValidationError
	UnknownCommand
	HandlingError
	ConcurrencyConflict
)

func (r Result) String() string {
	switch r {
	case Success:
		return "SUCCESS"
	case ValidationError:
		return "VALIDATION_ERROR"
	case UnknownCommand:
		return "UNKNOWN_COMMAND"
	case HandlingError:
		return "HANDLING_ERROR"
	case ConcurrencyConflict:
		return "CONCURRENCY_CONFLICT"
	default:
		return "UNKNOWN"
	}
}

// Execution is the reply for one handled command. UnitOfWork and Sequence
// are set on success, Violations on validation failure, Err on handling
// failures and conflicts.
type Execution[T any] struct {
	Result     Result
	UnitOfWork *domain.UnitOfWork[T]
	Sequence   uint64
	Violations []string
	Err        error
}
