package projection

import "time"

type Option[T any] func(*Pipeline[T])

// WithFailureThreshold opens the breaker after n consecutive projector
// failures.
func WithFailureThreshold[T any](n uint32) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.threshold = n
	}
}

// WithCallTimeout treats a projector call as failed if it does not complete
// in time.
func WithCallTimeout[T any](d time.Duration) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.callTimeout = d
	}
}

// WithResetTimeout sets how long the breaker stays open before allowing a
// single trial call.
func WithResetTimeout[T any](d time.Duration) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.resetTimeout = d
	}
}

func WithWorkers[T any](n int) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.poolSize = n
	}
}

// WithQueueDepth bounds the intake queue. A submission hitting a full queue
// is rejected with ErrSaturated instead of waiting for a worker.
func WithQueueDepth[T any](n int) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.queueDepth = n
	}
}

func WithAcknowledger[T any](a Acknowledger[T]) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.ack = a
	}
}

func WithFallback[T any](f Fallback[T]) Option[T] {
	return func(pl *Pipeline[T]) {
		pl.fallback = f
	}
}
