package engine

import "github.com/alekseev-bro/sourcing/pkg/snapcache"

type Option[T any] func(*Engine[T])

func WithValidator[T any](v Validator[T]) Option[T] {
	return func(e *Engine[T]) {
		e.validator = v
	}
}

func WithCache[T any](c *snapcache.Cache[T]) Option[T] {
	return func(e *Engine[T]) {
		e.cache = c
	}
}

// WithCommitListener appends a hook invoked after every successful append.
// Listeners run on the handling lane; anything slow belongs behind the
// projection pipeline's worker pool.
func WithCommitListener[T any](l CommitListener[T]) Option[T] {
	return func(e *Engine[T]) {
		e.listeners = append(e.listeners, l)
	}
}
