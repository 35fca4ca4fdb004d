package sqlstore

import (
	"fmt"
	"reflect"
	"time"

	"github.com/alekseev-bro/sourcing/internal/serde"
	"github.com/alekseev-bro/sourcing/pkg/codec"
	"github.com/alekseev-bro/sourcing/pkg/domain"
)

type Option[T any] func(*Store[T])

// WithSnapshotThreshold refreshes the stored snapshot after at least
// numUnits commits were replayed on a load and interval has passed since the
// last refresh.
func WithSnapshotThreshold[T any](numUnits int, interval time.Duration) Option[T] {
	return func(s *Store[T]) {
		s.snapThreshold = numUnits
		s.snapInterval = interval
	}
}

// WithEvent registers the event type E under name, or under its struct name
// when name is empty.
func WithEvent[E any, T any, PE interface {
	*E
	domain.Event[T]
}](name string) Option[T] {
	if reflect.TypeFor[E]().Kind() != reflect.Struct {
		panic(fmt.Sprintf("event '%s' must be a struct and not a pointer", reflect.TypeFor[E]().Name()))
	}
	return func(s *Store[T]) {
		if name == "" {
			name = reflect.TypeFor[E]().Name()
		}
		s.eventRegistry.Register(name, func() any { return PE(new(E)) })
	}
}

func WithEventCodec[T any](c codec.Codec) Option[T] {
	return func(s *Store[T]) {
		s.eventSerder = serde.NewSerder[domain.Event[T]](s.eventRegistry, c)
	}
}

func WithSnapshotCodec[T any](c codec.Codec) Option[T] {
	return func(s *Store[T]) {
		s.snapshotCodec = c
	}
}
