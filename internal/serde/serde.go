package serde

import (
	"fmt"
	"reflect"

	"github.com/alekseev-bro/sourcing/pkg/codec"
)

type Creator interface {
	Create(name string) (any, error)
}

// NewSerder builds a registry-driven serializer for the interface type T.
// Deserialize instantiates the concrete type registered under the given name
// and decodes the payload into it.
func NewSerder[T any](reg Creator, c codec.Codec) *serder[T] {
	if reflect.TypeFor[T]().Kind() != reflect.Interface {
		panic("type T is not an interface")
	}

	return &serder[T]{
		codec: c,
		reg:   reg,
	}
}

type serder[T any] struct {
	codec codec.Codec
	reg   Creator
}

func (s *serder[T]) Serialize(v T) ([]byte, error) {
	return s.codec.Marshal(v)
}

func (s *serder[T]) Deserialize(t string, b []byte) (T, error) {
	var zero T
	out, err := s.reg.Create(t)
	if err != nil {
		return zero, fmt.Errorf("deserialize: %w", err)
	}
	if err := s.codec.Unmarshal(b, out); err != nil {
		return zero, fmt.Errorf("deserialize: %w", err)
	}
	return out.(T), nil
}
