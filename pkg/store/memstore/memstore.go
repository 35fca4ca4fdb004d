// Package memstore is an in-memory event store: the reference
// implementation of the engine's Store contract and the default backend for
// tests and examples. State is rebuilt by replaying committed units of work;
// nothing survives the process.
package memstore

import (
	"context"
	"fmt"
	"sync"

	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/store"
)

type Store[T any] struct {
	mu    sync.Mutex
	seq   uint64
	units map[domain.AggregateID][]*domain.UnitOfWork[T]
	seen  map[string]uint64
}

func New[T any]() *Store[T] {
	return &Store[T]{
		units: make(map[domain.AggregateID][]*domain.UnitOfWork[T]),
		seen:  make(map[string]uint64),
	}
}

// LoadLatest replays every committed unit of work for id onto a fresh
// state. An aggregate that was never persisted comes back as an empty
// snapshot at version zero.
func (s *Store[T]) LoadLatest(ctx context.Context, id domain.AggregateID) (domain.Snapshot[T], error) {
	if err := ctx.Err(); err != nil {
		return domain.Snapshot[T]{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := domain.EmptySnapshot[T]()
	for _, uow := range s.units[id] {
		snap = snap.Advance(uow.Events)
	}
	return snap, nil
}

// Append commits one unit of work under the optimistic version check and
// returns a monotonically increasing sequence number. Re-appending a unit
// of work already committed returns its original sequence.
func (s *Store[T]) Append(ctx context.Context, uow *domain.UnitOfWork[T]) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq, ok := s.seen[uow.ID.String()]; ok {
		return seq, nil
	}

	id := uow.TargetID()
	stored := domain.Version(len(s.units[id]))
	if stored != uow.Version-1 {
		return 0, fmt.Errorf("append %s at %d, stored %d: %w", id, uow.Version, stored, store.ErrVersionConflict)
	}

	s.seq++
	s.units[id] = append(s.units[id], uow)
	s.seen[uow.ID.String()] = s.seq
	return s.seq, nil
}

// Units returns the committed units of work for id in commit order.
func (s *Store[T]) Units(id domain.AggregateID) []*domain.UnitOfWork[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*domain.UnitOfWork[T], len(s.units[id]))
	copy(out, s.units[id])
	return out
}
