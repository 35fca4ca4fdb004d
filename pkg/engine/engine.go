// Package engine orchestrates one command at a time per aggregate:
// validation, snapshot resolution through the cache, dispatch to registered
// business logic, append with an optimistic version check, cache refresh and
// commit notification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"github.com/alekseev-bro/sourcing/pkg/dispatch"
	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/snapcache"
	"github.com/alekseev-bro/sourcing/pkg/store"
)

const laneCount = 64

// Validator reports constraint violations for a command. An empty list
// means valid.
type Validator[T any] interface {
	Validate(cmd domain.Command[T]) []string
}

// Store is the durable event/snapshot store collaborator. LoadLatest
// replays persisted events onto a fresh state when no stored snapshot
// exists; an aggregate that was never persisted loads as an empty snapshot
// at version zero. Append fails with store.ErrVersionConflict unless the
// stored version equals the unit of work's version minus one.
type Store[T any] interface {
	LoadLatest(ctx context.Context, id domain.AggregateID) (domain.Snapshot[T], error)
	Append(ctx context.Context, uow *domain.UnitOfWork[T]) (uint64, error)
}

// CommitListener is invoked after every successful append, in commit order
// for any one aggregate id.
type CommitListener[T any] func(uow *domain.UnitOfWork[T], sequence uint64)

type Engine[T any] struct {
	resolver  *dispatch.Resolver[T]
	store     Store[T]
	validator Validator[T]
	cache     *snapcache.Cache[T]
	listeners []CommitListener[T]

	// one lock per lane; commands for the same aggregate id always land on
	// the same lane, so handling from snapshot resolution through append
	// never interleaves for one id.
	lanes [laneCount]sync.Mutex
}

func New[T any](st Store[T], resolver *dispatch.Resolver[T], opts ...Option[T]) *Engine[T] {
	e := &Engine[T]{
		store:    st,
		resolver: resolver,
	}
	for _, o := range opts {
		o(e)
	}
	if e.cache == nil {
		c, err := snapcache.New[T](0)
		if err != nil {
			panic(err)
		}
		e.cache = c
	}
	return e
}

// Handle processes one command end to end and always returns a definite
// outcome. Validation failures and unknown commands are expected results,
// not errors; concurrency conflicts are surfaced so the caller can reload
// and retry, the engine never retries on its own.
func (e *Engine[T]) Handle(ctx context.Context, cmd domain.Command[T]) Execution[T] {
	if e.validator != nil {
		if violations := e.validator.Validate(cmd); len(violations) > 0 {
			return Execution[T]{Result: ValidationError, Violations: violations}
		}
	}

	id := cmd.AggregateID()
	lane := e.lane(id)
	lane.Lock()
	defer lane.Unlock()

	msg, err := e.resolveSnapshot(ctx, id)
	if err != nil {
		return Execution[T]{Result: HandlingError, Err: fmt.Errorf("resolve snapshot: %w", err)}
	}
	slog.Debug("snapshot resolved", "aggregate_id", id, "version", msg.Snapshot.Version, "from", msg.LoadedFrom)

	uow, err := e.resolver.Resolve(cmd, msg.Snapshot)
	if err != nil {
		return Execution[T]{Result: HandlingError, Err: err}
	}
	if uow == nil {
		slog.Debug("command yielded no unit of work", "command_id", cmd.CommandID(), "aggregate_id", id)
		return Execution[T]{Result: UnknownCommand}
	}

	seq, err := e.store.Append(ctx, uow)
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			// Drop the stale entry so a retry reloads from the store.
			e.cache.Remove(id)
			slog.Warn("version conflict", "aggregate_id", id, "version", uow.Version)
			return Execution[T]{Result: ConcurrencyConflict, Err: err}
		}
		return Execution[T]{Result: HandlingError, Err: fmt.Errorf("append: %w", err)}
	}

	e.cache.Put(id, msg.Snapshot.Advance(uow.Events))

	for _, l := range e.listeners {
		l(uow, seq)
	}

	slog.Info("unit of work committed", "aggregate_id", id, "version", uow.Version, "sequence", seq, "events", len(uow.Events))
	return Execution[T]{Result: Success, UnitOfWork: uow, Sequence: seq}
}

// resolveSnapshot consults the cache first and falls back to the store,
// writing the loaded snapshot back so the next command for the same id skips
// the round-trip.
func (e *Engine[T]) resolveSnapshot(ctx context.Context, id domain.AggregateID) (domain.SnapshotMessage[T], error) {
	if snap, ok := e.cache.Get(id); ok {
		return domain.SnapshotMessage[T]{Snapshot: snap, LoadedFrom: domain.FromCache}, nil
	}
	snap, err := e.store.LoadLatest(ctx, id)
	if err != nil {
		return domain.SnapshotMessage[T]{}, err
	}
	e.cache.Put(id, snap)
	return domain.SnapshotMessage[T]{Snapshot: snap, LoadedFrom: domain.FromStore}, nil
}

func (e *Engine[T]) lane(id domain.AggregateID) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &e.lanes[h.Sum32()%laneCount]
}
