// Package projection delivers committed units of work to a read-model
// projector on an isolated worker pool, behind a circuit breaker. Submission
// only enqueues: a slow or failing projector can never stall the commit
// path; its failures surface only through the delivery acknowledgement.
package projection

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/sourcegraph/conc/pool"

	"github.com/alekseev-bro/sourcing/pkg/domain"
)

var (
	// ErrSaturated rejects a delivery when the intake queue is full.
	ErrSaturated = errors.New("projection intake queue is full")
	// ErrDrained rejects a delivery submitted after Drain.
	ErrDrained = errors.New("projection pipeline is drained")
)

// Projector applies one committed unit of work to a read model. Delivery is
// at-least-once, so implementations must be idempotent keyed by
// ProjectionData.UnitOfWorkID.
type Projector[T any] interface {
	Apply(ctx context.Context, data domain.ProjectionData[T]) error
}

// Acknowledger receives the definite outcome of each delivery. Ack tells the
// upstream to advance; Nak signals it to redeliver later.
type Acknowledger[T any] interface {
	Ack(data domain.ProjectionData[T])
	Nak(data domain.ProjectionData[T], err error)
}

// Fallback is invoked whenever a delivery fails or is rejected (breaker
// open, projector error, queue full), so every delivery still resolves to a
// definite outcome.
type Fallback[T any] func(data domain.ProjectionData[T], err error)

type delivery[T any] struct {
	data domain.ProjectionData[T]
	ack  Acknowledger[T]
}

type Pipeline[T any] struct {
	ctx       context.Context
	projector Projector[T]
	breaker   *gobreaker.CircuitBreaker[struct{}]
	workers   *pool.Pool
	ack       Acknowledger[T]
	fallback  Fallback[T]

	// intake decouples submission from execution: Submit never waits for a
	// worker, it enqueues or rejects. The feeder goroutine alone blocks on
	// the pool when every worker is busy.
	intake     chan delivery[T]
	feederDone chan struct{}
	mu         sync.RWMutex
	closed     bool
	drainOnce  sync.Once

	threshold    uint32
	callTimeout  time.Duration
	resetTimeout time.Duration
	poolSize     int
	queueDepth   int
}

func New[T any](ctx context.Context, p Projector[T], opts ...Option[T]) *Pipeline[T] {
	pl := &Pipeline[T]{
		ctx:          ctx,
		projector:    p,
		threshold:    5,
		callTimeout:  2 * time.Second,
		resetTimeout: 10 * time.Second,
		poolSize:     4,
		queueDepth:   256,
	}
	for _, o := range opts {
		o(pl)
	}

	pl.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "events-projection",
		MaxRequests: 1,
		Timeout:     pl.resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= pl.threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("projection breaker state change", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	pl.workers = pool.New().WithMaxGoroutines(pl.poolSize)
	pl.intake = make(chan delivery[T], pl.queueDepth)
	pl.feederDone = make(chan struct{})
	go pl.feed()
	return pl
}

// OnCommitted is the engine-side commit hook: it builds the projection
// record and enqueues it without blocking the caller.
func (pl *Pipeline[T]) OnCommitted(uow *domain.UnitOfWork[T], sequence uint64) {
	pl.Submit(domain.NewProjectionData(uow, sequence))
}

// Submit schedules one delivery. The outcome goes to the configured
// acknowledger; redelivered data is safe to submit again.
func (pl *Pipeline[T]) Submit(data domain.ProjectionData[T]) {
	pl.SubmitWith(data, pl.ack)
}

// SubmitWith is Submit with a per-delivery acknowledger, for upstream
// sources that carry their own ack tokens. It never blocks: when the intake
// queue is full the delivery is rejected with ErrSaturated so the upstream
// redelivers it.
func (pl *Pipeline[T]) SubmitWith(data domain.ProjectionData[T], ack Acknowledger[T]) {
	pl.mu.RLock()
	defer pl.mu.RUnlock()
	if pl.closed {
		pl.reject(data, ack, ErrDrained)
		return
	}
	select {
	case pl.intake <- delivery[T]{data: data, ack: ack}:
	default:
		pl.reject(data, ack, ErrSaturated)
	}
}

// feed moves queued deliveries onto the worker pool. pool.Go blocks while
// all workers are busy, which is fine here: only the feeder waits, never a
// submitter.
func (pl *Pipeline[T]) feed() {
	defer close(pl.feederDone)
	for d := range pl.intake {
		d := d
		pl.workers.Go(func() {
			pl.deliver(d.data, d.ack)
		})
	}
}

func (pl *Pipeline[T]) reject(data domain.ProjectionData[T], ack Acknowledger[T], err error) {
	slog.Warn("projection delivery rejected", "uow_id", data.UnitOfWorkID, "sequence", data.Sequence, "error", err)
	if pl.fallback != nil {
		pl.fallback(data, err)
	}
	if ack != nil {
		ack.Nak(data, err)
	}
}

func (pl *Pipeline[T]) deliver(data domain.ProjectionData[T], ack Acknowledger[T]) {
	_, err := pl.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, pl.apply(data)
	})
	if err != nil {
		slog.Warn("projection delivery failed", "uow_id", data.UnitOfWorkID, "sequence", data.Sequence, "error", err)
		if pl.fallback != nil {
			pl.fallback(data, err)
		}
		if ack != nil {
			ack.Nak(data, err)
		}
		return
	}
	if ack != nil {
		ack.Ack(data)
	}
}

// apply runs the projector under the call timeout. A projector that blocks
// past the timeout counts as a failure; its goroutine is left to finish on
// its own with a cancelled context.
func (pl *Pipeline[T]) apply(data domain.ProjectionData[T]) error {
	ctx, cancel := context.WithTimeout(pl.ctx, pl.callTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- pl.projector.Apply(ctx, data)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain stops intake and waits for every queued and in-flight delivery to
// settle. Deliveries submitted afterwards are rejected with ErrDrained.
func (pl *Pipeline[T]) Drain() error {
	pl.drainOnce.Do(func() {
		pl.mu.Lock()
		pl.closed = true
		close(pl.intake)
		pl.mu.Unlock()
		<-pl.feederDone
		pl.workers.Wait()
	})
	return nil
}
