package memstore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/store"
	"github.com/alekseev-bro/sourcing/pkg/store/memstore"
)

type Account struct {
	Owner   string
	Balance int
}

type Opened struct {
	Owner string
}

func (e *Opened) Apply(a *Account) {
	a.Owner = e.Owner
}

type Deposited struct {
	Amount int
}

func (e *Deposited) Apply(a *Account) {
	a.Balance += e.Amount
}

type command struct {
	id     uuid.UUID
	target domain.AggregateID
}

func (c command) CommandID() uuid.UUID            { return c.id }
func (c command) AggregateID() domain.AggregateID { return c.target }

func mustUow(t *testing.T, snap domain.Snapshot[Account], events ...domain.Event[Account]) *domain.UnitOfWork[Account] {
	t.Helper()
	uow, err := domain.NewUnitOfWork[Account](command{id: uuid.New(), target: "acc#1"}, snap, events...)
	if err != nil {
		t.Fatal(err)
	}
	return uow
}

func TestAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	st := memstore.New[Account]()

	snap, err := st.LoadLatest(ctx, "acc#1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Version.IsNew() {
		t.Fatalf("fresh aggregate has version %d", snap.Version)
	}

	seq, err := st.Append(ctx, mustUow(t, snap, &Opened{Owner: "bob"}))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 1 {
		t.Errorf("sequence = %d, want 1", seq)
	}

	snap, err = st.LoadLatest(ctx, "acc#1")
	if err != nil {
		t.Fatal(err)
	}
	seq, err = st.Append(ctx, mustUow(t, snap, &Deposited{Amount: 5}, &Deposited{Amount: 7}))
	if err != nil {
		t.Fatal(err)
	}
	if seq != 2 {
		t.Errorf("sequence = %d, want 2", seq)
	}

	snap, err = st.LoadLatest(ctx, "acc#1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 2 {
		t.Errorf("version = %d, want 2", snap.Version)
	}
	if snap.State.Owner != "bob" || snap.State.Balance != 12 {
		t.Errorf("state = %+v", snap.State)
	}
}

func TestVersionConflict(t *testing.T) {
	ctx := context.Background()
	st := memstore.New[Account]()

	empty := domain.EmptySnapshot[Account]()
	if _, err := st.Append(ctx, mustUow(t, empty, &Opened{Owner: "bob"})); err != nil {
		t.Fatal(err)
	}

	// stale writer, still at version 0
	_, err := st.Append(ctx, mustUow(t, empty, &Opened{Owner: "eve"}))
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err = %v, want version conflict", err)
	}
}

func TestIdempotentAppend(t *testing.T) {
	ctx := context.Background()
	st := memstore.New[Account]()

	uow := mustUow(t, domain.EmptySnapshot[Account](), &Opened{Owner: "bob"})
	seq1, err := st.Append(ctx, uow)
	if err != nil {
		t.Fatal(err)
	}
	seq2, err := st.Append(ctx, uow)
	if err != nil {
		t.Fatalf("re-append of same unit of work must not fail: %v", err)
	}
	if seq1 != seq2 {
		t.Errorf("sequences differ: %d vs %d", seq1, seq2)
	}
	if len(st.Units("acc#1")) != 1 {
		t.Errorf("duplicate commit stored")
	}
}
