package sqlstore_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/store"
	"github.com/alekseev-bro/sourcing/pkg/store/sqlstore"
)

type Account struct {
	Owner   string `json:"owner"`
	Balance int    `json:"balance"`
}

type Opened struct {
	Owner string `json:"owner"`
}

func (e *Opened) Apply(a *Account) {
	a.Owner = e.Owner
}

type Deposited struct {
	Amount int `json:"amount"`
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

func openStore(t *testing.T) *sqlstore.Store[Account] {
	t.Helper()
	st, err := sqlstore.Open[Account](filepath.Join(t.TempDir(), "events.db"),
		sqlstore.WithEvent[Opened, Account](""),
		sqlstore.WithEvent[Deposited, Account](""),
	)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

func mustUow(t *testing.T, id domain.AggregateID, snap domain.Snapshot[Account], events ...domain.Event[Account]) *domain.UnitOfWork[Account] {
	t.Helper()
	uow, err := domain.NewUnitOfWork[Account](command{id: uuid.New(), target: id}, snap, events...)
	if err != nil {
		t.Fatal(err)
	}
	return uow
}

func TestAppendAndReplay(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	snap, err := st.LoadLatest(ctx, "acc#1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Version.IsNew() {
		t.Fatalf("fresh aggregate has version %d", snap.Version)
	}

	seq, err := st.Append(ctx, mustUow(t, "acc#1", snap, &Opened{Owner: "bob"}))
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
	if _, err := st.Append(ctx, mustUow(t, "acc#1", snap, &Deposited{Amount: 5}, &Deposited{Amount: 7})); err != nil {
		t.Fatal(err)
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

func TestAggregatesAreIsolated(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	if _, err := st.Append(ctx, mustUow(t, "acc#1", domain.EmptySnapshot[Account](), &Opened{Owner: "bob"})); err != nil {
		t.Fatal(err)
	}
	if _, err := st.Append(ctx, mustUow(t, "acc#2", domain.EmptySnapshot[Account](), &Opened{Owner: "eve"})); err != nil {
		t.Fatal(err)
	}

	snap, err := st.LoadLatest(ctx, "acc#2")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 || snap.State.Owner != "eve" {
		t.Errorf("snapshot = v%d %+v", snap.Version, snap.State)
	}
}

func TestVersionConflict(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	empty := domain.EmptySnapshot[Account]()
	if _, err := st.Append(ctx, mustUow(t, "acc#1", empty, &Opened{Owner: "bob"})); err != nil {
		t.Fatal(err)
	}

	_, err := st.Append(ctx, mustUow(t, "acc#1", empty, &Opened{Owner: "eve"}))
	if !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err = %v, want version conflict", err)
	}
}

func TestVersionGapRejected(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	if _, err := st.Append(ctx, mustUow(t, "acc#1", domain.EmptySnapshot[Account](), &Opened{Owner: "bob"})); err != nil {
		t.Fatal(err)
	}

	// a version past the contiguous next one must not slip in
	gapped := &domain.UnitOfWork[Account]{
		ID:      uuid.New(),
		Command: command{id: uuid.New(), target: "acc#1"},
		Version: 3,
		Events:  domain.NewEvents[Account](&Deposited{Amount: 5}),
	}
	if _, err := st.Append(ctx, gapped); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("err = %v, want version conflict", err)
	}

	snap, err := st.LoadLatest(ctx, "acc#1")
	if err != nil {
		t.Fatal(err)
	}
	if snap.Version != 1 {
		t.Errorf("version = %d, gapped append leaked through", snap.Version)
	}
}

func TestIdempotentAppend(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)

	uow := mustUow(t, "acc#1", domain.EmptySnapshot[Account](), &Opened{Owner: "bob"})
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
}
