package dispatch_test

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/alekseev-bro/sourcing/pkg/dispatch"
	"github.com/alekseev-bro/sourcing/pkg/domain"
)

type Account struct {
	Balance int
	clock   func() int64
}

type Deposited struct {
	Amount int
}

func (e *Deposited) Apply(a *Account) {
	a.Balance += e.Amount
}

type Deposit struct {
	ID     uuid.UUID
	Target domain.AggregateID
	Amount int
}

func (c Deposit) CommandID() uuid.UUID            { return c.ID }
func (c Deposit) AggregateID() domain.AggregateID { return c.Target }

type Withdraw struct {
	ID     uuid.UUID
	Target domain.AggregateID
	Amount int
}

func (c Withdraw) CommandID() uuid.UUID            { return c.ID }
func (c Withdraw) AggregateID() domain.AggregateID { return c.Target }

type Freeze struct {
	ID     uuid.UUID
	Target domain.AggregateID
}

func (c Freeze) CommandID() uuid.UUID            { return c.ID }
func (c Freeze) AggregateID() domain.AggregateID { return c.Target }

var errInsufficient = errors.New("insufficient funds")

func newResolver() *dispatch.Resolver[Account] {
	r := dispatch.NewResolver[Account]()
	dispatch.On(r, func(cmd Deposit, snap domain.Snapshot[Account]) (*domain.UnitOfWork[Account], error) {
		return domain.NewUnitOfWork[Account](cmd, snap, &Deposited{Amount: cmd.Amount})
	})
	dispatch.On(r, func(cmd Withdraw, snap domain.Snapshot[Account]) (*domain.UnitOfWork[Account], error) {
		if snap.State.Balance < cmd.Amount {
			return nil, errInsufficient
		}
		return domain.NewUnitOfWork[Account](cmd, snap, &Deposited{Amount: -cmd.Amount})
	})
	return r
}

func TestResolveMatch(t *testing.T) {
	r := newResolver()
	snap := domain.EmptySnapshot[Account]()

	uow, err := r.Resolve(Deposit{ID: uuid.New(), Target: "acc#1", Amount: 10}, snap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if uow == nil {
		t.Fatal("expected a unit of work")
	}
	if uow.Version != 1 {
		t.Errorf("version = %d, want 1", uow.Version)
	}
}

func TestResolveNoMatch(t *testing.T) {
	r := newResolver()
	snap := domain.EmptySnapshot[Account]()

	uow, err := r.Resolve(Freeze{ID: uuid.New(), Target: "acc#1"}, snap)
	if err != nil {
		t.Fatalf("no match must not be an error, got: %v", err)
	}
	if uow != nil {
		t.Fatal("no match must not yield a unit of work")
	}
}

func TestResolveHandlerError(t *testing.T) {
	r := newResolver()
	snap := domain.EmptySnapshot[Account]()

	uow, err := r.Resolve(Withdraw{ID: uuid.New(), Target: "acc#1", Amount: 100}, snap)
	if !errors.Is(err, errInsufficient) {
		t.Fatalf("error = %v, want %v", err, errInsufficient)
	}
	if uow != nil {
		t.Fatal("failed handler must not yield a unit of work")
	}
}

func TestResolveHandlerPanic(t *testing.T) {
	r := dispatch.NewResolver[Account]()
	dispatch.On(r, func(cmd Deposit, snap domain.Snapshot[Account]) (*domain.UnitOfWork[Account], error) {
		panic("boom")
	})

	uow, err := r.Resolve(Deposit{ID: uuid.New(), Target: "acc#1"}, domain.EmptySnapshot[Account]())
	if err == nil {
		t.Fatal("expected panic to surface as error")
	}
	if uow != nil {
		t.Fatal("panicking handler must not yield a unit of work")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r := newResolver()
	dispatch.On(r, func(cmd Deposit, snap domain.Snapshot[Account]) (*domain.UnitOfWork[Account], error) {
		return nil, nil
	})
}

func TestInjector(t *testing.T) {
	injected := false
	r := dispatch.NewResolver[Account](dispatch.WithInjector[Account](func(a *Account) {
		a.clock = func() int64 { return 42 }
		injected = true
	}))
	dispatch.On(r, func(cmd Deposit, snap domain.Snapshot[Account]) (*domain.UnitOfWork[Account], error) {
		if snap.State.clock == nil {
			t.Error("collaborator not injected before handler ran")
		}
		return domain.NewUnitOfWork[Account](cmd, snap, &Deposited{Amount: cmd.Amount})
	})

	if _, err := r.Resolve(Deposit{ID: uuid.New(), Target: "acc#1", Amount: 1}, domain.EmptySnapshot[Account]()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !injected {
		t.Fatal("injector was not invoked")
	}
}
