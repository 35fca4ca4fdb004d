package snapcache_test

import (
	"fmt"
	"testing"

	"github.com/alekseev-bro/sourcing/pkg/domain"
	"github.com/alekseev-bro/sourcing/pkg/snapcache"
)

type Account struct {
	Balance int
}

func TestPutGet(t *testing.T) {
	c, err := snapcache.New[Account](8)
	if err != nil {
		t.Fatal(err)
	}

	if _, ok := c.Get("acc#1"); ok {
		t.Fatal("unexpected hit on empty cache")
	}

	c.Put("acc#1", domain.Snapshot[Account]{State: &Account{Balance: 10}, Version: 1})
	snap, ok := c.Get("acc#1")
	if !ok {
		t.Fatal("expected hit")
	}
	if snap.Version != 1 || snap.State.Balance != 10 {
		t.Errorf("got version %d balance %d", snap.Version, snap.State.Balance)
	}

	// latest snapshot wins
	c.Put("acc#1", domain.Snapshot[Account]{State: &Account{Balance: 25}, Version: 2})
	snap, _ = c.Get("acc#1")
	if snap.Version != 2 || snap.State.Balance != 25 {
		t.Errorf("overwrite failed: version %d balance %d", snap.Version, snap.State.Balance)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestEviction(t *testing.T) {
	c, err := snapcache.New[Account](4)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		id := domain.AggregateID(fmt.Sprintf("acc#%d", i))
		c.Put(id, domain.Snapshot[Account]{State: &Account{Balance: i}, Version: 1})
	}
	if c.Len() != 4 {
		t.Errorf("len = %d, want 4", c.Len())
	}
	if _, ok := c.Get("acc#0"); ok {
		t.Error("oldest entry should have been evicted")
	}
	if _, ok := c.Get("acc#9"); !ok {
		t.Error("newest entry should still be cached")
	}
}

func TestRemove(t *testing.T) {
	c, err := snapcache.New[Account](4)
	if err != nil {
		t.Fatal(err)
	}
	c.Put("acc#1", domain.Snapshot[Account]{State: &Account{}, Version: 3})
	c.Remove("acc#1")
	if _, ok := c.Get("acc#1"); ok {
		t.Fatal("entry should be gone")
	}
}
