// Package snapcache is the bounded cache of latest snapshots, keyed by
// aggregate id. It is a performance optimization only: every read that
// matters is followed by a version check at append time, so a stale or
// evicted entry degrades to a store round-trip or a concurrency conflict,
// never to corruption.
package snapcache

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alekseev-bro/sourcing/pkg/domain"
)

const defaultSize = 1024

type Cache[T any] struct {
	lru *lru.Cache[domain.AggregateID, domain.Snapshot[T]]
}

func New[T any](size int) (*Cache[T], error) {
	if size <= 0 {
		size = defaultSize
	}
	c, err := lru.New[domain.AggregateID, domain.Snapshot[T]](size)
	if err != nil {
		return nil, err
	}
	return &Cache[T]{lru: c}, nil
}

func (c *Cache[T]) Get(id domain.AggregateID) (domain.Snapshot[T], bool) {
	return c.lru.Get(id)
}

// Put overwrites the entry for id. The cache holds exactly the latest known
// snapshot per aggregate.
func (c *Cache[T]) Put(id domain.AggregateID, snap domain.Snapshot[T]) {
	c.lru.Add(id, snap)
}

func (c *Cache[T]) Remove(id domain.AggregateID) {
	c.lru.Remove(id)
}

func (c *Cache[T]) Len() int {
	return c.lru.Len()
}
