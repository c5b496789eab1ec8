// Package memory is an in-process cache.Cache, used by default and in tests. It holds at most a fixed
// number of entries and evicts the least recently used beyond that.
package memory

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/clock"
)

const DefaultSize = 10000

type entry struct {
	value     string
	expiresAt time.Time
}

type Cache struct {
	lru   *expirable.LRU[string, entry]
	clock clock.Clock
}

var _ cache.Cache = (*Cache)(nil)

// New makes a cache of at most size entries. Per-entry TTLs are measured with cl; maxTTL, when positive,
// additionally drops every entry that wall-clock time has aged past it.
func New(cl clock.Clock, size int, maxTTL time.Duration) *Cache {
	if size <= 0 {
		size = DefaultSize
	}
	return &Cache{
		lru:   expirable.NewLRU[string, entry](size, nil, maxTTL),
		clock: cl,
	}
}

func (c *Cache) Get(_ context.Context, key string) (string, error) {
	e, ok := c.lru.Get(key)
	if !ok {
		return "", cache.ErrMiss
	}
	if !e.expiresAt.IsZero() && !c.clock.Now().Before(e.expiresAt) {
		c.lru.Remove(key)
		return "", cache.ErrMiss
	}
	return e.value, nil
}

func (c *Cache) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = c.clock.Now().Add(ttl)
	}
	c.lru.Add(key, e)
	return nil
}

func (c *Cache) Del(_ context.Context, keys ...string) (int64, error) {
	var n int64
	for _, k := range keys {
		if c.lru.Remove(k) {
			n++
		}
	}
	return n, nil
}

func (c *Cache) Ping(context.Context) error {
	return nil
}

func (c *Cache) Len() int {
	return c.lru.Len()
}

func (c *Cache) Close() error {
	c.lru.Purge()
	return nil
}
