package cache

import (
	"context"
	"time"
)

type namespaced struct {
	c      Cache
	prefix string
}

// WithNamespace prefixes every key used through c with namespace, so instances backed by different
// databases can share one cache server. An empty namespace returns c unchanged.
func WithNamespace(c Cache, namespace string) Cache {
	if namespace == "" {
		return c
	}
	return &namespaced{c: c, prefix: namespace + ":"}
}

func (n *namespaced) Get(ctx context.Context, key string) (string, error) {
	return n.c.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return n.c.Set(ctx, n.prefix+key, value, ttl)
}

func (n *namespaced) Del(ctx context.Context, keys ...string) (int64, error) {
	prefixed := make([]string, len(keys))
	for i, k := range keys {
		prefixed[i] = n.prefix + k
	}
	return n.c.Del(ctx, prefixed...)
}

func (n *namespaced) Ping(ctx context.Context) error {
	return n.c.Ping(ctx)
}

func (n *namespaced) Close() error {
	return n.c.Close()
}
