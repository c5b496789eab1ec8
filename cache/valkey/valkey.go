// Package valkey adapts a valkey-go client to the cache.Cache port.
package valkey

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/meow-io/go-parley/cache"
)

type Cache struct {
	client valkey.Client
}

var _ cache.Cache = (*Cache)(nil)

// New connects to the valkey server(s) at addrs and verifies the connection.
func New(ctx context.Context, addrs ...string) (*Cache, error) {
	if len(addrs) == 0 {
		return nil, errors.New("valkey: no address given")
	}
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: addrs})
	if err != nil {
		return nil, fmt.Errorf("valkey: new client: %w", err)
	}
	c := &Cache{client: client}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := c.Ping(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("valkey: ping: %w", err)
	}
	return c, nil
}

func (v *Cache) Get(ctx context.Context, key string) (string, error) {
	res, err := v.client.Do(ctx, v.client.B().Get().Key(key).Build()).ToString()
	if valkey.IsValkeyNil(err) {
		return "", cache.ErrMiss
	}
	if err != nil {
		return "", err
	}
	return res, nil
}

func (v *Cache) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	if ttl > 0 {
		return v.client.Do(ctx, v.client.B().Set().Key(key).Value(value).PxMilliseconds(ttl.Milliseconds()).Build()).Error()
	}
	return v.client.Do(ctx, v.client.B().Set().Key(key).Value(value).Build()).Error()
}

func (v *Cache) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	return v.client.Do(ctx, v.client.B().Del().Key(keys...).Build()).AsInt64()
}

func (v *Cache) Ping(ctx context.Context) error {
	return v.client.Do(ctx, v.client.B().Ping().Build()).Error()
}

func (v *Cache) Close() error {
	v.client.Close()
	return nil
}
