package cache_test

import (
	"context"
	"testing"
	"time"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/cache/memory"
	"github.com/meow-io/go-parley/ids"
	"github.com/meow-io/go-parley/internal/test"
	"github.com/stretchr/testify/require"
)

func TestNamespacesDoNotShareEntries(t *testing.T) {
	require := require.New(t)
	ctx := context.Background()
	shared := memory.New(test.NewSteppingClock(time.Unix(0, 0), time.Millisecond), 0, 0)
	one := cache.WithNamespace(shared, "one")
	two := cache.WithNamespace(shared, "two")
	key := cache.InboxKey(ids.NewID())

	require.Nil(one.Set(ctx, key, "inbox of one", 0))
	_, err := two.Get(ctx, key)
	require.ErrorIs(err, cache.ErrMiss)
	v, err := shared.Get(ctx, "one:"+key)
	require.Nil(err)
	require.Equal("inbox of one", v)

	n, err := two.Del(ctx, key)
	require.Nil(err)
	require.Equal(int64(0), n)
	n, err = one.Del(ctx, key)
	require.Nil(err)
	require.Equal(int64(1), n)
}

func TestEmptyNamespaceIsIdentity(t *testing.T) {
	shared := memory.New(test.NewSteppingClock(time.Unix(0, 0), time.Millisecond), 0, 0)
	require.Equal(t, cache.Cache(shared), cache.WithNamespace(shared, ""))
}
