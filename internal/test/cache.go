package test

import (
	"context"
	"os"
	"testing"

	"github.com/meow-io/go-parley/cache"
	"github.com/meow-io/go-parley/ids"
	"github.com/stretchr/testify/require"
)

// Returns the value of the environment variable name, skipping the test when it is unset.
func RequireEnv(t *testing.T, name string) string {
	v := os.Getenv(name)
	if v == "" {
		t.Skipf("%s not set", name)
	}
	return v
}

// Exercises the behaviour every cache.Cache adapter must share. Keys are random so a shared server can
// be used.
func CacheConformance(t *testing.T, c cache.Cache) {
	require := require.New(t)
	ctx := context.Background()
	a := "conformance_" + ids.NewID().String()
	b := "conformance_" + ids.NewID().String()

	require.Nil(c.Ping(ctx))
	_, err := c.Get(ctx, a)
	require.ErrorIs(err, cache.ErrMiss)

	require.Nil(c.Set(ctx, a, "found:x", 0))
	require.Nil(c.Set(ctx, b, "none", 0))
	v, err := c.Get(ctx, a)
	require.Nil(err)
	require.Equal("found:x", v)

	n, err := c.Del(ctx, a, b, a+"_missing")
	require.Nil(err)
	require.Equal(int64(2), n)
	_, err = c.Get(ctx, b)
	require.ErrorIs(err, cache.ErrMiss)

	n, err = c.Del(ctx)
	require.Nil(err)
	require.Equal(int64(0), n)
}
