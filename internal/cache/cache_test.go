package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getRedisClient(t *testing.T) *redis.Client {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		addr = "localhost:6379"
	}

	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	return client
}

func TestNoop(t *testing.T) {
	ctx := context.Background()
	var c Cache = Noop{}
	require.NoError(t, c.Set(ctx, 1, 0, "k", []byte("v")))
	lookup, err := c.Get(ctx, 1, "k")
	require.NoError(t, err)
	assert.False(t, lookup.Hit)
	assert.NoError(t, c.Invalidate(ctx, 1))
}

func TestKeys(t *testing.T) {
	assert.Equal(t, "analytics:7:ver", versionKey(7))
	assert.Equal(t, "analytics:7:v3:dashboard", entryKey(7, 3, "dashboard"))
}

func TestRedisRoundTripAndInvalidate(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	const org = int64(990001)
	client.Del(ctx, versionKey(org), entryKey(org, 0, "analytics?from=a"))

	c := NewRedis(client, time.Minute)

	lookup, err := c.Get(ctx, org, "analytics?from=a")
	require.NoError(t, err)
	assert.False(t, lookup.Hit)

	require.NoError(t, c.Set(ctx, org, lookup.Version, "analytics?from=a", []byte(`{"n":1}`)))
	lookup, err = c.Get(ctx, org, "analytics?from=a")
	require.NoError(t, err)
	assert.True(t, lookup.Hit)
	assert.JSONEq(t, `{"n":1}`, string(lookup.Data))

	ttl := client.TTL(ctx, entryKey(org, 0, "analytics?from=a")).Val()
	assert.Greater(t, ttl, time.Duration(0))

	require.NoError(t, c.Invalidate(ctx, org))
	lookup, err = c.Get(ctx, org, "analytics?from=a")
	require.NoError(t, err)
	assert.False(t, lookup.Hit, "entries written before invalidation are not served")

	// other orgs are untouched
	const other = int64(990002)
	client.Del(ctx, versionKey(other))
	require.NoError(t, c.Set(ctx, other, 0, "dashboard", []byte("x")))
	require.NoError(t, c.Invalidate(ctx, org))
	lookup, err = c.Get(ctx, other, "dashboard")
	require.NoError(t, err)
	assert.True(t, lookup.Hit)

	client.Del(ctx, versionKey(org), versionKey(other), entryKey(other, 0, "dashboard"))
}

func TestRedisBuildRacingInvalidate(t *testing.T) {
	client := getRedisClient(t)
	defer client.Close()

	ctx := context.Background()
	const org = int64(990003)
	client.Del(ctx, versionKey(org))
	defer client.Del(ctx, versionKey(org), entryKey(org, 0, "dashboard"), entryKey(org, 1, "dashboard"))

	c := NewRedis(client, time.Minute)

	miss, err := c.Get(ctx, org, "dashboard")
	require.NoError(t, err)
	require.False(t, miss.Hit)

	// A mutation lands while the response is being built.
	require.NoError(t, c.Invalidate(ctx, org))
	require.NoError(t, c.Set(ctx, org, miss.Version, "dashboard", []byte("stale")))

	lookup, err := c.Get(ctx, org, "dashboard")
	require.NoError(t, err)
	assert.False(t, lookup.Hit, "a response built before invalidation must not be served")
	assert.Equal(t, miss.Version+1, lookup.Version)
}
