package persistence

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/jpkallio/flowline/pkg/api"
)

const redisTestPrefix = "flowline:test:"

// newTestRedisStore connects to the Redis given by
// FLOWLINE_TEST_REDIS_ADDR, or skips the test when unset. Keys under
// the test prefix are wiped for a clean slate.
func newTestRedisStore(t *testing.T) *RedisSessionStore {
	t.Helper()

	addr := os.Getenv("FLOWLINE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("FLOWLINE_TEST_REDIS_ADDR not set; skipping Redis store tests")
	}

	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Ping(ctx).Err(), "redis PING failed")

	iter := client.Scan(ctx, 0, redisTestPrefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		require.NoError(t, client.Del(ctx, iter.Val()).Err())
	}
	require.NoError(t, iter.Err(), "redis SCAN failed")

	return NewRedisSessionStore(client, redisTestPrefix, 0)
}

func TestRedisSessionStoreRoundTrip(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "+1555")
	require.ErrorIs(t, err, api.ErrSessionNotFound)

	sess := &api.Session{
		ID:             "s1",
		ContactAddress: "+1555",
		FlowID:         "f1",
		CurrentStepID:  "a",
		Data:           map[string]string{"name": "Ada"},
		Status:         api.SessionActive,
		LastActivity:   time.Now().Truncate(time.Millisecond),
	}
	require.NoError(t, store.Upsert(ctx, sess))

	got, err := store.Get(ctx, "+1555")
	require.NoError(t, err)
	require.Equal(t, "a", got.CurrentStepID)
	require.Equal(t, "Ada", got.Data["name"])

	step := "b"
	status := api.SessionCompleted
	require.NoError(t, store.Update(ctx, "+1555", SessionPatch{
		CurrentStepID: &step,
		Status:        &status,
		MergeData:     map[string]string{"plan": "pro"},
	}))

	got, err = store.Get(ctx, "+1555")
	require.NoError(t, err)
	require.Equal(t, "b", got.CurrentStepID)
	require.Equal(t, api.SessionCompleted, got.Status)
	require.Equal(t, "Ada", got.Data["name"], "MergeData must merge, not replace")

	require.NoError(t, store.Delete(ctx, "+1555"))
	_, err = store.Get(ctx, "+1555")
	require.ErrorIs(t, err, api.ErrSessionNotFound)
}

func TestRedisSessionStoreLease(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	ok, err := store.TryAcquireLease(ctx, "+1555", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "first acquire should succeed")

	ok, err = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "owner-b must not steal a live lease")

	ok, err = store.TryAcquireLease(ctx, "+1555", "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "holder re-acquire should succeed")

	err = store.RenewLease(ctx, "+1555", "owner-b", time.Minute)
	require.True(t, errors.Is(err, api.ErrLeaseUnavailable), "renew by non-owner must fail, got %v", err)
	require.NoError(t, store.RenewLease(ctx, "+1555", "owner-a", time.Minute))

	require.NoError(t, store.ReleaseLease(ctx, "+1555", "owner-a"))
	require.NoError(t, store.ReleaseLease(ctx, "+1555", "owner-a"), "release must be idempotent")

	ok, err = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "owner-b should acquire after release")
}

func TestRedisSessionStoreLeaseExpiry(t *testing.T) {
	store := newTestRedisStore(t)
	ctx := context.Background()

	ok, err := store.TryAcquireLease(ctx, "+1555", "owner-a", 50*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(100 * time.Millisecond)

	ok, err = store.TryAcquireLease(ctx, "+1555", "owner-b", time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease should be up for grabs")
}
