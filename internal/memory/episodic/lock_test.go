package episodic

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

// lockerContract checks that a holder whose lease expired cannot release the
// lock of the next holder.
func lockerContract(t *testing.T, l Locker) {
	t.Helper()
	ctx := context.Background()
	key := sessionLockKey("u1", "s1")

	first, ok, err := l.TryLock(ctx, key, 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "lease is still held")

	time.Sleep(300 * time.Millisecond)
	second, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok, "expired lease can be taken over")

	first()
	_, ok, err = l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.False(t, ok, "stale release must not free the new holder's lock")

	second()
	third, ok, err := l.TryLock(ctx, key, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	third()
}

func TestLocalLockerStaleReleaseKeepsNewLease(t *testing.T) {
	lockerContract(t, NewLocalLocker())
}

func TestRedisLockerStaleReleaseKeepsNewLease(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	redisC, err := tcRedis.RunContainer(ctx, testcontainers.WithWaitStrategy(wait.ForListeningPort("6379/tcp")))
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	defer func() { _ = redisC.Terminate(ctx) }()

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("redis host: %v", err)
	}
	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("redis port: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: fmt.Sprintf("%s:%s", host, port.Port())})
	defer func() { _ = rdb.Close() }()

	lockerContract(t, NewRedisLocker(rdb))
}
